// Package notifier delivers automation notifications asynchronously.
//
// Notify enqueues; a worker pool drains the queue through a rate limiter and
// retries failed sends with jittered exponential backoff. Identical
// notifications inside the dedup window are suppressed, optionally across
// restarts through storage. Delivery itself is a Sender: the log, a Telegram
// bot, or both.
package notifier
