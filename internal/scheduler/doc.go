// Package scheduler decides when the host pulls: it fires named jobs on cron
// expressions or fixed intervals using robfig/cron.
package scheduler
