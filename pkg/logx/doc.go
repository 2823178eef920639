// Package logx is taskflow's structured logging wrapper around zerolog.
//
// Console output is human readable with a short caller. File output is one
// JSON object per line. A Service lets the level and sinks change at runtime
// while derived Loggers keep working.
package logx
