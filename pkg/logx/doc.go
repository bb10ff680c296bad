// Package logx is speedwatch's structured logging on top of zerolog.
//
// Console output is short and readable; the optional file sink is JSON,
// rotated by lumberjack. Components derive loggers with With and never
// hold zerolog types directly.
package logx
