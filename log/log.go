// Copyright 2026 The objcap Authors
// This file is part of objcap.
//
// objcap is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// objcap is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with objcap.  If not, see <http://www.gnu.org/licenses/>.

// Package log is a thin wrapper around log/slog that mirrors the handler
// composition style used throughout the rest of the ambient stack this
// module borrows from: a Logger interface backed by a *slog.Logger, a
// small set of named levels below and above the stdlib's Debug/Error
// range, and constructor functions for terminal and JSON handlers rather
// than hand-rolled formatting.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level extends slog's levels with Trace below Debug and Crit above
// Error, matching the five-level scheme used across this module's
// packages.
type Level int

const (
	LevelTrace Level = -8
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
	LevelCrit  Level = 12
)

func (l Level) slog() slog.Level { return slog.Level(l) }

func (l Level) String() string {
	switch {
	case l < LevelDebug:
		return "trace"
	case l < LevelInfo:
		return "debug"
	case l < LevelWarn:
		return "info"
	case l < LevelError:
		return "warn"
	case l < LevelCrit:
		return "error"
	default:
		return "crit"
	}
}

// Logger is the logging contract used throughout this module. It is
// satisfied by *logger, the only implementation, but kept as an
// interface so call sites never depend on slog directly.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
	With(ctx ...interface{}) Logger
	Handler() slog.Handler
}

type logger struct {
	inner *slog.Logger
}

// NewLogger builds a Logger on top of an arbitrary slog.Handler, so
// callers can compose it with NewTerminalHandler, NewJSONHandler, or any
// other slog.Handler.
func NewLogger(h slog.Handler) Logger {
	return &logger{inner: slog.New(h)}
}

func (l *logger) write(level slog.Level, msg string, ctx []interface{}) {
	if !l.inner.Enabled(context.Background(), level) {
		return
	}
	l.inner.Log(context.Background(), level, msg, ctx...)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LevelTrace.slog(), msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LevelDebug.slog(), msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LevelInfo.slog(), msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LevelWarn.slog(), msg, ctx) }

// Error and Crit attach the caller's file:line explicitly, since these
// are the levels worth pointing straight at a source line regardless of
// whether the active handler also sets slog's AddSource.
func (l *logger) Error(msg string, ctx ...interface{}) {
	l.write(LevelError.slog(), msg, append(append([]interface{}{}, ctx...), "caller", Caller(1)))
}
func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.write(LevelCrit.slog(), msg, append(append([]interface{}{}, ctx...), "caller", Caller(1)))
}

func (l *logger) With(ctx ...interface{}) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}

func (l *logger) Handler() slog.Handler { return l.inner.Handler() }

// NewTerminalHandler builds a handler for an interactive terminal: slog's
// text format with source locations and named levels. It writes no color
// codes of its own; useColor is accepted but not used, whether or not w is
// a tty (such as the writer NewColorableStdout returns).
func NewTerminalHandler(w io.Writer, useColor bool) slog.Handler {
	return NewTerminalHandlerWithLevel(w, LevelTrace, useColor)
}

func NewTerminalHandlerWithLevel(w io.Writer, lvl Level, useColor bool) slog.Handler {
	_ = useColor // color selection happens in the caller-provided writer; kept for API symmetry
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     lvl.slog(),
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			return replaceLevel(a)
		},
	})
}

// NewJSONHandler builds a structured JSON handler, suitable for shipping
// logs to a collector.
func NewJSONHandler(w io.Writer) slog.Handler {
	return NewJSONHandlerWithLevel(w, LevelTrace)
}

func NewJSONHandlerWithLevel(w io.Writer, lvl Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl.slog(),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			return replaceLevel(a)
		},
	})
}

func replaceLevel(a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	lvl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	a.Value = slog.StringValue(Level(lvl).String())
	return a
}

// NewFileHandler writes JSON-encoded records to path, rotating it via
// lumberjack once it crosses maxSizeMB.
func NewFileHandler(path string, maxSizeMB int) slog.Handler {
	return NewJSONHandler(&lumberjack.Logger{
		Filename: path,
		MaxSize:  maxSizeMB,
		MaxAge:   28,
		Compress: true,
	})
}

// NewColorableStdout returns os.Stdout wrapped so ANSI color codes render
// correctly on every platform this module targets, falling back to a
// plain writer when stdout isn't a terminal at all.
func NewColorableStdout() io.Writer {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return colorable.NewColorableStdout()
	}
	return os.Stdout
}

// Caller returns the file:line of the caller skip frames up the stack,
// for handlers that want to attach it manually outside of slog's
// AddSource.
func Caller(skip int) string {
	c := stack.Caller(skip + 1)
	return c.String()
}

var defaultLogger Logger = NewLogger(NewTerminalHandler(NewColorableStdout(), true))

// SetDefault replaces the package-level default logger used by the
// top-level Trace/Debug/Info/Warn/Error/Crit functions.
func SetDefault(l Logger) { defaultLogger = l }

// Root returns the current package-level default logger.
func Root() Logger { return defaultLogger }

func Trace(msg string, ctx ...interface{}) { defaultLogger.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { defaultLogger.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { defaultLogger.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { defaultLogger.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { defaultLogger.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { defaultLogger.Crit(msg, ctx...) }
