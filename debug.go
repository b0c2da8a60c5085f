package mxlink

import (
	"context"

	"log/slog"
)

// levelTrace prints per-event wait/dispatch detail. A higher level on
// the handler means less verbosity.
const levelTrace slog.Level = slog.LevelDebug - 1

func (c *Conn) logerr(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelError, msg, attrs...)
}

func (c *Conn) warn(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelWarn, msg, attrs...)
}

func (c *Conn) info(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelInfo, msg, attrs...)
}

func (c *Conn) debug(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelDebug, msg, attrs...)
}

func (c *Conn) trace(msg string, attrs ...slog.Attr) {
	c.logattrs(levelTrace, msg, attrs...)
}

func (c *Conn) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if c.logger != nil {
		c.logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
