// Package nolog provides a logger.Logger that drops every record.
package nolog

import (
	"context"
	"time"

	"github.com/wb-go/wbf/logger"
)

type discard struct{}

// New returns a logger for tests and for services built without one.
func New() logger.Logger { return discard{} }

func (discard) Debug(string, ...any)  {}
func (discard) Info(string, ...any)   {}
func (discard) Warn(string, ...any)   {}
func (discard) Error(string, ...any)  {}
func (discard) Debugw(string, ...any) {}
func (discard) Infow(string, ...any)  {}
func (discard) Warnw(string, ...any)  {}
func (discard) Errorw(string, ...any) {}

func (d discard) Ctx(context.Context) logger.Logger { return d }
func (d discard) With(...any) logger.Logger         { return d }
func (d discard) WithGroup(string) logger.Logger    { return d }

func (discard) LogRequest(context.Context, string, string, int, time.Duration) {}
func (discard) Log(logger.Level, string, ...logger.Attr)                       {}
func (discard) LogAttrs(context.Context, logger.Level, string, ...logger.Attr) {}
