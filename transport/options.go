package transport

import (
	"time"

	"go.uber.org/zap"

	"github.com/taraaggoun/megaphone/dispatch"
	"github.com/taraaggoun/megaphone/storage"
)

const (
	DefaultSweepInterval = time.Second
	DefaultIdleTimeout   = time.Minute
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port
	Port int

	// NumListeners is the number of SO_REUSEPORT listeners sharing Port
	NumListeners int

	// SweepInterval bounds every blocking read so expired transfers are
	// cleared even when the server is idle
	SweepInterval time.Duration

	// IdleTimeout closes TCP connections that sent nothing for that long
	IdleTimeout time.Duration

	// Debug puts the admin HTTP router in debug mode
	Debug bool

	Store      storage.Store
	Dispatcher *dispatch.Dispatcher

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}

	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}

	if o.NumListeners < 1 || o.Port == 0 {
		o.NumListeners = 1
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}
