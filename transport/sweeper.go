package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taraaggoun/megaphone/storage"
)

// sweeper runs the transfer timeout check at most once per interval.
type sweeper struct {
	store    storage.Store
	interval time.Duration

	mu   sync.Mutex
	last time.Time

	log *zap.Logger
}

func (s *sweeper) maybeSweep() {
	s.mu.Lock()
	now := time.Now()
	if now.Sub(s.last) < s.interval {
		s.mu.Unlock()
		return
	}
	s.last = now
	s.mu.Unlock()

	cleared, err := s.store.CheckTimeouts()
	if err != nil {
		s.log.Warn("Failed to close expired transfers", zap.Error(err))
	}

	if cleared > 0 {
		s.log.Info("Expired transfers cleared", zap.Int("count", cleared))
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
