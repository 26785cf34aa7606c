// Package presence implements the lastSeen heartbeat. Liveness is inferred,
// not tracked: a user is online while their last heartbeat is younger than
// the interval plus a grace period.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Berhanu27/chat-app/internal/models"
	"github.com/Berhanu27/chat-app/internal/store"
)

const (
	// DefaultInterval is how often lastSeen is rewritten.
	DefaultInterval = 60 * time.Second
	// OnlineThreshold is the interval plus 10s of grace.
	OnlineThreshold = 70 * time.Second
)

// IsOnline reports whether a lastSeen stamp (epoch ms) is fresh at now.
// The threshold is inclusive: exactly 70s old is still online.
func IsOnline(lastSeenMillis, nowMillis int64) bool {
	return nowMillis-lastSeenMillis <= OnlineThreshold.Milliseconds()
}

func UserOnline(u *models.User) bool {
	return u != nil && IsOnline(u.LastSeen, models.NowMillis())
}

// Heartbeat periodically writes lastSeen to the user's profile document for
// the lifetime of a session. Stop must be called on logout or the ticker
// leaks and a signed-out user keeps looking online.
type Heartbeat struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartHeartbeat beats once immediately and then every interval (0 means
// DefaultInterval) until Stop or ctx cancellation.
func StartHeartbeat(ctx context.Context, st store.Store, userID string, interval time.Duration, log *zap.SugaredLogger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	h := &Heartbeat{stop: make(chan struct{}), done: make(chan struct{})}

	beat := func() {
		if err := st.Merge(ctx, store.Users, userID, map[string]any{"lastSeen": models.NowMillis()}); err != nil {
			log.Warnw("presence heartbeat failed", "user", userID, "err", err)
		}
	}

	go func() {
		defer close(h.done)
		beat()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				beat()
			case <-h.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return h
}

// Stop halts the heartbeat and waits for the loop to exit. Safe on nil and
// safe to call twice.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}
