package signal

import (
	"sync"
	"time"

	"github.com/dkeye/vrrtc/internal/domain"
)

// FrameLimiter caps the frames a peer may relay per interval.
type FrameLimiter struct {
	mu       sync.Mutex
	windows  map[domain.PeerID]*window
	limit    int
	interval time.Duration
	now      func() time.Time
}

type window struct {
	start time.Time
	count int
}

func NewFrameLimiter(limit int, interval time.Duration) *FrameLimiter {
	return &FrameLimiter{
		windows:  make(map[domain.PeerID]*window),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow counts a frame from id and reports whether it fits the current window.
// A non-positive limit disables limiting.
func (l *FrameLimiter) Allow(id domain.PeerID) bool {
	if l.limit <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[id]
	if !ok || now.Sub(w.start) >= l.interval {
		l.windows[id] = &window{start: now, count: 1}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

func (l *FrameLimiter) Forget(id domain.PeerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, id)
}
