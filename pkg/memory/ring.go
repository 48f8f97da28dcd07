package memory

import (
	"sync"

	"github.com/famulus-ai/famulus/pkg/models"
)

// ring is the fixed-size short-term window for one session. Oldest entries
// fall off when the ring is full. Purely in-process: a restart loses it, and
// the load-context node rebuilds it from the message tail.
type ring struct {
	mu    sync.Mutex
	buf   []*models.Message
	next  int
	full  bool
	limit int
}

func newRing(limit int) *ring {
	if limit <= 0 {
		limit = 1
	}
	return &ring{buf: make([]*models.Message, limit), limit: limit}
}

func (r *ring) add(msg *models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = msg
	r.next = (r.next + 1) % r.limit
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns the window oldest-first.
func (r *ring) snapshot() []*models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]*models.Message, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]*models.Message, 0, r.limit)
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return r.limit
	}
	return r.next
}
