package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MegaGrindStone/kgfinance-web-ui/internal/chatview"
	"github.com/tmaxmax/go-sse"
)

// registry keeps the views of open pages. A view that wasn't used for idleTimeout and has no pending
// answer is evicted by the janitor.
type registry struct {
	idleTimeout time.Duration
	now         func() time.Time

	mu    sync.Mutex
	views map[string]*viewEntry

	// chatboxMu is never held together with mu or a view lock.
	chatboxMu sync.Mutex
	chatboxes map[string]*sse.Message

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type viewEntry struct {
	view     *chatview.View
	lastSeen time.Time
}

func newRegistry(idleTimeout time.Duration) *registry {
	return &registry{
		idleTimeout: idleTimeout,
		now:         time.Now,
		views:       make(map[string]*viewEntry),
		chatboxes:   make(map[string]*sse.Message),
		done:        make(chan struct{}),
	}
}

func (r *registry) add(id string, view *chatview.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.views[id] = &viewEntry{view: view, lastSeen: r.now()}
}

// get returns the view with the given id and marks it as used.
func (r *registry) get(id string) (*chatview.View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.views[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.view, true
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.views)
}

// sweep evicts the idle views and returns how many were removed.
func (r *registry) sweep() int {
	r.mu.Lock()
	cutoff := r.now().Add(-r.idleTimeout)
	var removed []string
	for id, e := range r.views {
		if e.lastSeen.After(cutoff) || e.view.State().Loading {
			continue
		}
		delete(r.views, id)
		removed = append(removed, id)
	}
	r.mu.Unlock()

	r.chatboxMu.Lock()
	defer r.chatboxMu.Unlock()
	for _, id := range removed {
		delete(r.chatboxes, id)
	}

	return len(removed)
}

// setChatbox stores the latest rendered chat box of a view.
func (r *registry) setChatbox(id string, msg *sse.Message) {
	r.chatboxMu.Lock()
	defer r.chatboxMu.Unlock()

	r.chatboxes[id] = msg
}

func (r *registry) chatbox(id string) (*sse.Message, bool) {
	r.chatboxMu.Lock()
	defer r.chatboxMu.Unlock()

	msg, ok := r.chatboxes[id]
	return msg, ok
}

// wait blocks until every view has its pending answers appended, or until ctx is done.
func (r *registry) wait(ctx context.Context) error {
	r.mu.Lock()
	views := make([]*chatview.View, 0, len(r.views))
	for _, e := range r.views {
		views = append(views, e.view)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, v := range views {
			v.Wait()
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *registry) start(interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				if n := r.sweep(); n > 0 {
					logger.Debug("Evicted idle views", slog.Int("count", n), slog.Int("remaining", r.len()))
				}
			}
		}
	}()
}

func (r *registry) stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}
