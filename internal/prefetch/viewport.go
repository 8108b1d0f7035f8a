package prefetch

import (
	"sync"

	"github.com/showgrid/showgrid/pkg/types"
)

// AttachViewport registers an item as visible (or near-visible, within
// ViewportMargin) and enqueues it at Normal priority immediately. The
// returned detach func unregisters the attachment; it does not dequeue
// or cancel work already decided, since a card scrolling out of view says
// nothing about whether its data is still worth having.
func (s *Scheduler) AttachViewport(id string, kind types.ContentKind) func() {
	item := types.PrefetchItem{ID: id, Kind: kind}
	key := item.Key()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}

	s.attachID++
	token := s.attachID
	s.viewports[token] = key
	s.stats.ViewportTriggers++
	s.enqueueLocked(id, kind, types.PriorityNormal)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.viewports, token)
			s.mu.Unlock()
		})
	}
}

// Attached returns the number of live viewport attachments
func (s *Scheduler) Attached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewports)
}

// ViewportMargin returns the configured pre-trigger margin in pixels.
// UI layers use it to attach items slightly before they scroll into view.
func (s *Scheduler) ViewportMargin() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.ViewportMargin
}
