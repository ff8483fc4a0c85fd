package notifications

import (
	"context"
	"sync"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/changefeed"
)

// Registry shares one started Service per viewer across that viewer's
// connections. The service stops when the last holder releases it.
type Registry struct {
	feed *changefeed.Feed
	opts Options

	mu       sync.Mutex
	services map[int64]*registered
}

type registered struct {
	service *Service
	refs    int
}

func NewRegistry(feed *changefeed.Feed, opts Options) *Registry {
	return &Registry{
		feed:     feed,
		opts:     opts,
		services: make(map[int64]*registered),
	}
}

func (r *Registry) Acquire(ctx context.Context, viewerID int64) (*Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.services[viewerID]; ok {
		entry.refs++
		return entry.service, nil
	}

	service := NewService(r.feed, r.opts)
	if err := service.Start(ctx, viewerID); err != nil {
		return nil, err
	}
	r.services[viewerID] = &registered{service: service, refs: 1}
	return service, nil
}

func (r *Registry) Release(viewerID int64) {
	r.mu.Lock()
	entry, ok := r.services[viewerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.services, viewerID)
	r.mu.Unlock()

	entry.service.Stop()
}

// Get returns the viewer's service when one is held.
func (r *Registry) Get(viewerID int64) (*Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.services[viewerID]
	if !ok {
		return nil, false
	}
	return entry.service, true
}

// Close stops every held service.
func (r *Registry) Close() {
	r.mu.Lock()
	services := r.services
	r.services = make(map[int64]*registered)
	r.mu.Unlock()

	for _, entry := range services {
		entry.service.Stop()
	}
}
