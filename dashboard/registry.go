package dashboard

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"mind-ease/userinfo"
)

// Registry lazily opens one workspace per user.
type Registry struct {
	deps  Deps
	group singleflight.Group

	mu         sync.Mutex
	workspaces map[string]*Workspace
	closed     bool
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, workspaces: map[string]*Workspace{}}
}

// Get returns the user's workspace, opening it on first use. Concurrent
// first requests for the same user share one open.
func (r *Registry) Get(ctx context.Context, id userinfo.Identity) (*Workspace, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if w, ok := r.workspaces[id.ID]; ok {
		r.mu.Unlock()
		return w, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(id.ID, func() (any, error) {
		r.mu.Lock()
		if w, ok := r.workspaces[id.ID]; ok {
			r.mu.Unlock()
			return w, nil
		}
		r.mu.Unlock()

		// The workspace outlives the request that opened it.
		w := Open(context.WithoutCancel(ctx), r.deps, id)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			w.Close()
			return nil, ErrClosed
		}
		r.workspaces[id.ID] = w
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

// Len reports the number of open workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// Close shuts every workspace down. Further Gets fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	open := make([]*Workspace, 0, len(r.workspaces))
	for _, w := range r.workspaces {
		open = append(open, w)
	}
	r.workspaces = map[string]*Workspace{}
	r.mu.Unlock()

	var g errgroup.Group
	for _, w := range open {
		g.Go(func() error {
			w.Close()
			return nil
		})
	}
	return g.Wait()
}
