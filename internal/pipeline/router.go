package pipeline

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Router dispatches each target to the pipeline of its profile
type Router struct {
	mu       sync.RWMutex
	byTarget map[string]*Pipeline
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{byTarget: make(map[string]*Pipeline)}
}

// Bind analyses targetID with p
func (r *Router) Bind(targetID string, p *Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTarget[targetID] = p
}

// Pipeline returns the pipeline bound to targetID
func (r *Router) Pipeline(targetID string) (*Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byTarget[targetID]
	return p, ok
}

// Analyze runs the bound pipeline for target
func (r *Router) Analyze(ctx context.Context, target Target) (*Report, error) {
	p, ok := r.Pipeline(target.ID())
	if !ok {
		return nil, errors.Errorf("no pipeline bound for source %q", target.ID())
	}
	return p.Analyze(ctx, target)
}
