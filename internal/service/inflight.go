package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// inflight is a per-process guard that lets only one close run per trail.
// Entries expire after the closing lease so a stuck holder cannot block the
// trail forever; the database state transition remains the real arbiter.
type inflight struct {
	entries *cache.Cache
}

func newInflight(lease time.Duration) *inflight {
	return &inflight{entries: cache.New(lease, lease)}
}

// acquire reports whether the caller now holds the trail.
func (g *inflight) acquire(id uuid.UUID) bool {
	return g.entries.Add(id.String(), struct{}{}, cache.DefaultExpiration) == nil
}

func (g *inflight) release(id uuid.UUID) {
	g.entries.Delete(id.String())
}
