// Package router maintains the model capability catalog and ranks models
// per request against the cost/quality slider.
package router

import (
	"sort"
	"sync"
	"time"

	"github.com/arcfault/switchboard/pkg/models"
)

// Catalog is the process-wide model profile registry. Read-mostly; writes
// happen on discovery refresh and availability flips.
type Catalog struct {
	mu       sync.RWMutex
	profiles map[string]*models.ModelProfile
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{profiles: make(map[string]*models.ModelProfile)}
}

// Upsert inserts or replaces a profile.
func (c *Catalog) Upsert(p *models.ModelProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *p
	c.profiles[p.ModelID] = &cp
}

// Get returns a copy of the named profile.
func (c *Catalog) Get(modelID string) (*models.ModelProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[modelID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// List returns copies of all profiles sorted by model ID.
func (c *Catalog) List() []*models.ModelProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.ModelProfile, 0, len(c.profiles))
	for _, p := range c.profiles {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Available returns copies of available profiles sorted by model ID.
func (c *Catalog) Available() []*models.ModelProfile {
	all := c.List()
	out := all[:0]
	for _, p := range all {
		if p.Metadata.IsAvailable {
			out = append(out, p)
		}
	}
	return out
}

// SetAvailability flips the availability flag for a model.
func (c *Catalog) SetAvailability(modelID string, available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.profiles[modelID]; ok {
		p.Metadata.IsAvailable = available
		p.Metadata.LastTested = time.Now()
	}
}

// Size returns the profile count.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}
