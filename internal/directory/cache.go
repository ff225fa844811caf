// Package directory keeps the in-memory participant directory used to turn
// protocol identifiers into readable sender names.
package directory

import (
	"strings"
	"sync"

	"github.com/user/statuskeeper/internal/types"
)

// Name is the result of a lookup. DisplayName is always usable.
type Name struct {
	DisplayName string
	IDTail      string
}

type entry struct {
	name   string
	notify string
}

// Cache maps participant ids to their best-known names. It is safe for
// concurrent use by the live and history paths.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Upsert applies directory updates. Last write wins per field; empty fields
// do not erase what is already known.
func (c *Cache) Upsert(contacts []types.Contact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ct := range contacts {
		if ct.ID == "" {
			continue
		}
		e := c.entry(ct.ID)
		if n := strings.TrimSpace(ct.Name); n != "" {
			e.name = n
		}
		if n := strings.TrimSpace(ct.Notify); n != "" {
			e.notify = n
		}
	}
}

// ObserveNotify records the self-chosen name a participant attached to an
// event.
func (c *Cache) ObserveNotify(id, notify string) {
	notify = strings.TrimSpace(notify)
	if id == "" || notify == "" {
		return
	}
	c.mu.Lock()
	c.entry(id).notify = notify
	c.mu.Unlock()
}

// Resolve returns the display name, else the notify name, else the tail of
// the identifier.
func (c *Cache) Resolve(id string) Name {
	tail := types.IDTail(id)
	n := Name{DisplayName: tail, IDTail: tail}

	c.mu.RLock()
	e, ok := c.entries[id]
	if ok {
		switch {
		case e.name != "":
			n.DisplayName = e.name
		case e.notify != "":
			n.DisplayName = e.notify
		}
	}
	c.mu.RUnlock()
	return n
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// entry must be called with mu held for writing.
func (c *Cache) entry(id string) *entry {
	e, ok := c.entries[id]
	if !ok {
		e = &entry{}
		c.entries[id] = e
	}
	return e
}
