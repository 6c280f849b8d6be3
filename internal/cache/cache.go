// Package cache is a small in-process cache whose entries are grouped by tag
// so that writes can invalidate every dependent read at once.
package cache

import (
	"strconv"
	"sync"
	"time"
)

const (
	TagCategories = "categories"
	TagTags       = "tags"
	TagThreads    = "threads"
	TagAnalytics  = "analytics"
)

// ThreadTag names the tag for a single thread's cached reads.
func ThreadTag(id int) string {
	return "thread:" + strconv.Itoa(id)
}

type entry struct {
	value   any
	expires time.Time
	tags    []string
}

// Notifier forwards invalidations to other instances.
type Notifier interface {
	Notify(tags ...string)
}

type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	byTag   map[string]map[string]struct{}
	now     func() time.Time

	notifier Notifier
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		byTag:   make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// SetNotifier makes Invalidate broadcast tags after evicting locally.
func (c *Cache) SetNotifier(n Notifier) {
	c.mu.Lock()
	c.notifier = n
	c.mu.Unlock()
}

func (c *Cache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		c.removeLocked(key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Set(key string, value any, ttl time.Duration, tags ...string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(key)
	c.entries[key] = entry{value: value, expires: c.now().Add(ttl), tags: tags}
	for _, tag := range tags {
		keys, ok := c.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.byTag[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// Invalidate evicts every entry carrying any of tags and notifies peers.
func (c *Cache) Invalidate(tags ...string) {
	if c == nil || len(tags) == 0 {
		return
	}
	c.evict(tags...)

	c.mu.Lock()
	n := c.notifier
	c.mu.Unlock()
	if n != nil {
		n.Notify(tags...)
	}
}

// evict drops entries locally without notifying; used for remote invalidations.
func (c *Cache) evict(tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tag := range tags {
		for key := range c.byTag[tag] {
			c.removeLocked(key)
		}
		delete(c.byTag, tag)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	for _, tag := range e.tags {
		if keys, ok := c.byTag[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byTag, tag)
			}
		}
	}
}

func (c *Cache) evictAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.byTag = make(map[string]map[string]struct{})
}
