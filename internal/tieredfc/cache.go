package tieredfc

import (
	"sync"
	"time"
)

// lruNode is one entry in the doubly-linked LRU list.
type lruNode struct {
	key       string
	value     Decision
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

// decisionCache is an LRU cache with per-entry TTL. Accessed entries are
// promoted to the front; expired entries are dropped on read.
type decisionCache struct {
	mu       sync.Mutex
	items    map[string]*lruNode
	head     *lruNode
	tail     *lruNode
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

func newDecisionCache(capacity int, ttl time.Duration) *decisionCache {
	return &decisionCache{
		items:    make(map[string]*lruNode),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (c *decisionCache) get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return Decision{}, false
	}
	if c.now().After(node.expiresAt) {
		c.removeNode(node)
		delete(c.items, key)
		return Decision{}, false
	}
	c.moveToFront(node)
	return node.value, true
}

func (c *decisionCache) set(key string, value Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, exists := c.items[key]; exists {
		node.value = value
		node.expiresAt = c.now().Add(c.ttl)
		c.moveToFront(node)
		return
	}

	node := &lruNode{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
	c.items[key] = node
	c.addToFront(node)

	if len(c.items) > c.capacity {
		c.evict()
	}
}

func (c *decisionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *decisionCache) moveToFront(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToFront(node)
}

func (c *decisionCache) addToFront(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *decisionCache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev = nil
	node.next = nil
}

func (c *decisionCache) evict() {
	if c.tail == nil {
		return
	}
	victim := c.tail
	c.removeNode(victim)
	delete(c.items, victim.key)
}
