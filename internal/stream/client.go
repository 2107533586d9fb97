package stream

import (
	"sort"
	"sync"

	"github.com/gorilla/websocket"
)

// client is one WebSocket connection. send is closed by the hub exactly
// once, when the client is removed.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string

	mu   sync.RWMutex
	keys map[string]struct{}
}

func (c *client) wants(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.keys) == 0 {
		return true
	}
	_, ok := c.keys[key]
	return ok
}

func (c *client) subscribe(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if k != "" {
			c.keys[k] = struct{}{}
		}
	}
}

func (c *client) unsubscribe(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.keys, k)
	}
}

// filter returns the subscribed keys in sorted order.
func (c *client) filter() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.keys))
	for k := range c.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
