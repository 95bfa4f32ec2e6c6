package runtime

import (
	"sort"
	"sync"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
)

// parkedExchange is an outbound traversal waiting for its correlated response.
type parkedExchange struct {
	exchange *exchange.Exchange
	cont     *chain.Continuation
}

// correlationStore maps correlation ids to parked exchanges. Entries are
// taken exactly once.
type correlationStore struct {
	mu      sync.Mutex
	entries map[string]parkedExchange
	observe func(n int)
}

func newCorrelationStore(observe func(n int)) *correlationStore {
	return &correlationStore{entries: make(map[string]parkedExchange), observe: observe}
}

func (c *correlationStore) put(id string, p parkedExchange) {
	c.mu.Lock()
	c.entries[id] = p
	n := len(c.entries)
	c.mu.Unlock()
	c.report(n)
}

func (c *correlationStore) take(id string) (parkedExchange, bool) {
	return c.takeFor(id, "")
}

// takeFor takes the entry parked under id when it belongs to endpoint. An
// empty endpoint matches any entry.
func (c *correlationStore) takeFor(id, endpoint string) (parkedExchange, bool) {
	c.mu.Lock()
	p, ok := c.entries[id]
	if ok && endpoint != "" && p.exchange.Endpoint() != endpoint {
		ok = false
	}
	if ok {
		delete(c.entries, id)
	}
	n := len(c.entries)
	c.mu.Unlock()
	if ok {
		c.report(n)
	}
	return p, ok
}

func (c *correlationStore) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *correlationStore) ids() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (c *correlationStore) report(n int) {
	if c.observe != nil {
		c.observe(n)
	}
}
