package upstream

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
)

// ServerList is the ordered set of candidate servers. Readers get immutable
// snapshots and never block; Resort publishes a new order atomically.
type ServerList struct {
	servers atomic.Pointer[[]*Server]
	mu      sync.Mutex // serializes Resort
}

// NewServerList returns a list in the given initial order.
func NewServerList(servers []*Server) *ServerList {
	l := &ServerList{}
	s := slices.Clone(servers)
	l.servers.Store(&s)
	return l
}

// Len returns the number of servers.
func (l *ServerList) Len() int {
	return len(*l.servers.Load())
}

// Servers returns the current order, best first. The slice is shared and
// must not be modified.
func (l *ServerList) Servers() []*Server {
	return *l.servers.Load()
}

// Lookup returns the server with tag, or nil.
func (l *ServerList) Lookup(tag string) *Server {
	for _, s := range l.Servers() {
		if s.Tag == tag {
			return s
		}
	}
	return nil
}

// Resort orders servers by score. Ties keep their previous relative order.
func (l *ServerList) Resort() {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := slices.Clone(l.Servers())
	scores := make(map[*Server]int64, len(s))
	for _, srv := range s {
		scores[srv] = srv.Score()
	}
	slices.SortStableFunc(s, func(a, b *Server) int {
		return cmp.Compare(scores[a], scores[b])
	})
	l.servers.Store(&s)
}

// Status returns a status snapshot of every server in current order.
func (l *ServerList) Status() []Status {
	servers := l.Servers()
	st := make([]Status, 0, len(servers))
	for _, s := range servers {
		st = append(st, s.Status())
	}
	return st
}
