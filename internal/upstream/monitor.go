package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Monitor measures every server periodically by connecting to Target through
// it, and keeps the list ordered by the result.
type Monitor struct {
	List *ServerList
	// Target is a host:port reachable through healthy servers.
	Target string
	// Interval between full probe rounds.
	Interval time.Duration
	// Timeout bounds a single probe.
	Timeout time.Duration
	// Concurrency limits probes in flight; zero means one per server.
	Concurrency int
	Log         *zap.Logger

	sf singleflight.Group

	mu sync.Mutex
	// base bounds probes started by Trigger; it is Run's ctx once Run starts.
	base context.Context
}

// Run probes all servers immediately and then every Interval until ctx is
// done. A zero Interval probes only once. It always returns nil.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	m.base = ctx
	m.mu.Unlock()

	m.ProbeAll(ctx)
	if m.Interval <= 0 {
		<-ctx.Done()
		return nil
	}

	t := time.NewTicker(m.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every server once and re-sorts the list.
func (m *Monitor) ProbeAll(ctx context.Context) {
	servers := m.List.Servers()

	var g errgroup.Group
	if m.Concurrency > 0 {
		g.SetLimit(m.Concurrency)
	}
	for _, s := range servers {
		g.Go(func() error {
			_, _ = m.Probe(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() == nil {
		m.List.Resort()
	}
}

// Trigger probes s in the background and re-sorts the list, for example
// after a failed connection attempt. It does nothing once Run's ctx is done.
func (m *Monitor) Trigger(s *Server) {
	ctx := m.baseContext()
	if ctx.Err() != nil {
		return
	}
	go func() {
		_, _ = m.Probe(ctx, s)
		if ctx.Err() == nil {
			m.List.Resort()
		}
	}()
}

// Probe measures s once. Concurrent probes of the same server share one
// measurement; a caller whose ctx ends early stops waiting but the probe
// still completes for the others unless Run's ctx ends too.
func (m *Monitor) Probe(ctx context.Context, s *Server) (time.Duration, error) {
	base := m.baseContext()
	ch := m.sf.DoChan(s.Tag, func() (any, error) {
		return m.measure(base, s)
	})

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(time.Duration), nil
	}
}

func (m *Monitor) baseContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.base == nil {
		return context.Background()
	}
	return m.base
}

func (m *Monitor) measure(parent context.Context, s *Server) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(parent, m.timeout())
	defer cancel()

	start := time.Now()
	c, err := s.DialContext(ctx, "tcp", m.Target)
	if err != nil {
		if parent.Err() != nil {
			// Shutting down; the server's state is unknown, not down.
			return 0, parent.Err()
		}
		_, wasUp := s.Delay()
		s.SetDelay(0, false)
		if wasUp {
			m.log().Warn("server down", zap.String("server", s.Tag), zap.Error(err))
		} else {
			m.log().Debug("probe failed", zap.String("server", s.Tag), zap.Error(err))
		}
		return 0, fmt.Errorf("probe %s: %w", s.Tag, err)
	}
	delay := time.Since(start)
	_ = c.Close()

	if _, wasUp := s.Delay(); !wasUp {
		m.log().Info("server up", zap.String("server", s.Tag), zap.Duration("delay", delay))
	}
	s.SetDelay(delay, true)
	return delay, nil
}

func (m *Monitor) timeout() time.Duration {
	if m.Timeout > 0 {
		return m.Timeout
	}
	return 5 * time.Second
}

func (m *Monitor) log() *zap.Logger {
	if m.Log == nil {
		return zap.NewNop()
	}
	return m.Log
}
