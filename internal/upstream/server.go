package upstream

import (
	"context"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/die-net/multiproxy/internal/dialer"
)

const (
	delayUnknown = -1
	delayFailed  = -2
)

// Server is one upstream proxy. It is shared by every connection routed
// through it; all methods are safe for concurrent use.
type Server struct {
	Tag string
	// URL is the upstream URL with any password redacted.
	URL string
	// ScoreBase is added to the probe delay (in milliseconds) when ranking.
	ScoreBase int64

	dialer dialer.Dialer

	opened, closed atomic.Int64
	tx, rx         atomic.Int64
	connectFailed  atomic.Int64
	delay          atomic.Int64 // nanoseconds, or delayUnknown/delayFailed

	metrics serverMetrics
}

// NewServer constructs a server that reaches destinations with d.
func NewServer(tag, url string, scoreBase int64, d dialer.Dialer) *Server {
	s := &Server{
		Tag:       tag,
		URL:       url,
		ScoreBase: scoreBase,
		dialer:    d,
		metrics:   newServerMetrics(tag),
	}
	s.delay.Store(delayUnknown)
	return s
}

// DialContext connects to address through this server.
func (s *Server) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return s.dialer.DialContext(ctx, network, address)
}

// ConnOpened records the start of a bridged connection.
func (s *Server) ConnOpened() {
	s.opened.Add(1)
	s.metrics.opened.Inc()
}

// ConnClosed records the end of a bridged connection.
func (s *Server) ConnClosed() {
	s.closed.Add(1)
	s.metrics.closed.Inc()
}

// AddTx records bytes sent from the client towards the server.
func (s *Server) AddTx(n int64) {
	if n <= 0 {
		return
	}
	s.tx.Add(n)
	s.metrics.tx.Add(float64(n))
}

// AddRx records bytes received from the server for the client.
func (s *Server) AddRx(n int64) {
	if n <= 0 {
		return
	}
	s.rx.Add(n)
	s.metrics.rx.Add(float64(n))
}

// ConnectFailed records a failed connection attempt.
func (s *Server) ConnectFailed() {
	s.connectFailed.Add(1)
	s.metrics.connectFailed.Inc()
}

// SetDelay records the result of a probe.
func (s *Server) SetDelay(d time.Duration, ok bool) {
	if !ok {
		s.delay.Store(delayFailed)
		s.metrics.delay.Set(-1)
		return
	}
	s.delay.Store(int64(d))
	s.metrics.delay.Set(d.Seconds())
}

// Delay returns the last probe delay; ok is false if the server has not been
// probed successfully.
func (s *Server) Delay() (time.Duration, bool) {
	d := s.delay.Load()
	if d < 0 {
		return 0, false
	}
	return time.Duration(d), true
}

// Score ranks servers; lower is better. Servers that are down or unprobed
// rank after all others.
func (s *Server) Score() int64 {
	d, ok := s.Delay()
	if !ok {
		return math.MaxInt64
	}
	return d.Milliseconds() + s.ScoreBase
}

// Status is a point-in-time view of a server for status pages.
type Status struct {
	Tag           string  `json:"tag"`
	URL           string  `json:"url"`
	Up            bool    `json:"up"`
	DelayMillis   float64 `json:"delay_ms,omitempty"`
	ScoreBase     int64   `json:"score_base"`
	Opened        int64   `json:"conn_opened"`
	Closed        int64   `json:"conn_closed"`
	Alive         int64   `json:"conn_alive"`
	TxBytes       int64   `json:"tx_bytes"`
	RxBytes       int64   `json:"rx_bytes"`
	ConnectFailed int64   `json:"connect_failures"`
}

// Status returns the server's current counters.
func (s *Server) Status() Status {
	st := Status{
		Tag:           s.Tag,
		URL:           s.URL,
		ScoreBase:     s.ScoreBase,
		Closed:        s.closed.Load(),
		Opened:        s.opened.Load(),
		TxBytes:       s.tx.Load(),
		RxBytes:       s.rx.Load(),
		ConnectFailed: s.connectFailed.Load(),
	}
	st.Alive = st.Opened - st.Closed
	if d, ok := s.Delay(); ok {
		st.Up = true
		st.DelayMillis = float64(d) / float64(time.Millisecond)
	}
	return st
}

func (s *Server) String() string {
	return s.Tag
}
