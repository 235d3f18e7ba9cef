// Package upstream models the candidate upstream proxy servers: their
// identity, dialer, live statistics, the ordered list connections are raced
// across, and the monitor that keeps that order current.
package upstream
