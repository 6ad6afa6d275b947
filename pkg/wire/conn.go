// Package wire keeps the on-the-wire order of request header fields, which
// net/http discards when it parses headers into a map.
package wire

import (
	"context"
	"net"
	"sync"
)

type Listener struct {
	net.Listener

	MaxHeaderBytes int
}

func NewListener(ln net.Listener, maxHeaderBytes int) *Listener {
	return &Listener{Listener: ln, MaxHeaderBytes: maxHeaderBytes}
}

func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()

	if err != nil {
		return nil, err
	}

	return NewConn(conn, l.MaxHeaderBytes), nil
}

// Conn records the header sections of requests read through it.
type Conn struct {
	net.Conn

	mu      sync.Mutex
	scanner *Scanner
}

func NewConn(conn net.Conn, maxHeaderBytes int) *Conn {
	return &Conn{
		Conn:    conn,
		scanner: NewScanner(maxHeaderBytes),
	}
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)

	if n > 0 {
		c.mu.Lock()
		c.scanner.Write(p[:n])
		c.mu.Unlock()
	}

	return n, err
}

// Next returns the header fields of the request with the given method and
// request target, in wire order.
func (c *Conn) Next(method, target string) ([]Field, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.scanner.Next(method, target)
	return b.Fields, ok
}

type contextKey struct{}

// WithConn is meant for http.Server.ConnContext. Connections not accepted
// through a Listener leave the context untouched.
func WithConn(ctx context.Context, conn net.Conn) context.Context {
	if c, ok := conn.(*Conn); ok {
		return context.WithValue(ctx, contextKey{}, c)
	}

	return ctx
}

func FromContext(ctx context.Context) *Conn {
	c, _ := ctx.Value(contextKey{}).(*Conn)
	return c
}
