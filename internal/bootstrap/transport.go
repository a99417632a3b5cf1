package bootstrap

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/gauss-stream/gauss/internal/config"
	"github.com/gauss-stream/gauss/internal/transport"
)

// lazyConn is a transport.Reader/Writer that defers dialing or accepting
// until the first byte is actually needed. Building a Topology happens at
// `gaussd` startup, often before any peer is reachable; deferring the
// network call to first use lets `gaussd validate` construct the same
// topology without ever touching the network, and lets `gaussd run` start
// a pipeline whose peers come up in any order.
type lazyConn struct {
	mu      sync.Mutex
	conn    lazyPeer
	connect func() (lazyPeer, error)
}

// lazyPeer is the net.Conn subset a framer actually uses.
type lazyPeer interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

func (l *lazyConn) ensure() (lazyPeer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn, nil
	}
	c, err := l.connect()
	if err != nil {
		return nil, err
	}
	l.conn = c
	return c, nil
}

func (l *lazyConn) Read(p []byte) (int, error) {
	c, err := l.ensure()
	if err != nil {
		return 0, err
	}
	return c.Read(p)
}

func (l *lazyConn) Write(p []byte) (int, error) {
	c, err := l.ensure()
	if err != nil {
		return 0, err
	}
	return c.Write(p)
}

func (l *lazyConn) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

// openReader resolves a processor's input ChannelConfig into a
// transport.Reader. An empty Addr yields the discard side of an in-memory
// pipe with no peer: reads block forever,
// which is exactly what `gaussd validate` wants (it never runs the
// topology) and what a topology test wants when it wires its own
// transport.Pipe directly instead.
func openReader(ctx context.Context, ch config.ChannelConfig) (transport.Reader, error) {
	if ch.Addr == "" {
		r, _ := transport.NewPipe()
		return r, nil
	}
	switch ch.Mode {
	case "", "listen":
		return &lazyConn{connect: func() (lazyPeer, error) { return acceptOne(ctx, ch.Addr) }}, nil
	case "dial":
		return &lazyConn{connect: func() (lazyPeer, error) { return transport.TCPDial(ctx, ch.Addr) }}, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown channel mode %q (want listen or dial)", ch.Mode)
	}
}

// openWriter is openReader's write-side counterpart; a sink defaults to
// dialing out rather than listening.
func openWriter(ctx context.Context, ch config.ChannelConfig) (transport.Writer, error) {
	if ch.Addr == "" {
		_, w := transport.NewPipe()
		return w, nil
	}
	switch ch.Mode {
	case "", "dial":
		return &lazyConn{connect: func() (lazyPeer, error) { return transport.TCPDial(ctx, ch.Addr) }}, nil
	case "listen":
		return &lazyConn{connect: func() (lazyPeer, error) { return acceptOne(ctx, ch.Addr) }}, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown channel mode %q (want listen or dial)", ch.Mode)
	}
}

// acceptOne opens a listener and returns its first accepted connection.
// Gauss's processor model is one stream in, one stream out;
// a full accept-loop spawning one Source per inbound connection is a
// reasonable future extension but nothing needs it yet, so it's left
// out here.
func acceptOne(ctx context.Context, addr string) (net.Conn, error) {
	conns, err := transport.TCPListen(ctx, addr)
	if err != nil {
		return nil, err
	}
	select {
	case c, ok := <-conns:
		if !ok {
			return nil, fmt.Errorf("bootstrap: listener on %s closed before accepting a connection", addr)
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
