// Package zerocopy implements Gauss's zero-copy bypass: four kernel-space
// copy primitives for pipelines whose source or replay path is configured
// as passthrough, moving bytes without ever materializing a TopicRecord.
// On Linux the copy loop uses unix.Splice through a pipe buffer (no
// frame, no record construction, no ts_ms assignment); everywhere else —
// and whenever an endpoint isn't a plain descriptor splice can bridge —
// it falls back to io.Copy.
package zerocopy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// Primitive names one of the four endpoint-pair shapes the bypass
// arbitrates between.
type Primitive string

const (
	// FileToSocket is the highest-value case in practice: a
	// sink processor serving catch-up subscribers replays a file storage
	// segment straight to a subscriber's socket.
	FileToSocket   Primitive = "file_to_socket"
	SocketToFile   Primitive = "socket_to_file"
	SocketToSocket Primitive = "socket_to_socket"
	FileToFile     Primitive = "file_to_file"
)

// ErrNoPrimitive is returned by Select when neither endpoint pairing
// matches one of the four primitives — the configured path requires
// framing or record construction and zero-copy does not apply.
var ErrNoPrimitive = errors.New("zerocopy: no zero-copy primitive fits this endpoint pair")

// Endpoint is one side of a copy: exactly one of File or Conn is set.
type Endpoint struct {
	File *os.File
	Conn net.Conn
}

func (e Endpoint) isFile() bool { return e.File != nil }

// Close closes whichever side of the endpoint is set. Closing a
// zero-valued Endpoint is a no-op.
func (e Endpoint) Close() error {
	if e.File != nil {
		return e.File.Close()
	}
	if e.Conn != nil {
		return e.Conn.Close()
	}
	return nil
}

func (e Endpoint) reader() io.Reader {
	if e.File != nil {
		return e.File
	}
	return e.Conn
}

func (e Endpoint) writer() io.Writer {
	if e.File != nil {
		return e.File
	}
	return e.Conn
}

// Select arbitrates the configured src/dst endpoints against the four
// primitives.
func Select(src, dst Endpoint) (Primitive, error) {
	switch {
	case src.isFile() && !dst.isFile():
		return FileToSocket, nil
	case !src.isFile() && dst.isFile():
		return SocketToFile, nil
	case !src.isFile() && !dst.isFile():
		return SocketToSocket, nil
	case src.isFile() && dst.isFile():
		return FileToFile, nil
	default:
		return "", ErrNoPrimitive
	}
}

// Copy moves bytes from src to dst using the primitive Select would choose
// for this pair, returning the number of bytes moved. It respects ctx
// cancellation by closing the read side, which unblocks any in-progress
// splice or Read.
func Copy(ctx context.Context, src, dst Endpoint) (int64, error) {
	prim, err := Select(src, dst)
	if err != nil {
		return 0, err
	}

	stop := context.AfterFunc(ctx, func() { src.Close() })
	defer stop()

	n, err := platformCopy(prim, src, dst)
	if err != nil && ctx.Err() != nil {
		return n, ctx.Err()
	}
	return n, err
}

// fallbackCopy is the portable, non-splice implementation used on every
// platform for endpoint pairs splice cannot bridge, and on every
// non-Linux platform regardless of primitive.
func fallbackCopy(src, dst Endpoint) (int64, error) {
	n, err := io.Copy(dst.writer(), src.reader())
	if err != nil {
		return n, fmt.Errorf("zerocopy: fallback copy: %w", err)
	}
	return n, nil
}
