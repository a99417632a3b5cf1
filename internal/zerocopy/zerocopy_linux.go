//go:build linux

package zerocopy

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// platformCopy dispatches to unix.Splice through an intermediate pipe
// buffer for primitives where both endpoints expose a raw file
// descriptor (every *os.File and every fd-backed net.Conn); it falls back
// to io.Copy for anything else, e.g. an in-memory test pipe that has no
// underlying descriptor, and when the first splice into dst is refused
// (e.g. a file opened with O_APPEND).
func platformCopy(prim Primitive, src, dst Endpoint) (int64, error) {
	srcFd, srcOK := rawFd(src)
	dstFd, dstOK := rawFd(dst)
	if !srcOK || !dstOK {
		return fallbackCopy(src, dst)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return fallbackCopy(src, dst)
	}
	defer pr.Close()
	defer pw.Close()

	prFd, pwFd := int(pr.Fd()), int(pw.Fd())

	var total int64
	const chunk = 1 << 20
	for {
		n, err := unix.Splice(srcFd, nil, pwFd, nil, chunk, unix.SPLICE_F_MOVE)
		if err != nil {
			if total == 0 {
				return fallbackCopy(src, dst)
			}
			return total, fmt.Errorf("zerocopy: splice %s read half: %w", prim, err)
		}
		if n == 0 {
			return total, nil
		}
		written, err := unix.Splice(prFd, nil, dstFd, nil, int(n), unix.SPLICE_F_MOVE)
		if err != nil {
			if total == 0 {
				// dst refuses splice: move the bytes already in the pipe
				// with a plain copy, then finish on the portable path.
				moved, cerr := io.CopyN(dst.writer(), pr, n)
				if cerr != nil {
					return moved, fmt.Errorf("zerocopy: draining splice pipe for %s: %w", prim, cerr)
				}
				rest, ferr := fallbackCopy(src, dst)
				return moved + rest, ferr
			}
			return total, fmt.Errorf("zerocopy: splice %s write half: %w", prim, err)
		}
		total += written
	}
}

// rawFd extracts the underlying descriptor from an Endpoint, when one
// exists. net.Conn implementations that satisfy syscall.Conn (TCP, Unix
// sockets) expose it via SyscallConn; an in-memory pipe used by tests
// does not, and rawFd reports false for it.
func rawFd(e Endpoint) (int, bool) {
	if e.File != nil {
		return int(e.File.Fd()), true
	}
	sc, ok := e.Conn.(syscall.Conn)
	if !ok {
		return 0, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd int
	if err := raw.Control(func(v uintptr) { fd = int(v) }); err != nil {
		return 0, false
	}
	return fd, true
}
