package zerocopy

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectMatchesEndpointShapes(t *testing.T) {
	file := Endpoint{File: new(os.File)}
	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()
	sock := Endpoint{Conn: left}

	cases := []struct {
		name string
		src  Endpoint
		dst  Endpoint
		want Primitive
	}{
		{"replay", file, sock, FileToSocket},
		{"capture", sock, file, SocketToFile},
		{"proxy", sock, Endpoint{Conn: right}, SocketToSocket},
		{"rotation", file, file, FileToFile},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Select(tc.src, tc.dst)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCopyFileToFile(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("raw segment bytes, no framing, no record header")
	srcPath := filepath.Join(dir, "src.seg")
	require.NoError(t, os.WriteFile(srcPath, payload, 0o644))

	src, err := os.Open(srcPath)
	require.NoError(t, err)
	dst, err := os.Create(filepath.Join(dir, "dst.seg"))
	require.NoError(t, err)

	n, err := Copy(context.Background(), Endpoint{File: src}, Endpoint{File: dst})
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
	require.NoError(t, dst.Close())

	got, err := os.ReadFile(filepath.Join(dir, "dst.seg"))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// net.Pipe conns expose no descriptor, forcing the portable fallback path
// on every platform — the same path a non-Linux build always takes.
func TestCopySocketToFileFallback(t *testing.T) {
	payload := []byte("captured without framing")
	left, right := net.Pipe()

	go func() {
		right.Write(payload)
		right.Close()
	}()

	dst, err := os.Create(filepath.Join(t.TempDir(), "capture"))
	require.NoError(t, err)

	n, err := Copy(context.Background(), Endpoint{Conn: left}, Endpoint{File: dst})
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
}

func TestCopyCancellationUnblocksAndReturnsCtxErr(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()
	dstLeft, dstRight := net.Pipe()
	defer dstLeft.Close()
	defer dstRight.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Copy(ctx, Endpoint{Conn: left}, Endpoint{Conn: dstLeft})
		done <- err
	}()

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
