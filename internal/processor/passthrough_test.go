package processor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gauss-stream/gauss/internal/zerocopy"
)

func fileOpener(t *testing.T, path string, read bool) EndpointOpener {
	t.Helper()
	return func(context.Context) (zerocopy.Endpoint, error) {
		var f *os.File
		var err error
		if read {
			f, err = os.Open(path)
		} else {
			f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		}
		if err != nil {
			return zerocopy.Endpoint{}, err
		}
		return zerocopy.Endpoint{File: f}, nil
	}
}

func TestPassthroughMovesBytesWithoutFraming(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("opaque bytes\nwith embedded delimiters\x00\x01\x02 left intact")
	srcPath := filepath.Join(dir, "in")
	dstPath := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(srcPath, payload, 0o644))

	pt, err := NewPassthrough(PassthroughConfig{
		Name:       "rotate",
		Primitive:  zerocopy.FileToFile,
		OpenSource: fileOpener(t, srcPath, true),
		OpenTarget: fileOpener(t, dstPath, false),
	})
	require.NoError(t, err)
	require.False(t, pt.Framed())

	require.NoError(t, pt.Run(context.Background()))
	require.Equal(t, LifecycleStopped, pt.Lifecycle())

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPassthroughKindFollowsPrimitive(t *testing.T) {
	cases := []struct {
		prim zerocopy.Primitive
		want Kind
	}{
		{zerocopy.FileToSocket, KindSink},
		{zerocopy.SocketToFile, KindSource},
		{zerocopy.SocketToSocket, KindTransform},
		{zerocopy.FileToFile, KindTransform},
	}
	open := func(context.Context) (zerocopy.Endpoint, error) { return zerocopy.Endpoint{}, nil }
	for _, tc := range cases {
		pt, err := NewPassthrough(PassthroughConfig{Name: "p", Primitive: tc.prim, OpenSource: open, OpenTarget: open})
		require.NoError(t, err)
		require.Equal(t, tc.want, pt.Kind())
	}
}

func TestPassthroughRequiresBothEndpoints(t *testing.T) {
	_, err := NewPassthrough(PassthroughConfig{Name: "p"})
	require.Error(t, err)
}
