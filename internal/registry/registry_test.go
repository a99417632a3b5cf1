package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlugin struct {
	name     string
	closed   *[]string
	closeErr error
}

func (f *fakePlugin) Close() error {
	*f.closed = append(*f.closed, f.name)
	return f.closeErr
}

func TestLoadUnknownPluginFails(t *testing.T) {
	r := New()
	_, _, err := r.Load(KindStorage, "nope", nil)
	require.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestRegisterTwiceFails(t *testing.T) {
	r := New()
	ctor := func(map[string]any) (Plugin, Capabilities, error) { return nil, Capabilities{}, nil }
	require.NoError(t, r.Register(KindFormat, "json", ctor))
	err := r.Register(KindFormat, "json", ctor)
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestLoadReturnsCapabilitiesAndInstance(t *testing.T) {
	r := New()
	var closed []string
	ctor := func(cfg map[string]any) (Plugin, Capabilities, error) {
		return &fakePlugin{name: cfg["name"].(string), closed: &closed}, Capabilities{ReadModes: []string{"offset", "latest"}}, nil
	}
	require.NoError(t, r.Register(KindStorage, "ring", ctor))

	h, caps, err := r.Load(KindStorage, "ring", map[string]any{"name": "trades"})
	require.NoError(t, err)
	assert.Equal(t, []string{"offset", "latest"}, caps.ReadModes)
	assert.Equal(t, 1, r.Loaded())

	inst, err := r.Instance(h)
	require.NoError(t, err)
	fp, ok := inst.(*fakePlugin)
	require.True(t, ok)
	assert.Equal(t, "trades", fp.name)
}

func TestReleaseIsReverseOrderAndNeverFails(t *testing.T) {
	r := New()
	var closed []string
	ctor := func(cfg map[string]any) (Plugin, Capabilities, error) {
		return &fakePlugin{name: cfg["name"].(string), closed: &closed, closeErr: errors.New("boom")}, Capabilities{}, nil
	}
	require.NoError(t, r.Register(KindStorage, "x", ctor))

	h1, _, err := r.Load(KindStorage, "x", map[string]any{"name": "first"})
	require.NoError(t, err)
	h2, _, err := r.Load(KindStorage, "x", map[string]any{"name": "second"})
	require.NoError(t, err)

	r.ReleaseAll()

	assert.Equal(t, []string{"second", "first"}, closed)
	assert.Equal(t, 0, r.Loaded())

	_, err = r.Instance(h1)
	require.ErrorIs(t, err, ErrUnknownHandle)
	_, err = r.Instance(h2)
	require.ErrorIs(t, err, ErrUnknownHandle)
}

func TestReleaseUnknownHandleIsNoop(t *testing.T) {
	r := New()
	r.Release(Handle{id: 999})
}
