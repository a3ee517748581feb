package cache

import (
	"errors"
	"testing"

	"github.com/rfratto/netfd/internal/netrpc"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	fd       int32
	closed   int
	closeErr error
}

func (h *fakeHandle) FD() int32 { return h.fd }

func (h *fakeHandle) Close() error {
	h.closed++
	return h.closeErr
}

func TestCache_Handles(t *testing.T) {
	c := New(nil)

	h := &fakeHandle{fd: 5}
	info, err := c.AddHandle("a", "/remote/file", h)
	require.NoError(t, err)
	require.Equal(t, HandleInfo{FD: 5, Session: "a", Path: "/remote/file"}, info)

	_, err = c.AddHandle("a", "/remote/other", &fakeHandle{fd: 5})
	require.True(t, errors.Is(err, netrpc.ErrnoBadFD))

	gotInfo, got, done, err := c.AcquireHandle("a", 5)
	require.NoError(t, err)
	require.Equal(t, info, gotInfo)
	require.Same(t, h, got)
	done()

	_, _, _, err = c.AcquireHandle("b", 5)
	require.Equal(t, netrpc.ErrnoBadFD, err, "other sessions must not see the handle")
	_, _, _, err = c.AcquireHandle("a", 6)
	require.Equal(t, netrpc.ErrnoBadFD, err)

	require.Equal(t, netrpc.ErrnoBadFD, c.ReleaseHandle("b", 5))
	require.Equal(t, 0, h.closed)

	require.NoError(t, c.ReleaseHandle("a", 5))
	require.Equal(t, 1, h.closed)
	require.Equal(t, 0, c.Len())

	require.Equal(t, netrpc.ErrnoBadFD, c.ReleaseHandle("a", 5))
}

func TestCache_ReleaseWhileAcquired(t *testing.T) {
	c := New(nil)

	h := &fakeHandle{fd: 5}
	_, err := c.AddHandle("a", "/x", h)
	require.NoError(t, err)

	_, _, first, err := c.AcquireHandle("a", 5)
	require.NoError(t, err)
	_, _, second, err := c.AcquireHandle("a", 5)
	require.NoError(t, err)

	require.NoError(t, c.ReleaseHandle("a", 5))
	require.Equal(t, 0, c.Len())
	require.Equal(t, 0, h.closed, "handle must stay open while in use")

	_, _, _, err = c.AcquireHandle("a", 5)
	require.Equal(t, netrpc.ErrnoBadFD, err, "released handle must not be handed out again")

	first()
	first()
	require.Equal(t, 0, h.closed, "done must only drop one reference")

	second()
	require.Equal(t, 1, h.closed)

	// The number can be cached again once the real descriptor is closed.
	_, err = c.AddHandle("b", "/y", &fakeHandle{fd: 5})
	require.NoError(t, err)
}

func TestCache_CloseWhileAcquired(t *testing.T) {
	c := New(nil)

	h := &fakeHandle{fd: 5}
	_, err := c.AddHandle("a", "/x", h)
	require.NoError(t, err)
	_, _, done, err := c.AcquireHandle("a", 5)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.Equal(t, 0, h.closed)

	done()
	require.Equal(t, 1, h.closed)
}

func TestCache_ReleaseReturnsCloseError(t *testing.T) {
	c := New(nil)

	h := &fakeHandle{fd: 3, closeErr: netrpc.ErrnoIO}
	_, err := c.AddHandle("a", "/x", h)
	require.NoError(t, err)

	require.Equal(t, netrpc.ErrnoIO, c.ReleaseHandle("a", 3))
	require.Equal(t, 0, c.Len(), "handle must be removed even if close fails")
}

func TestCache_Close(t *testing.T) {
	c := New(nil)

	var (
		a = &fakeHandle{fd: 3}
		b = &fakeHandle{fd: 4, closeErr: netrpc.ErrnoIO}
	)
	_, err := c.AddHandle("a", "/a", a)
	require.NoError(t, err)
	_, err = c.AddHandle("b", "/b", b)
	require.NoError(t, err)

	err = c.Close()
	require.Error(t, err)
	require.True(t, errors.Is(err, netrpc.ErrnoIO))
	require.Equal(t, 1, a.closed)
	require.Equal(t, 1, b.closed)
	require.Equal(t, 0, c.Len())
}
