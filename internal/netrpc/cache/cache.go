// Package cache tracks the descriptors an executor has opened on behalf of
// clients. Only descriptors present in the cache may be operated on, and only
// by the session which opened them.
package cache

import (
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/rfratto/netfd/internal/netrpc"
)

// Handle is an open descriptor stored in the cache.
type Handle interface {
	// FD returns the real descriptor of the handle.
	FD() int32

	// Close is called when the Handle is removed from the cache.
	Close() error
}

// HandleInfo describes a cached Handle.
type HandleInfo struct {
	FD      int32  // Real descriptor
	Session string // Session which opened the descriptor
	Path    string // Path the descriptor was opened from
}

type cachedHandle struct {
	Handle Handle
	Info   HandleInfo

	refs     int  // In-flight users of Handle; protected by Cache.mut
	released bool // Removed from the cache; close once refs drops to 0
}

// Cache implements a cache of open handles. The zero value is not ready for
// use; create one with New.
type Cache struct {
	log log.Logger

	mut     sync.RWMutex
	handles map[int32]*cachedHandle
}

// New creates a new, empty cache.
func New(l log.Logger) *Cache {
	if l == nil {
		l = log.NewNopLogger()
	}
	return &Cache{
		log:     l,
		handles: make(map[int32]*cachedHandle),
	}
}

// AddHandle stores a new handle opened by session from path. The descriptor
// must not already be cached.
func (c *Cache) AddHandle(session, path string, h Handle) (HandleInfo, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	fd := h.FD()
	if _, exist := c.handles[fd]; exist {
		// The kernel never hands out a descriptor which is still open, so this
		// means a descriptor was closed behind our back.
		return HandleInfo{}, fmt.Errorf("descriptor %d already cached: %w", fd, netrpc.ErrnoBadFD)
	}

	ch := &cachedHandle{
		Handle: h,
		Info:   HandleInfo{FD: fd, Session: session, Path: path},
	}
	c.handles[fd] = ch
	return ch.Info, nil
}

// AcquireHandle returns the Handle for fd and holds a reference to it until
// done is called. A handle released while references are held stays open
// until the last reference is dropped, so its descriptor number can't be
// reused underneath an in-flight request.
//
// ErrnoBadFD is returned if fd isn't cached or was opened by a different
// session.
func (c *Cache) AcquireHandle(session string, fd int32) (info HandleInfo, h Handle, done func(), err error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	ch, ok := c.handles[fd]
	if !ok || ch.Info.Session != session {
		return HandleInfo{}, nil, nil, netrpc.ErrnoBadFD
	}
	ch.refs++

	var once sync.Once
	return ch.Info, ch.Handle, func() { once.Do(func() { c.put(ch) }) }, nil
}

func (c *Cache) put(ch *cachedHandle) {
	c.mut.Lock()
	ch.refs--
	closeNow := ch.released && ch.refs == 0
	c.mut.Unlock()

	if !closeNow {
		return
	}
	if err := ch.Handle.Close(); err != nil {
		level.Warn(c.log).Log("msg", "error when closing released handle", "fd", ch.Info.FD, "path", ch.Info.Path, "err", err)
	}
}

// ReleaseHandle removes fd from the cache and closes it. The error from
// closing the handle is returned; fd is removed from the cache either way.
//
// If the handle is still in use, the close is deferred until the last user
// calls done and ReleaseHandle returns nil.
func (c *Cache) ReleaseHandle(session string, fd int32) error {
	c.mut.Lock()
	ch, ok := c.handles[fd]
	if !ok || ch.Info.Session != session {
		c.mut.Unlock()
		return netrpc.ErrnoBadFD
	}
	delete(c.handles, fd)
	ch.released = true
	inUse := ch.refs > 0
	c.mut.Unlock()

	if inUse {
		level.Debug(c.log).Log("msg", "deferring close of in-use handle", "fd", fd, "path", ch.Info.Path)
		return nil
	}
	// Closed outside of the lock so a slow close doesn't block other requests.
	return ch.Handle.Close()
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return len(c.handles)
}

// Close releases every cached handle, regardless of session. Handles still
// in use are closed once their last user is done.
func (c *Cache) Close() error {
	c.mut.Lock()
	var idle []*cachedHandle
	for _, ch := range c.handles {
		ch.released = true
		if ch.refs == 0 {
			idle = append(idle, ch)
		}
	}
	c.handles = make(map[int32]*cachedHandle)
	c.mut.Unlock()

	var errs *multierror.Error
	for _, ch := range idle {
		if err := ch.Handle.Close(); err != nil {
			level.Error(c.log).Log("msg", "error when closing cached handle", "fd", ch.Info.FD, "path", ch.Info.Path, "err", err)
			errs = multierror.Append(errs, fmt.Errorf("closing %d: %w", ch.Info.FD, err))
		}
	}
	return errs.ErrorOrNil()
}
