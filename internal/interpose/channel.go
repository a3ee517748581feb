package interpose

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/netfd/internal/netrpc/grpcrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var errShutdown = errors.New("interposer shut down")

// channel lazily builds the connection to the executor. The connection is
// built at most once, on the first call to client.
type channel struct {
	log     log.Logger
	target  string
	session string
	opts    []grpc.DialOption

	once sync.Once
	cc   *grpc.ClientConn
	cli  *grpcrpc.Client
	err  error
}

func newChannel(l log.Logger, target, session string, opts []grpc.DialOption) *channel {
	return &channel{
		log:     l,
		target:  target,
		session: session,
		opts:    opts,
	}
}

func (c *channel) client() (*grpcrpc.Client, error) {
	c.once.Do(c.build)
	return c.cli, c.err
}

func (c *channel) build() {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, grpcrpc.DialOptions()...)
	opts = append(opts, c.opts...)

	cc, err := grpc.NewClient(c.target, opts...)
	if err != nil {
		c.err = fmt.Errorf("creating client for %s: %w", c.target, err)
		return
	}

	level.Debug(c.log).Log("msg", "created executor client", "target", c.target, "session", c.session)
	c.cc = cc
	c.cli = grpcrpc.NewClient(cc, c.session)
}

// Close closes the connection if one was built. Once Close is called, the
// channel can no longer be built.
func (c *channel) Close() error {
	c.once.Do(func() { c.err = errShutdown })
	if c.cc == nil {
		return nil
	}
	return c.cc.Close()
}
