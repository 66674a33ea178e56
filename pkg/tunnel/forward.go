package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"pvemigrate/pkg/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type forwarder struct {
	local  string
	remote string
	dial   StreamDialer
	logger *log.Logger
	ln     net.Listener

	mu    sync.Mutex
	conns map[io.Closer]struct{}
}

func newForwarder(local, remote string, dial StreamDialer, logger *log.Logger) (*forwarder, error) {
	os.RemoveAll(local)
	ln, err := net.Listen("unix", local)
	if err != nil {
		return nil, fmt.Errorf("unable to listen on '%s': %w", local, err)
	}
	return &forwarder{
		local:  local,
		remote: remote,
		dial:   dial,
		logger: logger,
		ln:     ln,
		conns:  make(map[io.Closer]struct{}),
	}, nil
}

func (f *forwarder) serve(ctx context.Context) {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handleConnection(ctx, conn)
	}
}

func (f *forwarder) track(c io.Closer) {
	f.mu.Lock()
	f.conns[c] = struct{}{}
	f.mu.Unlock()
}

func (f *forwarder) untrack(c io.Closer) {
	f.mu.Lock()
	delete(f.conns, c)
	f.mu.Unlock()
}

func (f *forwarder) handleConnection(ctx context.Context, fd net.Conn) {
	defer fd.Close()

	out, err := f.dial(ctx, f.remote)
	if err != nil {
		f.logger.Error("unable to create outbound leg of forwarded socket", zap.String("remote", f.remote), zap.Error(err))
		return
	}
	defer out.Close()
	f.track(fd)
	f.track(out)
	defer f.untrack(fd)
	defer f.untrack(out)

	var g errgroup.Group
	g.Go(func() error {
		n, err := io.Copy(out, fd)
		f.logger.Debug("bytes written to outbound connection", zap.Int64("bytes", n), zap.String("remote", f.remote))
		out.Close()
		return err
	})
	g.Go(func() error {
		n, err := io.Copy(fd, out)
		f.logger.Debug("bytes read from outbound connection", zap.Int64("bytes", n), zap.String("remote", f.remote))
		fd.Close()
		return err
	})
	if err := g.Wait(); err != nil && !isClosedErr(err) {
		f.logger.Warn("forwarded connection ended with error", zap.String("local", f.local), zap.Error(err))
	}
}

func (f *forwarder) stop() {
	f.ln.Close()
	f.mu.Lock()
	for c := range f.conns {
		c.Close()
	}
	f.mu.Unlock()
	os.RemoveAll(f.local)
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent)
}
