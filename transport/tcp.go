package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/taraaggoun/megaphone/dispatch"
	"github.com/taraaggoun/megaphone/protocol"
	"github.com/taraaggoun/megaphone/storage"
	"github.com/taraaggoun/megaphone/transfer"
)

type deadliner interface {
	SetDeadline(t time.Time) error
}

// TCP serves client requests, one goroutine per connection.
type TCP struct {
	addr         string
	numListeners int
	idleTimeout  time.Duration

	store      storage.Store
	dispatcher *dispatch.Dispatcher
	sweeper    *sweeper

	mu          sync.Mutex
	listeners   []net.Listener
	activeConns map[*TCPConn]struct{}

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	options = options.withDefaults()

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners: options.NumListeners,
		idleTimeout:  options.IdleTimeout,
		store:        options.Store,
		dispatcher:   options.Dispatcher,
		sweeper: &sweeper{
			store:    options.Store,
			interval: options.SweepInterval,
			log:      options.Log.Named("sweeper"),
		},
		listeners:   make([]net.Listener, 0, options.NumListeners),
		activeConns: make(map[*TCPConn]struct{}),
		log:         options.Log,
	}
}

// Listen binds the listeners. Serve calls it if needed.
func (t *TCP) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.listeners) > 0 {
		return nil
	}

	for i := 0; i < t.numListeners; i++ {
		listener, err := reuseport.Listen("tcp", t.addr)
		if err != nil {
			for _, l := range t.listeners {
				l.Close()
			}

			t.listeners = t.listeners[:0]
			return err
		}

		t.listeners = append(t.listeners, listener)
	}

	return nil
}

// Addr returns the address of the first listener, nil before Listen.
func (t *TCP) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.listeners) == 0 {
		return nil
	}

	return t.listeners[0].Addr()
}

// Serve accepts connections until ctx is done, then closes every listener
// and connection.
func (t *TCP) Serve(parentCtx context.Context) error {
	if err := t.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	t.mu.Lock()
	listeners := append([]net.Listener(nil), t.listeners...)
	t.mu.Unlock()

	t.log.Info("Starting tcp listeners",
		zap.Int("count", len(listeners)),
		zap.String("addr", listeners[0].Addr().String()))

	var (
		loopWaiter sync.WaitGroup
		connWaiter sync.WaitGroup

		errMu sync.Mutex
		err   error
	)

	for i, listener := range listeners {
		loopWaiter.Add(1)

		go func(i int, listener net.Listener) {
			defer loopWaiter.Done()

			log := t.log.Named("listener").With(zap.Int("listener", i))
			if aerr := t.accept(ctx, listener, &connWaiter, log); aerr != nil {
				log.Error("Failed to accept", zap.Error(aerr))

				errMu.Lock()
				err = multierr.Append(err, aerr)
				errMu.Unlock()

				cancel()
			}
		}(i, listener)
	}

	go func() {
		<-ctx.Done()
		t.Close()
	}()

	loopWaiter.Wait()
	cancel()

	t.log.Info("Waiting for connections to close")
	connWaiter.Wait()
	t.log.Info("Listeners stopped")

	return err
}

func (t *TCP) accept(ctx context.Context, listener net.Listener, connWaiter *sync.WaitGroup, log *zap.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if d, ok := listener.(deadliner); ok {
			if err := d.SetDeadline(time.Now().Add(t.sweeper.interval)); err != nil {
				return err
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				return nil
			}

			if isTimeout(err) {
				t.sweeper.maybeSweep()
				continue
			}

			return err
		}

		tcpConn := NewTCPConn(ctx, conn, t, log.Named("conn"))
		t.addConn(tcpConn)

		connWaiter.Add(1)
		go func() {
			defer connWaiter.Done()
			defer t.removeConn(tcpConn)

			tcpConn.Serve()
		}()
	}
}

// Close immediately closes all listeners and active connections.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	for _, listener := range t.listeners {
		if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}

	for conn := range t.activeConns {
		conn.Close()
	}

	return err
}

func (t *TCP) addConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
}

func (t *TCP) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

// TCPConn serves the requests of one client connection in order.
type TCPConn struct {
	ctx    context.Context
	cancel context.CancelFunc

	conn   net.Conn
	frames *protocol.FrameReader
	server *TCP

	log *zap.Logger
}

func NewTCPConn(parentCtx context.Context, conn net.Conn, server *TCP, log *zap.Logger) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	return &TCPConn{
		ctx:    ctx,
		cancel: cancel,
		conn:   conn,
		frames: protocol.NewFrameReader(conn),
		server: server,
		log:    log.With(zap.String("remote", conn.RemoteAddr().String())),
	}
}

func (t *TCPConn) Close() error {
	t.cancel()
	return t.conn.Close()
}

// Serve reads requests until the client disconnects, sends a malformed
// request or stays idle for too long.
func (t *TCPConn) Serve() {
	defer t.Close()

	lastActive := time.Now()

	for {
		if !t.isRunning() {
			return
		}

		if err := t.conn.SetReadDeadline(time.Now().Add(t.server.sweeper.interval)); err != nil {
			t.log.Warn("Failed to set read deadline", zap.Error(err))
			return
		}

		req, err := protocol.ReadRequest(t.frames)

		switch {
		case err == nil:
			lastActive = time.Now()

		case errors.Is(err, protocol.ErrIncomplete):
			t.server.sweeper.maybeSweep()

			if time.Since(lastActive) > t.server.idleTimeout {
				t.log.Info("Closing idle connection")
				return
			}

			continue

		case errors.Is(err, io.EOF):
			return

		case !t.isRunning() || errors.Is(err, net.ErrClosed):
			return

		default:
			t.log.Warn("Failed to read client request", zap.Error(err))
			t.logRequest(0, 0, protocol.ErrNotComplete, err)

			if werr := protocol.WriteError(t.conn, protocol.ErrNotComplete); werr != nil {
				t.log.Warn("Failed to reject malformed request", zap.Error(werr))
			}

			return
		}

		res := t.server.dispatcher.Dispatch(req)
		t.logRequest(req.GetType(), req.GetHeader().ID(), res.Code(), res.Err)

		if err := protocol.WriteResponse(t.conn, res.Response); err != nil {
			t.log.Warn("Failed to write response",
				zap.Stringer("header", req.GetHeader()),
				zap.Error(err))
			return
		}

		if res.Download != nil {
			if err := t.sendDownload(res.Download); err != nil {
				t.log.Warn("Failed to send file",
					zap.Uint16("id", res.Download.UserID),
					zap.String("file", res.Download.FileName),
					zap.Error(err))
			}
		}
	}
}

// sendDownload streams a file to the UDP port the client announced, on
// the address of this connection.
func (t *TCPConn) sendDownload(d *dispatch.Download) error {
	host, _, err := net.SplitHostPort(t.conn.RemoteAddr().String())
	if err != nil {
		return err
	}

	udp, err := net.Dial("udp", net.JoinHostPort(host, strconv.Itoa(int(d.Port))))
	if err != nil {
		return err
	}

	err = t.server.store.StartTransfer(transfer.Transfer{
		Kind:       protocol.Download,
		UserID:     d.UserID,
		FeedNumber: d.FeedNumber,
		FileName:   d.FileName,
		Peer:       udp.RemoteAddr(),
		Conn:       udp,
	})

	if err != nil {
		udp.Close()
		return err
	}

	n, err := transfer.Send(udp, protocol.Download, d.UserID, d.Data)

	t.log.Info("File sent",
		zap.Uint16("id", d.UserID),
		zap.String("file", d.FileName),
		zap.Int("chunks", n),
		zap.Int("size", len(d.Data)))

	return multierr.Append(err, t.server.store.FinishTransfer(d.UserID))
}

// logRequest writes the request log line of a served request.
func (t *TCPConn) logRequest(kind protocol.RequestType, id uint16, code protocol.ErrorCode, err error) {
	fields := []zap.Field{
		zap.Stringer("type", kind),
		zap.Uint16("id", id),
		zap.String("code", code.Name()),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	t.log.Info("Request", fields...)
}

// isRunning returns true if Close has not been called
func (t *TCPConn) isRunning() bool {
	select {
	case <-t.ctx.Done():
		// if we can read on this channel then it's been closed
		return false

	default:
		return true
	}
}
