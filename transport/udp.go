package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/zap"

	"github.com/taraaggoun/megaphone/protocol"
	"github.com/taraaggoun/megaphone/storage"
	"github.com/taraaggoun/megaphone/transfer"
)

// UDP receives the chunks of uploads announced over TCP.
type UDP struct {
	addr string

	store   storage.Store
	sweeper *sweeper

	mu   sync.Mutex
	conn net.PacketConn

	log *zap.Logger
}

func NewUDP(options Options) *UDP {
	options = options.withDefaults()

	return &UDP{
		addr:  net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		store: options.Store,
		sweeper: &sweeper{
			store:    options.Store,
			interval: options.SweepInterval,
			log:      options.Log.Named("sweeper"),
		},
		log: options.Log,
	}
}

// Listen binds the socket. Serve calls it if needed.
func (u *UDP) Listen() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn != nil {
		return nil
	}

	conn, err := reuseport.ListenPacket("udp", u.addr)
	if err != nil {
		return err
	}

	if err := transfer.GrowReadBuffer(conn); err != nil {
		u.log.Warn("Failed to grow the receive buffer", zap.Error(err))
	}

	u.conn = conn
	return nil
}

// Addr returns the bound address, nil before Listen.
func (u *UDP) Addr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn == nil {
		return nil
	}

	return u.conn.LocalAddr()
}

// Serve reads upload chunks until ctx is done.
func (u *UDP) Serve(ctx context.Context) error {
	if err := u.Listen(); err != nil {
		return err
	}

	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()

	defer u.Close()

	u.log.Info("Receiving uploads", zap.String("addr", conn.LocalAddr().String()))

	buf := make([]byte, protocol.ChunkHeaderSize+protocol.PacketSize+1)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := conn.SetReadDeadline(time.Now().Add(u.sweeper.interval)); err != nil {
			return err
		}

		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				u.sweeper.maybeSweep()
				continue
			}

			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			return err
		}

		u.handle(buf[:n], from)
		u.sweeper.maybeSweep()
	}
}

func (u *UDP) handle(datagram []byte, from net.Addr) {
	chunk, err := protocol.DecodeChunk(datagram)
	if err != nil {
		u.log.Warn("Dropping malformed packet",
			zap.Stringer("from", from),
			zap.Error(err))
		return
	}

	if chunk.Type != protocol.Upload {
		u.log.Warn("Dropping packet that is not an upload",
			zap.Stringer("from", from),
			zap.Stringer("type", chunk.Type))
		return
	}

	status, err := u.store.AppendChunk(chunk.UserID, chunk.Block, chunk.Data)
	if err != nil {
		level := u.log.Warn
		if errors.Is(err, transfer.ErrNoTransfer) {
			level = u.log.Debug
		}

		level("Failed to store chunk",
			zap.Uint16("id", chunk.UserID),
			zap.Uint16("block", chunk.Block),
			zap.Error(err))
		return
	}

	if status == storage.ChunkComplete {
		u.log.Debug("Upload received", zap.Uint16("id", chunk.UserID))
	}
}

func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn == nil {
		return nil
	}

	err := u.conn.Close()
	u.conn = nil
	return err
}
