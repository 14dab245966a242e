package client

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/ipv6"

	"github.com/taraaggoun/megaphone/protocol"
)

// NotificationCenter listens on the groups of subscribed feeds and queues
// the notifications it receives per feed.
type NotificationCenter struct {
	mu      sync.Mutex
	groups  map[string]net.PacketConn
	pending map[uint16][]*protocol.Notification
	closed  bool

	// C receives every notification when someone is listening.
	C chan *protocol.Notification

	log *zap.Logger
}

func NewNotificationCenter(log *zap.Logger) *NotificationCenter {
	return &NotificationCenter{
		groups:  make(map[string]net.PacketConn),
		pending: make(map[uint16][]*protocol.Notification),
		C:       make(chan *protocol.Notification, 64),
		log:     log,
	}
}

// Join starts listening on the group of sub. Joining the same group twice
// is a no-op.
func (n *NotificationCenter) Join(sub *protocol.SubscribeResponse) error {
	group := sub.GroupAddr()
	if group.IP == nil {
		return &net.AddrError{Err: "invalid group address", Addr: sub.Addr}
	}

	key := group.String()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return errors.New("Notification center is closed")
	}

	if _, ok := n.groups[key]; ok {
		return nil
	}

	conn, err := listenGroup(group)
	if err != nil {
		return err
	}

	n.groups[key] = conn

	n.log.Info("Joined group",
		zap.Stringer("group", group),
		zap.Uint16("feed", sub.FeedNumber))

	go n.listen(conn)

	return nil
}

func listenGroup(group *net.UDPAddr) (net.PacketConn, error) {
	port := strconv.Itoa(group.Port)

	if !group.IP.IsMulticast() {
		return reuseport.ListenPacket("udp", net.JoinHostPort(group.IP.String(), port))
	}

	conn, err := reuseport.ListenPacket("udp6", net.JoinHostPort("::", port))
	if err != nil {
		return nil, err
	}

	if err := ipv6.NewPacketConn(conn).JoinGroup(nil, &net.UDPAddr{IP: group.IP}); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

func (n *NotificationCenter) listen(conn net.PacketConn) {
	buf := make([]byte, 512)

	for {
		size, from, err := conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				n.log.Error("Stopped listening", zap.Error(err))
			}

			return
		}

		notif, err := protocol.DecodeNotification(buf[:size])
		if err != nil {
			n.log.Debug("Dropped datagram", zap.Stringer("from", from), zap.Error(err))
			continue
		}

		n.mu.Lock()
		n.pending[notif.FeedNumber] = append(n.pending[notif.FeedNumber], notif)
		n.mu.Unlock()

		select {
		case n.C <- notif:
		default:
		}
	}
}

// Pending returns and forgets the notifications queued for feed.
func (n *NotificationCenter) Pending(feed uint16) []*protocol.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	notifs := n.pending[feed]
	delete(n.pending, feed)
	return notifs
}

// Serve closes the center once ctx is done.
func (n *NotificationCenter) Serve(ctx context.Context) error {
	<-ctx.Done()
	return n.Close()
}

func (n *NotificationCenter) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}

	n.closed = true

	var err error
	for key, conn := range n.groups {
		err = multierr.Append(err, conn.Close())
		delete(n.groups, key)
	}

	return err
}
