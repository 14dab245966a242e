package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/ipv6"

	"github.com/taraaggoun/megaphone/protocol"
	"github.com/taraaggoun/megaphone/storage"
)

const DefaultNotifyInterval = 120 * time.Second

// Sender delivers a batch of notification datagrams to a group.
type Sender interface {
	Send(group *net.UDPAddr, datagrams [][]byte) error
}

type NotifierOptions struct {
	Interval time.Duration

	Store  storage.Store
	Sender Sender

	Log *zap.Logger
}

// Notifier periodically pushes the new posts of every subscribed feed to
// the feed's multicast group.
type Notifier struct {
	interval time.Duration

	store  storage.Store
	sender Sender

	log *zap.Logger
}

func NewNotifier(options NotifierOptions) *Notifier {
	if options.Interval <= 0 {
		options.Interval = DefaultNotifyInterval
	}

	if options.Log == nil {
		options.Log = zap.NewNop()
	}

	return &Notifier{
		interval: options.Interval,
		store:    options.Store,
		sender:   options.Sender,
		log:      options.Log,
	}
}

// Serve notifies once per interval until ctx is done. Send failures are
// logged, the feeds concerned are retried on the next tick.
func (n *Notifier) Serve(ctx context.Context) error {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	n.log.Info("Starting notifier", zap.Duration("interval", n.interval))

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			sent, err := n.Notify()
			if err != nil {
				n.log.Warn("Failed to notify some feeds", zap.Error(err))
			}

			if sent > 0 {
				n.log.Info("Notifications sent", zap.Int("count", sent))
			}
		}
	}
}

// Notify sends the posts not notified yet and returns how many were sent.
// The cursor of a feed only moves when its whole batch was sent.
func (n *Notifier) Notify() (int, error) {
	var (
		sent int
		err  error
	)

	for _, pending := range n.store.PendingNotifications() {
		datagrams := make([][]byte, len(pending.Posts))
		for i, post := range pending.Posts {
			datagrams[i] = protocol.EncodeNotification(
				protocol.NewNotification(pending.FeedNumber, post.Author, post.Data))
		}

		group := &net.UDPAddr{IP: net.ParseIP(pending.Addr), Port: int(pending.Port)}
		if group.IP == nil {
			err = multierr.Append(err, fmt.Errorf("feed %d: invalid group %q", pending.FeedNumber, pending.Addr))
			continue
		}

		if serr := n.sender.Send(group, datagrams); serr != nil {
			err = multierr.Append(err, fmt.Errorf("feed %d: %w", pending.FeedNumber, serr))
			continue
		}

		n.store.AdvanceCursor(pending.FeedNumber, pending.Offset)
		sent += len(datagrams)
	}

	return sent, err
}

// MulticastSender writes notifications from a single UDP socket.
type MulticastSender struct {
	conn net.PacketConn
}

// NewMulticastSender opens the sending socket. ifname selects the outgoing
// interface, empty lets the kernel choose.
func NewMulticastSender(ifname string, hopLimit int, log *zap.Logger) (*MulticastSender, error) {
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, err
	}

	p := ipv6.NewPacketConn(conn)

	if ifname != "" {
		iface, err := net.InterfaceByName(ifname)
		if err != nil {
			conn.Close()
			return nil, err
		}

		if err := p.SetMulticastInterface(iface); err != nil {
			conn.Close()
			return nil, err
		}
	}

	// The socket may be IPv4 only, IPv6 multicast options are best effort
	if err := p.SetMulticastHopLimit(hopLimit); err != nil {
		log.Warn("Failed to set multicast hop limit", zap.Error(err))
	}

	if err := p.SetMulticastLoopback(true); err != nil {
		log.Warn("Failed to enable multicast loopback", zap.Error(err))
	}

	return &MulticastSender{conn: conn}, nil
}

func (s *MulticastSender) Send(group *net.UDPAddr, datagrams [][]byte) error {
	for _, d := range datagrams {
		if _, err := s.conn.WriteTo(d, group); err != nil {
			return err
		}
	}

	return nil
}

func (s *MulticastSender) Close() error {
	return s.conn.Close()
}
