// Package client talks to a Megaphone server: one TCP connection per
// request, UDP for file transfers and multicast for notifications.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/taraaggoun/megaphone/protocol"
	"github.com/taraaggoun/megaphone/transfer"
)

const DefaultRequestTimeout = 10 * time.Second

var ErrUnexpectedResponse = errors.New("Server sent a response of the wrong type")

type Options struct {
	// Host and Port of the server TCP listener
	Host string
	Port int

	// DownloadDir receives downloaded files, see DefaultDownloadDir
	DownloadDir string

	TransferTimeout time.Duration
	RequestTimeout  time.Duration

	Log *zap.Logger
}

// Conn issues requests to a server. It is safe for concurrent use.
type Conn struct {
	host string
	addr string

	downloadDir     string
	transferTimeout time.Duration
	requestTimeout  time.Duration

	// downloads hands a negotiated socket to DownloadLoop, one at a time
	downloads chan *pendingDownload

	notifications *NotificationCenter

	log *zap.Logger
}

func New(options Options) *Conn {
	if options.TransferTimeout <= 0 {
		options.TransferTimeout = transfer.DefaultTimeout
	}

	if options.RequestTimeout <= 0 {
		options.RequestTimeout = DefaultRequestTimeout
	}

	if options.Log == nil {
		options.Log = zap.NewNop()
	}

	return &Conn{
		host:            options.Host,
		addr:            net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		downloadDir:     options.DownloadDir,
		transferTimeout: options.TransferTimeout,
		requestTimeout:  options.RequestTimeout,
		downloads:       make(chan *pendingDownload, 1),
		notifications:   NewNotificationCenter(options.Log.Named("notifications")),
		log:             options.Log,
	}
}

func (c *Conn) Notifications() *NotificationCenter {
	return c.notifications
}

// Register creates an account and returns its id.
func (c *Conn) Register(ctx context.Context, pseudo string) (uint16, error) {
	p, err := protocol.NewPseudo(pseudo)
	if err != nil {
		return 0, err
	}

	ack, err := c.ack(ctx, &protocol.RegistrationRequest{Pseudo: p})
	if err != nil {
		return 0, err
	}

	return ack.UserID, nil
}

// Post publishes text to feed, 0 creates a new feed. It returns the feed
// the post was added to.
func (c *Conn) Post(ctx context.Context, id, feed uint16, text string) (uint16, error) {
	ack, err := c.ack(ctx, &protocol.PostRequest{UserID: id, FeedNumber: feed, Data: []byte(text)})
	if err != nil {
		return 0, err
	}

	return ack.FeedNumber, nil
}

// LastPosts fetches the newest count posts of feed, zero values select
// every feed and every post.
func (c *Conn) LastPosts(ctx context.Context, id, feed, count uint16) (*protocol.LastPostsResponse, error) {
	resp, err := c.request(ctx, &protocol.LastPostsRequest{UserID: id, FeedNumber: feed, Count: count})
	if err != nil {
		return nil, err
	}

	lp, ok := resp.(*protocol.LastPostsResponse)
	if !ok {
		return nil, fmt.Errorf("%s: %w", resp.GetType(), ErrUnexpectedResponse)
	}

	return lp, nil
}

// Subscribe subscribes to feed and starts receiving its notifications.
func (c *Conn) Subscribe(ctx context.Context, id, feed uint16) (*protocol.SubscribeResponse, error) {
	resp, err := c.request(ctx, &protocol.SubscribeRequest{UserID: id, FeedNumber: feed})
	if err != nil {
		return nil, err
	}

	sub, ok := resp.(*protocol.SubscribeResponse)
	if !ok {
		return nil, fmt.Errorf("%s: %w", resp.GetType(), ErrUnexpectedResponse)
	}

	if err := c.notifications.Join(sub); err != nil {
		return sub, err
	}

	return sub, nil
}

// Upload sends the file at path to feed, 0 creates a new feed once the
// server received every chunk.
func (c *Conn) Upload(ctx context.Context, id, feed uint16, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ack, err := c.ack(ctx, &protocol.UploadRequest{UserID: id, FeedNumber: feed, FileName: filepath.Base(path)})
	if err != nil {
		return err
	}

	udp, err := net.Dial("udp", net.JoinHostPort(c.host, strconv.Itoa(int(ack.Count))))
	if err != nil {
		return err
	}

	defer udp.Close()

	n, err := transfer.Send(udp, protocol.Upload, id, data)
	if err != nil {
		return err
	}

	c.log.Info("File uploaded",
		zap.String("file", path),
		zap.Uint16("feed", feed),
		zap.Int("chunks", n))

	return nil
}

func (c *Conn) ack(ctx context.Context, req protocol.Request) (*protocol.AckResponse, error) {
	resp, err := c.request(ctx, req)
	if err != nil {
		return nil, err
	}

	ack, ok := resp.(*protocol.AckResponse)
	if !ok || ack.Type != req.GetType() {
		return nil, fmt.Errorf("%s: %w", resp.GetType(), ErrUnexpectedResponse)
	}

	return ack, nil
}

// request sends req on a new connection and reads the response. Error
// responses are returned as protocol.ErrorCode errors.
func (c *Conn) request(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}

	defer conn.Close()

	deadline := time.Now().Add(c.requestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if err := protocol.WriteRequest(conn, req); err != nil {
		return nil, err
	}

	resp, err := protocol.ReadResponse(protocol.NewFrameReader(conn))
	if err != nil {
		if errors.Is(err, protocol.ErrIncomplete) {
			return nil, fmt.Errorf("no response from %s: %w", c.addr, err)
		}

		return nil, err
	}

	if e, ok := resp.(*protocol.ErrorResponse); ok {
		if err := e.ErrorOrNil(); err != nil {
			return nil, err
		}

		return nil, ErrUnexpectedResponse
	}

	return resp, nil
}
