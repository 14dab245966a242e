package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/taraaggoun/megaphone/protocol"
	"github.com/taraaggoun/megaphone/transfer"
)

type pendingDownload struct {
	name   string
	conn   net.PacketConn
	result chan error
}

// Download asks the server to stream name from feed and waits until
// DownloadLoop saved it. It returns the path of the saved file.
func (c *Conn) Download(ctx context.Context, id, feed uint16, name string) (string, error) {
	if c.downloadDir == "" {
		return "", errors.New("Download directory is not set")
	}

	if _, err := transfer.Path(c.downloadDir, 0, name); err != nil {
		return "", err
	}

	udp, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return "", err
	}

	if err := transfer.GrowReadBuffer(udp); err != nil {
		c.log.Warn("Failed to grow the receive buffer", zap.Error(err))
	}

	port := udp.LocalAddr().(*net.UDPAddr).Port

	_, err = c.ack(ctx, &protocol.DownloadRequest{
		UserID:     id,
		FeedNumber: feed,
		Port:       uint16(port),
		FileName:   name,
	})
	if err != nil {
		udp.Close()
		return "", err
	}

	d := &pendingDownload{name: name, conn: udp, result: make(chan error, 1)}

	select {
	case c.downloads <- d:
	case <-ctx.Done():
		udp.Close()
		return "", ctx.Err()
	}

	select {
	case err := <-d.result:
		if err != nil {
			return "", err
		}

		return filepath.Join(c.downloadDir, name), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// DownloadLoop receives the negotiated downloads one after the other until
// ctx is done.
func (c *Conn) DownloadLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-c.downloads:
			err := c.receive(ctx, d)
			if err != nil {
				c.log.Error("Download failed", zap.String("file", d.name), zap.Error(err))
			}

			d.result <- err
		}
	}
}

func (c *Conn) receive(ctx context.Context, d *pendingDownload) error {
	defer d.conn.Close()

	data, err := transfer.Receive(ctx, d.conn, protocol.Download, c.transferTimeout)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(c.downloadDir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(c.downloadDir, d.name)
	if err := transfer.WriteAtomic(path, data); err != nil {
		return fmt.Errorf("Failed to save %s: %w", d.name, err)
	}

	c.log.Info("File downloaded", zap.String("file", path), zap.Int("size", len(data)))

	return nil
}

// DefaultDownloadDir returns ~/Téléchargements when it exists and
// ~/Downloads otherwise.
func DefaultDownloadDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	for _, name := range []string{"Téléchargements", "Downloads"} {
		dir := filepath.Join(home, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}

	return filepath.Join(home, "Downloads"), nil
}
