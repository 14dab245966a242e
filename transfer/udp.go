package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/taraaggoun/megaphone/protocol"
)

// ReadBufferSize is the receive buffer asked for transfer sockets. Chunks
// are sent back to back, the kernel caps it at net.core.rmem_max.
const ReadBufferSize = 4 << 20

// GrowReadBuffer sets the receive buffer of conn to ReadBufferSize when
// the connection supports it.
func GrowReadBuffer(conn net.PacketConn) error {
	if c, ok := conn.(interface{ SetReadBuffer(bytes int) error }); ok {
		return c.SetReadBuffer(ReadBufferSize)
	}

	return nil
}

// Send writes every chunk of data as one datagram on w and returns the
// number of chunks written.
func Send(w io.Writer, kind protocol.RequestType, id uint16, data []byte) (int, error) {
	chunks, err := Chunks(kind, id, data)
	if err != nil {
		return 0, err
	}

	for i, c := range chunks {
		datagram, err := protocol.EncodeChunk(c)
		if err != nil {
			return i, err
		}

		if _, err := w.Write(datagram); err != nil {
			return i, fmt.Errorf("Failed to send block %d: %w", c.Block, err)
		}
	}

	return len(chunks), nil
}

// Receive reads the chunks of a single transfer from conn until the file
// is complete. It fails with ErrTimeout when no chunk arrived for timeout.
// Datagrams that are not chunks of kind are ignored.
func Receive(ctx context.Context, conn net.PacketConn, kind protocol.RequestType, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	asm := NewAssembler()
	buf := make([]byte, protocol.ChunkHeaderSize+protocol.PacketSize+1)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}

		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, fmt.Errorf("%d blocks received: %w", asm.Received(), ErrTimeout)
			}

			return nil, err
		}

		chunk, err := protocol.DecodeChunk(buf[:n])
		if err != nil || chunk.Type != kind {
			continue
		}

		complete, err := asm.Add(chunk.Block, chunk.Data)
		if err != nil {
			continue
		}

		if complete {
			return asm.Bytes()
		}
	}
}
