package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
)

var (
	Terminal = []byte("\r\n")
)

// MaxFrameSize bounds the leftover buffer of a FrameReader.
const MaxFrameSize = 8192

// FrameReader splits a TCP stream into CRLF terminated frames. Bytes read
// past the end of a frame are kept for the next call.
//
// When the underlying reader times out (see net.Conn.SetReadDeadline) the
// FrameReader returns ErrIncomplete and keeps every buffered byte, the
// caller can retry later.
type FrameReader struct {
	r   io.Reader
	buf []byte

	// afterCR is set once a frame was consumed up to its '\r'. A leading
	// '\n' is then either the end of that terminator or the first byte of
	// the next frame.
	afterCR bool

	scratch []byte
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:       r,
		buf:     make([]byte, 0, 512),
		scratch: make([]byte, 4096),
	}
}

// Buffered returns the number of bytes held for the next frame.
func (f *FrameReader) Buffered() int {
	if f.pendingLF() {
		return len(f.buf) - 1
	}

	return len(f.buf)
}

func (f *FrameReader) pendingLF() bool {
	return f.afterCR && len(f.buf) > 0 && f.buf[0] == '\n'
}

// Decode parses the next frame with decode. decode must report a short
// buffer with ErrTruncated, the FrameReader then reads more bytes and
// retries.
func (f *FrameReader) Decode(decode func(d *Decoder) error) error {
	for {
		if len(f.buf) > 0 {
			n, err := f.frame(0, decode)

			// Only skip the '\n' of a CRLF when the frame does not start on it
			if err != nil && f.pendingLF() {
				if n1, err1 := f.frame(1, decode); err1 == nil || !errors.Is(err, ErrTruncated) {
					n, err = n1, err1
				}
			}

			switch {
			case err == nil:
				f.consume(n)
				return nil

			case errors.Is(err, ErrMissingDelimiter):
				// Nothing sensible can be parsed after a misplaced terminator
				f.buf = f.buf[:0]
				f.afterCR = false
				return err

			case !errors.Is(err, ErrTruncated):
				return err
			}
		}

		if err := f.fill(); err != nil {
			return err
		}
	}
}

// frame decodes the frame starting at off and returns the offset of its
// terminator.
func (f *FrameReader) frame(off int, decode func(d *Decoder) error) (int, error) {
	d := NewDecoder(f.buf[off:])
	if err := decode(d); err != nil {
		return 0, err
	}

	n := off + d.Offset()
	if n == len(f.buf) {
		return 0, ErrTruncated
	}

	if c := f.buf[n]; c != '\r' {
		return 0, fmt.Errorf("found 0x%02X at offset %d: %w", c, n, ErrMissingDelimiter)
	}

	return n, nil
}

// consume drops a frame and its '\r' from the buffer.
func (f *FrameReader) consume(n int) {
	f.buf = append(f.buf[:0], f.buf[n+1:]...)
	f.afterCR = true
}

func (f *FrameReader) fill() error {
	if len(f.buf) >= MaxFrameSize {
		return ErrFrameTooLarge
	}

	n, err := f.r.Read(f.scratch)
	if n > 0 {
		f.buf = append(f.buf, f.scratch[:n]...)
		return nil
	}

	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrIncomplete
	}

	if errors.Is(err, io.EOF) && f.Buffered() > 0 {
		return io.ErrUnexpectedEOF
	}

	return err
}

// ReadRequest reads the next client request from the stream.
func ReadRequest(f *FrameReader) (req Request, err error) {
	err = f.Decode(func(d *Decoder) (err error) {
		req, err = DecodeRequest(d)
		return err
	})

	return req, err
}

// ReadResponse reads a complete server response. For LASTPOSTS the summary
// and its entries are read and returned as a LastPostsResponse.
func ReadResponse(f *FrameReader) (resp Response, err error) {
	err = f.Decode(func(d *Decoder) (err error) {
		resp, err = DecodeResponse(d)
		return err
	})

	if err != nil {
		return nil, err
	}

	summary, ok := resp.(*AckResponse)
	if !ok || summary.Type != LastPosts {
		return resp, nil
	}

	lp := &LastPostsResponse{
		UserID:     summary.UserID,
		FeedNumber: summary.FeedNumber,
		Posts:      make([]PostEntry, 0, summary.Count),
	}

	for i := 0; i < int(summary.Count); i++ {
		var entry *PostEntry

		err := f.Decode(func(d *Decoder) (err error) {
			entry, err = DecodePostEntry(d)
			return err
		})

		if err != nil {
			return nil, fmt.Errorf("Failed to read post %d of %d: %w", i+1, summary.Count, err)
		}

		lp.Posts = append(lp.Posts, *entry)
	}

	return lp, nil
}
