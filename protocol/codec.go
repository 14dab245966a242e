package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encoder appends big-endian fields to a growing byte slice.
type Encoder struct {
	buf []byte
}

func NewEncoder(sizeHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

func (e *Encoder) Uint8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *Encoder) Uint16(v uint16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}

func (e *Encoder) Header(h Header) {
	e.Uint16(uint16(h))
}

// Fixed writes exactly n bytes, truncating b or padding it with pad.
func (e *Encoder) Fixed(b []byte, n int, pad byte) {
	if len(b) > n {
		b = b[:n]
	}

	e.buf = append(e.buf, b...)
	for i := len(b); i < n; i++ {
		e.buf = append(e.buf, pad)
	}
}

// Data writes a one byte length followed by b.
func (e *Encoder) Data(b []byte) error {
	if len(b) > MaxDataLen {
		return ErrDataTooLong
	}

	e.Uint8(uint8(len(b)))
	e.buf = append(e.buf, b...)
	return nil
}

func (e *Encoder) Raw(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Decoder reads big-endian fields from a byte slice. The first out of
// bounds read records ErrTruncated, every following read is a no-op
// returning zero values. Check Err once all fields are read.
type Decoder struct {
	buf []byte
	off int
	err error
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}

	if n > len(d.buf)-d.off {
		d.err = fmt.Errorf("need %d bytes at offset %d, have %d: %w",
			n, d.off, len(d.buf)-d.off, ErrTruncated)
		return nil
	}

	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Decoder) Uint8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}

	return b[0]
}

func (d *Decoder) Uint16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}

	return binary.BigEndian.Uint16(b)
}

func (d *Decoder) Header() Header {
	return Header(d.Uint16())
}

// Fixed returns a copy of the next n bytes.
func (d *Decoder) Fixed(n int) []byte {
	b := d.take(n)
	if b == nil {
		return nil
	}

	return append([]byte(nil), b...)
}

// Data reads a one byte length and that many bytes.
func (d *Decoder) Data() []byte {
	n := d.Uint8()
	return d.Fixed(int(n))
}

// Rest consumes and returns a copy of every remaining byte.
func (d *Decoder) Rest() []byte {
	return d.Fixed(len(d.buf) - d.off)
}

func (d *Decoder) Offset() int {
	return d.off
}

func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

func (d *Decoder) Err() error {
	return d.err
}
