package protocol

import (
	"bytes"
	"net"
)

// Response is a server response to a Request.
type Response interface {
	GetType() RequestType

	encode(e *Encoder) error
}

// AckResponse answers REGISTRATION, NEWPOST, UPLOAD and DOWNLOAD. It is
// also the summary line of a LASTPOSTS answer.
type AckResponse struct {
	Type       RequestType
	UserID     uint16
	FeedNumber uint16
	Count      uint16
}

func (r *AckResponse) GetType() RequestType {
	return r.Type
}

func (r *AckResponse) encode(e *Encoder) error {
	e.Header(NewHeader(r.Type, r.UserID))
	e.Uint16(r.FeedNumber)
	e.Uint16(r.Count)
	return nil
}

// ErrorResponse has the same shape as an AckResponse with the error code
// in the type slot.
type ErrorResponse struct {
	Code ErrorCode
}

func (r *ErrorResponse) GetType() RequestType {
	return RequestType(r.Code)
}

func (r *ErrorResponse) encode(e *Encoder) error {
	e.Header(ErrorHeader(r.Code))
	e.Uint16(0)
	e.Uint16(0)
	return nil
}

// ErrorOrNil returns the error code of r as an error.
func (r *ErrorResponse) ErrorOrNil() error {
	if r.Code == NoError {
		return nil
	}

	return r.Code
}

// SubscribeResponse carries the multicast group notifications of a feed
// are sent to.
type SubscribeResponse struct {
	UserID     uint16
	FeedNumber uint16
	Port       uint16
	Addr       string
}

func (r *SubscribeResponse) GetType() RequestType {
	return Subscribe
}

func (r *SubscribeResponse) encode(e *Encoder) error {
	e.Header(NewHeader(Subscribe, r.UserID))
	e.Uint16(r.FeedNumber)
	e.Uint16(r.Port)
	e.Fixed([]byte(r.Addr), MulticastAddrLen, 0)
	return nil
}

// GroupAddr resolves the multicast group as a UDP address.
func (r *SubscribeResponse) GroupAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(r.Addr), Port: int(r.Port)}
}

// PostEntry is one post of a LASTPOSTS answer. Entries carry no header.
type PostEntry struct {
	FeedNumber uint16
	Creator    Pseudo
	Author     Pseudo
	Data       []byte
}

func (r *PostEntry) encode(e *Encoder) error {
	e.Uint16(r.FeedNumber)
	e.Raw(r.Creator[:])
	e.Raw(r.Author[:])
	return e.Data(r.Data)
}

// LastPostsResponse is the summary and the entries of a LASTPOSTS answer.
// It is written as 1 + len(Posts) frames.
type LastPostsResponse struct {
	UserID     uint16
	FeedNumber uint16
	Posts      []PostEntry
}

func (r *LastPostsResponse) GetType() RequestType {
	return LastPosts
}

func (r *LastPostsResponse) Summary() *AckResponse {
	return &AckResponse{
		Type:       LastPosts,
		UserID:     r.UserID,
		FeedNumber: r.FeedNumber,
		Count:      uint16(len(r.Posts)),
	}
}

func (r *LastPostsResponse) encode(e *Encoder) error {
	return r.Summary().encode(e)
}

// EncodeResponse serialises the first frame of a response without its
// terminator.
func EncodeResponse(resp Response) ([]byte, error) {
	e := NewEncoder(6 + MulticastAddrLen)
	if err := resp.encode(e); err != nil {
		return nil, err
	}

	return e.Bytes(), nil
}

func EncodePostEntry(p *PostEntry) ([]byte, error) {
	e := NewEncoder(23 + len(p.Data))
	if err := p.encode(e); err != nil {
		return nil, err
	}

	return e.Bytes(), nil
}

// DecodeResponse parses the first frame of a response. LASTPOSTS answers
// are returned as an AckResponse summary, the caller reads Count entries
// with DecodePostEntry.
func DecodeResponse(d *Decoder) (Response, error) {
	h := d.Header()
	if err := d.Err(); err != nil {
		return nil, err
	}

	if code, ok := h.ErrorCode(); ok {
		d.Uint16()
		d.Uint16()
		if err := d.Err(); err != nil {
			return nil, err
		}

		return &ErrorResponse{Code: code}, nil
	}

	switch h.Type() {
	case Subscribe:
		var r SubscribeResponse
		r.UserID = h.ID()
		r.FeedNumber = d.Uint16()
		r.Port = d.Uint16()
		r.Addr = trimNUL(d.Fixed(MulticastAddrLen))
		if err := d.Err(); err != nil {
			return nil, err
		}

		return &r, nil

	case Registration, NewPost, LastPosts, Upload, Download:
		r := AckResponse{Type: h.Type(), UserID: h.ID()}
		r.FeedNumber = d.Uint16()
		r.Count = d.Uint16()
		if err := d.Err(); err != nil {
			return nil, err
		}

		return &r, nil

	default:
		return nil, ErrUnknownType
	}
}

func DecodePostEntry(d *Decoder) (*PostEntry, error) {
	var p PostEntry

	p.FeedNumber = d.Uint16()
	copy(p.Creator[:], d.Fixed(PseudoLen))
	copy(p.Author[:], d.Fixed(PseudoLen))
	p.Data = d.Data()
	if err := d.Err(); err != nil {
		return nil, err
	}

	return &p, nil
}

func trimNUL(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	return string(b)
}

var _ Response = (*AckResponse)(nil)
var _ Response = (*ErrorResponse)(nil)
var _ Response = (*SubscribeResponse)(nil)
var _ Response = (*LastPostsResponse)(nil)
