package protocol

import "fmt"

// RequestType identifies a request. It occupies the low 5 bits of a Header.
type RequestType uint8

const (
	Registration RequestType = 0x01
	NewPost      RequestType = 0x02
	LastPosts    RequestType = 0x03
	Subscribe    RequestType = 0x04
	Upload       RequestType = 0x05
	Download     RequestType = 0x06
)

const (
	typeBits = 5
	typeMask = 1<<typeBits - 1

	// MaxID is the largest user id a header can carry.
	MaxID = 1<<(16-typeBits) - 1

	PseudoLen           = 10
	MaxDataLen          = 255
	PacketSize          = 512
	NotificationDataLen = 20
	MulticastAddrLen    = 16
)

var typeNames = map[RequestType]string{
	Registration: "REGISTRATION",
	NewPost:      "NEWPOST",
	LastPosts:    "LASTPOSTS",
	Subscribe:    "SUBSCRIBE",
	Upload:       "UPLOAD",
	Download:     "DOWNLOAD",
}

func (t RequestType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}

	if code := ErrorCode(t); code.Valid() {
		return code.Name()
	}

	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Valid returns true for the six request types.
func (t RequestType) Valid() bool {
	return t >= Registration && t <= Download
}

// Header packs a request type and a user id into 16 bits.
type Header uint16

func NewHeader(t RequestType, id uint16) Header {
	return Header(uint16(t)&typeMask | id<<typeBits)
}

// ErrorHeader builds the header of an error response.
func ErrorHeader(code ErrorCode) Header {
	return NewHeader(RequestType(code), 0)
}

func (h Header) Type() RequestType {
	return RequestType(h & typeMask)
}

func (h Header) ID() uint16 {
	return uint16(h) >> typeBits
}

// ErrorCode returns the error carried in the type slot, if any.
func (h Header) ErrorCode() (ErrorCode, bool) {
	code := ErrorCode(h.Type())
	return code, code.Valid()
}

func (h Header) String() string {
	return fmt.Sprintf("%s/%d", h.Type(), h.ID())
}
