package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated        = errors.New("Message is truncated, fewer bytes were received than its layout declares")
	ErrIncomplete       = errors.New("No complete message has been received yet")
	ErrMissingDelimiter = errors.New("Message is malformed, the CRLF terminator is missing")
	ErrFrameTooLarge    = errors.New("Message exceeds the maximum frame size")
	ErrUnknownType      = errors.New("Unknown request type could not be parsed")
	ErrUnexpectedType   = errors.New("Message type does not match the expected type")
	ErrDataTooLong      = errors.New("Data exceeds 255 bytes")
	ErrChunkTooLong     = errors.New("Chunk data exceeds the packet size")
	ErrBadPseudo        = errors.New("Pseudo must be 1 to 10 characters without '#'")
)

// ErrorCode is carried in the type slot of a response header when a request
// could not be served.
type ErrorCode uint8

const (
	NoError        ErrorCode = 0x00
	ErrNoID        ErrorCode = 0x19
	ErrFeedNumber  ErrorCode = 0x1A
	ErrNoFile      ErrorCode = 0x1B
	ErrPseudo      ErrorCode = 0x1C
	ErrNotComplete ErrorCode = 0x1D
	ErrFeedMax     ErrorCode = 0x1E
	ErrIDMax       ErrorCode = 0x1F
)

var errorCodes = map[ErrorCode]struct {
	name    string
	message string
}{
	ErrNoID:        {"ERR_NOID", "Id not found"},
	ErrFeedNumber:  {"ERR_FEEDNB", "Feed number does not exist"},
	ErrNoFile:      {"ERR_NOFILE", "File not found"},
	ErrPseudo:      {"ERR_PSEUDO", "Bad pseudo format"},
	ErrNotComplete: {"ERR_NOTCOMPLET", "Incomplete request"},
	ErrFeedMax:     {"ERR_FEEDMAX", "A new feed can't be created"},
	ErrIDMax:       {"ERR_IDMAX", "A new account can't be created"},
}

// Valid returns true when c is one of the documented error codes.
func (c ErrorCode) Valid() bool {
	_, ok := errorCodes[c]
	return ok
}

func (c ErrorCode) Name() string {
	if e, ok := errorCodes[c]; ok {
		return e.name
	}

	return "NOERROR"
}

func (c ErrorCode) Error() string {
	if e, ok := errorCodes[c]; ok {
		return e.message
	}

	return fmt.Sprintf("unknown error code 0x%02X", uint8(c))
}
