package protocol

import (
	"bytes"
	"io"
)

func appendTerminal(b []byte) []byte {
	return append(b, Terminal...)
}

// WriteRequest writes req and its terminator in a single Write.
func WriteRequest(w io.Writer, req Request) error {
	b, err := EncodeRequest(req)
	if err != nil {
		return err
	}

	_, err = w.Write(appendTerminal(b))
	return err
}

// WriteResponse writes every frame of resp in a single Write so frames of
// concurrent writers never interleave.
func WriteResponse(w io.Writer, resp Response) error {
	b, err := MarshalResponse(resp)
	if err != nil {
		return err
	}

	_, err = w.Write(b)
	return err
}

// MarshalResponse returns every terminated frame of resp.
func MarshalResponse(resp Response) ([]byte, error) {
	first, err := EncodeResponse(resp)
	if err != nil {
		return nil, err
	}

	lp, ok := resp.(*LastPostsResponse)
	if !ok {
		return appendTerminal(first), nil
	}

	frames := make([][]byte, 0, len(lp.Posts)+1)
	frames = append(frames, first)

	for i := range lp.Posts {
		entry, err := EncodePostEntry(&lp.Posts[i])
		if err != nil {
			return nil, err
		}

		frames = append(frames, entry)
	}

	return appendTerminal(bytes.Join(frames, Terminal)), nil
}

func WriteError(w io.Writer, code ErrorCode) error {
	return WriteResponse(w, &ErrorResponse{Code: code})
}
