package protocol

import "bytes"

// PseudoPad fills the unused tail of a pseudo on the wire.
const PseudoPad = '#'

// Pseudo is a user name padded to exactly PseudoLen bytes.
type Pseudo [PseudoLen]byte

// NewPseudo validates s and pads it with '#'.
func NewPseudo(s string) (Pseudo, error) {
	var p Pseudo

	if len(s) == 0 || len(s) > PseudoLen {
		return p, ErrBadPseudo
	}

	for i := 0; i < len(s); i++ {
		if s[i] == PseudoPad || s[i] < ' ' || s[i] > '~' {
			return p, ErrBadPseudo
		}
	}

	copy(p[:], s)
	for i := len(s); i < PseudoLen; i++ {
		p[i] = PseudoPad
	}

	return p, nil
}

// String strips the padding.
func (p Pseudo) String() string {
	b := p[:]
	if i := bytes.IndexAny(b, "#\x00"); i >= 0 {
		b = b[:i]
	}

	return string(b)
}

// Valid returns true if the pseudo has at least one character before its
// padding.
func (p Pseudo) Valid() bool {
	return p[0] != PseudoPad && p[0] != 0
}
