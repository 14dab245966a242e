package protocol

// ChunkHeaderSize is the size of a chunk datagram without its data.
const ChunkHeaderSize = 4

// Chunk is one block of a file transfer. Blocks are numbered from 1.
type Chunk struct {
	Type   RequestType
	UserID uint16
	Block  uint16
	Data   []byte
}

// Last returns true if the chunk terminates its transfer.
func (c *Chunk) Last() bool {
	return len(c.Data) < PacketSize
}

func EncodeChunk(c *Chunk) ([]byte, error) {
	if len(c.Data) > PacketSize {
		return nil, ErrChunkTooLong
	}

	e := NewEncoder(ChunkHeaderSize + len(c.Data))
	e.Header(NewHeader(c.Type, c.UserID))
	e.Uint16(c.Block)
	e.Raw(c.Data)
	return e.Bytes(), nil
}

// DecodeChunk parses a whole datagram. The data length is implicit, every
// byte after the block number belongs to the chunk.
func DecodeChunk(datagram []byte) (*Chunk, error) {
	d := NewDecoder(datagram)
	h := d.Header()
	block := d.Uint16()
	if err := d.Err(); err != nil {
		return nil, err
	}

	if d.Remaining() > PacketSize {
		return nil, ErrChunkTooLong
	}

	return &Chunk{
		Type:   h.Type(),
		UserID: h.ID(),
		Block:  block,
		Data:   d.Rest(),
	}, nil
}

// Notification is a post pushed to the multicast group of a feed. Only
// the first NotificationDataLen bytes of the post are carried.
type Notification struct {
	FeedNumber uint16
	Author     Pseudo
	Data       [NotificationDataLen]byte
}

func NewNotification(feed uint16, author Pseudo, data []byte) *Notification {
	n := Notification{FeedNumber: feed, Author: author}
	copy(n.Data[:], data)
	return &n
}

// Text returns the data without its NUL padding.
func (n *Notification) Text() string {
	return trimNUL(n.Data[:])
}

func EncodeNotification(n *Notification) []byte {
	e := NewEncoder(4 + PseudoLen + NotificationDataLen)
	e.Header(NewHeader(Subscribe, 0))
	e.Uint16(n.FeedNumber)
	e.Raw(n.Author[:])
	e.Raw(n.Data[:])
	return e.Bytes()
}

func DecodeNotification(datagram []byte) (*Notification, error) {
	var n Notification

	d := NewDecoder(datagram)
	h := d.Header()
	n.FeedNumber = d.Uint16()
	copy(n.Author[:], d.Fixed(PseudoLen))
	copy(n.Data[:], d.Fixed(NotificationDataLen))
	if err := d.Err(); err != nil {
		return nil, err
	}

	if h.Type() != Subscribe {
		return nil, ErrUnexpectedType
	}

	return &n, nil
}
