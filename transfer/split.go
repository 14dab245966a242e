package transfer

import (
	"github.com/taraaggoun/megaphone/protocol"
)

// Split cuts data into packets of protocol.PacketSize bytes. The last
// packet is always shorter than PacketSize, so a size that is a multiple of
// PacketSize (zero included) ends with an empty packet.
func Split(data []byte) [][]byte {
	packets := make([][]byte, 0, len(data)/protocol.PacketSize+1)

	for len(data) >= protocol.PacketSize {
		packets = append(packets, data[:protocol.PacketSize])
		data = data[protocol.PacketSize:]
	}

	return append(packets, data)
}

// Chunks wraps every packet of data in a chunk numbered from 1.
func Chunks(kind protocol.RequestType, id uint16, data []byte) ([]*protocol.Chunk, error) {
	packets := Split(data)
	if len(packets) > maxBlocks {
		return nil, ErrTooLarge
	}

	chunks := make([]*protocol.Chunk, len(packets))
	for i, p := range packets {
		chunks[i] = &protocol.Chunk{
			Type:   kind,
			UserID: id,
			Block:  uint16(i + 1),
			Data:   p,
		}
	}

	return chunks, nil
}
