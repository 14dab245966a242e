package transfer

import (
	"errors"
	"fmt"

	"github.com/taraaggoun/megaphone/protocol"
)

// maxBlocks is the number of blocks a 16 bit block number can address.
const maxBlocks = 1<<16 - 1

var (
	ErrTooLarge    = errors.New("File is too large to be transferred")
	ErrBadBlock    = errors.New("Chunk block number is out of range")
	ErrNoTransfer  = errors.New("No transfer is active for this id")
	ErrBadFileName = errors.New("File name is not valid")
	ErrTimeout     = errors.New("Transfer timed out")
	ErrNotComplete = errors.New("Transfer ended before every chunk was received")
)

// Assembler stores the chunks of one file at block-1, in any order.
type Assembler struct {
	blocks map[uint16][]byte

	// last is the block number of the short chunk, 0 until it arrived.
	last uint16
	size int
}

func NewAssembler() *Assembler {
	return &Assembler{blocks: make(map[uint16][]byte)}
}

// Add records data as block and returns true once the file is complete.
// A duplicate block replaces the previous copy.
func (a *Assembler) Add(block uint16, data []byte) (bool, error) {
	if block == 0 || (a.last != 0 && block > a.last) {
		return false, fmt.Errorf("block %d: %w", block, ErrBadBlock)
	}

	if len(data) > protocol.PacketSize {
		return false, protocol.ErrChunkTooLong
	}

	if len(data) < protocol.PacketSize {
		if a.last != 0 && block != a.last {
			return false, fmt.Errorf("second final block %d after %d: %w", block, a.last, ErrBadBlock)
		}

		for b := range a.blocks {
			if b > block {
				return false, fmt.Errorf("final block %d before block %d: %w", block, b, ErrBadBlock)
			}
		}

		a.last = block
	}

	if prev, ok := a.blocks[block]; ok {
		a.size -= len(prev)
	}

	a.blocks[block] = append([]byte(nil), data...)
	a.size += len(data)

	return a.Complete(), nil
}

// Complete returns true when the final block is known and every block up
// to it was received.
func (a *Assembler) Complete() bool {
	return a.last != 0 && len(a.blocks) == int(a.last)
}

// Received returns the number of distinct blocks received.
func (a *Assembler) Received() int {
	return len(a.blocks)
}

func (a *Assembler) Size() int {
	return a.size
}

// Bytes concatenates the blocks in order. It fails until the file is
// complete.
func (a *Assembler) Bytes() ([]byte, error) {
	if !a.Complete() {
		return nil, ErrNotComplete
	}

	data := make([]byte, 0, a.size)
	for b := uint16(1); b <= a.last; b++ {
		data = append(data, a.blocks[b]...)
	}

	return data, nil
}
