package transfer

import (
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/taraaggoun/megaphone/protocol"
)

const DefaultTimeout = 5 * time.Second

// Transfer is one active file transfer.
type Transfer struct {
	Kind       protocol.RequestType
	UserID     uint16
	FeedNumber uint16
	FileName   string

	// Peer is the address chunks are sent to, nil for uploads.
	Peer net.Addr

	// Conn is closed when the transfer is cleared. Uploads share the
	// server socket and leave it nil.
	Conn io.Closer

	StartedAt  time.Time
	LastActive time.Time

	asm *Assembler
}

// Completed is an upload whose chunks were all received. It is detached
// from the Table.
type Completed struct {
	UserID     uint16
	FeedNumber uint16
	FileName   string
	Data       []byte
}

// Table holds at most one transfer per user id, a new transfer replaces
// the previous one.
type Table struct {
	mu    sync.Mutex
	slots map[uint16]*Transfer

	timeout time.Duration
	now     func() time.Time
}

func NewTable(timeout time.Duration, now func() time.Time) *Table {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if now == nil {
		now = time.Now
	}

	return &Table{
		slots:   make(map[uint16]*Transfer),
		timeout: timeout,
		now:     now,
	}
}

// Start registers tr for its user id and closes the transfer it replaces.
func (t *Table) Start(tr Transfer) error {
	now := t.now()
	tr.StartedAt = now
	tr.LastActive = now
	tr.asm = NewAssembler()

	t.mu.Lock()
	prev := t.slots[tr.UserID]
	t.slots[tr.UserID] = &tr
	t.mu.Unlock()

	return closeTransfer(prev)
}

// Append adds a chunk to the upload of id. It returns a non nil Completed
// once the last missing chunk arrived, the slot is then cleared.
func (t *Table) Append(id, block uint16, data []byte) (*Completed, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.slots[id]
	if !ok || tr.Kind != protocol.Upload {
		return nil, ErrNoTransfer
	}

	tr.LastActive = t.now()

	complete, err := tr.asm.Add(block, data)
	if err != nil || !complete {
		return nil, err
	}

	file, err := tr.asm.Bytes()
	if err != nil {
		return nil, err
	}

	delete(t.slots, id)

	return &Completed{
		UserID:     tr.UserID,
		FeedNumber: tr.FeedNumber,
		FileName:   tr.FileName,
		Data:       file,
	}, nil
}

// Touch marks the transfer of id as active.
func (t *Table) Touch(id uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tr, ok := t.slots[id]; ok {
		tr.LastActive = t.now()
	}
}

// Get returns a copy of the transfer of id.
func (t *Table) Get(id uint16) (Transfer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.slots[id]
	if !ok {
		return Transfer{}, false
	}

	return *tr, true
}

// Finish clears the transfer of id and closes its socket.
func (t *Table) Finish(id uint16) error {
	t.mu.Lock()
	tr := t.slots[id]
	delete(t.slots, id)
	t.mu.Unlock()

	return closeTransfer(tr)
}

// Sweep clears every transfer inactive for longer than the timeout and
// returns them.
func (t *Table) Sweep() ([]Transfer, error) {
	var expired []*Transfer

	t.mu.Lock()
	now := t.now()
	for id, tr := range t.slots {
		if now.Sub(tr.LastActive) > t.timeout {
			expired = append(expired, tr)
			delete(t.slots, id)
		}
	}
	t.mu.Unlock()

	var (
		cleared = make([]Transfer, 0, len(expired))
		err     error
	)

	for _, tr := range expired {
		err = multierr.Append(err, closeTransfer(tr))
		cleared = append(cleared, *tr)
	}

	return cleared, err
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.slots)
}

// Close clears every transfer.
func (t *Table) Close() error {
	t.mu.Lock()
	slots := t.slots
	t.slots = make(map[uint16]*Transfer)
	t.mu.Unlock()

	var err error
	for _, tr := range slots {
		err = multierr.Append(err, closeTransfer(tr))
	}

	return err
}

func closeTransfer(tr *Transfer) error {
	if tr == nil || tr.Conn == nil {
		return nil
	}

	return tr.Conn.Close()
}
