// Package accounts keeps the accounts registered by a client in a fixed
// size file shared by every client process of the machine.
package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/taraaggoun/megaphone/protocol"
)

const (
	recordSize = 2 + protocol.PseudoLen

	// MaxAccounts matches the number of ids a server hands out.
	MaxAccounts = protocol.MaxID

	fileSize = recordSize * MaxAccounts
)

var (
	ErrFull    = errors.New("Account file is full")
	ErrExists  = errors.New("Account already exists")
	ErrBadID   = errors.New("Account id out of range")
	ErrClosed  = errors.New("Account file is closed")
	ErrBadSize = errors.New("Account file has an unexpected size")
)

type Account struct {
	ID     uint16
	Pseudo protocol.Pseudo
}

// File is the memory mapped account file. Records are {id u16, pseudo}
// with id 0 marking a free record. Every access holds an advisory lock on
// the file.
type File struct {
	mu   sync.Mutex
	fd   int
	data []byte
}

// Open maps the account file at path, creating it and its directory when
// missing.
func Open(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("Failed to open %s: %w", path, err)
	}

	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		unix.Close(fd)
		return nil, err
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Flock(fd, unix.LOCK_UN)
		unix.Close(fd)
		return nil, err
	}

	switch {
	case stat.Size == 0:
		err = unix.Ftruncate(fd, fileSize)
	case stat.Size != fileSize:
		err = fmt.Errorf("%s is %d bytes: %w", path, stat.Size, ErrBadSize)
	}

	unix.Flock(fd, unix.LOCK_UN)

	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	data, err := unix.Mmap(fd, 0, fileSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &File{fd: fd, data: data}, nil
}

func (a *File) record(i int) []byte {
	return a.data[i*recordSize : (i+1)*recordSize]
}

// withLock runs fn while holding the advisory lock, how selects a shared
// or an exclusive lock.
func (a *File) withLock(how int, fn func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.data == nil {
		return ErrClosed
	}

	if err := unix.Flock(a.fd, how); err != nil {
		return err
	}

	return multierr.Append(fn(), unix.Flock(a.fd, unix.LOCK_UN))
}

func (a *File) IDExists(id uint16) (bool, error) {
	if id == 0 || id > protocol.MaxID {
		return false, nil
	}

	var found bool

	err := a.withLock(unix.LOCK_SH, func() error {
		found = binary.BigEndian.Uint16(a.record(int(id)-1)) == id
		return nil
	})

	return found, err
}

// AddAccount stores the account in the record of its id.
func (a *File) AddAccount(id uint16, pseudo protocol.Pseudo) error {
	if id == 0 || id > protocol.MaxID {
		return fmt.Errorf("%d: %w", id, ErrBadID)
	}

	return a.withLock(unix.LOCK_EX, func() error {
		rec := a.record(int(id) - 1)
		if binary.BigEndian.Uint16(rec) != 0 {
			return fmt.Errorf("%d: %w", id, ErrExists)
		}

		binary.BigEndian.PutUint16(rec, id)
		copy(rec[2:], pseudo[:])

		return unix.Msync(a.data, unix.MS_SYNC)
	})
}

// Accounts lists the stored accounts ordered by id.
func (a *File) Accounts() ([]Account, error) {
	accounts := make([]Account, 0)

	err := a.withLock(unix.LOCK_SH, func() error {
		for i := 0; i < MaxAccounts; i++ {
			rec := a.record(i)

			id := binary.BigEndian.Uint16(rec)
			if id == 0 {
				continue
			}

			var acc Account
			acc.ID = id
			copy(acc.Pseudo[:], rec[2:])
			accounts = append(accounts, acc)
		}

		return nil
	})

	return accounts, err
}

// Lookup returns the id of the first account named pseudo.
func (a *File) Lookup(pseudo string) (uint16, bool, error) {
	accounts, err := a.Accounts()
	if err != nil {
		return 0, false, err
	}

	for _, acc := range accounts {
		if acc.Pseudo.String() == pseudo {
			return acc.ID, true, nil
		}
	}

	return 0, false, nil
}

func (a *File) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.data == nil {
		return nil
	}

	err := unix.Munmap(a.data)
	a.data = nil

	return multierr.Append(err, unix.Close(a.fd))
}
