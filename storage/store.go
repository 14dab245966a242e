package storage

import (
	"github.com/taraaggoun/megaphone/protocol"
	"github.com/taraaggoun/megaphone/transfer"
)

// Store is the shared server state. Business rule violations are returned
// as protocol.ErrorCode errors.
type Store interface {
	RegisterUser(pseudo protocol.Pseudo) (uint16, error)
	Pseudo(id uint16) (protocol.Pseudo, error)

	CreateFeed(creator protocol.Pseudo) (uint16, error)
	CreatePost(id, feed uint16, data []byte) (uint16, error)
	LastPosts(id, feed, count uint16) (uint16, []protocol.PostEntry, error)

	Subscribe(id, feed uint16) (Subscription, error)
	PendingNotifications() []Pending
	AdvanceCursor(feed uint16, offset int)

	StartUpload(id, feed uint16, name string) error
	OpenDownload(id, feed uint16, name string) ([]byte, error)
	StartTransfer(tr transfer.Transfer) error
	AppendChunk(id, block uint16, data []byte) (ChunkStatus, error)
	FinishTransfer(id uint16) error
	CheckTimeouts() (int, error)

	Stats() Stats

	Restore(snapshot []byte) error
	Backup() ([]byte, error)

	Close() error
}

// Post is one message of a feed.
type Post struct {
	Author protocol.Pseudo
	Data   []byte
}

// Subscription is the multicast group notifications of a feed are sent to.
type Subscription struct {
	FeedNumber uint16
	Addr       string
	Port       uint16

	// Sent is the number of posts of the feed already notified.
	Sent int
}

// Pending holds the posts of a subscribed feed that were not notified yet.
type Pending struct {
	Subscription

	Posts []Post

	// Offset is the post count of the feed when the batch was taken.
	Offset int
}

type ChunkStatus uint8

const (
	ChunkIncomplete ChunkStatus = iota
	ChunkComplete
)

type Stats struct {
	Users         int `json:"users"`
	Feeds         int `json:"feeds"`
	Posts         int `json:"posts"`
	Subscriptions int `json:"subscriptions"`
	Transfers     int `json:"transfers"`
}
