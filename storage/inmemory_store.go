package storage

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taraaggoun/megaphone/protocol"
	"github.com/taraaggoun/megaphone/transfer"
)

const (
	DefaultMaxUsers       = protocol.MaxID
	DefaultMaxFeeds       = 1<<16 - 1
	DefaultMulticastGroup = "ff12::1:2:3"
	DefaultBasePort       = 6226

	// maxEntries is the largest post count a LASTPOSTS summary can carry.
	maxEntries = 1<<16 - 1

	maxPort = 1<<16 - 1
)

var ErrClosed = errors.New("Store is closed")

type Options struct {
	// UploadDir is the root of the per feed upload directories
	UploadDir string

	MulticastGroup string

	// BasePort is the server TCP port, subscription ports are allocated
	// after it
	BasePort int

	MaxUsers int
	MaxFeeds int

	TransferTimeout time.Duration

	// Now and Rand are only overridden by tests
	Now  func() time.Time
	Rand *rand.Rand

	Log *zap.Logger
}

type feed struct {
	creator protocol.Pseudo
	posts   []Post
	sub     *Subscription
}

// InmemoryStore keeps users, feeds and transfers behind independent locks.
// No method holds two of them at once.
type InmemoryStore struct {
	uploadDir string
	group     string
	basePort  int
	maxUsers  int
	maxFeeds  int

	usersMu sync.Mutex
	users   map[uint16]protocol.Pseudo
	rand    *rand.Rand

	feedsMu       sync.Mutex
	feeds         []*feed
	subscriptions int

	transfers *transfer.Table

	// stop is closed when Close() is called
	stop     chan struct{}
	stopOnce sync.Once

	log *zap.Logger
}

func NewInmemoryStore(options Options) *InmemoryStore {
	if options.MulticastGroup == "" {
		options.MulticastGroup = DefaultMulticastGroup
	}

	if options.BasePort == 0 {
		options.BasePort = DefaultBasePort
	}

	if options.MaxUsers <= 0 || options.MaxUsers > protocol.MaxID {
		options.MaxUsers = DefaultMaxUsers
	}

	if options.MaxFeeds <= 0 || options.MaxFeeds > DefaultMaxFeeds {
		options.MaxFeeds = DefaultMaxFeeds
	}

	if options.Rand == nil {
		options.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	if options.Log == nil {
		options.Log = zap.NewNop()
	}

	return &InmemoryStore{
		uploadDir: options.UploadDir,
		group:     options.MulticastGroup,
		basePort:  options.BasePort,
		maxUsers:  options.MaxUsers,
		maxFeeds:  options.MaxFeeds,
		users:     make(map[uint16]protocol.Pseudo),
		rand:      options.Rand,
		feeds:     make([]*feed, 0),
		transfers: transfer.NewTable(options.TransferTimeout, options.Now),
		stop:      make(chan struct{}),
		log:       options.Log,
	}
}

func (i *InmemoryStore) Close() error {
	i.stopOnce.Do(func() { close(i.stop) })

	return i.transfers.Close()
}

// RegisterUser picks a random unused id in 1..MaxID.
func (i *InmemoryStore) RegisterUser(pseudo protocol.Pseudo) (uint16, error) {
	// Accept any padding but keep the canonical form
	pseudo, err := protocol.NewPseudo(pseudo.String())
	if err != nil {
		return 0, protocol.ErrPseudo
	}

	i.usersMu.Lock()
	defer i.usersMu.Unlock()

	if len(i.users) >= i.maxUsers {
		return 0, protocol.ErrIDMax
	}

	for {
		id := uint16(i.rand.Intn(protocol.MaxID) + 1)
		if _, taken := i.users[id]; !taken {
			i.users[id] = pseudo
			return id, nil
		}
	}
}

func (i *InmemoryStore) Pseudo(id uint16) (protocol.Pseudo, error) {
	i.usersMu.Lock()
	defer i.usersMu.Unlock()

	pseudo, ok := i.users[id]
	if !ok {
		return pseudo, protocol.ErrNoID
	}

	return pseudo, nil
}

// CreateFeed appends an empty feed and returns its number.
func (i *InmemoryStore) CreateFeed(creator protocol.Pseudo) (uint16, error) {
	i.feedsMu.Lock()
	n, err := i.newFeed(creator)
	i.feedsMu.Unlock()

	if err != nil {
		return 0, err
	}

	i.provision(n)
	return n, nil
}

// CreatePost appends data to feed, 0 creates a new feed owned by the
// author. It returns the feed number the post was added to.
func (i *InmemoryStore) CreatePost(id, feedNumber uint16, data []byte) (uint16, error) {
	if len(data) > protocol.MaxDataLen {
		return 0, protocol.ErrDataTooLong
	}

	author, err := i.Pseudo(id)
	if err != nil {
		return 0, err
	}

	post := Post{Author: author, Data: append([]byte(nil), data...)}

	i.feedsMu.Lock()

	created := feedNumber == 0
	if created {
		if feedNumber, err = i.newFeed(author); err != nil {
			i.feedsMu.Unlock()
			return 0, err
		}
	}

	f, err := i.feed(feedNumber)
	if err == nil {
		f.posts = append(f.posts, post)
	}

	i.feedsMu.Unlock()

	if err != nil {
		return 0, err
	}

	if created {
		i.provision(feedNumber)
	}

	return feedNumber, nil
}

// LastPosts returns the newest count posts of feed, or of every feed when
// feed is 0. A count of 0 selects every post. The returned number is the
// feed, or the number of feeds when feed is 0.
func (i *InmemoryStore) LastPosts(id, feedNumber, count uint16) (uint16, []protocol.PostEntry, error) {
	if _, err := i.Pseudo(id); err != nil {
		return 0, nil, err
	}

	i.feedsMu.Lock()
	defer i.feedsMu.Unlock()

	if int(feedNumber) > len(i.feeds) {
		return 0, nil, protocol.ErrFeedNumber
	}

	first, last := int(feedNumber), int(feedNumber)
	if feedNumber == 0 {
		first, last = 1, len(i.feeds)
	}

	entries := make([]protocol.PostEntry, 0)

	for n := first; n <= last; n++ {
		f := i.feeds[n-1]

		posts := f.posts
		if count != 0 && int(count) < len(posts) {
			posts = posts[len(posts)-int(count):]
		}

		for _, p := range posts {
			if len(entries) == maxEntries {
				break
			}

			entries = append(entries, protocol.PostEntry{
				FeedNumber: uint16(n),
				Creator:    f.creator,
				Author:     p.Author,
				Data:       append([]byte(nil), p.Data...),
			})
		}
	}

	if feedNumber == 0 {
		return uint16(len(i.feeds)), entries, nil
	}

	return feedNumber, entries, nil
}

// Subscribe returns the multicast group of feed, allocating it on the
// first subscription.
func (i *InmemoryStore) Subscribe(id, feedNumber uint16) (Subscription, error) {
	if _, err := i.Pseudo(id); err != nil {
		return Subscription{}, err
	}

	i.feedsMu.Lock()
	defer i.feedsMu.Unlock()

	f, err := i.feed(feedNumber)
	if err != nil {
		return Subscription{}, err
	}

	if f.sub == nil {
		port := i.basePort + i.subscriptions + 2
		if port > maxPort {
			return Subscription{}, protocol.ErrFeedMax
		}

		f.sub = &Subscription{
			FeedNumber: feedNumber,
			Addr:       i.group,
			Port:       uint16(port),
		}

		i.subscriptions++

		i.log.Info("Feed subscription created",
			zap.Uint16("feed", feedNumber),
			zap.String("addr", f.sub.Addr),
			zap.Uint16("port", f.sub.Port))
	}

	return *f.sub, nil
}

// PendingNotifications returns the posts not yet notified of every
// subscribed feed. Feeds without new posts are skipped.
func (i *InmemoryStore) PendingNotifications() []Pending {
	i.feedsMu.Lock()
	defer i.feedsMu.Unlock()

	pending := make([]Pending, 0, i.subscriptions)

	for _, f := range i.feeds {
		if f.sub == nil || f.sub.Sent >= len(f.posts) {
			continue
		}

		posts := make([]Post, len(f.posts)-f.sub.Sent)
		copy(posts, f.posts[f.sub.Sent:])

		pending = append(pending, Pending{
			Subscription: *f.sub,
			Posts:        posts,
			Offset:       len(f.posts),
		})
	}

	return pending
}

// AdvanceCursor marks the first offset posts of feed as notified. The
// cursor never moves back.
func (i *InmemoryStore) AdvanceCursor(feedNumber uint16, offset int) {
	i.feedsMu.Lock()
	defer i.feedsMu.Unlock()

	f, err := i.feed(feedNumber)
	if err != nil || f.sub == nil {
		return
	}

	if offset > len(f.posts) {
		offset = len(f.posts)
	}

	if offset > f.sub.Sent {
		f.sub.Sent = offset
	}
}

// StartUpload opens the upload slot of id. feed 0 creates a feed once the
// upload completes.
func (i *InmemoryStore) StartUpload(id, feedNumber uint16, name string) error {
	if _, err := i.Pseudo(id); err != nil {
		return err
	}

	if err := i.checkFeed(feedNumber, true); err != nil {
		return err
	}

	if _, err := transfer.Path(i.uploadDir, feedNumber, name); err != nil {
		return protocol.ErrNoFile
	}

	return i.StartTransfer(transfer.Transfer{
		Kind:       protocol.Upload,
		UserID:     id,
		FeedNumber: feedNumber,
		FileName:   name,
	})
}

// OpenDownload checks a download request and returns the file content.
func (i *InmemoryStore) OpenDownload(id, feedNumber uint16, name string) ([]byte, error) {
	if _, err := i.Pseudo(id); err != nil {
		return nil, err
	}

	if err := i.checkFeed(feedNumber, false); err != nil {
		return nil, err
	}

	data, err := transfer.ReadFile(i.uploadDir, feedNumber, name)
	if err != nil {
		return nil, protocol.ErrNoFile
	}

	return data, nil
}

func (i *InmemoryStore) StartTransfer(tr transfer.Transfer) error {
	if !i.isRunning() {
		return ErrClosed
	}

	return i.transfers.Start(tr)
}

// AppendChunk adds a chunk to the upload of id. A complete upload is
// written to the feed directory and announced by a post
// "<file name> <size>" from the uploader.
func (i *InmemoryStore) AppendChunk(id, block uint16, data []byte) (ChunkStatus, error) {
	done, err := i.transfers.Append(id, block, data)
	if err != nil || done == nil {
		return ChunkIncomplete, err
	}

	author, err := i.Pseudo(done.UserID)
	if err != nil {
		return ChunkIncomplete, err
	}

	announce := []byte(done.FileName + " " + strconv.Itoa(len(done.Data)))
	if len(announce) > protocol.MaxDataLen {
		announce = announce[:protocol.MaxDataLen]
	}

	feedNumber := done.FeedNumber

	var path string
	if feedNumber == 0 {
		feedNumber, path, err = i.uploadToNewFeed(done, author, announce)
		if err != nil {
			return ChunkIncomplete, fmt.Errorf("Failed to store upload: %w", err)
		}
	} else {
		path, err = transfer.WriteFile(i.uploadDir, feedNumber, done.FileName, done.Data)
		if err != nil {
			return ChunkIncomplete, fmt.Errorf("Failed to store upload: %w", err)
		}

		if _, err := i.CreatePost(done.UserID, feedNumber, announce); err != nil {
			return ChunkIncomplete, err
		}
	}

	i.log.Info("Upload complete",
		zap.Uint16("id", done.UserID),
		zap.Uint16("feed", feedNumber),
		zap.String("path", path),
		zap.Int("size", len(done.Data)))

	return ChunkComplete, nil
}

// uploadToNewFeed stages the file first, then creates the feed, moves the
// file into it and adds the announce post under a single feedsMu section.
// A failed upload leaves no feed behind.
func (i *InmemoryStore) uploadToNewFeed(done *transfer.Completed, author protocol.Pseudo, announce []byte) (uint16, string, error) {
	staged, err := transfer.Stage(i.uploadDir, done.UserID, done.FileName, done.Data)
	if err != nil {
		return 0, "", err
	}

	i.feedsMu.Lock()
	defer i.feedsMu.Unlock()

	n, err := i.newFeed(author)
	if err != nil {
		os.Remove(staged)
		return 0, "", err
	}

	path, err := transfer.Place(staged, i.uploadDir, n, done.FileName)
	if err != nil {
		// newFeed appended it and the lock was held since
		i.feeds = i.feeds[:len(i.feeds)-1]
		os.Remove(staged)
		return 0, "", err
	}

	f := i.feeds[n-1]
	f.posts = append(f.posts, Post{Author: author, Data: announce})

	return n, path, nil
}

func (i *InmemoryStore) FinishTransfer(id uint16) error {
	return i.transfers.Finish(id)
}

// CheckTimeouts clears the transfers inactive for longer than the transfer
// timeout and returns how many were cleared.
func (i *InmemoryStore) CheckTimeouts() (int, error) {
	cleared, err := i.transfers.Sweep()

	for _, tr := range cleared {
		i.log.Info("Transfer timed out",
			zap.Stringer("type", tr.Kind),
			zap.Uint16("id", tr.UserID),
			zap.String("file", tr.FileName))
	}

	return len(cleared), err
}

func (i *InmemoryStore) Stats() Stats {
	var stats Stats

	i.usersMu.Lock()
	stats.Users = len(i.users)
	i.usersMu.Unlock()

	i.feedsMu.Lock()
	stats.Feeds = len(i.feeds)
	stats.Subscriptions = i.subscriptions
	for _, f := range i.feeds {
		stats.Posts += len(f.posts)
	}
	i.feedsMu.Unlock()

	stats.Transfers = i.transfers.Len()

	return stats
}

// newFeed must be called with feedsMu held.
func (i *InmemoryStore) newFeed(creator protocol.Pseudo) (uint16, error) {
	if len(i.feeds) >= i.maxFeeds {
		return 0, protocol.ErrFeedMax
	}

	i.feeds = append(i.feeds, &feed{creator: creator, posts: make([]Post, 0)})
	return uint16(len(i.feeds)), nil
}

// feed must be called with feedsMu held.
func (i *InmemoryStore) feed(n uint16) (*feed, error) {
	if n == 0 || int(n) > len(i.feeds) {
		return nil, protocol.ErrFeedNumber
	}

	return i.feeds[n-1], nil
}

func (i *InmemoryStore) checkFeed(n uint16, allowNew bool) error {
	if n == 0 && allowNew {
		return nil
	}

	i.feedsMu.Lock()
	defer i.feedsMu.Unlock()

	_, err := i.feed(n)
	return err
}

// provision creates the upload directory of a feed.
func (i *InmemoryStore) provision(n uint16) {
	if i.uploadDir == "" {
		return
	}

	if err := os.MkdirAll(transfer.FeedDir(i.uploadDir, n), 0o755); err != nil {
		i.log.Warn("Failed to create feed directory",
			zap.Uint16("feed", n),
			zap.Error(err))
	}
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var _ Store = (*InmemoryStore)(nil)
