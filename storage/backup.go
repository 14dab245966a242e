package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/taraaggoun/megaphone/protocol"
)

var ErrBadSnapshot = errors.New("Snapshot is not valid JSON")

type userRecord struct {
	ID     uint16 `json:"id"`
	Pseudo string `json:"pseudo"`
}

type postRecord struct {
	Author string `json:"author"`
	Data   []byte `json:"data"`
}

type subscriptionRecord struct {
	Addr string `json:"addr"`
	Port uint16 `json:"port"`
	Sent int    `json:"sent"`
}

type feedRecord struct {
	Creator      string              `json:"creator"`
	Posts        []postRecord        `json:"posts"`
	Subscription *subscriptionRecord `json:"subscription,omitempty"`
}

// Backup returns a JSON snapshot of users and feeds. Transfers are not
// part of it.
func (i *InmemoryStore) Backup() ([]byte, error) {
	values := []byte(`{"users":[],"feeds":[]}`)

	i.usersMu.Lock()
	users := make([]userRecord, 0, len(i.users))
	for id, pseudo := range i.users {
		users = append(users, userRecord{ID: id, Pseudo: pseudo.String()})
	}
	i.usersMu.Unlock()

	sort.Slice(users, func(a, b int) bool { return users[a].ID < users[b].ID })

	i.feedsMu.Lock()
	feeds := make([]feedRecord, len(i.feeds))
	for n, f := range i.feeds {
		feeds[n] = feedRecord{
			Creator: f.creator.String(),
			Posts:   make([]postRecord, len(f.posts)),
		}

		for p, post := range f.posts {
			feeds[n].Posts[p] = postRecord{Author: post.Author.String(), Data: post.Data}
		}

		if f.sub != nil {
			feeds[n].Subscription = &subscriptionRecord{
				Addr: f.sub.Addr,
				Port: f.sub.Port,
				Sent: f.sub.Sent,
			}
		}
	}
	i.feedsMu.Unlock()

	var err error

	for _, u := range users {
		if values, err = sjson.SetBytes(values, "users.-1", u); err != nil {
			return nil, err
		}
	}

	for _, f := range feeds {
		if values, err = sjson.SetBytes(values, "feeds.-1", f); err != nil {
			return nil, err
		}
	}

	return values, nil
}

// Restore replaces users and feeds with a snapshot taken by Backup.
func (i *InmemoryStore) Restore(values []byte) error {
	if !gjson.ValidBytes(values) {
		return ErrBadSnapshot
	}

	users := make(map[uint16]protocol.Pseudo)

	var err error
	gjson.GetBytes(values, "users").ForEach(func(_, u gjson.Result) bool {
		id := u.Get("id").Uint()
		if id == 0 || id > protocol.MaxID {
			err = fmt.Errorf("user id %d is out of range", id)
			return false
		}

		pseudo, perr := protocol.NewPseudo(u.Get("pseudo").String())
		if perr != nil {
			err = fmt.Errorf("user %d: %w", id, perr)
			return false
		}

		users[uint16(id)] = pseudo
		return true
	})

	if err != nil {
		return err
	}

	var (
		feeds         = make([]*feed, 0)
		subscriptions int
	)

	gjson.GetBytes(values, "feeds").ForEach(func(_, f gjson.Result) bool {
		number := uint16(len(feeds) + 1)

		creator, perr := protocol.NewPseudo(f.Get("creator").String())
		if perr != nil {
			err = fmt.Errorf("feed %d creator: %w", number, perr)
			return false
		}

		restored := &feed{creator: creator, posts: make([]Post, 0)}

		f.Get("posts").ForEach(func(_, p gjson.Result) bool {
			author, perr := protocol.NewPseudo(p.Get("author").String())
			if perr != nil {
				err = fmt.Errorf("feed %d author: %w", number, perr)
				return false
			}

			data, derr := base64.StdEncoding.DecodeString(p.Get("data").String())
			if derr != nil {
				err = fmt.Errorf("feed %d data: %w", number, derr)
				return false
			}

			restored.posts = append(restored.posts, Post{Author: author, Data: data})
			return true
		})

		if err != nil {
			return false
		}

		if sub := f.Get("subscription"); sub.Exists() {
			restored.sub = &Subscription{
				FeedNumber: number,
				Addr:       sub.Get("addr").String(),
				Port:       uint16(sub.Get("port").Uint()),
				Sent:       int(sub.Get("sent").Int()),
			}

			subscriptions++
		}

		feeds = append(feeds, restored)
		return true
	})

	if err != nil {
		return err
	}

	if len(feeds) > i.maxFeeds {
		return fmt.Errorf("snapshot holds %d feeds: %w", len(feeds), protocol.ErrFeedMax)
	}

	i.usersMu.Lock()
	i.users = users
	i.usersMu.Unlock()

	i.feedsMu.Lock()
	i.feeds = feeds
	i.subscriptions = subscriptions
	i.feedsMu.Unlock()

	for n := range feeds {
		i.provision(uint16(n + 1))
	}

	return nil
}
