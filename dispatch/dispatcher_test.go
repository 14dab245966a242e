package dispatch_test

import (
	"math/rand"
	"os"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/taraaggoun/megaphone/dispatch"
	"github.com/taraaggoun/megaphone/protocol"
	"github.com/taraaggoun/megaphone/storage"
	"github.com/taraaggoun/megaphone/transfer"
)

var _ = Describe("Dispatcher", func() {
	var (
		store      *storage.InmemoryStore
		dispatcher *dispatch.Dispatcher
		uploadDir  string
		alice      uint16
	)

	BeforeEach(func() {
		var err error
		uploadDir, err = os.MkdirTemp("", "megaphone-dispatch")
		Expect(err).To(Succeed())

		store = storage.NewInmemoryStore(storage.Options{
			UploadDir: uploadDir,
			Rand:      rand.New(rand.NewSource(7)),
		})

		dispatcher = dispatch.New(store, 6227, nil)

		p, err := protocol.NewPseudo("alice")
		Expect(err).To(Succeed())

		res := dispatcher.Dispatch(&protocol.RegistrationRequest{Pseudo: p})
		Expect(res.Err).To(Succeed())
		alice = res.Response.(*protocol.AckResponse).UserID

		res = dispatcher.Dispatch(&protocol.PostRequest{UserID: alice, FeedNumber: 0, Data: []byte("hello")})
		Expect(res.Err).To(Succeed())
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
		os.RemoveAll(uploadDir)
	})

	It("echoes the new id on registration", func() {
		p, err := protocol.NewPseudo("bob")
		Expect(err).To(Succeed())

		res := dispatcher.Dispatch(&protocol.RegistrationRequest{Pseudo: p})
		ack := res.Response.(*protocol.AckResponse)
		Expect(ack.Type).To(Equal(protocol.Registration))
		Expect(ack.UserID).NotTo(Equal(alice))
		Expect(store.Pseudo(ack.UserID)).To(Equal(p))
	})

	It("acknowledges posts with the feed number", func() {
		res := dispatcher.Dispatch(&protocol.PostRequest{UserID: alice, FeedNumber: 0, Data: []byte("again")})
		Expect(res.Response).To(Equal(&protocol.AckResponse{Type: protocol.NewPost, UserID: alice, FeedNumber: 2}))
		Expect(res.Code()).To(Equal(protocol.NoError))
	})

	It("answers LASTPOSTS with every selected post", func() {
		res := dispatcher.Dispatch(&protocol.LastPostsRequest{UserID: alice, FeedNumber: 1})
		lp := res.Response.(*protocol.LastPostsResponse)
		Expect(lp.Summary().Count).To(Equal(uint16(1)))
		Expect(lp.Posts[0].Data).To(Equal([]byte("hello")))
	})

	It("answers SUBSCRIBE with the group of the feed", func() {
		res := dispatcher.Dispatch(&protocol.SubscribeRequest{UserID: alice, FeedNumber: 1})
		Expect(res.Response).To(Equal(&protocol.SubscribeResponse{
			UserID:     alice,
			FeedNumber: 1,
			Port:       6228,
			Addr:       "ff12::1:2:3",
		}))
	})

	It("announces the upload port", func() {
		res := dispatcher.Dispatch(&protocol.UploadRequest{UserID: alice, FeedNumber: 1, FileName: "f.txt"})
		Expect(res.Response).To(Equal(&protocol.AckResponse{Type: protocol.Upload, UserID: alice, FeedNumber: 1, Count: 6227}))
		Expect(store.Stats().Transfers).To(Equal(1))
	})

	It("returns the file to stream for downloads", func() {
		_, err := transfer.WriteFile(uploadDir, 1, "f.txt", []byte("content"))
		Expect(err).To(Succeed())

		res := dispatcher.Dispatch(&protocol.DownloadRequest{UserID: alice, FeedNumber: 1, Port: 7001, FileName: "f.txt"})
		Expect(res.Response).To(Equal(&protocol.AckResponse{Type: protocol.Download, UserID: alice, FeedNumber: 1, Count: 7001}))
		Expect(res.Download).NotTo(BeNil())
		Expect(res.Download.Port).To(Equal(uint16(7001)))
		Expect(res.Download.Data).To(Equal([]byte("content")))
	})

	table.DescribeTable("rejected requests",
		func(build func(id uint16) protocol.Request, code protocol.ErrorCode) {
			before := store.Stats()

			res := dispatcher.Dispatch(build(alice))
			Expect(res.Response).To(Equal(&protocol.ErrorResponse{Code: code}))
			Expect(res.Code()).To(Equal(code))
			Expect(res.Err).To(MatchError(code))
			Expect(res.Download).To(BeNil())

			Expect(store.Stats()).To(Equal(before))
		},
		table.Entry("bad pseudo", func(uint16) protocol.Request {
			return &protocol.RegistrationRequest{}
		}, protocol.ErrPseudo),
		table.Entry("post from unknown id", func(id uint16) protocol.Request {
			return &protocol.PostRequest{UserID: id ^ 1, FeedNumber: 1, Data: []byte("x")}
		}, protocol.ErrNoID),
		table.Entry("post to unknown feed", func(id uint16) protocol.Request {
			return &protocol.PostRequest{UserID: id, FeedNumber: 9, Data: []byte("x")}
		}, protocol.ErrFeedNumber),
		table.Entry("last posts of unknown feed", func(id uint16) protocol.Request {
			return &protocol.LastPostsRequest{UserID: id, FeedNumber: 2}
		}, protocol.ErrFeedNumber),
		table.Entry("subscribe to feed 0", func(id uint16) protocol.Request {
			return &protocol.SubscribeRequest{UserID: id, FeedNumber: 0}
		}, protocol.ErrFeedNumber),
		table.Entry("upload from unknown id", func(id uint16) protocol.Request {
			return &protocol.UploadRequest{UserID: 0, FeedNumber: 0, FileName: "a"}
		}, protocol.ErrNoID),
		table.Entry("download of a missing file", func(id uint16) protocol.Request {
			return &protocol.DownloadRequest{UserID: id, FeedNumber: 1, Port: 7000, FileName: "missing"}
		}, protocol.ErrNoFile),
	)

	It("reports internal failures as incomplete requests", func() {
		res := dispatcher.Dispatch(&protocol.PostRequest{UserID: alice, FeedNumber: 1, Data: make([]byte, 300)})
		Expect(res.Response).To(Equal(&protocol.ErrorResponse{Code: protocol.ErrNotComplete}))
		Expect(res.Err).To(MatchError(protocol.ErrDataTooLong))
	})
})
