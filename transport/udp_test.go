package transport_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/taraaggoun/megaphone/protocol"
	"github.com/taraaggoun/megaphone/storage"
	"github.com/taraaggoun/megaphone/transfer"
	"github.com/taraaggoun/megaphone/transport"
)

var _ = Describe("UDP", func() {
	var (
		store     *storage.InmemoryStore
		udp       *transport.UDP
		uploadDir string

		cancel context.CancelFunc
		done   chan error
	)

	BeforeEach(func() {
		var err error
		uploadDir, err = os.MkdirTemp("", "megaphone-udp")
		Expect(err).To(Succeed())

		store = storage.NewInmemoryStore(storage.Options{
			UploadDir:       uploadDir,
			TransferTimeout: 200 * time.Millisecond,
		})

		udp = transport.NewUDP(transport.Options{
			Host:          "127.0.0.1",
			Port:          0,
			SweepInterval: 20 * time.Millisecond,
			Store:         store,
		})

		Expect(udp.Listen()).To(Succeed())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())

		done = make(chan error, 1)
		go func() {
			done <- udp.Serve(ctx)
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))

		Expect(store.Close()).To(Succeed())
		os.RemoveAll(uploadDir)
	})

	It("stores uploads and announces them in a new feed", func() {
		id, err := store.RegisterUser(mustPseudo("alice"))
		Expect(err).To(Succeed())
		Expect(store.StartUpload(id, 0, "photo.raw")).To(Succeed())

		conn, err := net.Dial("udp", udp.Addr().String())
		Expect(err).To(Succeed())
		defer conn.Close()

		data := make([]byte, 1300)
		for i := range data {
			data[i] = byte(i)
		}

		n, err := transfer.Send(conn, protocol.Upload, id, data)
		Expect(err).To(Succeed())
		Expect(n).To(Equal(3))

		Eventually(func() int { return store.Stats().Posts }).Should(Equal(1))
		Expect(os.ReadFile(filepath.Join(uploadDir, "1", "photo.raw"))).To(Equal(data))

		_, entries, err := store.LastPosts(id, 1, 0)
		Expect(err).To(Succeed())
		Expect(string(entries[0].Data)).To(Equal("photo.raw 1300"))
	})

	It("ignores packets that are not uploads", func() {
		id, err := store.RegisterUser(mustPseudo("bob"))
		Expect(err).To(Succeed())
		Expect(store.StartUpload(id, 0, "x")).To(Succeed())

		conn, err := net.Dial("udp", udp.Addr().String())
		Expect(err).To(Succeed())
		defer conn.Close()

		_, err = transfer.Send(conn, protocol.Download, id, []byte("wrong type"))
		Expect(err).To(Succeed())

		Consistently(func() int { return store.Stats().Feeds }, 100*time.Millisecond).Should(Equal(0))
	})

	It("clears uploads that stop sending", func() {
		id, err := store.RegisterUser(mustPseudo("carol"))
		Expect(err).To(Succeed())
		Expect(store.StartUpload(id, 0, "stalled")).To(Succeed())
		Expect(store.Stats().Transfers).To(Equal(1))

		Eventually(func() int { return store.Stats().Transfers }, 2*time.Second).Should(Equal(0))
	})
})
