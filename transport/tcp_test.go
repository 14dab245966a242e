package transport_test

import (
	"context"
	"io"
	"net"
	"os"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/taraaggoun/megaphone/dispatch"
	"github.com/taraaggoun/megaphone/protocol"
	"github.com/taraaggoun/megaphone/storage"
	"github.com/taraaggoun/megaphone/transfer"
	"github.com/taraaggoun/megaphone/transport"
)

type client struct {
	conn   net.Conn
	frames *protocol.FrameReader
}

func dial(addr net.Addr) *client {
	conn, err := net.Dial("tcp", addr.String())
	Expect(err).To(Succeed())

	return &client{conn: conn, frames: protocol.NewFrameReader(conn)}
}

func (c *client) roundTrip(req protocol.Request) protocol.Response {
	Expect(protocol.WriteRequest(c.conn, req)).To(Succeed())
	return c.read()
}

func (c *client) read() protocol.Response {
	Expect(c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())

	resp, err := protocol.ReadResponse(c.frames)
	Expect(err).To(Succeed())
	return resp
}

func mustPseudo(s string) protocol.Pseudo {
	p, err := protocol.NewPseudo(s)
	Expect(err).To(Succeed())
	return p
}

var _ = Describe("transport", func() {
	var (
		store     *storage.InmemoryStore
		tcp       *transport.TCP
		uploadDir string

		cancel context.CancelFunc
		done   chan error
	)

	BeforeEach(func() {
		var err error
		uploadDir, err = os.MkdirTemp("", "megaphone-tcp")
		Expect(err).To(Succeed())

		store = storage.NewInmemoryStore(storage.Options{UploadDir: uploadDir})

		tcp = transport.NewTCP(transport.Options{
			Host:          "127.0.0.1",
			Port:          0,
			SweepInterval: 50 * time.Millisecond,
			Store:         store,
			Dispatcher:    dispatch.New(store, 6227, nil),
		})

		Expect(tcp.Listen()).To(Succeed())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())

		done = make(chan error, 1)
		go func() {
			done <- tcp.Serve(ctx)
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))

		Expect(store.Close()).To(Succeed())
		os.RemoveAll(uploadDir)
	})

	Describe("TCP", func() {
		It("listens on the desired port", func() {
			conn, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
			conn.Close()
		})

		It("serves several requests on one connection", func() {
			c := dial(tcp.Addr())
			defer c.conn.Close()

			ack := c.roundTrip(&protocol.RegistrationRequest{Pseudo: mustPseudo("alice")}).(*protocol.AckResponse)
			Expect(ack.Type).To(Equal(protocol.Registration))
			id := ack.UserID

			resp := c.roundTrip(&protocol.PostRequest{UserID: id, FeedNumber: 0, Data: []byte("hello\r\n")})
			Expect(resp).To(Equal(&protocol.AckResponse{Type: protocol.NewPost, UserID: id, FeedNumber: 1}))

			resp = c.roundTrip(&protocol.LastPostsRequest{UserID: id})
			lp := resp.(*protocol.LastPostsResponse)
			Expect(lp.FeedNumber).To(Equal(uint16(1)))
			Expect(lp.Posts).To(HaveLen(1))
			Expect(lp.Posts[0].Data).To(Equal([]byte("hello\r\n")))
			Expect(lp.Posts[0].Author.String()).To(Equal("alice"))
		})

		It("answers pipelined requests in order", func() {
			id, err := store.RegisterUser(mustPseudo("bob"))
			Expect(err).To(Succeed())

			c := dial(tcp.Addr())
			defer c.conn.Close()

			var batch []byte
			for _, data := range []string{"one", "two", "three"} {
				b, err := protocol.EncodeRequest(&protocol.PostRequest{UserID: id, FeedNumber: 0, Data: []byte(data)})
				Expect(err).To(Succeed())
				batch = append(append(batch, b...), protocol.Terminal...)
			}

			_, err = c.conn.Write(batch)
			Expect(err).To(Succeed())

			for feed := uint16(1); feed <= 3; feed++ {
				Expect(c.read().(*protocol.AckResponse).FeedNumber).To(Equal(feed))
			}
		})

		It("keeps the connection open after a rejected request", func() {
			c := dial(tcp.Addr())
			defer c.conn.Close()

			resp := c.roundTrip(&protocol.PostRequest{UserID: 1, FeedNumber: 0, Data: []byte("x")})
			Expect(resp).To(Equal(&protocol.ErrorResponse{Code: protocol.ErrNoID}))

			resp = c.roundTrip(&protocol.RegistrationRequest{Pseudo: mustPseudo("carol")})
			Expect(resp.GetType()).To(Equal(protocol.Registration))
		})

		It("rejects malformed requests and closes the connection", func() {
			c := dial(tcp.Addr())
			defer c.conn.Close()

			_, err := c.conn.Write([]byte{0x00, 0x0F, 0, 0, 0, 0, 0, '\r', '\n'})
			Expect(err).To(Succeed())

			Expect(c.read()).To(Equal(&protocol.ErrorResponse{Code: protocol.ErrNotComplete}))

			_, err = protocol.ReadResponse(c.frames)
			Expect(err).To(MatchError(io.EOF))
		})

		It("streams downloads to the announced UDP port", func() {
			id, err := store.RegisterUser(mustPseudo("dave"))
			Expect(err).To(Succeed())
			Expect(store.CreatePost(id, 0, []byte("files"))).To(Equal(uint16(1)))

			data := make([]byte, 1500)
			for i := range data {
				data[i] = byte(i % 251)
			}

			_, err = transfer.WriteFile(uploadDir, 1, "big.bin", data)
			Expect(err).To(Succeed())

			receiver, err := net.ListenPacket("udp", "127.0.0.1:0")
			Expect(err).To(Succeed())
			defer receiver.Close()

			port := uint16(receiver.LocalAddr().(*net.UDPAddr).Port)

			c := dial(tcp.Addr())
			defer c.conn.Close()

			resp := c.roundTrip(&protocol.DownloadRequest{UserID: id, FeedNumber: 1, Port: port, FileName: "big.bin"})
			Expect(resp).To(Equal(&protocol.AckResponse{Type: protocol.Download, UserID: id, FeedNumber: 1, Count: port}))

			file, err := transfer.Receive(context.Background(), receiver, protocol.Download, 2*time.Second)
			Expect(err).To(Succeed())
			Expect(file).To(Equal(data))

			Eventually(func() int { return store.Stats().Transfers }).Should(Equal(0))
		})
	})
})
