package protocol_test

import (
	"bytes"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/taraaggoun/megaphone/protocol"
)

func mustPseudo(s string) protocol.Pseudo {
	p, err := protocol.NewPseudo(s)
	Expect(err).To(Succeed())
	return p
}

func decodeRequest(b []byte) (protocol.Request, error) {
	return protocol.DecodeRequest(protocol.NewDecoder(b))
}

var _ = Describe("Messages", func() {
	Describe("EncodeRequest()", func() {
		It("encodes a registration as a header and a padded pseudo", func() {
			b, err := protocol.EncodeRequest(&protocol.RegistrationRequest{Pseudo: mustPseudo("alice")})
			Expect(err).To(Succeed())
			Expect(b).To(Equal(append([]byte{0x00, 0x01}, "alice#####"...)))
		})

		It("encodes generic requests field by field", func() {
			b, err := protocol.EncodeRequest(&protocol.PostRequest{UserID: 5, FeedNumber: 3, Data: []byte("hi")})
			Expect(err).To(Succeed())
			Expect(b).To(Equal([]byte{0x00, 0xA2, 0x00, 0x03, 0x00, 0x00, 0x02, 'h', 'i'}))
		})

		It("refuses data longer than 255 bytes", func() {
			_, err := protocol.EncodeRequest(&protocol.PostRequest{UserID: 1, Data: make([]byte, 256)})
			Expect(err).To(MatchError(protocol.ErrDataTooLong))
		})
	})

	Describe("DecodeRequest()", func() {
		It("decodes what was encoded", func() {
			requests := []protocol.Request{
				&protocol.RegistrationRequest{Pseudo: mustPseudo("bob")},
				&protocol.PostRequest{UserID: 2047, FeedNumber: 65535, Data: bytes.Repeat([]byte("x"), 255)},
				&protocol.PostRequest{UserID: 1, FeedNumber: 0},
				&protocol.LastPostsRequest{UserID: 7, FeedNumber: 2, Count: 10},
				&protocol.SubscribeRequest{UserID: 9, FeedNumber: 4},
				&protocol.UploadRequest{UserID: 3, FeedNumber: 0, FileName: "notes.txt"},
				&protocol.DownloadRequest{UserID: 3, FeedNumber: 1, Port: 7000, FileName: "notes.txt"},
			}

			for _, req := range requests {
				b, err := protocol.EncodeRequest(req)
				Expect(err).To(Succeed())

				got, err := decodeRequest(b)
				Expect(err).To(Succeed())
				Expect(got).To(Equal(req))
			}
		})

		It("reports truncated input", func() {
			b, err := protocol.EncodeRequest(&protocol.PostRequest{UserID: 1, FeedNumber: 1, Data: []byte("hello")})
			Expect(err).To(Succeed())

			for n := 0; n < len(b); n++ {
				_, err := decodeRequest(b[:n])
				Expect(errors.Is(err, protocol.ErrTruncated)).To(BeTrue(), "prefix of %d bytes", n)
			}
		})

		It("rejects unknown types", func() {
			_, err := decodeRequest([]byte{0x00, 0x09, 0, 0, 0, 0, 0})
			Expect(err).To(MatchError(protocol.ErrUnknownType))
		})
	})

	Describe("DecodeResponse()", func() {
		It("decodes acknowledgements", func() {
			ack := &protocol.AckResponse{Type: protocol.NewPost, UserID: 12, FeedNumber: 4, Count: 0}
			b, err := protocol.EncodeResponse(ack)
			Expect(err).To(Succeed())
			Expect(b).To(HaveLen(6))

			got, err := protocol.DecodeResponse(protocol.NewDecoder(b))
			Expect(err).To(Succeed())
			Expect(got).To(Equal(ack))
		})

		It("decodes error responses", func() {
			b, err := protocol.EncodeResponse(&protocol.ErrorResponse{Code: protocol.ErrNoID})
			Expect(err).To(Succeed())
			Expect(b).To(Equal([]byte{0x00, 0x19, 0, 0, 0, 0}))

			got, err := protocol.DecodeResponse(protocol.NewDecoder(b))
			Expect(err).To(Succeed())
			Expect(got.(*protocol.ErrorResponse).ErrorOrNil()).To(MatchError(protocol.ErrNoID))
		})

		It("decodes subscription responses with a NUL padded address", func() {
			sub := &protocol.SubscribeResponse{UserID: 1, FeedNumber: 2, Port: 6229, Addr: "ff12::1:2:3"}
			b, err := protocol.EncodeResponse(sub)
			Expect(err).To(Succeed())
			Expect(b).To(HaveLen(22))
			Expect(b[len(b)-1]).To(Equal(byte(0)))

			got, err := protocol.DecodeResponse(protocol.NewDecoder(b))
			Expect(err).To(Succeed())
			Expect(got).To(Equal(sub))
			Expect(got.(*protocol.SubscribeResponse).GroupAddr().Port).To(Equal(6229))
		})
	})

	Describe("Chunk", func() {
		It("round trips through a datagram", func() {
			c := &protocol.Chunk{Type: protocol.Upload, UserID: 4, Block: 3, Data: []byte("payload")}
			b, err := protocol.EncodeChunk(c)
			Expect(err).To(Succeed())
			Expect(b).To(HaveLen(protocol.ChunkHeaderSize + 7))

			got, err := protocol.DecodeChunk(b)
			Expect(err).To(Succeed())
			Expect(got).To(Equal(c))
			Expect(got.Last()).To(BeTrue())
		})

		It("treats a full chunk as not last", func() {
			c := &protocol.Chunk{Type: protocol.Download, Block: 1, Data: make([]byte, protocol.PacketSize)}
			b, err := protocol.EncodeChunk(c)
			Expect(err).To(Succeed())

			got, err := protocol.DecodeChunk(b)
			Expect(err).To(Succeed())
			Expect(got.Last()).To(BeFalse())
		})

		It("decodes an empty terminating chunk", func() {
			got, err := protocol.DecodeChunk([]byte{0x00, 0x25, 0x00, 0x03})
			Expect(err).To(Succeed())
			Expect(got.Type).To(Equal(protocol.Upload))
			Expect(got.UserID).To(Equal(uint16(1)))
			Expect(got.Block).To(Equal(uint16(3)))
			Expect(got.Data).To(BeEmpty())
			Expect(got.Last()).To(BeTrue())
		})

		It("rejects oversized chunks", func() {
			_, err := protocol.EncodeChunk(&protocol.Chunk{Data: make([]byte, protocol.PacketSize+1)})
			Expect(err).To(MatchError(protocol.ErrChunkTooLong))

			_, err = protocol.DecodeChunk(make([]byte, protocol.ChunkHeaderSize+protocol.PacketSize+1))
			Expect(err).To(MatchError(protocol.ErrChunkTooLong))
		})
	})

	Describe("Notification", func() {
		It("keeps only the first 20 bytes of the post", func() {
			n := protocol.NewNotification(7, mustPseudo("carol"), []byte("this post is longer than twenty bytes"))
			b := protocol.EncodeNotification(n)
			Expect(b).To(HaveLen(34))

			got, err := protocol.DecodeNotification(b)
			Expect(err).To(Succeed())
			Expect(got.FeedNumber).To(Equal(uint16(7)))
			Expect(got.Author.String()).To(Equal("carol"))
			Expect(got.Text()).To(Equal("this post is longer "))
		})

		It("rejects datagrams of another type", func() {
			b := protocol.EncodeNotification(protocol.NewNotification(1, mustPseudo("dan"), nil))
			b[1] = byte(protocol.NewPost)

			_, err := protocol.DecodeNotification(b)
			Expect(err).To(MatchError(protocol.ErrUnexpectedType))
		})
	})
})
