package protocol_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/taraaggoun/megaphone/protocol"
)

var _ = Describe("Header", func() {
	It("packs and unpacks every type and id", func() {
		for t := 1; t < 32; t++ {
			for id := 0; id <= protocol.MaxID; id++ {
				h := protocol.NewHeader(protocol.RequestType(t), uint16(id))
				Expect(h.Type()).To(Equal(protocol.RequestType(t)))
				Expect(h.ID()).To(Equal(uint16(id)))
			}
		}
	})

	It("stores the type in the low 5 bits", func() {
		h := protocol.NewHeader(protocol.NewPost, 5)
		Expect(uint16(h)).To(Equal(uint16(0x00A2)))
	})

	It("reports error codes carried in the type slot", func() {
		code, ok := protocol.ErrorHeader(protocol.ErrFeedMax).ErrorCode()
		Expect(ok).To(BeTrue())
		Expect(code).To(Equal(protocol.ErrFeedMax))

		_, ok = protocol.NewHeader(protocol.Upload, 12).ErrorCode()
		Expect(ok).To(BeFalse())
	})

	It("names request types and error codes", func() {
		Expect(protocol.LastPosts.String()).To(Equal("LASTPOSTS"))
		Expect(protocol.RequestType(0x1C).String()).To(Equal("ERR_PSEUDO"))
		Expect(protocol.RequestType(9).String()).To(Equal("UNKNOWN(9)"))
	})
})

var _ = Describe("ErrorCode", func() {
	It("maps every code to its message", func() {
		Expect(protocol.ErrNoID.Error()).To(Equal("Id not found"))
		Expect(protocol.ErrFeedNumber.Error()).To(Equal("Feed number does not exist"))
		Expect(protocol.ErrNoFile.Error()).To(Equal("File not found"))
		Expect(protocol.ErrPseudo.Error()).To(Equal("Bad pseudo format"))
		Expect(protocol.ErrNotComplete.Error()).To(Equal("Incomplete request"))
		Expect(protocol.ErrFeedMax.Error()).To(Equal("A new feed can't be created"))
		Expect(protocol.ErrIDMax.Error()).To(Equal("A new account can't be created"))
	})

	It("does not treat 0 as an error", func() {
		Expect(protocol.NoError.Valid()).To(BeFalse())
		Expect((&protocol.ErrorResponse{}).ErrorOrNil()).To(BeNil())
	})
})

var _ = Describe("Pseudo", func() {
	It("pads short pseudos with #", func() {
		p, err := protocol.NewPseudo("bob")
		Expect(err).To(Succeed())
		Expect(string(p[:])).To(Equal("bob#######"))
		Expect(p.String()).To(Equal("bob"))
		Expect(p.Valid()).To(BeTrue())
	})

	It("accepts exactly 10 characters", func() {
		p, err := protocol.NewPseudo("abcdefghij")
		Expect(err).To(Succeed())
		Expect(p.String()).To(Equal("abcdefghij"))
	})

	It("rejects empty, long and padded pseudos", func() {
		for _, s := range []string{"", "abcdefghijk", "ab#c", "new\nline"} {
			_, err := protocol.NewPseudo(s)
			Expect(err).To(MatchError(protocol.ErrBadPseudo), s)
		}
	})

	It("treats an all padding pseudo as invalid", func() {
		var p protocol.Pseudo
		Expect(p.Valid()).To(BeFalse())

		copy(p[:], "##########")
		Expect(p.Valid()).To(BeFalse())
	})
})
