package transfer_test

import (
	"bytes"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/taraaggoun/megaphone/protocol"
	"github.com/taraaggoun/megaphone/transfer"
)

func sizes(packets [][]byte) []int {
	out := make([]int, len(packets))
	for i, p := range packets {
		out[i] = len(p)
	}

	return out
}

var _ = Describe("Split()", func() {
	It("splits 1300 bytes into 512, 512 and 276", func() {
		Expect(sizes(transfer.Split(make([]byte, 1300)))).To(Equal([]int{512, 512, 276}))
	})

	It("terminates a multiple of the packet size with an empty packet", func() {
		Expect(sizes(transfer.Split(make([]byte, 1024)))).To(Equal([]int{512, 512, 0}))
		Expect(sizes(transfer.Split(nil))).To(Equal([]int{0}))
	})

	It("keeps the bytes in order", func() {
		data := bytes.Repeat([]byte("0123456789"), 200)
		Expect(bytes.Join(transfer.Split(data), nil)).To(Equal(data))
	})

	It("numbers chunks from 1", func() {
		chunks, err := transfer.Chunks(protocol.Download, 9, make([]byte, 600))
		Expect(err).To(Succeed())
		Expect(chunks).To(HaveLen(2))
		Expect(chunks[0].Block).To(Equal(uint16(1)))
		Expect(chunks[1].Block).To(Equal(uint16(2)))
		Expect(chunks[1].UserID).To(Equal(uint16(9)))
		Expect(chunks[1].Last()).To(BeTrue())
	})
})

var _ = Describe("Assembler", func() {
	var data []byte

	BeforeEach(func() {
		data = make([]byte, 1300)
		for i := range data {
			data[i] = byte(i * 7)
		}
	})

	It("reassembles chunks received out of order", func() {
		packets := transfer.Split(data)
		asm := transfer.NewAssembler()

		complete, err := asm.Add(3, packets[2])
		Expect(err).To(Succeed())
		Expect(complete).To(BeFalse())

		complete, err = asm.Add(1, packets[0])
		Expect(err).To(Succeed())
		Expect(complete).To(BeFalse())

		complete, err = asm.Add(2, packets[1])
		Expect(err).To(Succeed())
		Expect(complete).To(BeTrue())

		Expect(asm.Bytes()).To(Equal(data))
		Expect(asm.Size()).To(Equal(1300))
	})

	It("never completes without the short terminal packet", func() {
		packets := transfer.Split(data)
		asm := transfer.NewAssembler()

		for i, p := range packets[:2] {
			complete, err := asm.Add(uint16(i+1), p)
			Expect(err).To(Succeed())
			Expect(complete).To(BeFalse())
		}

		Expect(asm.Complete()).To(BeFalse())
		_, err := asm.Bytes()
		Expect(err).To(MatchError(transfer.ErrNotComplete))
	})

	It("counts a duplicate block once", func() {
		asm := transfer.NewAssembler()

		_, err := asm.Add(1, make([]byte, 512))
		Expect(err).To(Succeed())
		_, err = asm.Add(1, make([]byte, 512))
		Expect(err).To(Succeed())
		Expect(asm.Received()).To(Equal(1))

		complete, err := asm.Add(2, []byte("end"))
		Expect(err).To(Succeed())
		Expect(complete).To(BeTrue())
		Expect(asm.Size()).To(Equal(515))
	})

	It("rejects blocks outside the file", func() {
		asm := transfer.NewAssembler()

		_, err := asm.Add(0, []byte("x"))
		Expect(err).To(MatchError(transfer.ErrBadBlock))

		_, err = asm.Add(2, []byte("short"))
		Expect(err).To(Succeed())

		_, err = asm.Add(3, make([]byte, 512))
		Expect(err).To(MatchError(transfer.ErrBadBlock))
	})
})
