package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PacketBuffer", func() {

	var (
		buf *PacketBuffer
	)

	BeforeEach(func() {
		buf = NewPacketBuffer("Buf", 2)
	})

	It("should allow push and pop in FIFO order", func() {
		Expect(buf.Capacity()).To(Equal(2))
		Expect(buf.CanPush()).To(BeTrue())

		buf.Push(Packet{Sequence: 1}, 0)
		Expect(buf.CanPush()).To(BeTrue())
		Expect(buf.Len()).To(Equal(1))

		buf.Push(Packet{Sequence: 2}, 0)
		Expect(buf.CanPush()).To(BeFalse())
		Expect(buf.Len()).To(Equal(2))
		Expect(func() {
			buf.Push(Packet{Sequence: 3}, 0)
		}).To(Panic())

		head, ok := buf.Peek()
		Expect(ok).To(BeTrue())
		Expect(head.Sequence).To(Equal(uint64(1)))

		p, dropped, ok := buf.Pop(0)
		Expect(ok).To(BeTrue())
		Expect(dropped).To(BeEmpty())
		Expect(p.Sequence).To(Equal(uint64(1)))

		p, _, ok = buf.Pop(0)
		Expect(ok).To(BeTrue())
		Expect(p.Sequence).To(Equal(uint64(2)))

		_, _, ok = buf.Pop(0)
		Expect(ok).To(BeFalse())
	})

	It("should clear", func() {
		buf.Push(Packet{Sequence: 1}, 0)
		Expect(buf.Len()).To(Equal(1))

		buf.Clear()

		Expect(buf.Len()).To(Equal(0))
		_, ok := buf.Peek()
		Expect(ok).To(BeFalse())
	})
})
