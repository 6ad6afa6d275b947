package wire

import (
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func feed(s *Scanner, data string, step int) {
	for len(data) > 0 {
		n := step

		if n <= 0 || n > len(data) {
			n = len(data)
		}

		s.Write([]byte(data[:n]))
		data = data[n:]
	}
}

var _ = Describe("Scanner", func() {
	var s *Scanner

	BeforeEach(func() {
		s = NewScanner(0)
	})

	for _, step := range []int{0, 1, 7} {
		step := step

		Describe("given pipelined requests", func() {
			BeforeEach(func() {
				feed(s, "\r\nPOST /a?x=1 HTTP/1.1\r\nHost: example\r\nX-B: 2\r\nX-A: 1\r\nX-B: 3\r\nContent-Length: 5\r\n\r\nhello"+
					"PUT /b HTTP/1.1\r\nTransfer-Encoding: chunked\r\nZ: z\r\n\r\n3;ext=1\r\nabc\r\n0\r\nTrailer: t\r\n\r\n"+
					"GET /c HTTP/1.1\nA: a\n\n", step)
			})

			It("should record every header section in wire order", func() {
				a, ok := s.Next("POST", "/a?x=1")
				Expect(ok).To(BeTrue())
				Expect(a.Fields).To(Equal([]Field{
					{Name: "Host", Value: "example"},
					{Name: "X-B", Value: "2"},
					{Name: "X-A", Value: "1"},
					{Name: "X-B", Value: "3"},
					{Name: "Content-Length", Value: "5"},
				}))

				b, ok := s.Next("PUT", "/b")
				Expect(ok).To(BeTrue())
				Expect(b.Fields).To(Equal([]Field{
					{Name: "Transfer-Encoding", Value: "chunked"},
					{Name: "Z", Value: "z"},
				}))

				c, ok := s.Next("GET", "/c")
				Expect(ok).To(BeTrue())
				Expect(c.Fields).To(Equal([]Field{{Name: "A", Value: "a"}}))
				Expect(s.Done()).To(BeFalse())
			})
		})
	}

	It("should give up when the request line does not match the queue head", func() {
		feed(s, "GET /1 HTTP/1.1\r\nA: 1\r\n\r\nGET /2 HTTP/1.1\r\nA: 2\r\n\r\n", 0)
		_, ok := s.Next("GET", "/2")
		Expect(ok).To(BeFalse())
		Expect(s.Done()).To(BeTrue())

		_, ok = s.Next("GET", "/2")
		Expect(ok).To(BeFalse())

		feed(s, "GET /3 HTTP/1.1\r\nA: 3\r\n\r\n", 0)
		_, ok = s.Next("GET", "/3")
		Expect(ok).To(BeFalse())
	})

	It("should join folded lines", func() {
		feed(s, "GET / HTTP/1.1\r\nX-Long: a\r\n  b\r\n\r\n", 0)
		b, ok := s.Next("GET", "/")
		Expect(ok).To(BeTrue())
		Expect(b.Fields).To(Equal([]Field{{Name: "X-Long", Value: "a b"}}))
	})

	It("should stop on the HTTP/2 preface", func() {
		feed(s, "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n", 0)
		Expect(s.Done()).To(BeTrue())
		_, ok := s.Next("PRI", "*")
		Expect(ok).To(BeFalse())
	})

	It("should stop after an h2c upgrade", func() {
		feed(s, "GET / HTTP/1.1\r\nUpgrade: h2c\r\nConnection: Upgrade\r\n\r\n\x00\x00\x12", 0)
		Expect(s.Done()).To(BeTrue())
		_, ok := s.Next("GET", "/")
		Expect(ok).To(BeTrue())
	})

	It("should stop on unsupported transfer codings", func() {
		feed(s, "POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n", 0)
		Expect(s.Done()).To(BeTrue())
	})

	It("should stop on malformed chunk sizes", func() {
		feed(s, "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n", 0)
		Expect(s.Done()).To(BeTrue())
	})

	It("should stop when the header section is too large", func() {
		s = NewScanner(64)
		feed(s, "GET / HTTP/1.1\r\nX-Big: "+strings.Repeat("a", 128), 0)
		Expect(s.Done()).To(BeTrue())
	})

	It("should never hand out another request's fields when the queue fills up", func() {
		var raw strings.Builder
		total := maxQueuedBlocks + 8

		for i := 0; i < total; i++ {
			fmt.Fprintf(&raw, "GET / HTTP/1.1\r\nX-I: %d\r\n\r\n", i)
		}

		feed(s, raw.String(), 0)
		Expect(s.Done()).To(BeTrue())
		Expect(s.blocks).To(HaveLen(maxQueuedBlocks))

		for i := 0; i < total; i++ {
			b, ok := s.Next("GET", "/")

			if i < maxQueuedBlocks {
				Expect(ok).To(BeTrue())
				Expect(b.Fields).To(Equal([]Field{{Name: "X-I", Value: fmt.Sprint(i)}}))
			} else {
				Expect(ok).To(BeFalse())
			}
		}
	})
})
