package echo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tommy351/reqecho/pkg/clientip"
)

func decodeResponse(rec *httptest.ResponseRecorder) *Response {
	var res Response
	Expect(json.Unmarshal(rec.Body.Bytes(), &res)).To(Succeed())
	return &res
}

type observation struct {
	id  string
	res *Response
}

var _ = Describe("Handler", func() {
	var (
		handler  *Handler
		req      *http.Request
		rec      *httptest.ResponseRecorder
		observed []observation
	)

	BeforeEach(func() {
		observed = nil
		handler = &Handler{
			Hostname: "echo-host",
			Observers: []Observer{
				ObserverFunc(func(ctx context.Context, id string, res *Response) {
					observed = append(observed, observation{id: id, res: res})
				}),
			},
		}
		req = httptest.NewRequest(http.MethodGet, "/", nil)
	})

	JustBeforeEach(func() {
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	})

	It("should respond status 200 with JSON", func() {
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
		Expect(rec.Header().Get("X-Request-Id")).NotTo(BeEmpty())
	})

	It("should always include every key", func() {
		var data map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &data)).To(Succeed())
		Expect(data).To(HaveLen(10))

		for _, key := range []string{"path", "method", "body", "hostname", "ip", "protocol", "query"} {
			Expect(data).To(HaveKeyWithValue(key, BeAssignableToTypeOf("")))
		}

		Expect(data).To(HaveKeyWithValue("headers", BeAssignableToTypeOf([]interface{}{})))
		Expect(data).To(HaveKeyWithValue("cookies", BeAssignableToTypeOf([]interface{}{})))
		Expect(data).To(HaveKeyWithValue("os", HaveKeyWithValue("hostname", "echo-host")))
	})

	It("should notify observers", func() {
		Expect(observed).To(HaveLen(1))
		Expect(observed[0].id).To(Equal(rec.Header().Get("X-Request-Id")))
		Expect(observed[0].res.Method).To(Equal(http.MethodGet))
	})

	It("should leave hostname and protocol empty for relative targets", func() {
		res := decodeResponse(rec)
		Expect(res.Hostname).To(BeEmpty())
		Expect(res.Protocol).To(BeEmpty())
		Expect(res.Query).To(BeEmpty())
	})

	It("should resolve the peer address by default", func() {
		Expect(decodeResponse(rec).IP).To(Equal("192.0.2.1"))
	})

	Describe("given a POST with query, header and body", func() {
		BeforeEach(func() {
			req = httptest.NewRequest(http.MethodPost, "/hello?x=1&y=2", strings.NewReader("hi"))
			req.Header.Set("X-Test", "a")
		})

		It("check response", func() {
			res := decodeResponse(rec)
			Expect(res.Path).To(Equal("/hello"))
			Expect(res.Query).To(Equal("x=1&y=2"))
			Expect(res.Method).To(Equal(http.MethodPost))
			Expect(res.Body).To(Equal("hi"))
			Expect(res.Headers).To(ContainElement(Pair{"x-test", "a"}))
			Expect(res.Cookies).To(BeEmpty())
			Expect(rec.Body.String()).To(ContainSubstring(`"cookies":[]`))
		})
	})

	Describe("given cookies", func() {
		BeforeEach(func() {
			req.Header.Set("Cookie", "a=1; b=2")
		})

		It("should list them in order", func() {
			Expect(decodeResponse(rec).Cookies).To(Equal([]Pair{{"a", "1"}, {"b", "2"}}))
		})
	})

	Describe("given an invalid UTF-8 body", func() {
		BeforeEach(func() {
			req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader("ok\xff\xfe"))
		})

		It("should substitute replacement characters", func() {
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeResponse(rec).Body).To(Equal("ok\uFFFD\uFFFD"))
		})
	})

	Describe("given a repeated header", func() {
		BeforeEach(func() {
			req.Header.Add("X-Dup", "first")
			req.Header.Add("X-Dup", "second")
		})

		It("should keep both values in order", func() {
			var dups []Pair

			for _, p := range decodeResponse(rec).Headers {
				if p.Name() == "x-dup" {
					dups = append(dups, p)
				}
			}

			Expect(dups).To(Equal([]Pair{{"x-dup", "first"}, {"x-dup", "second"}}))
		})
	})

	Describe("given a header value with non-text bytes", func() {
		BeforeEach(func() {
			req.Header.Set("X-Bin", "\xff")
		})

		It("should render it as an empty string", func() {
			Expect(decodeResponse(rec).Headers).To(ContainElement(Pair{"x-bin", ""}))
		})
	})

	Describe("given an absolute-form target", func() {
		BeforeEach(func() {
			req = httptest.NewRequest(http.MethodGet, "http://upstream.test:8080/p?q=1", nil)
		})

		It("should report the target host and scheme", func() {
			res := decodeResponse(rec)
			Expect(res.Hostname).To(Equal("upstream.test"))
			Expect(res.Protocol).To(Equal("http"))
			Expect(res.Path).To(Equal("/p"))
			Expect(res.Query).To(Equal("q=1"))
		})
	})

	Describe("given a client ip resolver", func() {
		BeforeEach(func() {
			resolver, err := clientip.New("x-real-ip", nil)
			Expect(err).NotTo(HaveOccurred())
			handler.Resolver = resolver
			req.Header.Set("X-Real-Ip", "198.51.100.4")
		})

		It("should use it", func() {
			Expect(decodeResponse(rec).IP).To(Equal("198.51.100.4"))
		})
	})

	Describe("given a resolver without an address", func() {
		BeforeEach(func() {
			req.RemoteAddr = "@"
		})

		It("should leave ip empty", func() {
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeResponse(rec).IP).To(BeEmpty())
		})
	})
})

var _ = Describe("Handler concurrency", func() {
	It("should keep requests independent", func() {
		handler := &Handler{Hostname: "echo-host"}
		var wg sync.WaitGroup
		results := make([]*Response, 32)

		for i := range results {
			wg.Add(1)

			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()

				req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/req/%d?i=%d", i, i), strings.NewReader(fmt.Sprint(i)))
				req.Header.Set("X-Index", fmt.Sprint(i))
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)
				results[i] = decodeResponse(rec)
			}(i)
		}

		wg.Wait()

		for i, res := range results {
			Expect(res.Path).To(Equal(fmt.Sprintf("/req/%d", i)))
			Expect(res.Query).To(Equal(fmt.Sprintf("i=%d", i)))
			Expect(res.Body).To(Equal(fmt.Sprint(i)))
			Expect(res.Headers).To(ContainElement(Pair{"x-index", fmt.Sprint(i)}))
			Expect(res.OS.Hostname).To(Equal("echo-host"))
		}
	})
})
