package echo

import (
	"net/http"
	"sort"
	"strings"

	"github.com/tommy351/reqecho/pkg/wire"
	"golang.org/x/text/encoding/unicode"
)

// requestPath returns the path of the request target. Origin-form targets
// are reported byte for byte; absolute-form targets go through URL parsing,
// which may re-escape the path.
func requestPath(r *http.Request) string {
	if strings.HasPrefix(r.RequestURI, "/") {
		if i := strings.IndexByte(r.RequestURI, '?'); i >= 0 {
			return r.RequestURI[:i]
		}

		return r.RequestURI
	}

	if r.URL == nil {
		return "/"
	}

	if p := r.URL.EscapedPath(); p != "" {
		return p
	}

	return "/"
}

// headerPairs lists the request headers with lower-cased names. The wire order
// is used when the connection recorded it; otherwise Host comes first and the
// rest are sorted by name.
func headerPairs(r *http.Request) []Pair {
	if c := wire.FromContext(r.Context()); c != nil && r.ProtoMajor == 1 {
		if fields, ok := c.Next(r.Method, r.RequestURI); ok {
			pairs := make([]Pair, 0, len(fields))

			for _, f := range fields {
				pairs = append(pairs, Pair{strings.ToLower(f.Name), headerValue(f.Value)})
			}

			return pairs
		}
	}

	pairs := make([]Pair, 0, len(r.Header)+1)

	if r.Host != "" {
		pairs = append(pairs, Pair{"host", headerValue(r.Host)})
	}

	names := make([]string, 0, len(r.Header))

	for name := range r.Header {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		for _, v := range r.Header[name] {
			pairs = append(pairs, Pair{strings.ToLower(name), headerValue(v)})
		}
	}

	return pairs
}

// headerValue returns v if it only holds visible ASCII, space or tab, and an
// empty string otherwise.
func headerValue(v string) string {
	for i := 0; i < len(v); i++ {
		if b := v[i]; b != '\t' && (b < 0x20 || b >= 0x7f) {
			return ""
		}
	}

	return v
}

func cookiePairs(r *http.Request) []Pair {
	cookies := r.Cookies()
	pairs := make([]Pair, 0, len(cookies))

	for _, c := range cookies {
		pairs = append(pairs, Pair{c.Name, c.Value})
	}

	return pairs
}

// decodeBody converts body to UTF-8, replacing every maximal ill-formed
// subsequence with U+FFFD.
func decodeBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	out, err := unicode.UTF8.NewDecoder().Bytes(body)

	if err != nil {
		return strings.ToValidUTF8(string(body), "\uFFFD")
	}

	return string(out)
}
