package gallows

// The cache storage API: named buckets, each a key-value store mapping
// request identities (method + URL) to Pages.

import (
	"context"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Match when no stored Page answers a request.
var ErrNotFound = errors.New("gallows: no cached page")

type CacheStorage interface {
	// Open returns the bucket with the given name, creating it if absent.
	Open(ctx context.Context, name string) (Bucket, error)
	// Keys lists bucket names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Delete drops a bucket and everything in it.
	Delete(ctx context.Context, name string) (bool, error)
	// Match searches every bucket, oldest first.
	Match(ctx context.Context, req *http.Request) (Page, error)
}

type Bucket interface {
	Name() string
	// AddAll stores every page or none of them.
	AddAll(ctx context.Context, pages []Page) error
	Put(ctx context.Context, page Page) error
	Match(ctx context.Context, req *http.Request) (Page, error)
	Keys(ctx context.Context) ([]string, error)
}

// A response snapshot, stored in a bucket.
type Page struct {
	Method string
	URL    string
	Status int
	Header http.Header
	Body   []byte
	Stored time.Time
}

func (p Page) ETag() string {
	return p.Header.Get("ETag")
}

func (p Page) LastModified() string {
	return p.Header.Get("Last-Modified")
}

// OK reports whether the status is in the 2xx range.
func (p Page) OK() bool {
	return p.Status >= 200 && p.Status < 300
}

// Write copies the snapshot onto w.
func (p Page) Write(w http.ResponseWriter) error {
	for k, vs := range withoutHopHeaders(p.Header) {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := p.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, err := w.Write(p.Body)
	return err
}

// Headers that describe a single connection and must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopHeaders deletes hop-by-hop headers from h, including any named
// in its Connection header.
func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = textproto.TrimString(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func withoutHopHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out != nil {
		removeHopHeaders(out)
	}
	return out
}

// requestKey returns the method and fragment-less absolute URL a page is
// stored under. ok is false for requests that are never cached.
func requestKey(req *http.Request) (method, key string, ok bool) {
	method = req.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet || req.URL == nil {
		return method, "", false
	}
	return method, pageKey(req.URL), true
}

func pageKey(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}
