package gallows

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Fetcher performs live network requests.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (Page, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (Page, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (Page, error) {
	return f(ctx, req)
}

// HTTPFetcher fetches with an http.Client and snapshots the response.
// Non-2xx responses are pages, not errors. Redirects are returned as they
// are unless FollowRedirects is set.
type HTTPFetcher struct {
	Client          *http.Client
	FollowRedirects bool
}

func (f HTTPFetcher) client() *http.Client {
	c := f.Client
	if c == nil {
		c = http.DefaultClient
	}
	if f.FollowRedirects {
		return c
	}
	manual := *c
	manual.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &manual
}

func (f HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (Page, error) {
	out := req.Clone(ctx)
	// Server-side requests carry a RequestURI the client refuses to send.
	out.RequestURI = ""
	removeHopHeaders(out.Header)
	resp, err := f.client().Do(out)
	if err != nil {
		return Page{}, errors.Wrapf(err, "fetch %s", req.URL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, errors.Wrapf(err, "read %s", req.URL)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return Page{
		Method: method,
		URL:    pageKey(req.URL),
		Status: resp.StatusCode,
		Header: withoutHopHeaders(resp.Header),
		Body:   body,
		Stored: time.Now(),
	}, nil
}
