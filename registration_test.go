package gallows

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRegisterActivatesAndClaims(t *testing.T) {
	origin := newTestOrigin(t, map[string]string{"/a.html": "A"})
	storage := NewMemoryStorage()
	_, err := storage.Open(context.Background(), "v0")
	require.NoError(t, err)

	reg := NewRegistration(origin.url(t), HTTPFetcher{}, nil)
	w := newTestWorker(t, "v1", origin.url(t), []string{"/a.html"}, storage, nil)
	require.NoError(t, reg.Register(context.Background(), w))

	require.Same(t, w, reg.Active())
	require.Same(t, w, reg.Controller())
	require.Nil(t, reg.Waiting())

	names, err := storage.Keys(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"v1"}, names)
}

func TestFailedInstallKeepsPreviousWorker(t *testing.T) {
	origin := newTestOrigin(t, map[string]string{"/a.html": "A"})
	storage := NewMemoryStorage()
	reg := NewRegistration(origin.url(t), HTTPFetcher{}, nil)

	v1 := newTestWorker(t, "v1", origin.url(t), []string{"/a.html"}, storage, nil)
	require.NoError(t, reg.Register(context.Background(), v1))

	v2 := newTestWorker(t, "v2", origin.url(t), []string{"/a.html", "/nope.png"}, storage, nil)
	require.Error(t, reg.Register(context.Background(), v2))

	require.Same(t, v1, reg.Active())
	require.Same(t, v1, reg.Controller())

	page, err := storage.Match(context.Background(), getRequest(t, origin.URL+"/a.html"))
	require.NoError(t, err)
	require.Equal(t, "A", string(page.Body))
}

func TestPromoteActivatesWaitingWorker(t *testing.T) {
	origin := newTestOrigin(t, map[string]string{"/a.html": "A"})
	storage := NewMemoryStorage()
	reg := NewRegistration(origin.url(t), HTTPFetcher{}, nil)
	w := newTestWorker(t, "v1", origin.url(t), []string{"/a.html"}, storage, nil)

	// Simulate a host that kept the worker waiting.
	reg.mu.Lock()
	reg.waiting = w
	reg.mu.Unlock()
	require.Nil(t, reg.Controller())

	require.NoError(t, reg.Promote(context.Background()))
	require.Same(t, w, reg.Active())
	require.Same(t, w, reg.Controller())
	require.Nil(t, reg.Waiting())

	require.NoError(t, reg.Promote(context.Background()))
	require.Same(t, w, reg.Active())
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func serve(t *testing.T, h http.Handler, path string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	resp := rec.Result()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServeHTTPRoutesThroughController(t *testing.T) {
	origin := newTestOrigin(t, map[string]string{"/a.html": "A", "/b.html": "B"})
	reg := NewRegistration(origin.url(t), HTTPFetcher{}, nil)

	// Nothing registered: straight to the network.
	resp, body := serve(t, reg, "/a.html")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "A", body)
	require.Equal(t, 1, origin.total())

	w := newTestWorker(t, "v1", origin.url(t), []string{"/a.html"}, NewMemoryStorage(), nil)
	require.NoError(t, reg.Register(context.Background(), w))
	installed := origin.total()

	resp, body = serve(t, reg, "/a.html")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "A", body)
	require.Equal(t, `"/a.html"`, resp.Header.Get("ETag"))
	require.Equal(t, installed, origin.total())

	resp, body = serve(t, reg, "/b.html")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "B", body)
	require.Equal(t, installed+1, origin.total())

	resp, _ = serve(t, reg, "/missing.png")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeHTTPBadGatewayOnFailure(t *testing.T) {
	origin := newTestOrigin(t, nil)
	down := FetcherFunc(func(context.Context, *http.Request) (Page, error) {
		return Page{}, errors.New("offline")
	})
	reg := NewRegistration(origin.url(t), down, nil)

	resp, _ := serve(t, reg, "/a.html")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func newRedirectingOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new/page.html", http.StatusFound)
			return
		}
		w.Write([]byte("final:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestServeHTTPPassesRedirectsThrough(t *testing.T) {
	srv := newRedirectingOrigin(t)
	origin := mustParseURL(t, srv.URL+"/")

	reg := NewRegistration(origin, HTTPFetcher{}, nil)
	resp, _ := serve(t, reg, "/old")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/new/page.html", resp.Header.Get("Location"))

	w, err := NewWorker(WorkerConfig{
		CacheName:      "v1",
		Origin:         origin,
		Assets:         []string{"/new/page.html"},
		Storage:        NewMemoryStorage(),
		Fetcher:        HTTPFetcher{},
		InstallFetcher: HTTPFetcher{FollowRedirects: true},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Register(context.Background(), w))

	resp, _ = serve(t, reg, "/old")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/new/page.html", resp.Header.Get("Location"))
}

func TestInstallFollowsRedirects(t *testing.T) {
	srv := newRedirectingOrigin(t)
	origin := mustParseURL(t, srv.URL+"/")
	storage := NewMemoryStorage()

	w, err := NewWorker(WorkerConfig{
		CacheName:      "v1",
		Origin:         origin,
		Assets:         []string{"/old"},
		Storage:        storage,
		Fetcher:        HTTPFetcher{},
		InstallFetcher: HTTPFetcher{FollowRedirects: true},
	})
	require.NoError(t, err)
	require.NoError(t, w.Install(context.Background(), nil))

	page, err := storage.Match(context.Background(), getRequest(t, srv.URL+"/old"))
	require.NoError(t, err)
	require.Equal(t, "final:/new/page.html", string(page.Body))
}

func TestInstallWithoutFollowingRejectsRedirect(t *testing.T) {
	srv := newRedirectingOrigin(t)
	w, err := NewWorker(WorkerConfig{
		CacheName: "v1",
		Origin:    mustParseURL(t, srv.URL+"/"),
		Assets:    []string{"/old"},
		Storage:   NewMemoryStorage(),
		Fetcher:   HTTPFetcher{},
	})
	require.NoError(t, err)
	require.Error(t, w.Install(context.Background(), nil))
}
