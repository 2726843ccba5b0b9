package gallows

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapObserverLogsLifecycle(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	origin := newTestOrigin(t, map[string]string{"/a.html": "A"})
	storage := NewMemoryStorage()
	_, err := storage.Open(context.Background(), "v0")
	require.NoError(t, err)

	w := newTestWorker(t, "v1", origin.url(t), []string{"/a.html"}, storage, NewZapObserver(zap.New(core)))
	require.NoError(t, w.Install(context.Background(), nil))
	require.NoError(t, w.Activate(context.Background(), nil))
	_, err = w.Fetch(context.Background(), getRequest(t, origin.URL+"/a.html"))
	require.NoError(t, err)

	require.Equal(t, 1, logs.FilterMessage("all assets cached").Len())
	deleted := logs.FilterMessage("deleting stale cache").All()
	require.Len(t, deleted, 1)
	require.Equal(t, "v0", deleted[0].ContextMap()["cache"])
	served := logs.FilterMessage("serving from cache").All()
	require.Len(t, served, 1)
	require.Equal(t, origin.URL+"/a.html", served[0].ContextMap()["url"])
	require.Equal(t, "worker", served[0].LoggerName)

	var order []string
	for _, e := range logs.All() {
		switch e.Message {
		case "activated and ready to handle requests", "deleting stale cache":
			order = append(order, e.Message)
		}
	}
	require.Equal(t, []string{"activated and ready to handle requests", "deleting stale cache"}, order)
}

func TestMetricsObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetricsObserver(reg)
	require.NoError(t, err)

	origin := newTestOrigin(t, map[string]string{"/a.html": "A"})
	w := newTestWorker(t, "v1", origin.url(t), []string{"/a.html"}, NewMemoryStorage(), m)
	require.NoError(t, w.Install(context.Background(), nil))
	require.NoError(t, w.Activate(context.Background(), nil))

	for _, path := range []string{"/a.html", "/a.html", "/b.html"} {
		_, err := w.Fetch(context.Background(), getRequest(t, origin.URL+path))
		require.NoError(t, err)
	}

	require.Equal(t, 1.0, testutil.ToFloat64(m.installs.WithLabelValues("v1", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.active.WithLabelValues("v1")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("cache")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("network")))

	_, err = NewMetricsObserver(reg)
	require.Error(t, err)
}

func TestObserversFanOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	origin, _ := url.Parse("http://example.com/")
	w, err := NewWorker(WorkerConfig{
		CacheName: "v1",
		Origin:    origin,
		Storage:   NewMemoryStorage(),
		Fetcher: FetcherFunc(func(context.Context, *http.Request) (Page, error) {
			return Page{}, errors.New("offline")
		}),
		Observer: Observers(a, b),
	})
	require.NoError(t, err)

	_, err = w.Fetch(context.Background(), getRequest(t, "http://example.com/x"))
	require.Error(t, err)
	require.Equal(t, a.fetchFailed, b.fetchFailed)
	require.Len(t, a.fetchFailed, 1)
}
