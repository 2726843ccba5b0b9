package gallows

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidConfig wraps every configuration problem found at construction.
var ErrInvalidConfig = errors.New("gallows: invalid configuration")

// Host is the lifecycle surface a worker signals back to.
type Host interface {
	// SkipWaiting asks to become active without waiting for old clients.
	SkipWaiting()
	// Claim takes control of in-scope clients without a reload.
	Claim()
}

// InstallError names the asset that made an install fail.
type InstallError struct {
	Cache string
	Asset string
	Err   error
}

func (e *InstallError) Error() string {
	if e.Asset == "" {
		return fmt.Sprintf("install %s: %v", e.Cache, e.Err)
	}
	return fmt.Sprintf("install %s: asset %s: %v", e.Cache, e.Asset, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }
func (e *InstallError) Cause() error  { return e.Err }

type WorkerConfig struct {
	// CacheName is the version tag of the bucket this worker owns.
	CacheName string
	// Origin is what relative asset paths resolve against.
	Origin  *url.URL
	Assets  []string
	Storage CacheStorage
	// Fetcher serves cache misses; its responses are returned unmodified.
	Fetcher Fetcher
	// InstallFetcher fetches assets during install. Defaults to Fetcher.
	InstallFetcher Fetcher
	Observer       Observer
}

// Worker pre-caches a fixed asset list on install, removes other versions'
// buckets on activate and answers requests cache-first.
type Worker struct {
	cacheName string
	origin    *url.URL
	assets    []string
	storage   CacheStorage
	fetcher   Fetcher
	installer Fetcher
	observe   Observer
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.CacheName == "" {
		return nil, errors.Wrap(ErrInvalidConfig, "cache name is empty")
	}
	if cfg.Origin == nil || !cfg.Origin.IsAbs() {
		return nil, errors.Wrap(ErrInvalidConfig, "origin must be an absolute URL")
	}
	if cfg.Storage == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "no cache storage")
	}
	if cfg.Fetcher == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "no fetcher")
	}
	obs := cfg.Observer
	if obs == nil {
		obs = NopObserver
	}
	installer := cfg.InstallFetcher
	if installer == nil {
		installer = cfg.Fetcher
	}
	assets := make([]string, len(cfg.Assets))
	copy(assets, cfg.Assets)

	return &Worker{
		cacheName: cfg.CacheName,
		origin:    cfg.Origin,
		assets:    assets,
		storage:   cfg.Storage,
		fetcher:   cfg.Fetcher,
		installer: installer,
		observe:   obs,
	}, nil
}

func (w *Worker) CacheName() string {
	return w.cacheName
}

func (w *Worker) Assets() []string {
	out := make([]string, len(w.assets))
	copy(out, w.assets)
	return out
}

// Install opens the worker's bucket and stores every asset in it. Assets
// are fetched concurrently; the first failure cancels the rest and nothing
// is stored. On success the host is told to skip waiting.
func (w *Worker) Install(ctx context.Context, host Host) error {
	w.observe.Installing(w.cacheName)

	err := w.install(ctx)
	if err != nil {
		w.observe.InstallFailed(w.cacheName, err)
		return err
	}

	w.observe.Installed(w.cacheName)
	if host != nil {
		host.SkipWaiting()
	}
	return nil
}

func (w *Worker) install(ctx context.Context) error {
	requests, err := w.assetRequests(ctx)
	if err != nil {
		return err
	}

	bucket, err := w.storage.Open(ctx, w.cacheName)
	if err != nil {
		return &InstallError{Cache: w.cacheName, Err: err}
	}
	w.observe.Opened(w.cacheName, len(requests))

	pages := make([]Page, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		g.Go(func() error {
			page, err := w.installer.Fetch(gctx, req.WithContext(gctx))
			if err != nil {
				return &InstallError{Cache: w.cacheName, Asset: req.URL.String(), Err: err}
			}
			if !page.OK() {
				return &InstallError{
					Cache: w.cacheName,
					Asset: req.URL.String(),
					Err:   errors.Errorf("bad response status %d", page.Status),
				}
			}
			page.Method = http.MethodGet
			page.URL = pageKey(req.URL)
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := bucket.AddAll(ctx, pages); err != nil {
		return &InstallError{Cache: w.cacheName, Err: err}
	}
	return nil
}

func (w *Worker) assetRequests(ctx context.Context) ([]*http.Request, error) {
	seen := make(map[string]bool, len(w.assets))
	requests := make([]*http.Request, 0, len(w.assets))
	for _, asset := range w.assets {
		ref, err := url.Parse(asset)
		if err != nil {
			return nil, &InstallError{Cache: w.cacheName, Asset: asset, Err: err}
		}
		u := w.origin.ResolveReference(ref)
		key := pageKey(u)
		if seen[key] {
			return nil, &InstallError{Cache: w.cacheName, Asset: asset, Err: errors.New("duplicate asset")}
		}
		seen[key] = true

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, &InstallError{Cache: w.cacheName, Asset: asset, Err: err}
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// Activate reports activation, deletes every bucket not named after this
// worker's cache, then claims the host's clients. Deletions run concurrently; one that fails is
// reported to the observer and otherwise ignored.
func (w *Worker) Activate(ctx context.Context, host Host) error {
	w.observe.Activated(w.cacheName)

	names, err := w.storage.Keys(ctx)
	if err != nil {
		return errors.Wrap(err, "list caches")
	}

	var g errgroup.Group
	for _, name := range names {
		if name == w.cacheName {
			continue
		}
		g.Go(func() error {
			w.observe.Deleting(name)
			if _, err := w.storage.Delete(ctx, name); err != nil {
				w.observe.DeleteFailed(name, err)
			}
			return nil
		})
	}
	g.Wait()

	if host != nil {
		host.Claim()
		w.observe.Claimed(w.cacheName)
	}
	return nil
}

// Fetch answers req from any bucket, falling back to one network request
// on a miss. Network responses are never written to the cache.
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (Page, error) {
	target := req.URL.String()

	page, err := w.storage.Match(ctx, req)
	if err == nil {
		w.observe.ServedFromCache(target)
		return page, nil
	}
	if !errors.Is(err, ErrNotFound) {
		w.observe.FetchFailed(target, err)
		return Page{}, errors.Wrapf(err, "match %s", target)
	}

	w.observe.FetchingFromNetwork(target)
	page, err = w.fetcher.Fetch(ctx, req)
	if err != nil {
		w.observe.FetchFailed(target, err)
		return Page{}, err
	}
	return page, nil
}
