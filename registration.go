package gallows

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Registration drives the lifecycle of the workers registered for one
// origin and routes intercepted requests to the worker controlling it.
type Registration struct {
	origin  *url.URL
	network Fetcher
	log     *zap.Logger

	// lifecycle serializes Register and Promote.
	lifecycle sync.Mutex

	mu         sync.RWMutex
	active     *Worker
	waiting    *Worker
	controller *Worker
}

func NewRegistration(origin *url.URL, network Fetcher, log *zap.Logger) *Registration {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registration{origin: origin, network: network, log: log.Named("registration")}
}

// Register installs w. A failed install leaves the current active worker
// in control. A worker that skips waiting is activated before Register
// returns; otherwise it waits for Promote.
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	h := &workerHost{r: r, w: w}
	if err := w.Install(ctx, h); err != nil {
		return err
	}

	r.mu.Lock()
	r.waiting = w
	r.mu.Unlock()

	if !h.skip {
		r.log.Info("worker installed, waiting", zap.String("cache", w.CacheName()))
		return nil
	}
	return r.promote(ctx)
}

// Promote activates the waiting worker, if any.
func (r *Registration) Promote(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.promote(ctx)
}

func (r *Registration) promote(ctx context.Context) error {
	r.mu.Lock()
	w := r.waiting
	if w == nil {
		r.mu.Unlock()
		return nil
	}
	r.waiting = nil
	r.active = w
	r.mu.Unlock()

	if err := w.Activate(ctx, &workerHost{r: r, w: w}); err != nil {
		return errors.Wrapf(err, "activate %s", w.CacheName())
	}
	return nil
}

func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Controller is the worker requests are routed to, or nil when requests
// go straight to the network.
func (r *Registration) Controller() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controller
}

func (r *Registration) claim(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == w {
		r.controller = w
	}
}

func (r *Registration) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	out := req.Clone(req.Context())
	out.URL = r.origin.ResolveReference(&url.URL{
		Path:     req.URL.Path,
		RawPath:  req.URL.RawPath,
		RawQuery: req.URL.RawQuery,
	})
	out.Host = r.origin.Host
	out.RequestURI = ""

	var (
		page Page
		err  error
	)
	if w := r.Controller(); w != nil {
		page, err = w.Fetch(req.Context(), out)
	} else {
		page, err = r.network.Fetch(req.Context(), out)
	}
	if err != nil {
		http.Error(rw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	if err := page.Write(rw); err != nil {
		r.log.Debug("write response", zap.String("url", out.URL.String()), zap.Error(err))
	}
}

type workerHost struct {
	r    *Registration
	w    *Worker
	skip bool
}

func (h *workerHost) SkipWaiting() {
	h.skip = true
}

func (h *workerHost) Claim() {
	h.r.claim(h.w)
}
