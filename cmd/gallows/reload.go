package main

import (
	"sync"

	"github.com/duganchen/gallows"
	"go.uber.org/zap"
)

// reloader registers a new worker when the config changes in a way that
// needs one. The config only counts as current once its worker registered,
// so a failed redeploy is retried on the next change event.
type reloader struct {
	mu       sync.Mutex
	current  gallows.Config
	deployed bool
	deploy   func(gallows.Config) error
	log      *zap.Logger
}

// newReloader deploys cfg straight away.
func newReloader(cfg gallows.Config, deploy func(gallows.Config) error, log *zap.Logger) *reloader {
	r := &reloader{current: cfg, deploy: deploy, log: log}
	if err := deploy(cfg); err != nil {
		log.Error("deploy worker", zap.String("cache", cfg.CacheName), zap.Error(err))
	} else {
		r.deployed = true
	}
	return r
}

func (r *reloader) apply(next gallows.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if next.Listen != r.current.Listen || next.Storage != r.current.Storage || next.Origin != r.current.Origin {
		r.log.Warn("listen, origin and storage changes need a restart")
	}
	// Those stay as they were started.
	next.Listen = r.current.Listen
	next.Storage = r.current.Storage
	next.Origin = r.current.Origin

	if r.deployed && !r.current.Redeploys(next) {
		r.current = next
		return
	}
	if err := r.deploy(next); err != nil {
		r.log.Error("deploy worker", zap.String("cache", next.CacheName), zap.Error(err))
		return
	}
	r.current = next
	r.deployed = true
}
