package main

// Serve an origin through the Gallows offline cache worker.

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/duganchen/gallows"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "YAML config file, watched for changes")
	flag.Parse()

	cfg, err := gallows.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := gallows.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Fatal("gallows stopped", zap.Error(err))
	}
}

func run(cfg gallows.Config, configPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, closer, err := gallows.OpenStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer closer.Close()

	origin, err := cfg.OriginURL()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics, err := gallows.NewMetricsObserver(registry)
	if err != nil {
		return err
	}
	observer := gallows.Observers(gallows.NewZapObserver(logger), metrics)
	client := &http.Client{Timeout: 30 * time.Second}
	network := gallows.HTTPFetcher{Client: client}
	installer := gallows.HTTPFetcher{Client: client, FollowRedirects: true}
	reg := gallows.NewRegistration(origin, network, logger)

	deploy := func(cfg gallows.Config) error {
		assets, err := gallows.FeedAssets(ctx, installer, origin, cfg.Assets, cfg.Feeds)
		if err != nil {
			return errors.Wrap(err, "expand feeds")
		}
		w, err := gallows.NewWorker(gallows.WorkerConfig{
			CacheName:      cfg.CacheName,
			Origin:         origin,
			Assets:         assets,
			Storage:        storage,
			Fetcher:        network,
			InstallFetcher: installer,
			Observer:       observer,
		})
		if err != nil {
			return err
		}
		return reg.Register(ctx, w)
	}
	reload := newReloader(cfg, deploy, logger)

	var wg sync.WaitGroup
	if configPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gallows.WatchConfig(ctx, configPath, logger, reload.apply); err != nil {
				logger.Error("config watcher stopped", zap.Error(err))
			}
		}()
	}

	mux := http.NewServeMux()
	if cfg.MetricsPath != "" {
		mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", reg)

	srv := &http.Server{Addr: cfg.Listen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	logger.Info("listening", zap.String("addr", cfg.Listen), zap.String("origin", cfg.Origin))
	err = srv.ListenAndServe()
	stop()
	wg.Wait()
	if errors.Cause(err) == http.ErrServerClosed {
		return nil
	}
	return err
}
