package gallows

import (
	"go.uber.org/zap"
)

// Observer receives worker lifecycle and request events. Implementations
// must be safe for concurrent use.
type Observer interface {
	Installing(cache string)
	Opened(cache string, assets int)
	Installed(cache string)
	InstallFailed(cache string, err error)
	Activated(cache string)
	Deleting(stale string)
	DeleteFailed(stale string, err error)
	Claimed(cache string)
	ServedFromCache(url string)
	FetchingFromNetwork(url string)
	FetchFailed(url string, err error)
}

type nopObserver struct{}

// NopObserver discards every event.
var NopObserver Observer = nopObserver{}

func (nopObserver) Installing(string)           {}
func (nopObserver) Opened(string, int)          {}
func (nopObserver) Installed(string)            {}
func (nopObserver) InstallFailed(string, error) {}
func (nopObserver) Activated(string)            {}
func (nopObserver) Deleting(string)             {}
func (nopObserver) DeleteFailed(string, error)  {}
func (nopObserver) Claimed(string)              {}
func (nopObserver) ServedFromCache(string)      {}
func (nopObserver) FetchingFromNetwork(string)  {}
func (nopObserver) FetchFailed(string, error)   {}

// ZapObserver logs events.
type ZapObserver struct {
	log *zap.Logger
}

func NewZapObserver(log *zap.Logger) *ZapObserver {
	return &ZapObserver{log: log.Named("worker")}
}

func (o *ZapObserver) Installing(cache string) {
	o.log.Info("installing", zap.String("cache", cache))
}

func (o *ZapObserver) Opened(cache string, assets int) {
	o.log.Info("cache opened, storing static assets",
		zap.String("cache", cache), zap.Int("assets", assets))
}

func (o *ZapObserver) Installed(cache string) {
	o.log.Info("all assets cached", zap.String("cache", cache))
}

func (o *ZapObserver) InstallFailed(cache string, err error) {
	o.log.Error("install failed", zap.String("cache", cache), zap.Error(err))
}

func (o *ZapObserver) Activated(cache string) {
	o.log.Info("activated and ready to handle requests", zap.String("cache", cache))
}

func (o *ZapObserver) Deleting(stale string) {
	o.log.Info("deleting stale cache", zap.String("cache", stale))
}

func (o *ZapObserver) DeleteFailed(stale string, err error) {
	o.log.Warn("could not delete stale cache", zap.String("cache", stale), zap.Error(err))
}

func (o *ZapObserver) Claimed(cache string) {
	o.log.Debug("claimed clients", zap.String("cache", cache))
}

func (o *ZapObserver) ServedFromCache(url string) {
	o.log.Debug("serving from cache", zap.String("url", url))
}

func (o *ZapObserver) FetchingFromNetwork(url string) {
	o.log.Debug("not in cache, fetching from network", zap.String("url", url))
}

func (o *ZapObserver) FetchFailed(url string, err error) {
	o.log.Error("request failed", zap.String("url", url), zap.Error(err))
}

type multiObserver []Observer

// Observers fans each event out to every observer in order.
func Observers(obs ...Observer) Observer {
	return multiObserver(obs)
}

func (m multiObserver) Installing(cache string) {
	for _, o := range m {
		o.Installing(cache)
	}
}

func (m multiObserver) Opened(cache string, assets int) {
	for _, o := range m {
		o.Opened(cache, assets)
	}
}

func (m multiObserver) Installed(cache string) {
	for _, o := range m {
		o.Installed(cache)
	}
}

func (m multiObserver) InstallFailed(cache string, err error) {
	for _, o := range m {
		o.InstallFailed(cache, err)
	}
}

func (m multiObserver) Activated(cache string) {
	for _, o := range m {
		o.Activated(cache)
	}
}

func (m multiObserver) Deleting(stale string) {
	for _, o := range m {
		o.Deleting(stale)
	}
}

func (m multiObserver) DeleteFailed(stale string, err error) {
	for _, o := range m {
		o.DeleteFailed(stale, err)
	}
}

func (m multiObserver) Claimed(cache string) {
	for _, o := range m {
		o.Claimed(cache)
	}
}

func (m multiObserver) ServedFromCache(url string) {
	for _, o := range m {
		o.ServedFromCache(url)
	}
}

func (m multiObserver) FetchingFromNetwork(url string) {
	for _, o := range m {
		o.FetchingFromNetwork(url)
	}
}

func (m multiObserver) FetchFailed(url string, err error) {
	for _, o := range m {
		o.FetchFailed(url, err)
	}
}
