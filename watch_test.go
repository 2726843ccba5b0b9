package gallows

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// awaitReload keeps rewriting path with contents until onChange reports a
// config with the wanted cache name. Writes are repeated because the
// watcher may not be registered yet, and truncation can surface
// intermediate states.
func awaitReload(t *testing.T, changes <-chan Config, path, want string, contents ...string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		for _, c := range contents {
			require.NoError(t, os.WriteFile(path, []byte(c), 0o644))
		}
		tick := time.After(50 * time.Millisecond)
	drain:
		for {
			select {
			case cfg := <-changes:
				if cfg.CacheName == want {
					return
				}
				require.NotEmpty(t, cfg.CacheName)
			case <-tick:
				break drain
			case <-deadline:
				t.Fatalf("no reload to %s observed", want)
			}
		}
	}
}

func watchInto(ctx context.Context, path string) (<-chan Config, <-chan error) {
	changes := make(chan Config, 64)
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, path, zap.NewNop(), func(cfg Config) {
			select {
			case changes <- cfg:
			default:
			}
		})
	}()
	return changes, done
}

func TestWatchConfigReloads(t *testing.T) {
	path := writeConfig(t, "cache_name: gallows-cache-v1\n")
	ctx, cancel := context.WithCancel(context.Background())
	changes, done := watchInto(ctx, path)

	awaitReload(t, changes, path, "gallows-cache-v2", "cache_name: gallows-cache-v2\n")

	cancel()
	require.NoError(t, <-done)
}

func TestWatchConfigSkipsInvalid(t *testing.T) {
	path := writeConfig(t, "cache_name: gallows-cache-v1\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, _ := watchInto(ctx, path)

	awaitReload(t, changes, path, "gallows-cache-v3",
		"cache_name: ''\n",
		"cache_name: gallows-cache-v3\n")
}
