// Package checksum computes the content hashes the watcher attaches to file
// events.
//
// Hashes are MD5 digests encoded in standard base64, the format the remote
// document store expects. Computation is serialized so that only one file is
// read at a time, and reads failing because the file is busy (e.g. held by
// another process on Windows) are retried with exponential backoff.
package checksum

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/maypok86/otter"
	"github.com/mvp-joe/tandem/internal/logging"
	"github.com/mvp-joe/tandem/internal/stater"
)

const (
	DefaultRetries   = 5
	DefaultBackoff   = 500 * time.Millisecond
	DefaultCacheSize = 10_000
)

// Options configures a Checksummer. Zero values pick the defaults.
type Options struct {
	Retries   int
	Backoff   time.Duration
	CacheSize int
	Logger    *slog.Logger
}

// Checksummer hashes files one at a time.
type Checksummer struct {
	mu      sync.Mutex
	cache   otter.Cache[string, string]
	retries int
	backoff time.Duration
	log     *slog.Logger

	open func(string) (io.ReadCloser, error)
}

// New creates a Checksummer.
func New(opts Options) (*Checksummer, error) {
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}

	cache, err := otter.MustBuilder[string, string](opts.CacheSize).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build checksum cache: %w", err)
	}

	return &Checksummer{
		cache:   cache,
		retries: opts.Retries,
		backoff: opts.Backoff,
		log:     logging.Component(opts.Logger, "Checksumer"),
		open: func(p string) (io.ReadCloser, error) {
			return os.Open(p)
		},
	}, nil
}

// Push returns the base64 MD5 of the file at absPath.
//
// Results are cached by path and stat identity (inode, size, mtime) so a
// file reported several times without changing is read once.
func (c *Checksummer) Push(ctx context.Context, absPath string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, err := stater.Stat(absPath)
	if err != nil {
		return "", err
	}
	key := cacheKey(absPath, stats)
	if sum, ok := c.cache.Get(key); ok {
		return sum, nil
	}

	var sum string
	for attempt := 1; ; attempt++ {
		sum, err = c.compute(absPath)
		if err == nil {
			break
		}
		if !isBusy(err) || attempt >= c.retries {
			return "", err
		}
		delay := c.backoff << attempt
		c.log.Debug("file busy, retrying checksum", "path", absPath, "attempt", attempt, "delay", delay)
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	c.cache.Set(key, sum)
	return sum, nil
}

// Close releases the cache.
func (c *Checksummer) Close() {
	c.cache.Close()
}

func (c *Checksummer) compute(absPath string) (string, error) {
	f, err := c.open(absPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Sum(f)
}

// Sum hashes everything read from r.
func Sum(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

func cacheKey(absPath string, s *stater.Stats) string {
	return fmt.Sprintf("%s|%s|%d|%d", absPath, s.Key(), s.Size, s.Mtime.UnixNano())
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrBusy is matched by isBusy in addition to the platform errors.
var ErrBusy = errors.New("resource busy")
