package bundle

import (
	"context"
	"fmt"
	"time"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
)

const (
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive SSM errors
	maxBackoff = 5 * time.Minute
)

type pollResult int

const (
	pollNoChange pollResult = iota
	pollSwapped
	pollSSMError
	pollLoadError
)

// Fetcher is what the Watcher needs from a Loader.
type Fetcher interface {
	FetchCurrentHash(ctx context.Context) (string, error)
	LoadHash(ctx context.Context, hash string) (*Snapshot, error)
}

// WatcherMetrics is implemented by the metrics package.
type WatcherMetrics interface {
	IncBundlePolls()
	IncBundleSwaps()
	IncBundleError(kind string)
	ObserveBundleLoadDuration(seconds float64)
}

type WatcherOptions struct {
	Logger       log.Logger
	Loader       Fetcher
	Manager      *Manager
	PollInterval time.Duration
	Metrics      WatcherMetrics

	// OnSwap runs on the poll goroutine after a successful swap.
	OnSwap func(hash, version string)
}

// Watcher polls SSM and swaps new releases into the Manager.
type Watcher struct {
	loader   Fetcher
	manager  *Manager
	logger   log.Logger
	interval time.Duration
	metrics  WatcherMetrics
	onSwap   func(hash, version string)

	currentHash     string
	consecutiveErrs int
	swapCount       int64
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	// seed from the manager so the first poll does not re-download the
	// release loaded at startup
	current := ""
	if snap, ok := opts.Manager.Get(); ok {
		current = snap.Hash
	}
	return &Watcher{
		loader:      opts.Loader,
		manager:     opts.Manager,
		logger:      opts.Logger,
		interval:    interval,
		metrics:     opts.Metrics,
		onSwap:      opts.OnSwap,
		currentHash: current,
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "bundle watcher starting",
		"poll_interval", w.interval.String(),
		"current_hash", cryptoutil.ShortHash(w.currentHash),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "bundle watcher stopping", "swaps", w.swapCount)
			return ctx.Err()
		case <-ticker.C:
			if w.checkOnce(ctx) == pollSSMError {
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "bundle watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", backoff.String(),
				)
				ticker.Reset(backoff)
			} else if w.consecutiveErrs > 0 {
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}
		}
	}
}

func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	if w.metrics != nil {
		w.metrics.IncBundlePolls()
	}

	hash, err := w.loader.FetchCurrentHash(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "bundle watcher: SSM poll failed")
		w.incError("ssm")
		return pollSSMError
	}
	if cryptoutil.HashEqual(hash, w.currentHash) {
		return pollNoChange
	}

	w.logger.Info(ctx, "bundle watcher: new release detected",
		"old_hash", cryptoutil.ShortHash(w.currentHash),
		"new_hash", cryptoutil.ShortHash(hash),
	)

	start := time.Now()
	snap, err := w.loader.LoadHash(ctx, hash)
	if w.metrics != nil {
		w.metrics.ObserveBundleLoadDuration(time.Since(start).Seconds())
	}
	if err != nil {
		w.logger.Error(ctx, err, "bundle watcher: release rejected, keeping current bundle",
			"rejected_hash", cryptoutil.ShortHash(hash),
			"current_hash", cryptoutil.ShortHash(w.currentHash),
		)
		w.incError("load")
		return pollLoadError
	}

	old := w.currentHash
	w.manager.Set(*snap)
	w.currentHash = hash
	w.swapCount++
	if w.metrics != nil {
		w.metrics.IncBundleSwaps()
	}
	w.logger.Info(ctx, "bundle watcher: release swapped",
		"old_hash", cryptoutil.ShortHash(old),
		"new_hash", cryptoutil.ShortHash(hash),
		"version", snap.Version,
	)

	if w.onSwap != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r), "bundle watcher: OnSwap panicked")
				}
			}()
			w.onSwap(hash, snap.Version)
		}()
	}
	return pollSwapped
}

func (w *Watcher) incError(kind string) {
	if w.metrics != nil {
		w.metrics.IncBundleError(kind)
	}
}

// backoffDuration doubles the interval per consecutive error, capped.
func (w *Watcher) backoffDuration() time.Duration {
	d := w.interval
	for i := 0; i < w.consecutiveErrs && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
