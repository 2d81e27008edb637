package bundle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/log/logtest"
)

type countingMetrics struct {
	mu                  sync.Mutex
	polls, swaps, loads int
	errs                map[string]int
}

func (m *countingMetrics) IncBundlePolls() { m.mu.Lock(); m.polls++; m.mu.Unlock() }
func (m *countingMetrics) IncBundleSwaps() { m.mu.Lock(); m.swaps++; m.mu.Unlock() }
func (m *countingMetrics) IncBundleError(kind string) {
	m.mu.Lock()
	if m.errs == nil {
		m.errs = map[string]int{}
	}
	m.errs[kind]++
	m.mu.Unlock()
}
func (m *countingMetrics) ObserveBundleLoadDuration(float64) { m.mu.Lock(); m.loads++; m.mu.Unlock() }

type watcherFixture struct {
	s3      *fakeS3
	ssm     *fakeSSM
	mgr     *Manager
	metrics *countingMetrics
	spy     *logtest.Spy
	w       *Watcher
	swaps   []string
}

func newWatcherFixture(t *testing.T) *watcherFixture {
	t.Helper()
	f := &watcherFixture{s3: newFakeS3(), ssm: &fakeSSM{}, mgr: NewManager(), metrics: &countingMetrics{}, spy: logtest.New()}

	hash := storeRelease(t, f.s3, releaseFiles("1.0.0"))
	f.ssm.set(hash, nil)
	l := newTestLoader(t, f.s3, f.ssm, nil)
	snap, err := l.Load(t.Context())
	require.NoError(t, err)
	f.mgr.Set(*snap)

	f.w = NewWatcher(WatcherOptions{
		Logger:       f.spy,
		Loader:       l,
		Manager:      f.mgr,
		PollInterval: 10 * time.Millisecond,
		Metrics:      f.metrics,
		OnSwap:       func(hash, _ string) { f.swaps = append(f.swaps, hash) },
	})
	return f
}

func TestWatcher_NoChange(t *testing.T) {
	f := newWatcherFixture(t)
	require.Equal(t, pollNoChange, f.w.checkOnce(t.Context()))
	require.Equal(t, 1, f.metrics.polls)
	require.Zero(t, f.metrics.loads)
}

func TestWatcher_SwapsNewRelease(t *testing.T) {
	f := newWatcherFixture(t)
	next := storeRelease(t, f.s3, releaseFiles("2.0.0"))
	f.ssm.set(next, nil)

	require.Equal(t, pollSwapped, f.w.checkOnce(t.Context()))
	require.Equal(t, "2.0.0", f.mgr.BundleVersion())
	require.Equal(t, next, f.mgr.BundleHash())
	require.Equal(t, []string{next}, f.swaps)
	require.Equal(t, 1, f.metrics.swaps)
	require.Len(t, f.spy.Messages("bundle watcher: release swapped"), 1)

	require.Equal(t, pollNoChange, f.w.checkOnce(t.Context()))
}

func TestWatcher_RejectedReleaseKeepsCurrent(t *testing.T) {
	f := newWatcherFixture(t)
	files := releaseFiles("broken")
	delete(files, "offline.html")
	bad := storeRelease(t, f.s3, files)
	f.ssm.set(bad, nil)

	require.Equal(t, pollLoadError, f.w.checkOnce(t.Context()))
	require.Equal(t, "1.0.0", f.mgr.BundleVersion())
	require.Equal(t, 1, f.metrics.errs["load"])
}

func TestWatcher_SSMErrorBacksOff(t *testing.T) {
	f := newWatcherFixture(t)
	f.ssm.set("", errors.New("throttled"))

	require.Equal(t, pollSSMError, f.w.checkOnce(t.Context()))
	require.Equal(t, 1, f.metrics.errs["ssm"])

	f.w.interval = time.Second
	for errs, want := range map[int]time.Duration{1: 2 * time.Second, 3: 8 * time.Second, 20: maxBackoff} {
		f.w.consecutiveErrs = errs
		require.Equal(t, want, f.w.backoffDuration())
	}
}

func TestWatcher_OnSwapPanicContained(t *testing.T) {
	f := newWatcherFixture(t)
	f.w.onSwap = func(string, string) { panic("boom") }
	next := storeRelease(t, f.s3, releaseFiles("3.0.0"))
	f.ssm.set(next, nil)

	require.Equal(t, pollSwapped, f.w.checkOnce(t.Context()))
	require.Len(t, f.spy.Messages("bundle watcher: OnSwap panicked"), 1)
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	f := newWatcherFixture(t)
	next := storeRelease(t, f.s3, releaseFiles("4.0.0"))
	f.ssm.set(next, nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- f.w.Run(ctx) }()

	require.Eventually(t, func() bool { return f.mgr.BundleVersion() == "4.0.0" }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewWatcher_SeedsCurrentHash(t *testing.T) {
	f := newWatcherFixture(t)
	require.Equal(t, f.mgr.BundleHash(), f.w.currentHash)
	require.Equal(t, 10*time.Millisecond, f.w.interval)

	w := NewWatcher(WatcherOptions{Manager: NewManager()})
	require.Equal(t, DefaultPollInterval, w.interval)
	require.Empty(t, w.currentHash)
}
