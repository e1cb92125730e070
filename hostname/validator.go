// Package hostname decides whether a target host may be forwarded to. Names
// are checked against a cached list of top-level domains that is refreshed
// from the IANA registry once it expires.
package hostname

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"corsgate/failure"
	"corsgate/logging"
	"corsgate/metrics"

	"golang.org/x/net/idna"
	"golang.org/x/time/rate"
)

// ErrRefreshThrottled is returned while a failed refresh is waiting out its
// retry interval.
var ErrRefreshThrottled = errors.New("TLD refresh throttled after a recent failure")

// Default settings of a Validator.
const (
	DefaultTTL           = 24 * time.Hour
	DefaultRetryInterval = 30 * time.Second
	DefaultFetchTimeout  = 10 * time.Second
)

// snapshot is an immutable TLD set. It is replaced, never modified.
type snapshot struct {
	labels  map[string]struct{}
	expires time.Time
}

func newSnapshot(labels []string, expires time.Time) *snapshot {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[strings.ToLower(l)] = struct{}{}
	}
	return &snapshot{labels: set, expires: expires}
}

// fresh reports whether s can answer lookups without a refresh.
func (s *snapshot) fresh(now time.Time) bool {
	return s != nil && len(s.labels) > 0 && now.Before(s.expires)
}

// Validator holds the TLD cache. It is safe for concurrent use.
type Validator struct {
	fetcher Fetcher
	store   SnapshotStore
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	timeout time.Duration

	current atomic.Pointer[snapshot]

	mu         sync.Mutex // guards inflight, retry and lastFailed
	inflight   *flight
	retry      *rate.Limiter
	lastFailed bool
}

// flight is one refresh shared by every caller that asked for it while it ran.
type flight struct {
	done chan struct{}
	err  error
}

// Option customises a Validator.
type Option func(*Validator)

// WithTTL sets how long a fetched list stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(v *Validator) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

// WithRetryInterval sets the minimum delay between attempts after a failed
// refresh. Zero disables throttling.
func WithRetryInterval(interval time.Duration) Option {
	return func(v *Validator) {
		v.retry = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// WithFetchTimeout bounds a whole refresh, shared store included. Zero
// leaves it to the fetcher.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(v *Validator) {
		v.timeout = timeout
	}
}

// WithStore shares fetched lists through store.
func WithStore(store SnapshotStore) Option {
	return func(v *Validator) {
		v.store = store
	}
}

// WithLogger sets the logger used for refresh events.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator returns a Validator with an empty cache. The first lookup of
// a name triggers the initial fetch.
//
// Parameters:
// - fetcher: Where the TLD list is downloaded from.
// - opts: Optional settings.
//
// Returns:
// - *Validator: The validator.
func NewValidator(fetcher Fetcher, opts ...Option) *Validator {
	v := &Validator{
		fetcher: fetcher,
		ttl:     DefaultTTL,
		now:     time.Now,
		timeout: DefaultFetchTimeout,
		logger:  logging.GetLogger(),
		retry:   rate.NewLimiter(rate.Every(DefaultRetryInterval), 1),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// IsAcceptable reports whether host may be forwarded to. IP literals are
// always acceptable. Names need at least one dot and a final label present
// in the TLD list. It never fails: refresh problems are logged and an empty
// cache rejects every name.
//
// Parameters:
// - ctx: Bounds the wait for a refresh triggered by the lookup.
// - host: The host part of the target URL, IPv6 brackets allowed.
//
// Returns:
// - bool: True if the host is acceptable.
func (v *Validator) IsAcceptable(ctx context.Context, host string) bool {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return false
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return true
	}

	if err := v.RefreshIfExpired(ctx); err != nil {
		logging.LogFailure(ctx, v.logger, "TLD list unavailable, using cached list", err)
	}

	dot := strings.LastIndexByte(host, '.')
	if dot < 0 {
		return false
	}
	tld, err := idna.ToASCII(strings.ToLower(host[dot+1:]))
	if err != nil || tld == "" {
		return false
	}

	s := v.current.Load()
	if s == nil {
		return false
	}
	_, ok := s.labels[strings.ToLower(tld)]
	return ok
}

// RefreshIfExpired refreshes the cache when it is empty or expired. When
// several callers find it stale at once they share a single refresh. The
// refresh runs detached from ctx, so a caller that gives up neither cancels
// it nor counts as a failed attempt; ctx only bounds the wait.
//
// Parameters:
// - ctx: Bounds how long the caller waits for the refresh.
//
// Returns:
// - error: A *failure.RefreshError, ErrRefreshThrottled or ctx's error. The previous list stays in place.
func (v *Validator) RefreshIfExpired(ctx context.Context) error {
	if v.current.Load().fresh(v.now()) {
		return nil
	}

	v.mu.Lock()
	now := v.now()
	if v.current.Load().fresh(now) {
		v.mu.Unlock()
		return nil
	}
	f := v.inflight
	if f == nil {
		if v.lastFailed && !v.retry.AllowN(now, 1) {
			v.mu.Unlock()
			metrics.RecordTLDRefresh("throttled", 0)
			return ErrRefreshThrottled
		}
		f = v.startLocked(ctx, true)
	}
	v.mu.Unlock()
	return v.wait(ctx, f)
}

// Refresh downloads the list regardless of the cached one's expiry. A
// refresh already in progress is joined instead.
func (v *Validator) Refresh(ctx context.Context) error {
	v.mu.Lock()
	f := v.inflight
	if f == nil {
		f = v.startLocked(ctx, false)
	}
	v.mu.Unlock()
	return v.wait(ctx, f)
}

// startLocked launches a refresh. v.mu must be held.
func (v *Validator) startLocked(ctx context.Context, useStore bool) *flight {
	f := &flight{done: make(chan struct{})}
	v.inflight = f

	ctx = context.WithoutCancel(ctx)
	go func() {
		if v.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, v.timeout)
			defer cancel()
		}
		err := v.refresh(ctx, useStore)

		v.mu.Lock()
		v.lastFailed = err != nil
		if err != nil {
			// Consume the token so the next attempt waits a full interval.
			v.retry.AllowN(v.now(), 1)
		}
		v.inflight = nil
		f.err = err
		v.mu.Unlock()
		close(f.done)
	}()
	return f
}

// wait blocks until f completes or ctx is done.
func (v *Validator) wait(ctx context.Context, f *flight) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		select {
		case <-f.done:
			return f.err
		default:
			return ctx.Err()
		}
	}
}

// refresh replaces the snapshot. With useStore the shared store is consulted
// before the source.
func (v *Validator) refresh(ctx context.Context, useStore bool) error {
	now := v.now()

	if useStore && v.store != nil {
		labels, remaining, err := v.store.Load(ctx)
		switch {
		case err == nil && len(labels) > 0:
			v.current.Store(newSnapshot(labels, now.Add(remaining)))
			metrics.RecordTLDRefresh("shared", len(labels))
			v.logger.Debug("Adopted shared TLD list", slog.Int("count", len(labels)), slog.Duration("remaining", remaining))
			return nil
		case err != nil && !errors.Is(err, ErrNoSnapshot):
			v.logger.Warn("Failed to read shared TLD list", slog.Any("error", err))
		}
	}

	labels, err := v.fetcher.Fetch(ctx)
	if err != nil {
		metrics.RecordTLDRefresh("failed", 0)
		return &failure.RefreshError{Source: v.fetcher.Source(), Err: err}
	}

	expires := now.Add(v.ttl)
	v.current.Store(newSnapshot(labels, expires))
	metrics.RecordTLDRefresh("fetched", len(labels))
	v.logger.Log(ctx, logging.LevelNotice, "TLD list refreshed",
		slog.String("source", v.fetcher.Source()),
		slog.Int("count", len(labels)),
		slog.Time("expires", expires),
	)

	if v.store != nil {
		if err := v.store.Save(ctx, labels, v.ttl); err != nil {
			v.logger.Warn("Failed to share TLD list", slog.Any("error", err))
		}
	}
	return nil
}

// Size returns the number of labels in the current snapshot.
func (v *Validator) Size() int {
	if s := v.current.Load(); s != nil {
		return len(s.labels)
	}
	return 0
}

// Expires returns the expiry of the current snapshot, zero when empty.
func (v *Validator) Expires() time.Time {
	if s := v.current.Load(); s != nil {
		return s.expires
	}
	return time.Time{}
}
