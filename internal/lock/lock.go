package lock

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mroshb/trivia_bot/internal/metrics"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"github.com/mroshb/trivia_bot/pkg/logger"
)

// LeaseStore is the durable side of the lock: a named lease with an owner.
type LeaseStore interface {
	TryAcquire(ctx context.Context, name, owner string, lease time.Duration) (bool, error)
	Extend(ctx context.Context, name, owner string, lease time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

type Options struct {
	// Lease is how long a lease lives without a heartbeat.
	Lease time.Duration
	// RetryInterval is the fixed pause between acquisition attempts.
	RetryInterval time.Duration
	// Wait bounds the total time spent acquiring.
	Wait time.Duration
}

func DefaultOptions() Options {
	return Options{
		Lease:         10 * time.Second,
		RetryInterval: 250 * time.Millisecond,
		Wait:          10 * time.Second,
	}
}

// Client runs functions under named leased locks.
type Client struct {
	store   LeaseStore
	opts    Options
	metrics *metrics.Metrics
}

func NewClient(store LeaseStore, opts Options, m *metrics.Metrics) *Client {
	if opts.Lease <= 0 || opts.RetryInterval <= 0 || opts.Wait <= 0 {
		opts = DefaultOptions()
	}
	return &Client{store: store, opts: opts, metrics: m}
}

var errBusy = stderrors.New("lock busy")

// WithLock acquires name with bounded retry, runs fn while keeping the lease
// alive, and releases it on every exit path. If the lock cannot be acquired
// within the wait budget the returned error matches errors.ErrLockNotAcquired
// and fn is not run.
func (c *Client) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	owner := uuid.NewString()
	domain := Domain(name)

	start := time.Now()
	if err := c.acquire(ctx, name, owner); err != nil {
		c.metrics.LockFailure(domain)
		logger.Warn("Lock not acquired", "lock", name, "waited", time.Since(start), "error", err)
		return err
	}
	waited := time.Since(start)
	c.metrics.LockWait(domain, waited)
	logger.Debug("Lock acquired", "lock", name, "waited", waited)

	stop := make(chan struct{})
	done := make(chan struct{})
	go c.heartbeat(context.WithoutCancel(ctx), name, owner, stop, done)

	defer func() {
		close(stop)
		<-done
		if err := c.store.Release(context.WithoutCancel(ctx), name, owner); err != nil {
			logger.Error("Failed to release lock", "lock", name, "error", err)
		}
	}()

	return fn(ctx)
}

func (c *Client) acquire(ctx context.Context, name, owner string) error {
	retries := uint64(c.opts.Wait / c.opts.RetryInterval)
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryInterval), retries),
		ctx,
	)

	err := backoff.Retry(func() error {
		ok, err := c.store.TryAcquire(ctx, name, owner, c.opts.Lease)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errBusy
		}
		return nil
	}, policy)
	if err == nil {
		return nil
	}
	if stderrors.Is(err, errBusy) || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrCodeLockNotAcquired, "could not acquire lock "+name)
	}
	return err
}

func (c *Client) heartbeat(ctx context.Context, name, owner string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.opts.Lease / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ok, err := c.store.Extend(ctx, name, owner, c.opts.Lease)
			if err != nil {
				logger.Error("Failed to extend lock", "lock", name, "error", err)
				continue
			}
			if !ok {
				logger.Warn("Lock lease lost while held", "lock", name)
				return
			}
		}
	}
}

// Domain is the metrics label of a lock name: "session" for gamestate locks,
// "question" for per-message locks.
func Domain(name string) string {
	if strings.HasSuffix(name, ".gamestate") {
		return "session"
	}
	return "question"
}
