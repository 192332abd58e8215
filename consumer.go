package atomfeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Storage groups the persistence capabilities a Consumer needs.
// All three must share the same underlying database.
type Storage struct {
	Markers      MarkerStore
	FailedEvents FailedEventStore
	Tx           TxManager
}

// Result summarises one ProcessEvents call.
type Result struct {
	// Processed counts entries the worker handled successfully.
	Processed int
	// Failed counts entries moved to the failed-event store.
	Failed int
	// Last is the entry the marker points to after the call, nil if it did not move.
	Last *EntryRef
	// Exhausted reports that the newest entry of the feed has been read.
	Exhausted bool
}

// RetryResult summarises one ProcessFailedEvents call.
type RetryResult struct {
	Recovered int
	Failed    int
}

// Consumer reads a feed on behalf of one consumer id.
//
// Calls to ProcessEvents on the same Consumer are serialised, as are calls to
// ProcessFailedEvents; the two paths may run at the same time. Running two
// Consumers for the same feed and consumer id, in one process or several, is
// not supported unless a Locker is configured and Run is used.
type Consumer struct {
	feedURI    string
	consumerID string
	fetcher    PageFetcher
	storage    Storage
	worker     EventWorker
	cfg        ConsumerConfig

	mu      sync.Mutex
	retryMu sync.Mutex
}

// NewConsumer constructs a Consumer with defaults and optional settings.
func NewConsumer(
	feedURI, consumerID string,
	fetcher PageFetcher,
	storage Storage,
	worker EventWorker,
	opts ...ConsumerOption,
) *Consumer {
	if fetcher == nil {
		panic("atomfeed: nil PageFetcher")
	}
	if storage.Markers == nil || storage.FailedEvents == nil || storage.Tx == nil {
		panic("atomfeed: incomplete Storage")
	}
	if worker == nil {
		panic("atomfeed: nil EventWorker")
	}

	var cfg ConsumerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Consumer{
		feedURI:    feedURI,
		consumerID: consumerID,
		fetcher:    fetcher,
		storage:    storage,
		worker:     worker,
		cfg:        cfg.withDefaults(),
	}
}

// FeedURI returns the feed this consumer reads.
func (c *Consumer) FeedURI() string {
	return c.feedURI
}

// ConsumerID returns the id under which the marker is stored.
func (c *Consumer) ConsumerID() string {
	return c.consumerID
}

// ProcessEvents reads unprocessed entries, up to the configured batch size.
//
// Worker failures do not stop the cycle: the event is stored as a failed event
// and the marker moves on. Transport, parse and storage errors end the cycle
// and are returned; entries committed before the error stay committed.
func (c *Consumer) ProcessEvents(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	defer func() {
		c.cfg.Metrics.ObserveCycleDuration(time.Since(start))
	}()

	var res Result
	marker, err := c.storage.Markers.Get(ctx, c.feedURI, c.consumerID)
	if err != nil {
		return res, fmt.Errorf("atomfeed: load marker: %w", err)
	}

	traversal := NewTraversal(c.fetcher, c.feedURI, marker)
	for res.Processed+res.Failed < c.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		entry, ok, err := traversal.Next(ctx)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Exhausted = true

			break
		}

		failed, err := c.processEntry(ctx, entry)
		if err != nil {
			return res, err
		}
		ref := entry.Ref
		res.Last = &ref
		if failed {
			res.Failed++
			c.cfg.Metrics.AddFailed(1)

			continue
		}
		res.Processed++
		c.cfg.Metrics.AddProcessed(1)
	}

	return res, nil
}

// processEntry runs the worker for entry and reports whether it failed.
func (c *Consumer) processEntry(ctx context.Context, entry Entry) (bool, error) {
	var workErr error
	err := c.storage.Tx.RunInTransaction(ctx, PropagationRequired, func(txCtx context.Context) error {
		if err := c.runWorker(txCtx, entry.Event); err != nil {
			workErr = err

			return err
		}

		return c.storage.Markers.Advance(txCtx, c.feedURI, c.consumerID, entry.Ref)
	})
	if workErr != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		return true, c.recordFailure(ctx, entry, workErr)
	}
	if err != nil {
		return false, fmt.Errorf("atomfeed: commit event %s: %w", entry.ID, err)
	}

	stale := FailedEvent{FeedURI: c.feedURI, Event: entry.Event}
	if err := c.storage.FailedEvents.Remove(ctx, stale); err != nil {
		c.cfg.Logger.Warn("atomfeed failed event cleanup failed", "feed", c.feedURI, "event", entry.ID, "err", err)
	}

	return false, nil
}

func (c *Consumer) recordFailure(ctx context.Context, entry Entry, workErr error) error {
	c.reportFailure(ctx, entry.Event, workErr)

	failed := FailedEvent{
		FeedURI:      c.feedURI,
		Event:        entry.Event,
		ErrorMessage: TruncateErrorMessage(workErr.Error()),
		FailedAt:     c.cfg.Clock.Now(),
	}
	err := c.storage.Tx.RunInTransaction(ctx, PropagationRequiresNew, func(txCtx context.Context) error {
		if err := c.storage.FailedEvents.AddOrUpdate(txCtx, failed); err != nil {
			return err
		}

		return c.storage.Markers.Advance(txCtx, c.feedURI, c.consumerID, entry.Ref)
	})
	if err != nil {
		return fmt.Errorf("atomfeed: record failure of event %s: %w", entry.ID, err)
	}

	return nil
}

// ProcessFailedEvents retries the oldest failed events of the feed.
//
// A successful retry deletes the record in the worker's transaction. A failed
// retry rewrites the record with the new error and the current time, which
// moves it behind the other records.
func (c *Consumer) ProcessFailedEvents(ctx context.Context) (RetryResult, error) {
	c.retryMu.Lock()
	defer c.retryMu.Unlock()

	var res RetryResult
	failedEvents, err := c.storage.FailedEvents.Oldest(ctx, c.feedURI, c.cfg.RetryBatchSize)
	if err != nil {
		return res, fmt.Errorf("atomfeed: load failed events: %w", err)
	}

	for _, failed := range failedEvents {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		recovered, err := c.retry(ctx, failed)
		if err != nil {
			return res, err
		}
		if recovered {
			res.Recovered++
			c.cfg.Metrics.AddRecovered(1)

			continue
		}
		res.Failed++
		c.cfg.Metrics.AddRetryFailed(1)
	}

	count, err := c.storage.FailedEvents.Count(ctx, c.feedURI)
	if err != nil {
		c.cfg.Logger.Warn("atomfeed failed event count failed", "feed", c.feedURI, "err", err)

		return res, nil
	}
	c.cfg.Metrics.SetFailedBacklog(count)

	return res, nil
}

func (c *Consumer) retry(ctx context.Context, failed FailedEvent) (bool, error) {
	var workErr error
	err := c.storage.Tx.RunInTransaction(ctx, PropagationRequired, func(txCtx context.Context) error {
		if err := c.runWorker(txCtx, failed.Event); err != nil {
			workErr = err

			return err
		}

		return c.storage.FailedEvents.Remove(txCtx, failed)
	})
	if workErr == nil {
		if err != nil {
			return false, fmt.Errorf("atomfeed: commit retry of event %s: %w", failed.EventID(), err)
		}

		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	c.reportFailure(ctx, failed.Event, workErr)
	failed.ErrorMessage = TruncateErrorMessage(workErr.Error())
	failed.FailedAt = c.cfg.Clock.Now()
	failed.Retries++
	err = c.storage.Tx.RunInTransaction(ctx, PropagationRequiresNew, func(txCtx context.Context) error {
		return c.storage.FailedEvents.AddOrUpdate(txCtx, failed)
	})
	if err != nil {
		return false, fmt.Errorf("atomfeed: record retry failure of event %s: %w", failed.EventID(), err)
	}

	return false, nil
}

func (c *Consumer) runWorker(ctx context.Context, event Event) (err error) {
	if c.cfg.WorkerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.WorkerTimeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
		}
	}()

	return c.worker.Process(ctx, event)
}

func (c *Consumer) reportFailure(ctx context.Context, event Event, err error) {
	perr := &ProcessingError{FeedURI: c.feedURI, EventID: event.ID, Err: err}
	c.cfg.Logger.Warn("atomfeed event processing failed", "feed", c.feedURI, "consumer", c.consumerID, "event", event.ID, "err", err)
	if c.cfg.ErrorHandler != nil {
		c.cfg.ErrorHandler(ctx, perr)
	}
}

// Run polls the feed and retries failed events until the context is canceled.
//
// Transport and parse errors are logged and the next poll is attempted;
// any other error stops Run and is returned.
func (c *Consumer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loops := []func(context.Context) error{c.pollLoop}
	if c.cfg.RetryInterval > 0 {
		loops = append(loops, c.retryLoop)
	}

	errCh := make(chan error, len(loops))
	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func(loop func(context.Context) error) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					c.cfg.Logger.Error("atomfeed consumer panic", "feed", c.feedURI, "panic", rec)
					errCh <- fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
					cancel()
				}
			}()

			if err := loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.cfg.Logger.Error("atomfeed consumer stopped", "feed", c.feedURI, "err", err)
				errCh <- err
				cancel()
			}
		}(loop)
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}

	return nil
}

func (c *Consumer) pollLoop(ctx context.Context) error {
	for {
		res, err := c.locked(ctx, "events", func() (Result, error) {
			return c.ProcessEvents(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !isFeedError(err) {
				return err
			}
			c.cfg.Logger.Warn("atomfeed feed read failed", "feed", c.feedURI, "err", err)
		}
		if res.Processed+res.Failed > 0 {
			c.cfg.Logger.Debug("atomfeed events processed", "feed", c.feedURI, "processed", res.Processed, "failed", res.Failed)
		}
		if err == nil && !res.Exhausted && res.Processed+res.Failed > 0 {
			continue
		}
		if err := sleep(ctx, c.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (c *Consumer) retryLoop(ctx context.Context) error {
	for {
		if err := sleep(ctx, c.cfg.RetryInterval); err != nil {
			return err
		}
		res, err := c.locked(ctx, "retry", func() (Result, error) {
			retried, err := c.ProcessFailedEvents(ctx)

			return Result{Processed: retried.Recovered, Failed: retried.Failed}, err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return err
		}
		if res.Processed+res.Failed > 0 {
			c.cfg.Logger.Info("atomfeed failed events retried", "feed", c.feedURI, "recovered", res.Processed, "failed", res.Failed)
		}
	}
}

// locked runs fn while holding the consumer lock, if a Locker is configured.
// A lock held elsewhere skips the cycle.
func (c *Consumer) locked(ctx context.Context, path string, fn func() (Result, error)) (Result, error) {
	if c.cfg.Locker == nil {
		return fn()
	}

	release, ok, err := c.cfg.Locker.TryLock(ctx, c.lockName(path))
	if err != nil {
		return Result{}, err
	}
	if !ok {
		c.cfg.Logger.Debug("atomfeed consumer lock held by another session", "feed", c.feedURI, "consumer", c.consumerID)

		return Result{Exhausted: true}, nil
	}
	defer release()

	return fn()
}

func (c *Consumer) lockName(path string) string {
	return "atomfeed:" + path + ":" + c.consumerID + ":" + c.feedURI
}

func isFeedError(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrParse) || errors.Is(err, ErrPageCycle) ||
		errors.Is(err, ErrMarkerNotFound)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
