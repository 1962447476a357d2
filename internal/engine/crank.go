package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"optionclear/internal/domain"
)

// ExpiryCrank periodically sweeps the registry for options past their
// exercise window and batch-expires them. Anyone could run this
// off-process; the built-in crank just saves them the trouble.
type ExpiryCrank struct {
	house        *Clearinghouse
	pollInterval time.Duration
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewExpiryCrank creates a crank over the clearinghouse.
func NewExpiryCrank(house *Clearinghouse, pollInterval time.Duration) *ExpiryCrank {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &ExpiryCrank{house: house, pollInterval: pollInterval}
}

// Start begins the sweep loop in its own goroutine.
func (k *ExpiryCrank) Start(ctx context.Context) {
	ctx, k.cancel = context.WithCancel(ctx)
	k.wg.Add(1)
	go k.run(ctx)
}

func (k *ExpiryCrank) run(ctx context.Context) {
	defer k.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			k.house.DumpState("panic_dump.json")
			panic(r)
		}
	}()

	ticker := time.NewTicker(k.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Expiry crank stopping...")
			return
		case <-ticker.C:
			k.sweep()
		}
	}
}

func (k *ExpiryCrank) sweep() {
	n, err := k.house.ExpireDue()
	if err != nil {
		// Pause and in-flight-call rejections clear on their own;
		// the next tick retries.
		if domain.IsRetriable(err) {
			slog.Debug("Expiry sweep deferred", slog.Any("reason", err))
			return
		}
		slog.Error("Expiry sweep failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		slog.Info("Expired options", slog.Int("count", n))
	}
}

// Stop halts the loop and waits for the in-flight sweep.
func (k *ExpiryCrank) Stop() {
	if k.cancel != nil {
		k.cancel()
	}
	k.wg.Wait()
}
