package cdc

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/walletops/internal/journal"
)

// Source delivers the change journal shard by shard and stores the
// projector's progress. Within a shard records arrive in commit order.
type Source interface {
	Shards() int
	Fetch(ctx context.Context, shard int, after int64, limit int) ([]journal.Record, error)
	Checkpoint(ctx context.Context, shard int) (int64, error)
	Commit(ctx context.Context, shard int, seq int64) error
}

// RunnerConfig tunes the polling loop.
type RunnerConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

// Runner feeds journal batches to the projector, one goroutine per shard.
type Runner struct {
	source    Source
	projector *Projector
	cfg       RunnerConfig
}

func NewRunner(src Source, p *Projector, cfg RunnerConfig) *Runner {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Runner{source: src, projector: p, cfg: cfg}
}

// Run polls every shard until ctx is cancelled. A failed batch is logged and
// redelivered from the last checkpoint on the next poll.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for shard := 0; shard < r.source.Shards(); shard++ {
		shard := shard
		g.Go(func() error {
			ticker := time.NewTicker(r.cfg.PollInterval)
			defer ticker.Stop()
			for {
				if _, err := r.drain(ctx, shard); err != nil && ctx.Err() == nil {
					log.Printf("cdc: shard %d: %v", shard, err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

// RunOnce drains every shard up to its current head and returns the number
// of records processed.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	g, ctx := errgroup.WithContext(ctx)
	counts := make([]int, r.source.Shards())
	for shard := range counts {
		shard := shard
		g.Go(func() error {
			n, err := r.drain(ctx, shard)
			counts[shard] = n
			return err
		})
	}
	err := g.Wait()
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, err
}

// drain processes batches of shard until the journal is exhausted or a
// batch fails. The checkpoint only advances past fully projected batches.
func (r *Runner) drain(ctx context.Context, shard int) (int, error) {
	after, err := r.source.Checkpoint(ctx, shard)
	if err != nil {
		return 0, err
	}
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		batch, err := r.source.Fetch(ctx, shard, after, r.cfg.BatchSize)
		if err != nil {
			return processed, err
		}
		if len(batch) == 0 {
			return processed, nil
		}
		if err := r.projector.ProcessBatch(ctx, batch); err != nil {
			batchFailures.WithLabelValues(strconv.Itoa(shard)).Inc()
			return processed, fmt.Errorf("batch after seq %d aborted: %w", after, err)
		}
		after = batch[len(batch)-1].Seq
		if err := r.source.Commit(ctx, shard, after); err != nil {
			return processed, err
		}
		processed += len(batch)
	}
}
