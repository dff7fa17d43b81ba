package backtest

import (
	"context"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/amirphl/rule-backtester/internal/candle"
)

// BatchItem is the outcome of one request of a batch.
type BatchItem struct {
	Request Request
	Result  *Result
	Err     error
}

// RunBatch runs independent backtests over the same bars with at most
// workers in flight. Every run works on its own copy of the table. A failed
// run is reported in its item and does not stop the others; only
// cancellation of ctx fails the batch.
func (r *Runner) RunBatch(ctx context.Context, table *candle.Table, reqs []Request, workers int) ([]BatchItem, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	items := make([]BatchItem, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, req := range reqs {
		items[i].Request = req
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := r.Run(ctx, table, req)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn("RunBatch | run failed", zap.Int("index", i), zap.Error(err))
				items[i].Err = err
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.logger.Info("RunBatch | batch completed", zap.Int("runs", len(reqs)), zap.Int("workers", workers))
	return items, nil
}

// Grid expands base into one request per tp/sl combination. Empty lists keep
// base's value.
func Grid(base Request, tps, sls []float64) []Request {
	if len(tps) == 0 {
		tps = []float64{base.TP}
	}
	if len(sls) == 0 {
		sls = []float64{base.SL}
	}
	out := make([]Request, 0, len(tps)*len(sls))
	for _, tp := range tps {
		for _, sl := range sls {
			req := base
			req.TP, req.SL = tp, sl
			out = append(out, req)
		}
	}
	return out
}
