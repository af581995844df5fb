package discovery

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/speedrun-cli/internal/resilience"
)

// RunBatch discovers every request with bounded concurrency. A failure for
// one company is recorded on its Outcome and never stops the others. The
// returned outcomes follow request order. Only cancellation of ctx is
// reported as an error.
func (s *Service) RunBatch(ctx context.Context, reqs []Request) ([]Outcome, error) {
	outcomes := make([]Outcome, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, req := range reqs {
		g.Go(func() error {
			if gctx.Err() != nil {
				outcomes[i] = Outcome{CompanyID: req.CompanyID, Err: gctx.Err()}
				return nil
			}
			group, skipped, err := s.Run(gctx, req)
			outcomes[i] = Outcome{CompanyID: req.CompanyID, Group: group, Skipped: skipped, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return outcomes, eris.Wrap(err, "discovery: batch cancelled")
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	zap.L().Info("discovery: batch complete",
		zap.Int("companies", len(reqs)),
		zap.Int("failed", failed),
	)
	return outcomes, nil
}

// RetryFailed replays transient ledger entries that are due and still under
// their retry cap.
func (s *Service) RetryFailed(ctx context.Context, limit int) ([]Outcome, error) {
	entries, err := s.store.ListFailures(ctx, resilience.FailureFilter{
		ErrorType: resilience.ClassTransient,
		DueBefore: s.now().UTC(),
		Limit:     limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "discovery: list failures")
	}

	reqs := make([]Request, 0, len(entries))
	for _, e := range entries {
		if !e.CanRetry() {
			continue
		}
		reqs = append(reqs, Request{
			CompanyID:    e.CompanyID,
			WorkspaceID:  e.WorkspaceID,
			Employees:    e.Employees,
			FlaggedLarge: e.FlaggedLarge,
			retryCount:   e.RetryCount + 1,
		})
	}
	if len(reqs) == 0 {
		zap.L().Info("discovery: no failures due for retry")
		return nil, nil
	}

	zap.L().Info("discovery: retrying failed companies", zap.Int("count", len(reqs)))
	return s.RunBatch(ctx, reqs)
}
