package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"vaxhunterbot/internal/config"
	"vaxhunterbot/internal/domain"
)

// MentionsFetcher is the polling transport: it returns mentions newer than
// sinceID, newest-first, at most count of them. An empty sinceID means no
// lower bound.
type MentionsFetcher interface {
	MentionsSince(ctx context.Context, sinceID string, count int) ([]domain.Post, error)
}

// CursorStore persists the named mention cursor between cycles.
type CursorStore interface {
	GetCursor(ctx context.Context, name string) (string, error)
	SetCursor(ctx context.Context, name, value string) error
}

// PollerConfig carries the tunables for one poll cycle.
type PollerConfig struct {
	CursorName          string
	FetchCount          int
	MentionConcurrency  int
	CursorAdvancePolicy string
}

// Poller runs the mention poll cycle: fetch mentions past the cursor,
// classify and apply each one, advance the cursor, then flush pending
// confirmations. The caller guarantees cycles never overlap.
type Poller struct {
	fetcher    MentionsFetcher
	cursors    CursorStore
	classifier *Classifier
	lifecycle  *Lifecycle
	logger     *slog.Logger
	cfg        PollerConfig
}

func NewPoller(fetcher MentionsFetcher, cursors CursorStore, classifier *Classifier, lifecycle *Lifecycle, logger *slog.Logger, cfg PollerConfig) *Poller {
	if cfg.MentionConcurrency < 1 {
		cfg.MentionConcurrency = 1
	}
	return &Poller{
		fetcher:    fetcher,
		cursors:    cursors,
		classifier: classifier,
		lifecycle:  lifecycle,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run executes one poll cycle. It returns an error only when the cycle could
// not run at all (cursor read or fetch failed); per-mention failures are
// logged and absorbed so one bad mention never aborts its batch.
func (p *Poller) Run(ctx context.Context) error {
	cursor, err := p.cursors.GetCursor(ctx, p.cfg.CursorName)
	if err != nil {
		return fmt.Errorf("reading cursor: %w", err)
	}

	mentions, err := p.fetcher.MentionsSince(ctx, cursor, p.cfg.FetchCount)
	if err != nil {
		return fmt.Errorf("fetching mentions: %w", err)
	}

	p.logger.Info("processing mentions", "count", len(mentions), "cursor", cursor)

	if len(mentions) > 0 {
		failed := p.processBatch(ctx, mentions)

		// The transport returns newest-first; after the reverse in
		// processBatch the newest is at the end.
		newest := mentions[len(mentions)-1].ID

		advance := p.cfg.CursorAdvancePolicy == config.AdvanceAlways || failed == 0
		switch {
		case !advance:
			p.logger.Warn("holding cursor, batch had failures",
				"cursor", cursor,
				"failed", failed,
			)
		case !domain.CursorLess(cursor, newest):
			// Never move the cursor backwards.
			p.logger.Warn("skipping non-monotonic cursor write",
				"cursor", cursor,
				"candidate", newest,
			)
		default:
			if err := p.cursors.SetCursor(ctx, p.cfg.CursorName, newest); err != nil {
				p.logger.Error("cursor write failed", "cursor", newest, "error", err)
			} else {
				p.logger.Info("cursor advanced", "cursor", newest)
			}
		}
	}

	p.lifecycle.SendPendingConfirmations(ctx)

	return nil
}

// processBatch applies mentions oldest-first under the mention concurrency
// limit and returns how many failed to apply. Reverses the slice in place.
func (p *Poller) processBatch(ctx context.Context, mentions []domain.Post) int {
	for i, j := 0, len(mentions)-1; i < j; i, j = i+1, j-1 {
		mentions[i], mentions[j] = mentions[j], mentions[i]
	}

	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MentionConcurrency)
	for _, mention := range mentions {
		g.Go(func() error {
			cls := p.classifier.Classify(mention)
			if err := p.lifecycle.Apply(gctx, cls); err != nil {
				failed.Add(1)
				p.logger.Error("applying mention failed",
					"post_id", mention.ID,
					"user_id", mention.User.ID,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(failed.Load())
}
