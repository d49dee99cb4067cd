// Package watcher turns the archive's changes feed into stability
// events. It is the standalone equivalent of an in-process archive
// plugin callback: the poller tails /changes and hands every stable
// study or series to the listener.
package watcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/autorthanc/autorthanc/pkg/archive"
)

// Events is the contract the poller drives. The engine's Listener
// implements it.
type Events interface {
	OnStabilityEvent(ctx context.Context, level archive.Level, id string) error
}

// Options configures a Poller.
type Options struct {
	// Interval between polls of the changes feed.
	Interval time.Duration
	// Limit is the page size requested from the feed.
	Limit int
	// Since is the change sequence number to resume from. Zero replays
	// the archive's retained history, which is safe because exports are
	// idempotent.
	Since int64
}

// Poller tails the archive's changes feed and delivers stability events
// serially to the listener. Event handler failures are logged and
// swallowed here, at the outermost boundary: one malfunctioning rule or
// resource must never stall the feed.
type Poller struct {
	client archive.Client
	events Events
	opts   Options
	cursor int64
	logger zerolog.Logger
}

// New creates a poller over the archive's changes feed.
func New(client archive.Client, events Events, opts Options, logger zerolog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	return &Poller{
		client: client,
		events: events,
		opts:   opts,
		cursor: opts.Since,
		logger: logger,
	}
}

// Cursor returns the last consumed change sequence number.
func (p *Poller) Cursor() int64 {
	return p.cursor
}

// Run polls until the context is canceled. Feed errors are logged and
// retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().
		Int64("since", p.cursor).
		Dur("interval", p.opts.Interval).
		Msg("Watching archive changes")

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		if err := p.Drain(ctx); err != nil {
			p.logger.Error().Err(err).Msg("Failed to poll changes feed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain consumes the feed until the archive reports no further changes,
// delivering each stability event in order.
func (p *Poller) Drain(ctx context.Context) error {
	for {
		batch, err := p.client.Changes(ctx, p.cursor, p.opts.Limit)
		if err != nil {
			return err
		}

		for _, change := range batch.Changes {
			if change.Seq > p.cursor {
				p.cursor = change.Seq
			}
			p.deliver(ctx, change)
		}
		if batch.Last > p.cursor {
			p.cursor = batch.Last
		}

		if batch.Done || len(batch.Changes) == 0 {
			return nil
		}
	}
}

func (p *Poller) deliver(ctx context.Context, change archive.Change) {
	var level archive.Level
	switch change.ChangeType {
	case archive.ChangeStableStudy:
		level = archive.LevelStudy
	case archive.ChangeStableSeries:
		level = archive.LevelSeries
	default:
		// Lifecycle and ingest changes are accepted but not acted on.
		return
	}

	p.logger.Debug().
		Str("change", change.ChangeType).
		Str("resource", change.ID).
		Int64("seq", change.Seq).
		Msg("Delivering stability event")

	if err := p.events.OnStabilityEvent(ctx, level, change.ID); err != nil {
		p.logger.Error().Err(err).
			Str("resource", change.ID).
			Str("level", string(level)).
			Msg("Stability event processing failed")
	}
}
