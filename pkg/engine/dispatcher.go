package engine

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/autorthanc/autorthanc/pkg/archive"
	"github.com/autorthanc/autorthanc/pkg/journal"
	"github.com/autorthanc/autorthanc/pkg/rules"
)

// Exporter stages a resource's objects under a destination root.
type Exporter interface {
	WriteOut(ctx context.Context, res archive.Resource, destRoot string, force bool) (string, error)
}

// Forwarder pushes a resource to a remote modality.
type Forwarder interface {
	Forward(ctx context.Context, res archive.Resource, modality string) error
}

// Recorder persists a journal entry for a dispatched action.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Dispatcher executes the action a matched rule declares. Each rule's
// action is attempted independently; a failure is returned to the
// caller but never prevents the next matched rule from running.
type Dispatcher struct {
	exporter   Exporter
	forwarder  Forwarder
	recorder   Recorder
	outputRoot string
	logger     zerolog.Logger
}

// NewDispatcher creates a dispatcher. recorder may be nil to disable
// journaling.
func NewDispatcher(exporter Exporter, forwarder Forwarder, recorder Recorder, outputRoot string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		exporter:   exporter,
		forwarder:  forwarder,
		recorder:   recorder,
		outputRoot: outputRoot,
		logger:     logger,
	}
}

// Dispatch runs the rule's declared action against the resource.
// Unrecognized action kinds are logged and ignored, so newer rule files
// do not break older engines.
func (d *Dispatcher) Dispatch(ctx context.Context, res archive.Resource, rule rules.Rule, force bool) error {
	started := time.Now()

	var err error
	var destination string
	status := journal.StatusCompleted

	switch {
	case strings.EqualFold(string(rule.Action), string(rules.ActionDownload)):
		destination = filepath.Join(d.outputRoot, rule.ID)
		_, err = d.exporter.WriteOut(ctx, res, destination, force)

	case strings.EqualFold(string(rule.Action), string(rules.ActionForward)):
		if rule.DestinationModality == "" {
			d.logger.Warn().
				Str("rule", rule.ID).
				Msg("Forward rule has no destination modality, skipping")
			status = journal.StatusSkipped
			d.record(ctx, res, rule, force, "", status, nil, started)
			return nil
		}
		destination = rule.DestinationModality
		err = d.forwarder.Forward(ctx, res, rule.DestinationModality)

	default:
		d.logger.Warn().
			Str("rule", rule.ID).
			Str("action", string(rule.Action)).
			Msg("Unrecognized action, ignoring")
		status = journal.StatusSkipped
		d.record(ctx, res, rule, force, "", status, nil, started)
		return nil
	}

	if err != nil {
		status = journal.StatusFailed
	}
	d.record(ctx, res, rule, force, destination, status, err, started)
	return err
}

func (d *Dispatcher) record(ctx context.Context, res archive.Resource, rule rules.Rule, force bool, destination, status string, actionErr error, started time.Time) {
	if d.recorder == nil {
		return
	}

	entry := journal.Entry{
		RuleID:      rule.ID,
		Level:       string(res.Level),
		ResourceID:  res.ID,
		Action:      string(rule.Action),
		Destination: destination,
		Status:      status,
		Forced:      force,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	if actionErr != nil {
		entry.Error = actionErr.Error()
	}

	if err := d.recorder.Record(ctx, entry); err != nil {
		d.logger.Error().Err(err).Str("rule", rule.ID).Msg("Failed to journal action")
	}
}
