package engine

import (
	"context"
	stderrors "errors"

	"github.com/rs/zerolog"

	"github.com/autorthanc/autorthanc/pkg/archive"
	"github.com/autorthanc/autorthanc/pkg/logging"
	"github.com/autorthanc/autorthanc/pkg/rules"
)

// Listener orchestrates rule evaluation and dispatch for stability
// events. Rules are loaded fresh on every event; matching and dispatch
// run per resource, and one resource's failure never blocks another's
// processing.
type Listener struct {
	store         *rules.Store
	matcher       *rules.Matcher
	dispatcher    *Dispatcher
	client        archive.Client
	forceOnStable bool
	logger        zerolog.Logger
}

// NewListener creates a change listener. forceOnStable controls whether
// exports triggered by stability events overwrite existing export
// directories.
func NewListener(store *rules.Store, matcher *rules.Matcher, dispatcher *Dispatcher, client archive.Client, forceOnStable bool, logger zerolog.Logger) *Listener {
	return &Listener{
		store:         store,
		matcher:       matcher,
		dispatcher:    dispatcher,
		client:        client,
		forceOnStable: forceOnStable,
		logger:        logger,
	}
}

// OnStabilityEvent is the entry point the host event source drives.
// Series-level automation runs exclusively through the study-level
// recursion, which bounds the number of evaluation passes per ingested
// study; a series event delivered directly is therefore a no-op.
func (l *Listener) OnStabilityEvent(ctx context.Context, level archive.Level, id string) error {
	switch level {
	case archive.LevelStudy:
		return l.RunStudy(ctx, id, l.forceOnStable)
	case archive.LevelSeries:
		l.logger.Debug().Str("series", id).Msg("Series event ignored, handled via study recursion")
		return nil
	default:
		return nil
	}
}

// MatchStudy evaluates the active study-level rules against the study
// and returns the matches without dispatching anything.
func (l *Listener) MatchStudy(ctx context.Context, id string) ([]rules.Rule, error) {
	ruleSet, err := l.store.LoadActive(archive.LevelStudy)
	if err != nil {
		return nil, err
	}

	study, err := l.client.Study(ctx, id)
	if err != nil {
		return nil, err
	}
	rc, err := rules.ContextForStudy(ctx, l.client, study)
	if err != nil {
		return nil, err
	}

	var matched []rules.Rule
	for _, rule := range ruleSet {
		if l.matcher.Matches(rule, rc) {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

// RunStudy runs the full study flow: evaluate and dispatch study-level
// rules, then recurse into every series of the study with force
// enabled. Rule failures inside one level are independent; a failing
// series aborts the remaining series of that study.
func (l *Listener) RunStudy(ctx context.Context, id string, force bool) error {
	done := logging.LogOperationStart(l.logger.With().Str("study", id).Logger(), "run-study")
	defer done()

	study, err := l.client.Study(ctx, id)
	if err != nil {
		return err
	}
	rc, err := rules.ContextForStudy(ctx, l.client, study)
	if err != nil {
		return err
	}
	ruleSet, err := l.store.LoadActive(archive.LevelStudy)
	if err != nil {
		return err
	}

	res := archive.Resource{Level: archive.LevelStudy, ID: id}
	var errs []error
	for _, rule := range ruleSet {
		if !l.matcher.Matches(rule, rc) {
			continue
		}
		l.logger.Info().Str("rule", rule.ID).Str("study", id).Msg("Rule matched study")
		if err := l.dispatcher.Dispatch(ctx, res, rule, force); err != nil {
			l.logger.Error().Err(err).Str("rule", rule.ID).Str("study", id).
				Msg("Rule action failed, continuing with next rule")
			errs = append(errs, err)
		}
	}

	// The study-level actions have completed; now the series-level
	// variant runs for each series, forced so a paused-and-resumed
	// ingest still converges on the latest object set.
	for _, seriesID := range study.Series {
		if err := l.runSeries(ctx, seriesID, true); err != nil {
			l.logger.Error().Err(err).Str("series", seriesID).
				Msg("Series processing failed, aborting remaining series of study")
			errs = append(errs, err)
			break
		}
	}

	return stderrors.Join(errs...)
}

func (l *Listener) runSeries(ctx context.Context, id string, force bool) error {
	ruleSet, err := l.store.LoadActive(archive.LevelSeries)
	if err != nil {
		return err
	}
	if len(ruleSet) == 0 {
		return nil
	}

	rc, err := rules.ContextForSeries(ctx, l.client, id)
	if err != nil {
		return err
	}

	res := archive.Resource{Level: archive.LevelSeries, ID: id}
	var errs []error
	for _, rule := range ruleSet {
		if !l.matcher.Matches(rule, rc) {
			continue
		}
		l.logger.Info().Str("rule", rule.ID).Str("series", id).Msg("Rule matched series")
		if err := l.dispatcher.Dispatch(ctx, res, rule, force); err != nil {
			l.logger.Error().Err(err).Str("rule", rule.ID).Str("series", id).
				Msg("Rule action failed, continuing with next rule")
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
