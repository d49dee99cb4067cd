package rules

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/autorthanc/autorthanc/pkg/archive"
)

// absentTagValue stands in for a missing patient or study tag before
// comparison. A predicate on a missing tag can therefore only match if
// its configured value is a substring of this token, which lets a rule
// explicitly detect absence.
const absentTagValue = "NONE"

// Matcher evaluates a rule's tag predicates against a ResourceContext.
type Matcher struct {
	logger zerolog.Logger
}

// NewMatcher creates a rule matcher.
func NewMatcher(logger zerolog.Logger) *Matcher {
	return &Matcher{logger: logger}
}

// Matches reports whether every predicate of the rule is satisfied by
// the context. An empty predicate list matches vacuously.
//
// Patient and study predicates are looked up directly; a non-string
// observed value fails the whole rule closed. Series predicates are
// satisfied if any series in the context satisfies them, independently
// of which series satisfied the rule's other series predicates; a
// series with a missing or non-string value is simply not a match for
// that predicate.
func (m *Matcher) Matches(rule Rule, rc *ResourceContext) bool {
	matched := true

	for _, tm := range rule.Tags {
		switch {
		case strings.EqualFold(string(tm.Level), string(archive.LevelPatient)):
			ok, comparable := containsTag(rc.PatientTags, tm)
			if !comparable {
				m.logger.Warn().
					Str("rule", rule.ID).
					Str("tag", tm.TagName).
					Msg("Patient tag has non-string value, rule fails closed")
				return false
			}
			matched = matched && ok

		case strings.EqualFold(string(tm.Level), string(archive.LevelStudy)):
			ok, comparable := containsTag(rc.StudyTags, tm)
			if !comparable {
				m.logger.Warn().
					Str("rule", rule.ID).
					Str("tag", tm.TagName).
					Msg("Study tag has non-string value, rule fails closed")
				return false
			}
			matched = matched && ok

		case strings.EqualFold(string(tm.Level), string(archive.LevelSeries)):
			matched = matched && anySeriesContains(rc.SeriesTags, tm)

		default:
			m.logger.Warn().
				Str("rule", rule.ID).
				Str("level", string(tm.Level)).
				Msg("Ignoring predicate with unknown level")
		}
	}

	return matched
}

// containsTag checks one patient/study predicate. The second return is
// false when the observed value exists but is not a string.
func containsTag(tags archive.TagMap, tm TagMatch) (matched, comparable bool) {
	value, present := tags[tm.TagName]
	if !present {
		value = absentTagValue
	}
	s, ok := value.(string)
	if !ok {
		return false, false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(tm.Value)), true
}

// anySeriesContains checks one series predicate against every series in
// the context. Series with a missing or non-string value are skipped.
func anySeriesContains(seriesTags []archive.TagMap, tm TagMatch) bool {
	for _, tags := range seriesTags {
		value, present := tags[tm.TagName]
		if !present {
			continue
		}
		s, ok := value.(string)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(s), strings.ToLower(tm.Value)) {
			return true
		}
	}
	return false
}
