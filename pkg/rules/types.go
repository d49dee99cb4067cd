package rules

import (
	"strings"

	"github.com/autorthanc/autorthanc/pkg/archive"
	"github.com/autorthanc/autorthanc/pkg/errors"
)

// Action is the kind of automation a rule triggers.
type Action string

const (
	// ActionDownload exports the resource's objects into the output tree.
	ActionDownload Action = "DOWNLOAD"
	// ActionForward pushes the resource to a remote modality.
	ActionForward Action = "FORWARD"
)

// TagMatch is one tag predicate of a rule: case-insensitive substring
// containment of Value in the observed tag value at the given level.
type TagMatch struct {
	Level   archive.Level `json:"Level"`
	TagName string        `json:"TagName"`
	Value   string        `json:"Value"`
}

// Rule is one declarative automation rule, loaded from a single JSON
// file in the rules directory. The ID is derived from the file name and
// is not part of the file contents.
type Rule struct {
	ID                  string        `json:"-"`
	IsActive            bool          `json:"IsActive"`
	CheckOn             archive.Level `json:"CheckOn"`
	Tags                []TagMatch    `json:"Tags"`
	Action              Action        `json:"Action"`
	DestinationModality string        `json:"DestinationModality"`
}

// Validate checks the structural requirements of a rule. Unknown action
// values are allowed; they become warn-and-skip no-ops at dispatch time.
func (r Rule) Validate() error {
	if !strings.EqualFold(string(r.CheckOn), string(archive.LevelStudy)) &&
		!strings.EqualFold(string(r.CheckOn), string(archive.LevelSeries)) {
		return errors.Newf(errors.ErrRuleInvalid,
			"rule %s has unsupported CheckOn %q", r.ID, r.CheckOn)
	}
	if strings.EqualFold(string(r.Action), string(ActionForward)) && r.DestinationModality == "" {
		return errors.Newf(errors.ErrRuleInvalid,
			"rule %s is a forward rule without a DestinationModality", r.ID)
	}
	return nil
}

// AppliesTo reports whether the rule is evaluated at the given trigger
// level.
func (r Rule) AppliesTo(level archive.Level) bool {
	return strings.EqualFold(string(r.CheckOn), string(level))
}
