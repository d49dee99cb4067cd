package rules

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/autorthanc/autorthanc/pkg/archive"
	"github.com/autorthanc/autorthanc/pkg/errors"
	"github.com/autorthanc/autorthanc/pkg/types"
)

// Store loads rule definitions from a configuration directory. Rules are
// read fresh on every call so files can be added, edited or disabled
// between events without a restart.
type Store struct {
	dir    string
	fs     types.FS
	logger zerolog.Logger
}

// NewStore creates a rule store over the given directory.
func NewStore(dir string, fs types.FS, logger zerolog.Logger) *Store {
	return &Store{dir: dir, fs: fs, logger: logger}
}

// LoadActive returns the active rules applicable at the given trigger
// level, in directory-listing order. Malformed or unreadable rule files
// are logged and skipped; they never abort the scan.
func (s *Store) LoadActive(level archive.Level) ([]Rule, error) {
	all, err := s.load()
	if err != nil {
		return nil, err
	}

	var active []Rule
	for _, rule := range all {
		if rule.IsActive && rule.AppliesTo(level) {
			active = append(active, rule)
		}
	}

	s.logger.Debug().
		Str("level", string(level)).
		Int("count", len(active)).
		Msg("Loaded active rules")
	return active, nil
}

// List returns every active rule regardless of trigger level. Used by
// the CLI to show the current rule set.
func (s *Store) List() ([]Rule, error) {
	all, err := s.load()
	if err != nil {
		return nil, err
	}

	var active []Rule
	for _, rule := range all {
		if rule.IsActive {
			active = append(active, rule)
		}
	}
	return active, nil
}

func (s *Store) load() ([]Rule, error) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigLoad,
			"failed to list rules directory %s", s.dir)
	}

	var loaded []Rule
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isRuleFile(name) {
			continue
		}

		path := filepath.Join(s.dir, name)
		data, err := s.fs.ReadFile(path)
		if err != nil {
			readErr := errors.Wrapf(err, errors.ErrRuleRead, "failed to read rule file %s", path)
			s.logger.Error().Err(readErr).Str("file", path).Msg("Failed to read rule file")
			continue
		}

		var rule Rule
		if err := json.Unmarshal(data, &rule); err != nil {
			parseErr := errors.Wrapf(err, errors.ErrRuleParse, "failed to parse rule file %s", path)
			s.logger.Error().Err(parseErr).Str("file", path).Msg("Rule file has incorrect format")
			continue
		}

		rule.ID = strings.TrimSuffix(name, filepath.Ext(name))
		if err := rule.Validate(); err != nil {
			s.logger.Error().Err(err).Str("file", path).Msg("Skipping invalid rule")
			continue
		}

		loaded = append(loaded, rule)
	}

	return loaded, nil
}

// isRuleFile excludes the master index and template samples from the
// active set regardless of their content.
func isRuleFile(name string) bool {
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".json") {
		return false
	}
	if strings.HasPrefix(lower, "master") {
		return false
	}
	if strings.Contains(lower, "template") {
		return false
	}
	return true
}
