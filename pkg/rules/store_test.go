package rules_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorthanc/autorthanc/pkg/archive"
	"github.com/autorthanc/autorthanc/pkg/filesystem"
	"github.com/autorthanc/autorthanc/pkg/rules"
	"github.com/autorthanc/autorthanc/pkg/types"
)

const rulesDir = "/automation_scripts"

func writeRule(t *testing.T, fs types.FS, name, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(rulesDir, 0755))
	require.NoError(t, fs.WriteFile(rulesDir+"/"+name, []byte(content), 0644))
}

func TestStore_LoadActive(t *testing.T) {
	t.Run("filters_level_and_active_flag", func(t *testing.T) {
		fs := filesystem.NewMemory()
		writeRule(t, fs, "uro-export.json", `{
			"IsActive": true,
			"CheckOn": "Study",
			"Tags": [{"Level": "Study", "TagName": "StudyDescription", "Value": "uro"}],
			"Action": "DOWNLOAD"
		}`)
		writeRule(t, fs, "pdf-forward.json", `{
			"IsActive": true,
			"CheckOn": "Series",
			"Tags": [{"Level": "Series", "TagName": "SeriesDescription", "Value": "ResultsPDF"}],
			"Action": "FORWARD",
			"DestinationModality": "PACS2"
		}`)
		writeRule(t, fs, "disabled.json", `{
			"IsActive": false,
			"CheckOn": "Study",
			"Tags": [],
			"Action": "DOWNLOAD"
		}`)

		store := rules.NewStore(rulesDir, fs, zerolog.Nop())

		studyRules, err := store.LoadActive(archive.LevelStudy)
		require.NoError(t, err)
		require.Len(t, studyRules, 1)
		assert.Equal(t, "uro-export", studyRules[0].ID)
		assert.Equal(t, rules.ActionDownload, studyRules[0].Action)

		seriesRules, err := store.LoadActive(archive.LevelSeries)
		require.NoError(t, err)
		require.Len(t, seriesRules, 1)
		assert.Equal(t, "pdf-forward", seriesRules[0].ID)
		assert.Equal(t, "PACS2", seriesRules[0].DestinationModality)
	})

	t.Run("excludes_master_and_template_files", func(t *testing.T) {
		fs := filesystem.NewMemory()
		active := `{"IsActive": true, "CheckOn": "Study", "Tags": [], "Action": "DOWNLOAD"}`
		writeRule(t, fs, "master.json", active)
		writeRule(t, fs, "master-list.json", active)
		writeRule(t, fs, "rule-template.json", active)
		writeRule(t, fs, "notes.txt", "not a rule")
		writeRule(t, fs, "real-rule.json", active)

		store := rules.NewStore(rulesDir, fs, zerolog.Nop())
		loaded, err := store.LoadActive(archive.LevelStudy)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, "real-rule", loaded[0].ID)
	})

	t.Run("malformed_file_is_skipped_not_fatal", func(t *testing.T) {
		fs := filesystem.NewMemory()
		writeRule(t, fs, "broken.json", `{not valid json`)
		writeRule(t, fs, "good.json", `{"IsActive": true, "CheckOn": "Study", "Tags": [], "Action": "DOWNLOAD"}`)

		store := rules.NewStore(rulesDir, fs, zerolog.Nop())
		loaded, err := store.LoadActive(archive.LevelStudy)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, "good", loaded[0].ID)
	})

	t.Run("forward_rule_without_modality_is_skipped", func(t *testing.T) {
		fs := filesystem.NewMemory()
		writeRule(t, fs, "bad-forward.json", `{"IsActive": true, "CheckOn": "Study", "Tags": [], "Action": "FORWARD"}`)

		store := rules.NewStore(rulesDir, fs, zerolog.Nop())
		loaded, err := store.LoadActive(archive.LevelStudy)
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run("missing_directory_is_an_error", func(t *testing.T) {
		store := rules.NewStore("/does/not/exist", filesystem.NewMemory(), zerolog.Nop())
		_, err := store.LoadActive(archive.LevelStudy)
		assert.Error(t, err)
	})

	t.Run("rules_reloaded_on_every_call", func(t *testing.T) {
		fs := filesystem.NewMemory()
		store := rules.NewStore(rulesDir, fs, zerolog.Nop())
		require.NoError(t, fs.MkdirAll(rulesDir, 0755))

		loaded, err := store.LoadActive(archive.LevelStudy)
		require.NoError(t, err)
		assert.Empty(t, loaded)

		writeRule(t, fs, "late.json", `{"IsActive": true, "CheckOn": "Study", "Tags": [], "Action": "DOWNLOAD"}`)
		loaded, err = store.LoadActive(archive.LevelStudy)
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})
}

func TestStore_List(t *testing.T) {
	fs := filesystem.NewMemory()
	writeRule(t, fs, "a-study.json", `{"IsActive": true, "CheckOn": "Study", "Tags": [], "Action": "DOWNLOAD"}`)
	writeRule(t, fs, "b-series.json", `{"IsActive": true, "CheckOn": "Series", "Tags": [], "Action": "DOWNLOAD"}`)

	store := rules.NewStore(rulesDir, fs, zerolog.Nop())
	all, err := store.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
