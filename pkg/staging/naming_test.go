package staging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autorthanc/autorthanc/pkg/archive"
	"github.com/autorthanc/autorthanc/pkg/staging"
	"github.com/autorthanc/autorthanc/pkg/testutil"
)

func TestStudyDescriptor(t *testing.T) {
	study := &archive.Study{
		MainDicomTags:        testutil.Tags("StudyID", "EX100"),
		PatientMainDicomTags: testutil.Tags("PatientID", "P001", "PatientName", "Doe^Jane^^Dr"),
	}
	assert.Equal(t, "P001-Doe-EXEX100", staging.StudyDescriptor(study))
}

func TestStudyDescriptor_MissingTags(t *testing.T) {
	study := &archive.Study{
		MainDicomTags:        testutil.Tags(),
		PatientMainDicomTags: testutil.Tags("PatientID", "P001"),
	}
	assert.Equal(t, "P001-UNKNOWN-EXUNKNOWN", staging.StudyDescriptor(study))
}

func TestSeriesSubdir(t *testing.T) {
	t.Run("all_tags_present", func(t *testing.T) {
		series := &archive.Series{
			MainDicomTags: testutil.Tags(
				"SeriesNumber", "6",
				"SeriesDate", "20230711",
				"SeriesInstanceUID", "1.2.840.1",
			),
		}
		assert.Equal(t, "SE6-20230711-1.2.840.1", staging.SeriesSubdir(series))
	})

	t.Run("fallbacks_for_missing_tags", func(t *testing.T) {
		series := &archive.Series{MainDicomTags: testutil.Tags()}
		assert.Equal(t, "SEXX-UNKNOWN-UNKNOWN", staging.SeriesSubdir(series))
	})
}

func TestSeriesSuffix(t *testing.T) {
	series := &archive.Series{MainDicomTags: testutil.Tags("SeriesNumber", "3")}
	assert.Equal(t, "-SE3", staging.SeriesSuffix(series))

	empty := &archive.Series{MainDicomTags: testutil.Tags()}
	assert.Equal(t, "-SEXX", staging.SeriesSuffix(empty))
}

func TestObjectFileName(t *testing.T) {
	instance := &archive.Instance{
		ID:            "inst-1",
		MainDicomTags: testutil.Tags("SOPInstanceUID", "1.2.3.4"),
	}
	assert.Equal(t, "1.2.3.4.dcm", staging.ObjectFileName(instance))

	// Falls back to the archive's own instance ID.
	anonymous := &archive.Instance{ID: "inst-2", MainDicomTags: testutil.Tags()}
	assert.Equal(t, "inst-2.dcm", staging.ObjectFileName(anonymous))
}
