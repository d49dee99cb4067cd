package staging

import (
	"fmt"
	"strings"

	"github.com/autorthanc/autorthanc/pkg/archive"
)

// Fallback tokens for absent naming tags. The directory name must stay
// stable across runs, so absent tags map to fixed tokens instead of
// being omitted.
const (
	fallbackNumber  = "XX"
	fallbackUnknown = "UNKNOWN"
)

const workingSuffix = ".WORKING"

// StudyDescriptor returns the stable directory name for a study export:
// <patientID>-<givenName>-EX<studyID>.
func StudyDescriptor(study *archive.Study) string {
	pid := tagOr(study.PatientMainDicomTags, "PatientID", fallbackUnknown)
	name := givenName(tagOr(study.PatientMainDicomTags, "PatientName", fallbackUnknown))
	examID := tagOr(study.MainDicomTags, "StudyID", fallbackUnknown)
	return fmt.Sprintf("%s-%s-EX%s", pid, name, examID)
}

// SeriesSuffix returns the extra descriptor component for a series-level
// export: -SE<seriesNumber>.
func SeriesSuffix(series *archive.Series) string {
	return "-SE" + tagOr(series.MainDicomTags, "SeriesNumber", fallbackNumber)
}

// SeriesSubdir returns the per-series subdirectory name inside an
// export: SE<seriesNumber>-<seriesDate>-<seriesInstanceUID>.
func SeriesSubdir(series *archive.Series) string {
	number := tagOr(series.MainDicomTags, "SeriesNumber", fallbackNumber)
	date := tagOr(series.MainDicomTags, "SeriesDate", fallbackUnknown)
	uid := tagOr(series.MainDicomTags, "SeriesInstanceUID", fallbackUnknown)
	return fmt.Sprintf("SE%s-%s-%s", number, date, uid)
}

// ObjectFileName returns the file name for one stored object. The SOP
// instance UID is the stable per-object identifier; the archive's own
// instance ID is the fallback when the tag is absent.
func ObjectFileName(instance *archive.Instance) string {
	name, ok := instance.MainDicomTags.String("SOPInstanceUID")
	if !ok || name == "" {
		name = instance.ID
	}
	return name + ".dcm"
}

// givenName extracts the given-name component of a DICOM person name
// (the part before the first caret).
func givenName(personName string) string {
	if idx := strings.Index(personName, "^"); idx >= 0 {
		return personName[:idx]
	}
	return personName
}

func tagOr(tags archive.TagMap, name, fallback string) string {
	if v, ok := tags.String(name); ok && v != "" {
		return v
	}
	return fallback
}
