package rules

import (
	"context"

	"github.com/autorthanc/autorthanc/pkg/archive"
)

// ResourceContext is the aggregated, read-only tag view a rule is
// evaluated against. It is built once per stability event and discarded
// afterwards.
type ResourceContext struct {
	PatientTags archive.TagMap
	StudyTags   archive.TagMap
	SeriesTags  []archive.TagMap
}

// ContextForStudy aggregates the tags of an already-fetched study and
// all of its series.
func ContextForStudy(ctx context.Context, client archive.Client, study *archive.Study) (*ResourceContext, error) {
	rc := &ResourceContext{
		PatientTags: study.PatientMainDicomTags,
		StudyTags:   study.MainDicomTags,
	}

	for _, seriesID := range study.Series {
		series, err := client.Series(ctx, seriesID)
		if err != nil {
			return nil, err
		}
		rc.SeriesTags = append(rc.SeriesTags, series.MainDicomTags)
	}

	return rc, nil
}

// ContextForSeries aggregates the tags of one series together with its
// parent study's patient and study tags. The series tag list has a
// single element.
func ContextForSeries(ctx context.Context, client archive.Client, seriesID string) (*ResourceContext, error) {
	series, err := client.Series(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	study, err := client.Study(ctx, series.ParentStudy)
	if err != nil {
		return nil, err
	}

	return &ResourceContext{
		PatientTags: study.PatientMainDicomTags,
		StudyTags:   study.MainDicomTags,
		SeriesTags:  []archive.TagMap{series.MainDicomTags},
	}, nil
}
