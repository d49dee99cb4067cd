package testutil

import (
	"context"
	"sync"

	"github.com/autorthanc/autorthanc/pkg/archive"
	"github.com/autorthanc/autorthanc/pkg/errors"
)

// StoreCall records one forward request received by the fake archive.
type StoreCall struct {
	Modality string
	Request  archive.StoreRequest
}

// FakeArchive is an in-memory archive.Client for tests. Populate the
// maps directly; the fake records instance fetches and store calls so
// tests can assert on idempotence and forwarding behavior.
type FakeArchive struct {
	mu sync.Mutex

	Studies   map[string]*archive.Study
	SeriesMap map[string]*archive.Series
	Instances map[string]*archive.Instance
	Files     map[string][]byte

	// FailInstanceFile makes fetching the given instance fail.
	FailInstanceFile map[string]error
	// StoreErr makes every Store call fail.
	StoreErr error

	FileFetches []string
	StoreCalls  []StoreCall

	// Batches are returned by successive Changes calls; when exhausted,
	// an empty done batch is returned.
	Batches []*archive.ChangeBatch
	next    int
}

// NewFakeArchive creates an empty fake archive.
func NewFakeArchive() *FakeArchive {
	return &FakeArchive{
		Studies:          make(map[string]*archive.Study),
		SeriesMap:        make(map[string]*archive.Series),
		Instances:        make(map[string]*archive.Instance),
		Files:            make(map[string][]byte),
		FailInstanceFile: make(map[string]error),
	}
}

func (f *FakeArchive) Study(_ context.Context, id string) (*archive.Study, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	study, ok := f.Studies[id]
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "study %s not found", id)
	}
	return study, nil
}

func (f *FakeArchive) Series(_ context.Context, id string) (*archive.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	series, ok := f.SeriesMap[id]
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "series %s not found", id)
	}
	return series, nil
}

func (f *FakeArchive) SeriesInstances(_ context.Context, seriesID string) ([]archive.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	series, ok := f.SeriesMap[seriesID]
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "series %s not found", seriesID)
	}
	var instances []archive.Instance
	for _, id := range series.Instances {
		instance, ok := f.Instances[id]
		if !ok {
			return nil, errors.Newf(errors.ErrNotFound, "instance %s not found", id)
		}
		instances = append(instances, *instance)
	}
	return instances, nil
}

func (f *FakeArchive) InstanceFile(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailInstanceFile[id]; ok {
		return nil, err
	}
	data, ok := f.Files[id]
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "instance file %s not found", id)
	}
	f.FileFetches = append(f.FileFetches, id)
	return data, nil
}

func (f *FakeArchive) Store(_ context.Context, modality string, req archive.StoreRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StoreErr != nil {
		return f.StoreErr
	}
	f.StoreCalls = append(f.StoreCalls, StoreCall{Modality: modality, Request: req})
	return nil
}

func (f *FakeArchive) Changes(_ context.Context, _ int64, _ int) (*archive.ChangeBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.Batches) {
		return &archive.ChangeBatch{Done: true}, nil
	}
	batch := f.Batches[f.next]
	f.next++
	return batch, nil
}

// FetchCount returns how many instance files have been fetched so far.
func (f *FakeArchive) FetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.FileFetches)
}

// AddStudy wires a study with the given series into the fake archive.
func (f *FakeArchive) AddStudy(study *archive.Study, series ...*archive.Series) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Studies[study.ID] = study
	for _, s := range series {
		f.SeriesMap[s.ID] = s
	}
}

// AddInstance wires an instance and its raw bytes into the fake archive.
func (f *FakeArchive) AddInstance(instance *archive.Instance, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Instances[instance.ID] = instance
	f.Files[instance.ID] = data
}
