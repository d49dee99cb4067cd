package staging_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorthanc/autorthanc/pkg/archive"
	autoerrors "github.com/autorthanc/autorthanc/pkg/errors"
	"github.com/autorthanc/autorthanc/pkg/filesystem"
	"github.com/autorthanc/autorthanc/pkg/staging"
	"github.com/autorthanc/autorthanc/pkg/testutil"
	"github.com/autorthanc/autorthanc/pkg/types"
)

// twoSeriesStudy seeds a study with two series and three instances.
func twoSeriesStudy(fake *testutil.FakeArchive) {
	fake.AddStudy(&archive.Study{
		ID:                   "study-1",
		MainDicomTags:        testutil.Tags("StudyID", "100"),
		PatientMainDicomTags: testutil.Tags("PatientID", "P001", "PatientName", "Doe^Jane"),
		Series:               []string{"series-a", "series-b"},
	},
		&archive.Series{
			ID:          "series-a",
			ParentStudy: "study-1",
			MainDicomTags: testutil.Tags(
				"SeriesNumber", "1", "SeriesDate", "20230711", "SeriesInstanceUID", "1.2.1"),
			Instances: []string{"inst-1", "inst-2"},
		},
		&archive.Series{
			ID:          "series-b",
			ParentStudy: "study-1",
			MainDicomTags: testutil.Tags(
				"SeriesNumber", "2", "SeriesDate", "20230711", "SeriesInstanceUID", "1.2.2"),
			Instances: []string{"inst-3"},
		},
	)
	fake.AddInstance(&archive.Instance{
		ID: "inst-1", ParentSeries: "series-a",
		MainDicomTags: testutil.Tags("SOPInstanceUID", "1.2.1.1"),
	}, []byte("dicom-1"))
	fake.AddInstance(&archive.Instance{
		ID: "inst-2", ParentSeries: "series-a",
		MainDicomTags: testutil.Tags("SOPInstanceUID", "1.2.1.2"),
	}, []byte("dicom-2"))
	fake.AddInstance(&archive.Instance{
		ID: "inst-3", ParentSeries: "series-b",
		MainDicomTags: testutil.Tags("SOPInstanceUID", "1.2.2.1"),
	}, []byte("dicom-3"))
}

func newWriter(fake *testutil.FakeArchive) *staging.Writer {
	return staging.NewWriter(fake, filesystem.NewOS(), staging.Options{
		UID: -1, GID: -1,
	}, zerolog.Nop())
}

func TestWriter_StudyExport(t *testing.T) {
	fake := testutil.NewFakeArchive()
	twoSeriesStudy(fake)
	writer := newWriter(fake)
	destRoot := filepath.Join(t.TempDir(), "uro-export")

	finalDir, err := writer.WriteOut(context.Background(),
		archive.Resource{Level: archive.LevelStudy, ID: "study-1"}, destRoot, false)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(destRoot, "P001-Doe-EX100"), finalDir)
	assert.Equal(t, []string{
		filepath.Join("SE1-20230711-1.2.1", "1.2.1.1.dcm"),
		filepath.Join("SE1-20230711-1.2.1", "1.2.1.2.dcm"),
		filepath.Join("SE2-20230711-1.2.2", "1.2.2.1.dcm"),
	}, testutil.ListFiles(t, finalDir))

	data, err := os.ReadFile(filepath.Join(finalDir, "SE1-20230711-1.2.1", "1.2.1.1.dcm"))
	require.NoError(t, err)
	assert.Equal(t, []byte("dicom-1"), data)

	// The working directory was promoted away.
	assert.False(t, testutil.DirExists(t, finalDir+".WORKING"))
}

func TestWriter_SeriesExport(t *testing.T) {
	fake := testutil.NewFakeArchive()
	twoSeriesStudy(fake)
	writer := newWriter(fake)
	destRoot := t.TempDir()

	finalDir, err := writer.WriteOut(context.Background(),
		archive.Resource{Level: archive.LevelSeries, ID: "series-b"}, destRoot, false)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(destRoot, "P001-Doe-EX100-SE2"), finalDir)
	assert.Equal(t, []string{
		filepath.Join("SE2-20230711-1.2.2", "1.2.2.1.dcm"),
	}, testutil.ListFiles(t, finalDir))
	assert.Equal(t, 1, fake.FetchCount())
}

func TestWriter_IdempotentWithoutForce(t *testing.T) {
	fake := testutil.NewFakeArchive()
	twoSeriesStudy(fake)
	writer := newWriter(fake)
	destRoot := t.TempDir()
	res := archive.Resource{Level: archive.LevelStudy, ID: "study-1"}

	first, err := writer.WriteOut(context.Background(), res, destRoot, false)
	require.NoError(t, err)
	require.Equal(t, 3, fake.FetchCount())
	firstListing := testutil.ListFiles(t, first)

	// Second run is a guaranteed no-op: same path, no object fetches.
	second, err := writer.WriteOut(context.Background(), res, destRoot, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 3, fake.FetchCount())
	assert.Equal(t, firstListing, testutil.ListFiles(t, second))
}

func TestWriter_ForceReplacesStaleObjects(t *testing.T) {
	fake := testutil.NewFakeArchive()
	twoSeriesStudy(fake)
	writer := newWriter(fake)
	destRoot := t.TempDir()
	res := archive.Resource{Level: archive.LevelStudy, ID: "study-1"}

	finalDir, err := writer.WriteOut(context.Background(), res, destRoot, false)
	require.NoError(t, err)

	// The resource's object set changes: series-a loses inst-2.
	fake.SeriesMap["series-a"].Instances = []string{"inst-1"}

	again, err := writer.WriteOut(context.Background(), res, destRoot, true)
	require.NoError(t, err)
	require.Equal(t, finalDir, again)

	// Exactly the new object set survives; nothing stale remains.
	assert.Equal(t, []string{
		filepath.Join("SE1-20230711-1.2.1", "1.2.1.1.dcm"),
		filepath.Join("SE2-20230711-1.2.2", "1.2.2.1.dcm"),
	}, testutil.ListFiles(t, again))
}

func TestWriter_MidJobFailureLeavesNoFinalDir(t *testing.T) {
	fake := testutil.NewFakeArchive()
	twoSeriesStudy(fake)
	fake.FailInstanceFile["inst-2"] = errors.New("connection reset")
	writer := newWriter(fake)
	destRoot := t.TempDir()

	_, err := writer.WriteOut(context.Background(),
		archive.Resource{Level: archive.LevelStudy, ID: "study-1"}, destRoot, false)
	require.Error(t, err)
	assert.Equal(t, autoerrors.ErrStageFetch, autoerrors.GetCode(err))

	// Atomic visibility: the final directory never appeared, the
	// partial write is confined to the working directory.
	finalDir := filepath.Join(destRoot, "P001-Doe-EX100")
	assert.False(t, testutil.DirExists(t, finalDir))
	assert.True(t, testutil.DirExists(t, finalDir+".WORKING"))
}

func TestWriter_ForceCrashKeepsPriorExport(t *testing.T) {
	fake := testutil.NewFakeArchive()
	twoSeriesStudy(fake)
	writer := newWriter(fake)
	destRoot := t.TempDir()
	res := archive.Resource{Level: archive.LevelStudy, ID: "study-1"}

	finalDir, err := writer.WriteOut(context.Background(), res, destRoot, false)
	require.NoError(t, err)
	before := testutil.ListFiles(t, finalDir)

	// A forced re-run that dies while staging must not have touched the
	// previous export: deletion is deferred until staging completed.
	fake.FailInstanceFile["inst-3"] = errors.New("connection reset")
	_, err = writer.WriteOut(context.Background(), res, destRoot, true)
	require.Error(t, err)
	assert.Equal(t, before, testutil.ListFiles(t, finalDir))
}

func TestWriter_ResumeAfterPartialWorkingDir(t *testing.T) {
	fake := testutil.NewFakeArchive()
	twoSeriesStudy(fake)
	fake.FailInstanceFile["inst-3"] = errors.New("connection reset")
	writer := newWriter(fake)
	destRoot := t.TempDir()
	res := archive.Resource{Level: archive.LevelStudy, ID: "study-1"}

	_, err := writer.WriteOut(context.Background(), res, destRoot, false)
	require.Error(t, err)

	// The archive recovers; the next run completes and promotes.
	delete(fake.FailInstanceFile, "inst-3")
	finalDir, err := writer.WriteOut(context.Background(), res, destRoot, false)
	require.NoError(t, err)
	assert.Len(t, testutil.ListFiles(t, finalDir), 3)
	assert.False(t, testutil.DirExists(t, finalDir+".WORKING"))
}

// chownRecorder records every ownership change passing through it.
type chownRecorder struct {
	types.FS
	calls []string
}

func (c *chownRecorder) Chown(path string, uid, gid int) error {
	c.calls = append(c.calls, fmt.Sprintf("%s %d:%d", path, uid, gid))
	return c.FS.Chown(path, uid, gid)
}

func TestWriter_EnsureRootCreatesAndOwnsOutputRoot(t *testing.T) {
	fs := &chownRecorder{FS: filesystem.NewMemory()}
	writer := staging.NewWriter(testutil.NewFakeArchive(), fs, staging.Options{
		UID: 104, GID: 107,
	}, zerolog.Nop())

	require.NoError(t, writer.EnsureRoot("/automation_output"))

	_, err := fs.Stat("/automation_output")
	assert.NoError(t, err)
	assert.Equal(t, []string{"/automation_output 104:107"}, fs.calls)
}

func TestWriter_EnsureRootSkipsChownWhenDisabled(t *testing.T) {
	fs := &chownRecorder{FS: filesystem.NewMemory()}
	writer := staging.NewWriter(testutil.NewFakeArchive(), fs, staging.Options{
		UID: -1, GID: -1,
	}, zerolog.Nop())

	require.NoError(t, writer.EnsureRoot("/automation_output"))
	assert.Empty(t, fs.calls)
}

// lingeringFS keeps reporting a removed directory as present for a
// number of Stat calls, the way an eventually consistent mount does.
type lingeringFS struct {
	types.FS
	target  string
	linger  int
	removed bool
}

func (l *lingeringFS) RemoveAll(path string) error {
	err := l.FS.RemoveAll(path)
	if path == l.target {
		l.removed = true
	}
	return err
}

func (l *lingeringFS) Stat(path string) (os.FileInfo, error) {
	if path == l.target && l.removed && l.linger > 0 {
		l.linger--
		return l.FS.Stat(filepath.Dir(path))
	}
	return l.FS.Stat(path)
}

func TestWriter_SettleWaitsOutLingeringDelete(t *testing.T) {
	fake := testutil.NewFakeArchive()
	twoSeriesStudy(fake)
	destRoot := t.TempDir()
	target := filepath.Join(destRoot, "P001-Doe-EX100")
	lfs := &lingeringFS{FS: filesystem.NewOS(), target: target, linger: 2}
	writer := staging.NewWriter(fake, lfs, staging.Options{
		UID: -1, GID: -1, SettleAttempts: 5, SettleDelay: time.Millisecond,
	}, zerolog.Nop())
	res := archive.Resource{Level: archive.LevelStudy, ID: "study-1"}

	first, err := writer.WriteOut(context.Background(), res, destRoot, false)
	require.NoError(t, err)
	require.Equal(t, target, first)

	finalDir, err := writer.WriteOut(context.Background(), res, destRoot, true)
	require.NoError(t, err)
	assert.Zero(t, lfs.linger)
	assert.Len(t, testutil.ListFiles(t, finalDir), 3)
	assert.False(t, testutil.DirExists(t, finalDir+".WORKING"))
}

func TestWriter_SettleGivesUpWhenDeleteNeverSettles(t *testing.T) {
	fake := testutil.NewFakeArchive()
	twoSeriesStudy(fake)
	destRoot := t.TempDir()
	target := filepath.Join(destRoot, "P001-Doe-EX100")
	lfs := &lingeringFS{FS: filesystem.NewOS(), target: target, linger: 100}
	writer := staging.NewWriter(fake, lfs, staging.Options{
		UID: -1, GID: -1, SettleAttempts: 3, SettleDelay: time.Millisecond,
	}, zerolog.Nop())
	res := archive.Resource{Level: archive.LevelStudy, ID: "study-1"}

	_, err := writer.WriteOut(context.Background(), res, destRoot, false)
	require.NoError(t, err)

	_, err = writer.WriteOut(context.Background(), res, destRoot, true)
	require.Error(t, err)
	assert.Equal(t, autoerrors.ErrStageSettle, autoerrors.GetCode(err))

	// The fully staged replacement survives for the next attempt.
	assert.True(t, testutil.DirExists(t, target+".WORKING"))
}

func TestWriter_UnknownLevel(t *testing.T) {
	writer := newWriter(testutil.NewFakeArchive())
	_, err := writer.WriteOut(context.Background(),
		archive.Resource{Level: archive.LevelPatient, ID: "p"}, t.TempDir(), false)
	require.Error(t, err)
	assert.Equal(t, autoerrors.ErrInvalidInput, autoerrors.GetCode(err))
}
