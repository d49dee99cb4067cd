package staging

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/autorthanc/autorthanc/pkg/archive"
	"github.com/autorthanc/autorthanc/pkg/errors"
	"github.com/autorthanc/autorthanc/pkg/types"
)

// Options configures a staging writer.
type Options struct {
	// UID and GID are applied to every created directory and file.
	// Values below zero disable ownership changes.
	UID int
	GID int

	// SettleAttempts and SettleDelay bound the wait for a deleted
	// directory to disappear from listings before the promotion step.
	// Network-mounted volumes in the target deployments are only
	// eventually consistent after a recursive delete.
	SettleAttempts int
	SettleDelay    time.Duration
}

// Writer exports a resource's stored objects into a destination tree.
// An export is written under a transient working directory and promoted
// with a merge-move, so the final directory is only ever observed fully
// populated or not at all.
type Writer struct {
	client archive.Client
	fs     types.FS
	opts   Options
	logger zerolog.Logger
}

// NewWriter creates a staging writer.
func NewWriter(client archive.Client, fs types.FS, opts Options, logger zerolog.Logger) *Writer {
	if opts.SettleAttempts <= 0 {
		opts.SettleAttempts = 5
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 200 * time.Millisecond
	}
	return &Writer{client: client, fs: fs, opts: opts, logger: logger}
}

// EnsureRoot creates the output root and applies the configured
// ownership to it. Called once at startup so the export tree exists
// and is owned by its consumer before any rule fires.
func (w *Writer) EnsureRoot(path string) error {
	if err := w.fs.MkdirAll(path, 0755); err != nil {
		return errors.Wrapf(err, errors.ErrStageCreate,
			"failed to create output root %s", path)
	}
	return w.chown(path)
}

// WriteOut exports the resource into destRoot and returns the final
// directory. When the final directory already exists and force is
// false, the call is a no-op returning the existing path. With force,
// the prior export is replaced wholesale: the old directory is deleted
// only after the new object set has been fully staged, so a crash
// mid-job leaves the previous export intact.
func (w *Writer) WriteOut(ctx context.Context, res archive.Resource, destRoot string, force bool) (string, error) {
	logger := w.logger.With().
		Str("resource", res.ID).
		Str("level", string(res.Level)).
		Logger()

	if err := w.fs.MkdirAll(destRoot, 0755); err != nil {
		return "", errors.Wrapf(err, errors.ErrStageCreate,
			"failed to create destination root %s", destRoot)
	}
	if err := w.chown(destRoot); err != nil {
		return "", err
	}

	job, err := w.resolve(ctx, res, destRoot)
	if err != nil {
		return "", err
	}

	finalExists := w.exists(job.finalDir)
	if finalExists {
		if !force {
			logger.Warn().Str("dir", job.finalDir).Msg("Already exported, not written out")
			return job.finalDir, nil
		}
		logger.Warn().Str("dir", job.finalDir).Msg("Export exists, overwriting")
	}

	logger.Info().Str("dir", job.finalDir).Msg("Begin writing out resource")

	if err := w.fs.MkdirAll(job.workingDir, 0755); err != nil {
		return "", errors.Wrapf(err, errors.ErrStageCreate,
			"failed to create working directory %s", job.workingDir)
	}
	if err := w.chown(job.workingDir); err != nil {
		return "", err
	}

	if err := w.stageObjects(ctx, job); err != nil {
		return "", err
	}

	// Only now may the previous export be destroyed: the replacement is
	// fully staged in the working directory.
	if w.exists(job.finalDir) {
		if err := w.fs.RemoveAll(job.finalDir); err != nil {
			return "", errors.Wrapf(err, errors.ErrStageMove,
				"failed to remove previous export %s", job.finalDir)
		}
		if err := w.waitGone(job.finalDir); err != nil {
			return "", err
		}
	}

	if err := w.mergeMove(job.workingDir, job.finalDir); err != nil {
		return "", err
	}
	if err := w.fs.RemoveAll(job.workingDir); err != nil {
		return "", errors.Wrapf(err, errors.ErrStageMove,
			"failed to remove working directory %s", job.workingDir)
	}

	if err := w.chownTree(job.finalDir); err != nil {
		return "", err
	}

	logger.Info().Str("dir", job.finalDir).Msg("Written out resource")
	return job.finalDir, nil
}

// stagingJob holds the resolved paths and enumeration scope of one
// export.
type stagingJob struct {
	finalDir   string
	workingDir string
	seriesIDs  []string
}

// resolve fetches the metadata needed to name the final directory and
// enumerate the series in scope.
func (w *Writer) resolve(ctx context.Context, res archive.Resource, destRoot string) (*stagingJob, error) {
	switch res.Level {
	case archive.LevelStudy:
		study, err := w.client.Study(ctx, res.ID)
		if err != nil {
			return nil, err
		}
		finalDir := filepath.Join(destRoot, StudyDescriptor(study))
		return &stagingJob{
			finalDir:   finalDir,
			workingDir: finalDir + workingSuffix,
			seriesIDs:  study.Series,
		}, nil

	case archive.LevelSeries:
		series, err := w.client.Series(ctx, res.ID)
		if err != nil {
			return nil, err
		}
		study, err := w.client.Study(ctx, series.ParentStudy)
		if err != nil {
			return nil, err
		}
		finalDir := filepath.Join(destRoot, StudyDescriptor(study)+SeriesSuffix(series))
		return &stagingJob{
			finalDir:   finalDir,
			workingDir: finalDir + workingSuffix,
			seriesIDs:  []string{res.ID},
		}, nil

	default:
		return nil, errors.Newf(errors.ErrInvalidInput,
			"cannot stage resource at level %q", res.Level)
	}
}

// stageObjects fetches every object in scope and writes it unchanged
// under the working directory. A single fetch or write failure aborts
// the whole job; the partially populated working directory is left for
// the next run to reuse or overwrite.
func (w *Writer) stageObjects(ctx context.Context, job *stagingJob) error {
	for _, seriesID := range job.seriesIDs {
		series, err := w.client.Series(ctx, seriesID)
		if err != nil {
			return err
		}
		seriesDir := filepath.Join(job.workingDir, SeriesSubdir(series))
		if err := w.fs.MkdirAll(seriesDir, 0755); err != nil {
			return errors.Wrapf(err, errors.ErrStageCreate,
				"failed to create series directory %s", seriesDir)
		}

		instances, err := w.client.SeriesInstances(ctx, seriesID)
		if err != nil {
			return err
		}
		for i := range instances {
			instance := &instances[i]
			data, err := w.client.InstanceFile(ctx, instance.ID)
			if err != nil {
				return errors.Wrapf(err, errors.ErrStageFetch,
					"failed to fetch instance %s", instance.ID)
			}
			target := filepath.Join(seriesDir, ObjectFileName(instance))
			if err := w.fs.WriteFile(target, data, 0644); err != nil {
				return errors.Wrapf(err, errors.ErrStageWrite,
					"failed to write %s", target)
			}
		}
	}
	return nil
}

// mergeMove moves every file from src into dst preserving relative
// paths, creating destination directories as needed. An existing
// destination file that is not the same file is deleted first. A plain
// rename of the whole tree is not used because the destination may live
// on a mount that cannot rename across directories atomically.
func (w *Writer) mergeMove(src, dst string) error {
	entries, err := w.fs.ReadDir(src)
	if err != nil {
		return errors.Wrapf(err, errors.ErrStageMove, "failed to list %s", src)
	}
	if err := w.fs.MkdirAll(dst, 0755); err != nil {
		return errors.Wrapf(err, errors.ErrStageMove, "failed to create %s", dst)
	}

	for _, entry := range entries {
		s := filepath.Join(src, entry.Name())
		d := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := w.mergeMove(s, d); err != nil {
				return err
			}
			continue
		}

		if dstInfo, err := w.fs.Stat(d); err == nil {
			srcInfo, err := w.fs.Stat(s)
			if err == nil && os.SameFile(srcInfo, dstInfo) {
				continue
			}
			if err := w.fs.Remove(d); err != nil {
				return errors.Wrapf(err, errors.ErrStageMove,
					"failed to replace existing file %s", d)
			}
		}
		if err := w.fs.Rename(s, d); err != nil {
			return errors.Wrapf(err, errors.ErrStageMove,
				"failed to move %s to %s", s, d)
		}
	}
	return nil
}

// waitGone polls until the path no longer stats, bounded by the
// configured attempts. Replaces a fixed post-delete sleep with an
// explicit confirmation step.
func (w *Writer) waitGone(path string) error {
	for attempt := 0; attempt < w.opts.SettleAttempts; attempt++ {
		if !w.exists(path) {
			return nil
		}
		time.Sleep(w.opts.SettleDelay)
	}
	return errors.Newf(errors.ErrStageSettle,
		"%s still visible after %d attempts", path, w.opts.SettleAttempts)
}

func (w *Writer) exists(path string) bool {
	_, err := w.fs.Stat(path)
	return err == nil
}

func (w *Writer) chown(path string) error {
	if w.opts.UID < 0 && w.opts.GID < 0 {
		return nil
	}
	if err := w.fs.Chown(path, w.opts.UID, w.opts.GID); err != nil {
		return errors.Wrapf(err, errors.ErrStageOwner, "failed to chown %s", path)
	}
	return nil
}

// chownTree applies ownership recursively to a directory tree.
func (w *Writer) chownTree(root string) error {
	if w.opts.UID < 0 && w.opts.GID < 0 {
		return nil
	}
	if err := w.chown(root); err != nil {
		return err
	}
	entries, err := w.fs.ReadDir(root)
	if err != nil {
		return errors.Wrapf(err, errors.ErrStageOwner, "failed to list %s", root)
	}
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if entry.IsDir() {
			if err := w.chownTree(path); err != nil {
				return err
			}
			continue
		}
		if err := w.chown(path); err != nil {
			return err
		}
	}
	return nil
}
