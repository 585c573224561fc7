package job

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"reelchain/internal/textutil"
)

const (
	// SnapshotFileName is the per-job state file.
	SnapshotFileName = "job_state.json"
	// StartImageFileName is the copy of the user-supplied first frame.
	StartImageFileName = "start_image.png"

	segmentsDir = "segments"
	framesDir   = "frames"
	dirTimeFmt  = "20060102_150405"
)

// DirName returns the job directory name: the sanitized job name followed
// by the creation timestamp.
func DirName(name string, createdAt time.Time) string {
	return textutil.Slug(name) + "_" + createdAt.UTC().Format(dirTimeFmt)
}

func attemptSuffix(retry int) string {
	if retry <= 0 {
		return ""
	}
	return fmt.Sprintf("_r%d", retry)
}

// SegmentFileName names the video for a stage attempt: segment_003.mp4 for
// the first attempt at index 2, segment_003_r1.mp4 for its first retry.
func SegmentFileName(index, retry int) string {
	return fmt.Sprintf("segment_%03d%s.mp4", index+1, attemptSuffix(retry))
}

// FrameFileName names the last-frame image for a stage attempt.
func FrameFileName(index, retry int) string {
	return fmt.Sprintf("frame_%03d%s.png", index+1, attemptSuffix(retry))
}

// UploadName is the render-side file name for an attempt's start image.
// The render host shares one input folder across jobs, so the name carries
// the job id, stage number and retry.
func (j *Job) UploadName(s *Stage) string {
	ext := strings.ToLower(filepath.Ext(s.StartImage))
	if ext == "" {
		ext = ".png"
	}
	return fmt.Sprintf("%s_input_%03d%s%s", j.ID, s.Index+1, attemptSuffix(s.RetryCount), ext)
}

// SnapshotPath returns the job_state.json path for the job.
func (j *Job) SnapshotPath() string {
	return filepath.Join(j.Dir, SnapshotFileName)
}

// StartImagePath returns where the initial start image is stored.
func (j *Job) StartImagePath() string {
	return filepath.Join(j.Dir, StartImageFileName)
}

// SegmentPath returns the destination for the attempt's segment.
func (j *Job) SegmentPath(s *Stage) string {
	return filepath.Join(j.Dir, segmentsDir, SegmentFileName(s.Index, s.RetryCount))
}

// FramePath returns the destination for the attempt's extracted last frame.
func (j *Job) FramePath(s *Stage) string {
	return filepath.Join(j.Dir, framesDir, FrameFileName(s.Index, s.RetryCount))
}

// FinalOutputTarget returns where the assembled video is written.
func (j *Job) FinalOutputTarget() string {
	return filepath.Join(j.Dir, textutil.Slug(j.Name)+"_final.mp4")
}

// OutputPrefix returns the render-side filename prefix for an attempt.
func (j *Job) OutputPrefix(s *Stage) string {
	return fmt.Sprintf("%s_%03d%s", j.Settings.OutputPrefix, s.Index+1, attemptSuffix(s.RetryCount))
}

// Subdirs lists the directories created beneath the job directory.
func (j *Job) Subdirs() []string {
	return []string{j.Dir, filepath.Join(j.Dir, segmentsDir), filepath.Join(j.Dir, framesDir)}
}
