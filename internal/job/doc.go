// Package job defines the persisted model of a chained video job: the job
// record, its append-only log of stage attempts, the attempt state machine,
// and the snapshot store that writes each job to its own directory.
//
// A job directory holds:
//
//	job_state.json            snapshot (version 1)
//	start_image.png           user-supplied first frame
//	segments/segment_001.mp4  one file per attempt (retries get _r1, _r2, ...)
//	frames/frame_001.png      last frame of each succeeded attempt
//	<name>_final.mp4          assembled output
//
// The model is not safe for concurrent use; callers serialise access per job.
package job
