// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect returns container and stream metadata; CountFrames decodes the
// first video stream to report how many frames are actually readable, which
// is how segment artifacts are checked before their last frame is extracted.
package ffprobe
