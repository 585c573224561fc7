// Package assembler joins accepted segment files into the final video.
//
// The fast path is ffmpeg's concat demuxer with stream copy. When segments do
// not share codec and geometry, when the copy fails, or when the result does
// not probe as a playable file, every segment is re-encoded to a common H.264
// profile and concatenation is retried once. Segment files are never modified.
package assembler
