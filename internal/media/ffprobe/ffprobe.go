package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Duration     string `json:"duration"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	PixFmt       string `json:"pix_fmt"`
	RFrameRate   string `json:"r_frame_rate"`
	NBFrames     string `json:"nb_frames"`
	NBReadFrames string `json:"nb_read_frames"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// Signature identifies the properties that must match for stream-copy
// concatenation to produce a valid file.
type Signature struct {
	Codec  string
	Width  int
	Height int
	PixFmt string
}

func (s Signature) String() string {
	return fmt.Sprintf("%s %dx%d %s", s.Codec, s.Width, s.Height, s.PixFmt)
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	return run(ctx, binary, path, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json")
}

// CountFrames decodes the first video stream and returns the number of frames
// ffprobe could read. A file without a video stream yields 0.
func CountFrames(ctx context.Context, binary string, path string) (int, error) {
	result, err := run(ctx, binary, path, "-v", "error", "-hide_banner", "-select_streams", "v:0", "-count_frames", "-show_streams", "-of", "json")
	if err != nil {
		return 0, err
	}
	video, ok := result.PrimaryVideo()
	if !ok {
		return 0, nil
	}
	count, err := strconv.Atoi(strings.TrimSpace(video.NBReadFrames))
	if err != nil {
		return 0, fmt.Errorf("ffprobe parse: nb_read_frames %q: %w", video.NBReadFrames, err)
	}
	return count, nil
}

func run(ctx context.Context, binary, path string, args ...string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	args = append(args, "--", path)
	cmd := exec.CommandContext(ctx, binary, args...)
	output, err := cmd.Output()
	if err != nil {
		var stderr string
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = strings.TrimSpace(string(exitErr.Stderr))
		}
		return Result{}, fmt.Errorf("ffprobe inspect: %w: %s", err, stderr)
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// VideoStreamCount returns the number of video streams discovered.
func (r Result) VideoStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			count++
		}
	}
	return count
}

// PrimaryVideo returns the first video stream.
func (r Result) PrimaryVideo() (Stream, bool) {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			return stream, true
		}
	}
	return Stream{}, false
}

// VideoSignature returns the concat-relevant properties of the first video stream.
func (r Result) VideoSignature() (Signature, bool) {
	video, ok := r.PrimaryVideo()
	if !ok {
		return Signature{}, false
	}
	return Signature{
		Codec:  strings.ToLower(video.CodecName),
		Width:  video.Width,
		Height: video.Height,
		PixFmt: strings.ToLower(video.PixFmt),
	}, true
}

// DurationSeconds returns the container duration in seconds, or 0 when unavailable.
func (r Result) DurationSeconds() float64 {
	return parseFloat(r.Format.Duration)
}

// SizeBytes returns the reported container size in bytes, or 0 when unavailable.
func (r Result) SizeBytes() int64 {
	size := parseFloat(r.Format.Size)
	if math.IsNaN(size) || size < 0 {
		return 0
	}
	return int64(size)
}

// FrameRate parses r_frame_rate ("16/1") of the first video stream.
func (r Result) FrameRate() float64 {
	video, ok := r.PrimaryVideo()
	if !ok {
		return 0
	}
	num, den, found := strings.Cut(strings.TrimSpace(video.RFrameRate), "/")
	if !found {
		return parseFloat(num)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 || math.IsNaN(n) || math.IsNaN(d) {
		return 0
	}
	return n / d
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}
