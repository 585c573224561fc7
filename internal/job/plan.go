package job

import (
	"fmt"
	"math"
)

// SegmentOption pairs a segment duration with its frame count at 16 fps.
type SegmentOption struct {
	Seconds int `json:"duration_seconds"`
	Frames  int `json:"num_frames"`
}

// SegmentOptions are the supported segment lengths in order of preference.
var SegmentOptions = []SegmentOption{
	{Seconds: 5, Frames: 81},
	{Seconds: 4, Frames: 65},
	{Seconds: 3, Frames: 49},
}

// PlannedStage is one entry of a duration plan.
type PlannedStage struct {
	StageNumber int `json:"stage_number"`
	SegmentOption
}

// secondsPerReferenceStage is the observed render time for 81 frames at 640x640.
const secondsPerReferenceStage = 520.0

// PlanSegments breaks a target duration into stages of one uniform segment
// length. The option leaving the smallest remainder wins, earlier options
// breaking ties, and a remainder of two seconds or more adds one stage.
func PlanSegments(totalSeconds int) []PlannedStage {
	best := SegmentOption{}
	bestCount := 0
	bestRemainder := math.MaxInt
	for _, option := range SegmentOptions {
		count := totalSeconds / option.Seconds
		remainder := totalSeconds % option.Seconds
		if count > 0 && remainder < bestRemainder {
			best, bestCount, bestRemainder = option, count, remainder
		}
	}

	if bestCount == 0 {
		best = SegmentOptions[0]
		bestCount = max(1, totalSeconds/best.Seconds)
	} else if bestRemainder >= 2 {
		bestCount++
	}

	stages := make([]PlannedStage, bestCount)
	for i := range stages {
		stages[i] = PlannedStage{StageNumber: i + 1, SegmentOption: best}
	}
	return stages
}

// EstimateGeneration returns a human-readable estimate of total render time.
func EstimateGeneration(framesPerSegment, stages int) string {
	total := secondsPerReferenceStage * (float64(framesPerSegment) / 81) * float64(stages)
	switch {
	case total < 60:
		return fmt.Sprintf("~%d seconds", int(total))
	case total < 3600:
		return fmt.Sprintf("~%d minutes", int(total/60))
	default:
		return fmt.Sprintf("~%.1f hours", total/3600)
	}
}
