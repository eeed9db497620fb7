package pipeline

import (
	"fmt"
	"sort"
)

// StageID identifies a node of the pipeline DAG.
type StageID int

// Pipeline stages, in a valid topological order.
const (
	StageFetchSource StageID = iota
	StageResolveMedia
	StageAcquire
	StageTranscribe
	StageExtractFrames
	StageAnalyzeTranscript
	StageAnalyzeFrames
	StageSynthesize
)

var stageNames = map[StageID]string{
	StageFetchSource:       "fetch_source",
	StageResolveMedia:      "resolve_media",
	StageAcquire:           "acquire",
	StageTranscribe:        "transcribe",
	StageExtractFrames:     "extract_frames",
	StageAnalyzeTranscript: "analyze_transcript",
	StageAnalyzeFrames:     "analyze_frames",
	StageSynthesize:        "synthesize",
}

// String returns the stage's snake_case name.
func (s StageID) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Dependencies is the static adjacency list of the DAG: each stage maps to
// the stages whose output it consumes.
var Dependencies = map[StageID][]StageID{
	StageFetchSource:       nil,
	StageResolveMedia:      {StageFetchSource},
	StageAcquire:           {StageResolveMedia},
	StageTranscribe:        {StageAcquire},
	StageExtractFrames:     {StageAcquire},
	StageAnalyzeTranscript: {StageTranscribe},
	StageAnalyzeFrames:     {StageExtractFrames},
	StageSynthesize:        {StageAnalyzeTranscript, StageAnalyzeFrames},
}

// Levels groups stages so that every stage's dependencies are in an earlier
// level. Stages within a level are independent and sorted by id.
func Levels(deps map[StageID][]StageID) ([][]StageID, error) {
	remaining := make(map[StageID]int, len(deps))
	dependents := make(map[StageID][]StageID, len(deps))
	for stage, parents := range deps {
		remaining[stage] = len(parents)
		for _, p := range parents {
			if _, ok := deps[p]; !ok {
				return nil, fmt.Errorf("stage %s depends on unknown stage %s", stage, p)
			}
			dependents[p] = append(dependents[p], stage)
		}
	}

	var levels [][]StageID
	var current []StageID
	for stage, n := range remaining {
		if n == 0 {
			current = append(current, stage)
		}
	}

	placed := 0
	for len(current) > 0 {
		sort.Slice(current, func(i, j int) bool { return current[i] < current[j] })
		levels = append(levels, current)
		placed += len(current)

		var next []StageID
		for _, stage := range current {
			for _, child := range dependents[stage] {
				remaining[child]--
				if remaining[child] == 0 {
					next = append(next, child)
				}
			}
		}
		current = next
	}

	if placed != len(deps) {
		return nil, fmt.Errorf("pipeline graph has a cycle")
	}
	return levels, nil
}
