package scheduler

import (
	"fmt"

	"github.com/gridmesh/gridmesh/pkg/models"
)

// MergeResults flattens the `result` lists collected from the executors
// into one list, preserving executor order
func MergeResults(payloads []map[string]any) ([]any, error) {
	var merged []any
	for _, payload := range payloads {
		raw, ok := payload["result"]
		if !ok {
			return nil, fmt.Errorf("executor payload carries no result list")
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("executor result must be a list")
		}
		merged = append(merged, list...)
	}
	return merged, nil
}

// Reduce collapses a merged result list into the task's final answer. For
// grid searches that is the evaluation with the highest f1_score, the first
// seen winning ties.
func Reduce(taskType models.TaskType, merged []any) (map[string]any, error) {
	switch taskType {
	case models.TaskTypeGridSearch:
		return reduceBestF1(merged)
	}
	return nil, fmt.Errorf("no reducer for task type %q", taskType)
}

func reduceBestF1(merged []any) (map[string]any, error) {
	if len(merged) == 0 {
		return nil, fmt.Errorf("cannot reduce an empty result list")
	}

	var best map[string]any
	bestScore := 0.0
	for _, raw := range merged {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("result entry is not an object")
		}
		score, ok := entry["f1_score"].(float64)
		if !ok {
			return nil, fmt.Errorf("result entry carries no f1_score")
		}
		if best == nil || score > bestScore {
			best = entry
			bestScore = score
		}
	}
	return best, nil
}
