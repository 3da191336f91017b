package scheduler

import (
	"fmt"
)

// SubtasksParamsKey names the task param holding the list of atomic
// configurations to spread over executors
const SubtasksParamsKey = "subtasks_params"

// SubtaskParamsKey names the per-executor slice in each subtask payload
const SubtaskParamsKey = "subtask_params"

// Partition splits a task's atomic configurations over k executors. Atomic i
// lands in bucket i*k/n, which keeps buckets ordered and balanced to within
// one element. Every other top-level param is deep-copied into each payload.
func Partition(params map[string]any, k int) ([]map[string]any, error) {
	if k <= 0 {
		return nil, fmt.Errorf("cannot partition over %d executors", k)
	}
	raw, ok := params[SubtasksParamsKey]
	if !ok {
		return nil, fmt.Errorf("params carry no %q list", SubtasksParamsKey)
	}
	atomics, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%q must be a list", SubtasksParamsKey)
	}

	buckets := make([][]any, k)
	for i := range buckets {
		buckets[i] = []any{}
	}
	n := len(atomics)
	for i, atomic := range atomics {
		b := i * k / n
		buckets[b] = append(buckets[b], deepCopyValue(atomic))
	}

	payloads := make([]map[string]any, k)
	for i, bucket := range buckets {
		payload := make(map[string]any, len(params))
		for key, value := range params {
			if key == SubtasksParamsKey {
				continue
			}
			payload[key] = deepCopyValue(value)
		}
		payload[SubtaskParamsKey] = bucket
		payloads[i] = payload
	}
	return payloads, nil
}

func deepCopyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = deepCopyValue(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, value := range v {
			out[i] = deepCopyValue(value)
		}
		return out
	default:
		return v
	}
}
