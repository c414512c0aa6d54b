package app

import (
	"encoding/json"
	"strings"

	"github.com/semantica/task-engine/internal/apperr"
)

const (
	maxQueueLen      = 64
	maxJobTypeLen    = 128
	maxSubjectKeyLen = 512
	maxPayloadDepth  = 32
	minPriority      = -100
	maxPriority      = 100
)

func isQueueNameChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}

// EnqueueRequest is the validated-or-rejected input to Enqueue.
type EnqueueRequest struct {
	Queue      string
	JobType    string
	SubjectKey string
	Payload    json.RawMessage
	Priority   int
}

// Validate applies the rules from the design's enqueue validation rules,
// rejecting with apperr.Validation.
func (r EnqueueRequest) Validate() error {
	if r.Queue == "" || len(r.Queue) > maxQueueLen {
		return apperr.Validationf("queue must be 1..%d characters", maxQueueLen)
	}
	for _, c := range r.Queue {
		if !isQueueNameChar(c) {
			return apperr.Validationf("queue must match [A-Za-z0-9_-]")
		}
	}
	if r.JobType == "" || len(r.JobType) > maxJobTypeLen {
		return apperr.Validationf("job_type must be 1..%d characters", maxJobTypeLen)
	}
	if r.SubjectKey == "" || len(r.SubjectKey) > maxSubjectKeyLen {
		return apperr.Validationf("subject_key must be 1..%d characters", maxSubjectKeyLen)
	}
	if strings.ContainsRune(r.SubjectKey, 0) {
		return apperr.Validationf("subject_key must not contain NUL")
	}
	if r.Priority < minPriority || r.Priority > maxPriority {
		return apperr.Validationf("priority must be in [%d, %d]", minPriority, maxPriority)
	}
	if len(r.Payload) > 0 {
		var v interface{}
		if err := json.Unmarshal(r.Payload, &v); err != nil {
			return apperr.Validationf("payload must be valid JSON: %v", err)
		}
		if depth := jsonDepth(v, 0); depth > maxPayloadDepth {
			return apperr.Validationf("payload nesting depth must be <= %d", maxPayloadDepth)
		}
	}
	return nil
}

func jsonDepth(v interface{}, depth int) int {
	switch t := v.(type) {
	case map[string]interface{}:
		max := depth
		for _, child := range t {
			if d := jsonDepth(child, depth+1); d > max {
				max = d
			}
		}
		return max
	case []interface{}:
		max := depth
		for _, child := range t {
			if d := jsonDepth(child, depth+1); d > max {
				max = d
			}
		}
		return max
	default:
		return depth
	}
}
