// Package jobrpc is the JSON-RPC 2.0 HTTP API: dev.enqueue.v1,
// dev.cancel.v1, logs.tail.v1, admin.stats.v1, admin.maintenance.v1. It is
// a thin transport layer over internal/app and internal/store — the
// reusable core logic it calls into is what carries the real invariants.
package jobrpc

import "github.com/semantica/task-engine/internal/apperr"

// JSON-RPC error codes, per the external interfaces error code space.
const (
	CodeValidation = 4000
	CodeNotFound   = 4001
	CodeConflict   = 4002
	CodeThrottled  = 4003
	CodeInternal   = 5000
	CodeDB         = 5001
	CodeSystem     = 5002
)

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToRPCError maps an apperr.Kind to the code space above.
func ToRPCError(err error) RPCError {
	kind := apperr.KindOf(err)
	code := CodeInternal
	switch kind {
	case apperr.Validation:
		code = CodeValidation
	case apperr.NotFound:
		code = CodeNotFound
	case apperr.Conflict:
		code = CodeConflict
	case apperr.Throttled:
		code = CodeThrottled
	case apperr.Db:
		code = CodeDB
	case apperr.Execution:
		code = CodeSystem
	case apperr.Internal:
		code = CodeInternal
	}
	return RPCError{Code: code, Message: err.Error()}
}
