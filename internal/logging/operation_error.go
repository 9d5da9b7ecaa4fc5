package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// OperationError records which step of a classification failed, for which
// request, and on which image digest. It logs as a structured object.
type OperationError struct {
	Operation string
	RequestID string
	SHA256    string
	Err       error
}

// NewOperationError wraps err; a nil err stays nil.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// ForImage wraps a non-nil err with the digest of the image being handled.
func ForImage(operation, requestID, sha256 string, err error) *OperationError {
	return &OperationError{Operation: operation, RequestID: requestID, SHA256: sha256, Err: err}
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s (request_id=%s): %v", e.Operation, e.RequestID, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MarshalLogObject lets zap.Object emit the failure as nested fields instead
// of a flattened message.
func (e *OperationError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("operation", e.Operation)
	if e.RequestID != "" {
		enc.AddString("request_id", e.RequestID)
	}
	if e.SHA256 != "" {
		enc.AddString("sha256", e.SHA256)
	}
	if e.Err != nil {
		enc.AddString("cause", e.Err.Error())
	}
	return nil
}
