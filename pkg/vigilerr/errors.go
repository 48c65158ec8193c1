// Package vigilerr defines the pipeline's error taxonomy (spec.md §7).
//
// Every error a pipeline stage can surface is one of a small set of kinds.
// Infrastructure errors (Store, Bus, Ingest) are retryable with exponential
// backoff; AnalysisTimeout is not an error surface at all — callers that
// hit it should emit a partial report and proceed. SandboxFault is
// job-fatal but never process-fatal: it terminates one sandbox and lets
// synthesis proceed on static alone.
package vigilerr

import (
	"errors"
	"fmt"
)

// Kind identifies which taxonomy bucket an error falls into.
type Kind string

const (
	KindInvalidArtifact   Kind = "InvalidArtifact"
	KindIngestError       Kind = "IngestError"
	KindStoreError        Kind = "StoreError"
	KindBusError          Kind = "BusError"
	KindAnalysisTimeout   Kind = "AnalysisTimeout"
	KindSandboxFault      Kind = "SandboxFault"
	KindAuthorizationError Kind = "AuthorizationError"
	KindInternal          Kind = "Internal"
)

// Error is a typed pipeline error carrying a correlation ID for operator
// lookup (spec.md §7: "errors never leak internal stack traces to
// clients; they are logged with correlation IDs").
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	Retryable     bool
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// ClientFrame is the shape sent on the streaming channel's terminal error
// frame (spec.md §7): `{error_kind, message, artifact_id}`. Message here
// must never contain e.Cause's text when Cause might hold internal detail;
// callers building ClientFrame should pass a client-safe message.
type ClientFrame struct {
	ErrorKind  Kind   `json:"error_kind"`
	Message    string `json:"message"`
	ArtifactID string `json:"artifact_id"`
}

func New(kind Kind, retryable bool, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Retryable: retryable, Cause: cause}
}

func InvalidArtifact(msg string, cause error) *Error {
	return New(KindInvalidArtifact, false, msg, cause)
}

func Ingest(msg string, cause error) *Error {
	return New(KindIngestError, true, msg, cause)
}

func Store(msg string, cause error) *Error {
	return New(KindStoreError, true, msg, cause)
}

func Bus(msg string, cause error) *Error {
	return New(KindBusError, true, msg, cause)
}

func Timeout(msg string) *Error {
	return New(KindAnalysisTimeout, false, msg, nil)
}

func Sandbox(msg string, cause error) *Error {
	return New(KindSandboxFault, false, msg, cause)
}

func Authorization(msg string) *Error {
	return New(KindAuthorizationError, false, msg, nil)
}

func Internal(msg string, cause error) *Error {
	return New(KindInternal, false, msg, cause)
}

// IsRetryable reports whether err (or one of its wrapped causes) is a
// retryable pipeline error.
func IsRetryable(err error) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err is
// not a *Error.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindInternal
}
