package contextmgr

import (
	"errors"
	"fmt"
)

// Kind classifies orchestrator failures so the dispatch layer can translate
// them without parsing message text.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindEmptyInput   Kind = "empty_input"
	KindStoreFailure Kind = "store_failure"
	KindScoring      Kind = "scoring_failure"
	KindValidation   Kind = "validation_failure"
)

// Sentinels for the two hard-failure conditions of CreateSummary.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoArchivedItems      = errors.New("no archived items to summarize")
)

// Error wraps an underlying error with its kind and the failed operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from an error chain, defaulting to
// store failure for anything unclassified.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	switch {
	case errors.Is(err, ErrConversationNotFound):
		return KindNotFound
	case errors.Is(err, ErrNoArchivedItems):
		return KindEmptyInput
	}
	return KindStoreFailure
}

func storeErr(op string, err error) error {
	return &Error{Kind: KindStoreFailure, Op: op, Err: err}
}
