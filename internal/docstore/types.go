package docstore

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates that the document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrStoreUnavailable indicates that the repository could not be reached.
	ErrStoreUnavailable = errors.New("document store is unavailable")
)

// StoreError wraps a store failure with the operation and document id.
type StoreError struct {
	Op    string
	DocID string
	Cause error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.DocID != "" {
		return fmt.Sprintf("docstore %s (id=%s): %v", e.Op, e.DocID, e.Cause)
	}
	return fmt.Sprintf("docstore %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, docID string, cause error) *StoreError {
	return &StoreError{Op: op, DocID: docID, Cause: cause}
}

// DocumentAttributes is the security marking of a document. The pipeline
// reads these to make access decisions and never writes them back.
type DocumentAttributes struct {
	// Clearance is the classification label of the document.
	Clearance string `json:"clearance"`

	// ReleasableTo lists the coalitions the document may be released to.
	ReleasableTo []string `json:"releasableTo"`

	// COITags are the communities of interest the document belongs to.
	COITags []string `json:"coiTags"`

	// LACVCode is an optional compartment code.
	LACVCode string `json:"lacvCode,omitempty"`
}

// Document is a stored document with its security attributes.
type Document struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	Body       string             `json:"body,omitempty"`
	Creator    string             `json:"creator,omitempty"`
	Attributes DocumentAttributes `json:"attributes"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}
