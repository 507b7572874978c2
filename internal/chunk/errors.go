package chunk

import "errors"

var (
	// ErrNotFound indicates the referenced chunk does not exist.
	ErrNotFound = errors.New("chunk not found")

	// ErrEmptyDocumentID indicates a missing document reference. Document
	// ids are opaque non-empty strings, enforced at the store boundary.
	ErrEmptyDocumentID = errors.New("document id must not be empty")

	// ErrEmptyContent indicates a chunk with no text.
	ErrEmptyContent = errors.New("chunk content must not be empty")
)
