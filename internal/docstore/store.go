package docstore

import "context"

// Store is the document repository boundary.
type Store interface {
	// FindByID returns the document with the given id, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Document, error)

	// List returns every stored document. Callers filter the result to
	// what the subject may see.
	List(ctx context.Context) ([]*Document, error)

	// Create stores a new document and returns it with its assigned id.
	Create(ctx context.Context, doc *Document) (*Document, error)

	// Update replaces the document with the given id, or ErrNotFound.
	Update(ctx context.Context, id string, doc *Document) (*Document, error)

	// Delete removes the document with the given id, or ErrNotFound.
	Delete(ctx context.Context, id string) error
}
