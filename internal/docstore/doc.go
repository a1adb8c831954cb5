// Package docstore is the boundary to the document repository. The
// authorization pipeline reads document security attributes through the
// Store interface and never mutates them; persistence lives behind the
// remote repository service.
//
// Two implementations are provided: an HTTP client for the repository
// service and an in-memory store for tests and single-instance
// development runs.
package docstore
