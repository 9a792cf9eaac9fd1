package core

import "context"

// ObjectStore is the object storage capability. Implementations must be safe
// for concurrent use; connectivity is fixed at construction time and never
// refreshed (restart is the recovery mechanism).
type ObjectStore interface {
	// Connected reports whether the client initialized successfully at startup.
	Connected() bool

	// Get fetches an object and its stored content type. Returns a GatewayError
	// of kind not_found when the backend reports the object missing, and of
	// kind backend_error on any other fault.
	Get(ctx context.Context, bucket, key string) (data []byte, contentType string, err error)

	// Put writes an object under the given key. Returns a backend_error
	// GatewayError on any fault. No retries are performed.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// Embedder converts raw image bytes into a fixed-length float32 vector via the
// inference capability. The call is synchronous and carries its own timeouts.
type Embedder interface {
	Embed(ctx context.Context, data []byte, contentType string) ([]float32, error)
}

// Recorder persists one metadata row per successful upload. Only invoked when
// an embedding vector was produced.
type Recorder interface {
	Record(ctx context.Context, rec MetadataRecord) error
}
