package core

import "time"

// UploadInput is one upload request as handed to the pipeline. The byte slice
// is owned by the request and must not be retained past pipeline completion.
type UploadInput struct {
	// Filename as declared by the client. Its extension decides admissibility.
	Filename string

	// Data is the raw file content.
	Data []byte

	// ContentType as declared in the multipart part header; may be empty.
	ContentType string

	// Bucket overrides the configured default bucket when non-empty.
	Bucket string

	// Folder is an optional key prefix. Leading/trailing slashes are trimmed.
	Folder string
}

// UploadResult is the outcome of a successful upload. The object is stored;
// embedding and metadata recording are best-effort and reported separately.
type UploadResult struct {
	ObjectName  string
	Bucket      string
	ProxyURL    string
	FileSize    int64
	ContentType string
	UploadedAt  time.Time

	// VectorComputed reports whether the embedding step produced a vector.
	// This is what the response's embedding_saved flag reflects.
	VectorComputed bool

	// MetadataPersisted reports whether the metadata row was actually written.
	// Can be false while VectorComputed is true; the upload still succeeds.
	MetadataPersisted bool
}

// MetadataRecord is the row persisted per successful (store-write + embedding)
// pair. Written at most once, never updated or deleted by this system.
type MetadataRecord struct {
	Bucket      string
	ObjectName  string
	ContentType string
	FileSize    int64
	UploadedAt  time.Time
	Embedding   []float32
}
