// Package pipeline implements the upload state machine. Steps run strictly in
// sequence: validate, derive identity, embed, store, record. Embedding and
// metadata recording are best-effort; the object store write is the only step
// whose failure aborts the upload. No step is retried and no compensating
// delete is performed.
package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"imgproxy/internal/core"
)

// defaultContentType is used when neither the client nor the filename yields
// a MIME type.
const defaultContentType = "image/png"

// Config holds the pipeline's validation and addressing settings.
type Config struct {
	// DefaultBucket receives uploads without an explicit target bucket.
	DefaultBucket string

	// MaxSize is the upload size ceiling in bytes.
	MaxSize int64

	// AllowedExtensions is the lower-cased extension allow-set, without dots.
	AllowedExtensions []string
}

// Pipeline orchestrates one upload at a time per call. Stateless and safe for
// concurrent use.
type Pipeline struct {
	store    core.ObjectStore
	embedder core.Embedder
	recorder core.Recorder
	cfg      Config
	allowed  map[string]struct{}
	log      *slog.Logger
	now      func() time.Time
}

// New creates an upload pipeline over the three capabilities.
func New(store core.ObjectStore, embedder core.Embedder, recorder core.Recorder, cfg Config, log *slog.Logger) *Pipeline {
	allowed := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	return &Pipeline{
		store:    store,
		embedder: embedder,
		recorder: recorder,
		cfg:      cfg,
		allowed:  allowed,
		log:      log,
		now:      time.Now,
	}
}

// Run executes the upload state machine. A returned error is always a
// *core.GatewayError: validation errors before any side effect, connection or
// backend errors from the store write. Embedding and recording failures never
// surface as errors; they degrade the result instead.
func (p *Pipeline) Run(ctx context.Context, in core.UploadInput) (*core.UploadResult, error) {
	// Step 1: validate. Pure, no side effects, no network calls.
	if err := p.validate(in); err != nil {
		return nil, err
	}

	// Step 2: derive identity.
	bucket := in.Bucket
	if bucket == "" {
		bucket = p.cfg.DefaultBucket
	}
	key := deriveKey(in.Filename, in.Folder)
	contentType := resolveContentType(in.ContentType, in.Filename)
	size := int64(len(in.Data))

	p.log.Info("upload started", "bucket", bucket, "key", key, "size", size, "content_type", contentType)

	// Step 3: embed, best-effort. Embedding is an enhancement; object storage
	// is the guarantee.
	var vector []float32
	if vec, err := p.embedder.Embed(ctx, in.Data, contentType); err != nil {
		p.log.Error("embedding failed, continuing without vector", "error", err, "key", key)
	} else {
		vector = vec
		p.log.Info("embedding computed", "key", key, "dims", len(vec))
	}

	// Step 4: store the object. The only fatal step.
	if err := p.store.Put(ctx, bucket, key, in.Data, contentType); err != nil {
		p.log.Error("object store write failed", "error", err, "bucket", bucket, "key", key)
		return nil, err
	}

	uploadedAt := p.now()

	// Step 5: record metadata, best-effort, only when a vector exists.
	persisted := false
	if vector != nil {
		err := p.recorder.Record(ctx, core.MetadataRecord{
			Bucket:      bucket,
			ObjectName:  key,
			ContentType: contentType,
			FileSize:    size,
			UploadedAt:  uploadedAt,
			Embedding:   vector,
		})
		if err != nil {
			// The response still reports embedding_saved=true: the flag
			// reflects the computed vector, not durability of the row.
			p.log.Error("metadata insert failed, upload still succeeds", "error", err, "bucket", bucket, "key", key)
		} else {
			persisted = true
		}
	}

	p.log.Info("upload complete", "bucket", bucket, "key", key, "embedding", vector != nil, "persisted", persisted)

	return &core.UploadResult{
		ObjectName:        key,
		Bucket:            bucket,
		ProxyURL:          fmt.Sprintf("/img/%s/%s", bucket, key),
		FileSize:          size,
		ContentType:       contentType,
		UploadedAt:        uploadedAt,
		VectorComputed:    vector != nil,
		MetadataPersisted: persisted,
	}, nil
}

func (p *Pipeline) validate(in core.UploadInput) error {
	if in.Filename == "" {
		return core.NewValidationError("filename is empty")
	}
	ext := extension(in.Filename)
	if _, ok := p.allowed[ext]; ext == "" || !ok {
		return core.NewValidationError(fmt.Sprintf(
			"file type not allowed. allowed types: %s", strings.Join(p.cfg.AllowedExtensions, ", ")))
	}
	if int64(len(in.Data)) > p.cfg.MaxSize {
		return core.NewValidationError(fmt.Sprintf(
			"file too large. maximum size: %dMB", p.cfg.MaxSize/(1024*1024)))
	}
	return nil
}

// deriveKey builds the object key: a random 32-hex token with the original
// extension, under the folder prefix when given. Collisions are treated as
// negligible; no uniqueness check is made against the store.
func deriveKey(filename, folder string) string {
	u := uuid.New()
	name := hex.EncodeToString(u[:]) + "." + extension(filename)

	folder = strings.Trim(folder, "/")
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

// resolveContentType prefers the declared type, then a filename sniff, then
// the fixed fallback.
func resolveContentType(declared, filename string) string {
	if declared != "" {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return byExt
	}
	return defaultContentType
}

// extension returns the lower-cased filename extension without the dot, or ""
// when the filename has none.
func extension(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}
