// Package metadata persists one row per successful upload into the relational
// store. Each call opens a connection, inserts, and closes: the write rate is
// one row per upload with an embedding, so pooling buys nothing and a dead
// database never holds resources here.
package metadata

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"

	"imgproxy/config"
	"imgproxy/internal/core"
)

const insertSQL = `
INSERT INTO img_embeddings
  (bucket, object_name, content_type, file_size, uploaded_at, embedding)
VALUES
  ($1, $2, $3, $4, $5, $6)`

// Recorder writes metadata records. Safe for concurrent use; no state is
// shared between calls.
type Recorder struct {
	cfg config.DatabaseConfig
}

// New creates a recorder. The database is not contacted until Record is
// called.
func New(cfg config.DatabaseConfig) *Recorder {
	return &Recorder{cfg: cfg}
}

// Record inserts one metadata row. Callers must only invoke it with a non-nil
// embedding vector; the row references the stored object by bucket and key but
// the reference is not enforced transactionally.
func (r *Recorder) Record(ctx context.Context, rec core.MetadataRecord) error {
	if r.cfg.URL == "" {
		return core.NewPersistenceError("database not configured", nil)
	}

	conn, err := pgx.Connect(ctx, r.cfg.URL)
	if err != nil {
		return core.NewPersistenceError("database connection failed", err)
	}
	defer conn.Close(ctx) //nolint:errcheck

	_, err = conn.Exec(ctx, insertSQL,
		rec.Bucket,
		rec.ObjectName,
		rec.ContentType,
		rec.FileSize,
		rec.UploadedAt,
		VectorLiteral(rec.Embedding),
	)
	if err != nil {
		return core.NewPersistenceError("metadata insert failed", err)
	}
	return nil
}

// VectorLiteral renders a float32 vector in the pgvector text form
// "[v1,v2,...]" accepted by a vector-typed column.
func VectorLiteral(vec []float32) string {
	buf := make([]byte, 0, len(vec)*10+2)
	buf = append(buf, '[')
	for i, f := range vec {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(f), 'g', -1, 32)
	}
	buf = append(buf, ']')
	return string(buf)
}

var _ core.Recorder = (*Recorder)(nil)
