package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgproxy/internal/core"
)

var keyPattern = regexp.MustCompile(`^[0-9a-f]{32}\.png$`)

type fakeStore struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
	puts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeStore) Connected() bool { return true }

func (f *fakeStore) Get(_ context.Context, bucket, key string) ([]byte, string, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, "", core.NewNotFoundError("image not found")
	}
	return data, f.types[bucket+"/"+key], nil
}

func (f *fakeStore) Put(_ context.Context, bucket, key string, data []byte, contentType string) error {
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[bucket+"/"+key] = data
	f.types[bucket+"/"+key] = contentType
	return nil
}

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ []byte, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type fakeRecorder struct {
	records []core.MetadataRecord
	err     error
}

func (f *fakeRecorder) Record(_ context.Context, rec core.MetadataRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func testConfig() Config {
	return Config{
		DefaultBucket:     "images",
		MaxSize:           16 * 1024 * 1024,
		AllowedExtensions: []string{"png", "jpg", "jpeg", "gif", "webp"},
	}
}

func newPipeline(store *fakeStore, emb *fakeEmbedder, rec *fakeRecorder) *Pipeline {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, emb, rec, testConfig(), log)
}

func TestRun_SuccessfulUpload(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{vector: []float32{0.1, 0.2}}
	rec := &fakeRecorder{}
	p := newPipeline(store, emb, rec)

	res, err := p.Run(context.Background(), core.UploadInput{
		Filename:    "a.png",
		Data:        []byte{1, 2, 3},
		ContentType: "image/png",
	})
	require.NoError(t, err)

	assert.Regexp(t, keyPattern, res.ObjectName)
	assert.Equal(t, "images", res.Bucket)
	assert.Equal(t, "/img/images/"+res.ObjectName, res.ProxyURL)
	assert.Equal(t, int64(3), res.FileSize)
	assert.Equal(t, "image/png", res.ContentType)
	assert.False(t, res.UploadedAt.IsZero())
	assert.True(t, res.VectorComputed)
	assert.True(t, res.MetadataPersisted)

	stored, storedType, err := store.Get(context.Background(), "images", res.ObjectName)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, stored)
	assert.Equal(t, "image/png", storedType)

	require.Len(t, rec.records, 1)
	assert.Equal(t, res.ObjectName, rec.records[0].ObjectName)
	assert.Equal(t, []float32{0.1, 0.2}, rec.records[0].Embedding)
	assert.Equal(t, int64(3), rec.records[0].FileSize)
}

func TestRun_FolderPrefixTrimmed(t *testing.T) {
	store := newFakeStore()
	p := newPipeline(store, &fakeEmbedder{vector: []float32{1}}, &fakeRecorder{})

	res, err := p.Run(context.Background(), core.UploadInput{
		Filename: "pic.JPG",
		Data:     []byte("x"),
		Folder:   "/avatars/",
	})
	require.NoError(t, err)

	assert.Regexp(t, `^avatars/[0-9a-f]{32}\.jpg$`, res.ObjectName)
	assert.Equal(t, "/img/images/"+res.ObjectName, res.ProxyURL)
}

func TestRun_ExplicitBucketWins(t *testing.T) {
	store := newFakeStore()
	p := newPipeline(store, &fakeEmbedder{vector: []float32{1}}, &fakeRecorder{})

	res, err := p.Run(context.Background(), core.UploadInput{
		Filename: "a.png",
		Data:     []byte("x"),
		Bucket:   "other",
	})
	require.NoError(t, err)
	assert.Equal(t, "other", res.Bucket)

	_, _, err = store.Get(context.Background(), "other", res.ObjectName)
	assert.NoError(t, err)
}

func TestRun_ValidationRejectsBeforeSideEffects(t *testing.T) {
	tests := []struct {
		name  string
		input core.UploadInput
	}{
		{"empty filename", core.UploadInput{Filename: "", Data: []byte("x")}},
		{"no extension", core.UploadInput{Filename: "README", Data: []byte("x")}},
		{"disallowed extension", core.UploadInput{Filename: "run.exe", Data: []byte("x")}},
		{"trailing dot", core.UploadInput{Filename: "weird.", Data: []byte("x")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			emb := &fakeEmbedder{vector: []float32{1}}
			p := newPipeline(store, emb, &fakeRecorder{})

			_, err := p.Run(context.Background(), tt.input)

			var gw *core.GatewayError
			require.True(t, errors.As(err, &gw))
			assert.Equal(t, core.ErrorKindValidation, gw.Kind)
			assert.Zero(t, store.puts, "no store write on validation failure")
			assert.Zero(t, emb.calls, "no embed call on validation failure")
		})
	}
}

func TestRun_OversizeRejectedBeforeAnyNetworkCall(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{vector: []float32{1}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	cfg.MaxSize = 4
	p := New(store, emb, &fakeRecorder{}, cfg, log)

	_, err := p.Run(context.Background(), core.UploadInput{
		Filename: "a.png",
		Data:     []byte("12345"),
	})

	var gw *core.GatewayError
	require.True(t, errors.As(err, &gw))
	assert.Equal(t, core.ErrorKindValidation, gw.Kind)
	assert.Zero(t, emb.calls)
	assert.Zero(t, store.puts)
}

func TestRun_EmbedFailureIsNotFatal(t *testing.T) {
	store := newFakeStore()
	rec := &fakeRecorder{}
	p := newPipeline(store, &fakeEmbedder{err: core.NewEmbedError("inference down", nil)}, rec)

	res, err := p.Run(context.Background(), core.UploadInput{
		Filename: "a.png",
		Data:     []byte("abc"),
	})
	require.NoError(t, err)

	assert.False(t, res.VectorComputed)
	assert.False(t, res.MetadataPersisted)
	assert.Empty(t, rec.records, "recorder must not run without a vector")

	// The object itself is stored and retrievable.
	stored, _, err := store.Get(context.Background(), "images", res.ObjectName)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), stored)
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	store.putErr = core.NewBackendError("put failed", errors.New("boom"))
	rec := &fakeRecorder{}
	p := newPipeline(store, &fakeEmbedder{vector: []float32{1}}, rec)

	_, err := p.Run(context.Background(), core.UploadInput{
		Filename: "a.png",
		Data:     []byte("abc"),
	})

	var gw *core.GatewayError
	require.True(t, errors.As(err, &gw))
	assert.Equal(t, core.ErrorKindBackend, gw.Kind)
	assert.Empty(t, rec.records, "no metadata for an object that does not exist")
}

func TestRun_PersistenceFailureDegradesSilently(t *testing.T) {
	store := newFakeStore()
	rec := &fakeRecorder{err: core.NewPersistenceError("insert failed", nil)}
	p := newPipeline(store, &fakeEmbedder{vector: []float32{1}}, rec)

	res, err := p.Run(context.Background(), core.UploadInput{
		Filename: "a.png",
		Data:     []byte("abc"),
	})
	require.NoError(t, err)

	// Known contract: embedding_saved mirrors the computed vector even though
	// the row was never written.
	assert.True(t, res.VectorComputed)
	assert.False(t, res.MetadataPersisted)
}

func TestResolveContentType(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		filename string
		want     string
	}{
		{"declared wins", "image/webp", "a.png", "image/webp"},
		{"sniffed from filename", "", "a.png", "image/png"},
		{"fallback for unknown extension", "", "a.foo", "image/png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveContentType(tt.declared, tt.filename))
		})
	}
}

func TestDeriveKey(t *testing.T) {
	assert.Regexp(t, keyPattern, deriveKey("a.PNG", ""))
	assert.Regexp(t, `^nested/dir/[0-9a-f]{32}\.gif$`, deriveKey("x.gif", "//nested/dir//"))

	// Keys are random; two derivations must not collide.
	assert.NotEqual(t, deriveKey("a.png", ""), deriveKey("a.png", ""))
}
