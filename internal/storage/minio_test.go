package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = string(body)
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStorage(t *testing.T) (*MinIO, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string]string{}, types: map[string]string{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	m, err := NewMinIO(Config{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "uploads",
		Region:    "us-east-1",
		PublicURL: "https://cdn.example.com/",
	})
	require.NoError(t, err)
	return m, fake
}

func TestPutAndRemoveObject(t *testing.T) {
	m, fake := newTestStorage(t)
	ctx := context.Background()

	key := ObjectKey("doc1", "fil_1", "notes.txt")
	obj, err := m.Put(ctx, key, strings.NewReader("hello"), 5, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/uploads/documents/doc1/fil_1/notes.txt", obj.URL)
	assert.Contains(t, fake.objects["/uploads/documents/doc1/fil_1/notes.txt"], "hello")
	assert.Equal(t, "text/plain", fake.types["/uploads/documents/doc1/fil_1/notes.txt"])

	require.NoError(t, m.Remove(ctx, key))
	assert.Empty(t, fake.objects)
}

func TestEnsureBucketWhenPresent(t *testing.T) {
	m, _ := newTestStorage(t)
	require.NoError(t, m.EnsureBucket(context.Background()))
}

func TestObjectKeyStripsDirectories(t *testing.T) {
	assert.Equal(t, "documents/d/f/evil.png", ObjectKey("d", "f", "../../evil.png"))
	assert.Equal(t, "documents/d/f/report.pdf", ObjectKey("d", "f", `C:\Users\me\report.pdf`))
	assert.Equal(t, "documents/d/f/file", ObjectKey("d", "f", ""))
}

func TestURLEscapesSegments(t *testing.T) {
	m, _ := newTestStorage(t)
	assert.Equal(t, "https://cdn.example.com/uploads/documents/d/f/my%20file.txt", m.URL("documents/d/f/my file.txt"))
}

func TestNewMinIORequiresBucket(t *testing.T) {
	_, err := NewMinIO(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
