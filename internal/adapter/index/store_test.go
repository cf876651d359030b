package index

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeEmbedder maps texts to fixed 3-dim vectors keyed by a substring,
// so similarity ordering in tests is deterministic.
type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := []float32{0.1, 0.1, 0.1}
		for key, v := range f.vectors {
			if strings.Contains(t, key) {
				vec = v
				break
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Name() string    { return "fake" }

func testStore(t *testing.T, embedder *fakeEmbedder) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(dbPath, embedder, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReadyEmptyIndex(t *testing.T) {
	s := testStore(t, &fakeEmbedder{})
	if s.Ready() {
		t.Error("empty index should not be ready")
	}
}

func TestUpsertAndSearch(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"dispatcher": {1, 0, 0},
		"components": {0, 1, 0},
		"workflows":  {0, 0, 1},
	}}
	s := testStore(t, embedder)
	ctx := context.Background()

	records := []Record{
		{Content: "The dispatcher caches rendered pages.", Source: "dispatcher.md"},
		{Content: "Sites components render content.", Source: "components.md"},
		{Content: "Assets workflows process renditions.", Source: "workflows.md"},
	}
	if err := s.UpsertBatch(ctx, records); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	if !s.Ready() {
		t.Error("populated index should be ready")
	}
	if n, err := s.Count(ctx); err != nil || n != 3 {
		t.Errorf("Count = %d, %v; want 3", n, err)
	}

	frags, err := s.Search(ctx, "how does the dispatcher work", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(frags) == 0 {
		t.Fatal("no fragments returned")
	}
	if frags[0].Source != "dispatcher.md" {
		t.Errorf("top fragment source = %q, want dispatcher.md", frags[0].Source)
	}
	for i := 1; i < len(frags); i++ {
		if frags[i].Score > frags[i-1].Score {
			t.Errorf("fragments not in descending score order at %d", i)
		}
	}
}

func TestUpsertIdempotent(t *testing.T) {
	embedder := &fakeEmbedder{}
	s := testStore(t, embedder)
	ctx := context.Background()

	records := []Record{{Content: "some content", Source: "a.md"}}
	if err := s.UpsertBatch(ctx, records); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertBatch(ctx, records); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count = %d after re-upsert, want 1", n)
	}
}

func TestSearchLimit(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{"doc": {1, 0, 0}}}
	s := testStore(t, embedder)
	ctx := context.Background()

	var records []Record
	for _, suffix := range []string{"one", "two", "three", "four", "five", "six"} {
		records = append(records, Record{Content: "doc " + suffix, Source: suffix + ".md"})
	}
	if err := s.UpsertBatch(ctx, records); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	frags, err := s.Search(ctx, "doc query", 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(frags) != 4 {
		t.Errorf("got %d fragments, want 4", len(frags))
	}
}

func TestSearchEmbedFailure(t *testing.T) {
	s := testStore(t, &fakeEmbedder{fail: true})
	if _, err := s.Search(context.Background(), "anything", 4); err == nil {
		t.Error("expected error when embedding fails")
	}
}

func TestIngestDir(t *testing.T) {
	dir := t.TempDir()
	long := strings.Repeat("AEM dispatcher configuration notes.\n\n", 60)
	files := map[string]string{
		"dispatcher.md": long,
		"short.txt":     "A short note about components.",
		"ignored.json":  `{"not": "indexed"}`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	s := testStore(t, &fakeEmbedder{})
	n, err := s.IngestDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	if n < 3 {
		t.Errorf("indexed %d fragments, want at least 3 (long doc chunks + short note)", n)
	}

	count, _ := s.Count(context.Background())
	if count != n {
		t.Errorf("Count = %d, want %d", count, n)
	}

	// Re-ingest replaces rather than duplicates.
	n2, err := s.IngestDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("second IngestDir: %v", err)
	}
	count2, _ := s.Count(context.Background())
	if count2 != n2 {
		t.Errorf("Count after re-ingest = %d, want %d", count2, n2)
	}
}

func TestChunkText(t *testing.T) {
	t.Run("short text single chunk", func(t *testing.T) {
		chunks := chunkText("hello world")
		if len(chunks) != 1 || chunks[0] != "hello world" {
			t.Errorf("chunks = %v", chunks)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		if chunks := chunkText("   \n  "); chunks != nil {
			t.Errorf("chunks = %v, want nil", chunks)
		}
	})

	t.Run("long text produces overlapping chunks", func(t *testing.T) {
		para := strings.Repeat("word ", 100) // ~500 runes
		text := strings.Join([]string{para, para, para, para, para}, "\n\n")
		chunks := chunkText(text)
		if len(chunks) < 2 {
			t.Fatalf("got %d chunks, want several", len(chunks))
		}
		for i, c := range chunks {
			if len([]rune(c)) > chunkSize {
				t.Errorf("chunk %d is %d runes, exceeds %d", i, len([]rune(c)), chunkSize)
			}
		}
	})

	t.Run("prefers paragraph boundary", func(t *testing.T) {
		first := strings.Repeat("a", 700)
		second := strings.Repeat("b", 700)
		chunks := chunkText(first + "\n\n" + second)
		if len(chunks) < 2 {
			t.Fatalf("got %d chunks, want at least 2", len(chunks))
		}
		if !strings.HasPrefix(chunks[0], "a") || strings.Contains(chunks[0], "b") {
			t.Errorf("first chunk should end at the paragraph break: %q...", chunks[0][:20])
		}
	})
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity(tt.a, tt.b); got != tt.want {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFloat32RoundTrip(t *testing.T) {
	in := []float32{1.5, -2.25, 0, 3.14159}
	out := bytesToFloat32(float32ToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if bytesToFloat32([]byte{1, 2, 3}) != nil {
		t.Error("non-multiple-of-4 bytes should yield nil")
	}
}
