package index

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"aembot/internal/domain"
)

// Chunking parameters: chunks of roughly chunkSize runes with chunkOverlap
// runes carried over between adjacent chunks to preserve context.
const (
	chunkSize    = 1000
	chunkOverlap = 200
	batchSize    = 64
)

// IngestDir walks dir, chunks every .md and .txt file, and stores the
// resulting fragments. Re-running over the same corpus replaces each
// file's fragments. Returns the number of fragments indexed.
func (s *Store) IngestDir(ctx context.Context, dir string) (int, error) {
	var batch []Record
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.UpsertBatch(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		source, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			source = path
		}

		if err := s.DeleteSource(ctx, source); err != nil {
			return err
		}

		for _, chunk := range chunkText(string(data)) {
			batch = append(batch, Record{Content: chunk, Source: source})
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}

		s.logger.Info("document ingested", "source", source)
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("%w: ingest %s: %v", domain.ErrIndexStore, dir, err)
	}

	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

// chunkText splits text into overlapping chunks, preferring paragraph
// boundaries so a chunk rarely cuts a sentence mid-thought.
func chunkText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			chunk := strings.TrimSpace(string(runes[start:]))
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		// Prefer to break at a paragraph boundary in the second half of
		// the window; fall back to a newline, then a space.
		cut := end
		window := string(runes[start:end])
		if idx := strings.LastIndex(window, "\n\n"); idx > chunkSize/2 {
			cut = start + len([]rune(window[:idx]))
		} else if idx := strings.LastIndex(window, "\n"); idx > chunkSize/2 {
			cut = start + len([]rune(window[:idx]))
		} else if idx := strings.LastIndex(window, " "); idx > chunkSize/2 {
			cut = start + len([]rune(window[:idx]))
		}

		chunk := strings.TrimSpace(string(runes[start:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := cut - chunkOverlap
		if next <= start {
			next = cut
		}
		start = next
	}

	return chunks
}
