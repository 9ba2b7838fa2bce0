// Package memory keeps day snapshots, papers and archived markup in-memory
// for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/daily-papers/internal/papers"
)

// ArchivedPage is one stored listing page.
type ArchivedPage struct {
	Data        []byte
	ContentType string
}

// BlobStore holds archived listing pages keyed by object path.
type BlobStore struct {
	mu    sync.RWMutex
	pages map[string]ArchivedPage
}

// NewBlobStore creates an empty in-memory archive.
func NewBlobStore() *BlobStore {
	return &BlobStore{pages: make(map[string]ArchivedPage)}
}

// PutObject stores a copy of the page and returns a memory:// URI. A later
// write for the same key replaces the earlier page.
func (s *BlobStore) PutObject(_ context.Context, key string, contentType string, data io.Reader) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("archive key is required")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read archived page %s: %w", key, err)
	}

	s.mu.Lock()
	s.pages[key] = ArchivedPage{Data: body, ContentType: contentType}
	s.mu.Unlock()
	return "memory://" + key, nil
}

// Object returns a copy of the page body stored at key.
func (s *BlobStore) Object(key string) ([]byte, bool) {
	page, ok := s.Page(key)
	return page.Data, ok
}

// Page returns a copy of the page stored at key with its content type.
func (s *BlobStore) Page(key string) (ArchivedPage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[key]
	if !ok {
		return ArchivedPage{}, false
	}
	page.Data = append([]byte(nil), page.Data...)
	return page, true
}

// Dates lists the listing dates archived under prefix, newest first.
// Keys that do not name a day page are skipped.
func (s *BlobStore) Dates(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var dates []string
	for key := range s.pages {
		if prefix != "" && !strings.HasPrefix(key, strings.TrimSuffix(prefix, "/")+"/") {
			continue
		}
		if date, ok := papers.ArchiveDate(key); ok {
			dates = append(dates, date)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}
