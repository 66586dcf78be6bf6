// Package store persists captures as self-contained directories under a
// base path and maintains the captures/index.json catalog.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pagekeep/pagekeep/internal/archive"
)

const indexFilename = "index.json"

// ErrNotFound is returned when a capture id has no index entry.
var ErrNotFound = errors.New("capture not found")

// Config parameterizes the store.
type Config struct {
	// BaseDir is the captures/ root.
	BaseDir string
}

// Store owns the on-disk capture catalog. Index mutations are serialized
// by a process-wide mutex; metadata.json is always written before the
// index entry so a reader that sees the index finds the metadata.
type Store struct {
	baseDir string
	ids     archive.IDGenerator
	clock   archive.Clock
	logger  *zap.Logger

	mu sync.Mutex
}

// New constructs a Store.
func New(cfg Config, ids archive.IDGenerator, clock archive.Clock, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		baseDir: cfg.BaseDir,
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Initialize creates the captures directory and an empty index if missing.
func (s *Store) Initialize() error {
	if err := os.MkdirAll(s.baseDir, 0o750); err != nil {
		return fmt.Errorf("create captures dir: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	indexPath := s.indexPath()
	if _, err := os.Stat(indexPath); err == nil {
		return nil
	}
	return s.writeIndexLocked(emptyIndex())
}

// ExtraPage is an additional page persisted alongside index.html in a
// multi-page capture.
type ExtraPage struct {
	Filename string
	HTML     string
}

// SaveInput carries everything needed to persist one capture.
type SaveInput struct {
	URL        string
	Title      string
	HTML       string
	Resources  []*archive.Resource
	Favicon    *archive.Resource
	ExtraPages []ExtraPage
	Mode       archive.CaptureMode
	TotalPages int
}

// SaveCapture allocates a capture id, materializes the directory tree,
// copies every downloaded resource into its bucket, and appends the
// summary to the index. On any failure the directory is removed and a
// PersistenceError returned.
func (s *Store) SaveCapture(in SaveInput) (*archive.CaptureMetadata, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("allocate capture id: %w", err)
	}
	dir := filepath.Join(s.baseDir, id)

	meta, err := s.materialize(id, dir, in)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			s.logger.Warn("cleanup of failed capture dir", zap.String("dir", dir), zap.Error(rmErr))
		}
		return nil, &archive.PersistenceError{Path: dir, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.loadIndexLocked()
	index.Captures = append(index.Captures, summarize(*meta))
	index.Collections = collectionUnion(index)
	if err := s.writeIndexLocked(index); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			s.logger.Warn("cleanup of failed capture dir", zap.String("dir", dir), zap.Error(rmErr))
		}
		return nil, &archive.PersistenceError{Path: s.indexPath(), Err: err}
	}
	return meta, nil
}

func (s *Store) materialize(id, dir string, in SaveInput) (*archive.CaptureMetadata, error) {
	for _, bucket := range []string{"", "images", "css", "js", "fonts"} {
		if err := os.MkdirAll(filepath.Join(dir, bucket), 0o750); err != nil {
			return nil, fmt.Errorf("create capture tree: %w", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(in.HTML), 0o600); err != nil {
		return nil, fmt.Errorf("write index.html: %w", err)
	}

	stats := archive.CaptureStats{TotalPages: in.TotalPages}
	if stats.TotalPages <= 0 {
		stats.TotalPages = 1
	}
	for _, resource := range in.Resources {
		if resource == nil || resource.LocalPath == "" {
			continue
		}
		target := filepath.Join(dir, resource.Kind.Bucket(), resource.Filename)
		if resource.Kind == archive.KindFavicon {
			target = filepath.Join(dir, resource.Filename)
		}
		if err := copyFile(resource.LocalPath, target); err != nil {
			return nil, fmt.Errorf("copy resource %s: %w", resource.URL, err)
		}
		switch resource.Kind {
		case archive.KindImage:
			stats.Images++
		case archive.KindStylesheet:
			stats.Stylesheets++
		case archive.KindScript:
			stats.Scripts++
		case archive.KindFont:
			stats.Fonts++
		}
	}
	if in.Favicon != nil && in.Favicon.LocalPath != "" {
		if err := copyFile(in.Favicon.LocalPath, filepath.Join(dir, in.Favicon.Filename)); err != nil {
			return nil, fmt.Errorf("copy favicon: %w", err)
		}
	}
	for _, extra := range in.ExtraPages {
		if extra.Filename == "" || extra.Filename == "index.html" {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, extra.Filename), []byte(extra.HTML), 0o600); err != nil {
			return nil, fmt.Errorf("write extra page %s: %w", extra.Filename, err)
		}
	}

	size, err := directorySize(dir)
	if err != nil {
		return nil, fmt.Errorf("measure capture size: %w", err)
	}
	stats.TotalSize = size

	meta := &archive.CaptureMetadata{
		ID:          id,
		URL:         in.URL,
		Title:       in.Title,
		CapturedAt:  s.clock.Now(),
		CaptureMode: in.Mode,
		Stats:       stats,
		Tags:        []string{},
		Collections: []string{},
		Status:      "completed",
	}
	if err := writeMetadata(dir, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Get returns the metadata and directory path for a capture.
func (s *Store) Get(id string) (*archive.CaptureMetadata, string, error) {
	dir := filepath.Join(s.baseDir, id)
	meta, err := readMetadata(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	return meta, dir, nil
}

// GetHTML returns the rewritten index.html bytes for a capture.
func (s *Store) GetHTML(id string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, id, "index.html"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read capture html: %w", err)
	}
	return data, nil
}

// Delete removes the capture from the index first, then its directory.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	index := s.loadIndexLocked()
	kept := index.Captures[:0]
	found := false
	for _, summary := range index.Captures {
		if summary.ID == id {
			found = true
			continue
		}
		kept = append(kept, summary)
	}
	if !found {
		s.mu.Unlock()
		return ErrNotFound
	}
	index.Captures = kept
	index.Collections = collectionUnion(index)
	if err := s.writeIndexLocked(index); err != nil {
		s.mu.Unlock()
		return &archive.PersistenceError{Path: s.indexPath(), Err: err}
	}
	s.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(s.baseDir, id)); err != nil {
		return fmt.Errorf("remove capture dir: %w", err)
	}
	return nil
}

// MetadataUpdate names the mutable metadata fields; nil fields are left
// unchanged.
type MetadataUpdate struct {
	Title       *string
	Tags        *[]string
	Notes       *string
	Collections *[]string
}

// UpdateMetadata rewrites metadata.json with the mutable fields and updates
// the index summary. The two writes happen metadata-first under the index
// lock, so they are observed together.
func (s *Store) UpdateMetadata(id string, updates MetadataUpdate) (*archive.CaptureMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, id)
	meta, err := readMetadata(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if updates.Title != nil {
		meta.Title = *updates.Title
	}
	if updates.Tags != nil {
		meta.Tags = append([]string{}, (*updates.Tags)...)
	}
	if updates.Notes != nil {
		meta.Notes = *updates.Notes
	}
	if updates.Collections != nil {
		meta.Collections = append([]string{}, (*updates.Collections)...)
	}

	if err := writeMetadata(dir, meta); err != nil {
		return nil, &archive.PersistenceError{Path: dir, Err: err}
	}

	index := s.loadIndexLocked()
	for i, summary := range index.Captures {
		if summary.ID == id {
			updated := summarize(*meta)
			updated.Size = summary.Size
			index.Captures[i] = updated
			break
		}
	}
	index.Collections = collectionUnion(index)
	if err := s.writeIndexLocked(index); err != nil {
		return nil, &archive.PersistenceError{Path: s.indexPath(), Err: err}
	}
	return meta, nil
}

// CleanupOrphans drops index entries whose directory is gone and removes
// directories the index no longer references. It returns how many entries
// were touched.
func (s *Store) CleanupOrphans() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.loadIndexLocked()
	known := make(map[string]struct{}, len(index.Captures))
	kept := index.Captures[:0]
	removed := 0
	for _, summary := range index.Captures {
		dir := filepath.Join(s.baseDir, summary.ID)
		if _, err := os.Stat(filepath.Join(dir, "metadata.json")); err != nil {
			removed++
			continue
		}
		known[summary.ID] = struct{}{}
		kept = append(kept, summary)
	}
	index.Captures = kept

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return removed, fmt.Errorf("scan captures dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := known[entry.Name()]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.baseDir, entry.Name())); err != nil {
			s.logger.Warn("remove orphan capture dir", zap.String("dir", entry.Name()), zap.Error(err))
			continue
		}
		removed++
	}

	index.Collections = collectionUnion(index)
	if err := s.writeIndexLocked(index); err != nil {
		return removed, &archive.PersistenceError{Path: s.indexPath(), Err: err}
	}
	return removed, nil
}

// BaseDir exposes the captures root (used by the capture pipeline to record
// a job's output path).
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) indexPath() string {
	return filepath.Join(s.baseDir, indexFilename)
}

// loadIndexLocked reads the index, recreating an empty shell when the file
// is absent or corrupt. Callers hold s.mu.
func (s *Store) loadIndexLocked() *archive.Index {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return emptyIndex()
	}
	var index archive.Index
	if err := json.Unmarshal(data, &index); err != nil {
		s.logger.Warn("corrupt capture index, recreating", zap.Error(err))
		return emptyIndex()
	}
	if index.Version == "" {
		index.Version = archive.IndexVersion
	}
	if index.Captures == nil {
		index.Captures = []archive.CaptureSummary{}
	}
	if index.Collections == nil {
		index.Collections = []string{}
	}
	return &index
}

func (s *Store) writeIndexLocked(index *archive.Index) error {
	payload, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := os.WriteFile(s.indexPath(), payload, 0o600); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func emptyIndex() *archive.Index {
	return &archive.Index{
		Version:     archive.IndexVersion,
		Captures:    []archive.CaptureSummary{},
		Collections: []string{},
	}
}

func summarize(meta archive.CaptureMetadata) archive.CaptureSummary {
	return archive.CaptureSummary{
		ID:          meta.ID,
		URL:         meta.URL,
		Title:       meta.Title,
		CapturedAt:  meta.CapturedAt,
		Thumbnail:   nil,
		Size:        meta.Stats.TotalSize,
		Tags:        append([]string{}, meta.Tags...),
		Collections: append([]string{}, meta.Collections...),
	}
}

func collectionUnion(index *archive.Index) []string {
	seen := make(map[string]struct{})
	for _, summary := range index.Captures {
		for _, name := range summary.Collections {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeMetadata(dir string, meta *archive.CaptureMetadata) error {
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), payload, 0o600); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func readMetadata(dir string) (*archive.CaptureMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, err
	}
	var meta archive.CaptureMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &meta, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func directorySize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
