package store

import (
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/pagekeep/pagekeep/internal/archive"
)

// Sort keys accepted by List.
const (
	SortDate  = "date"
	SortTitle = "title"
	SortSize  = "size"
)

// ListOptions filter, sort, and paginate the capture catalog.
type ListOptions struct {
	Tag        string
	Collection string
	Search     string
	Sort       string
	Order      string
	Limit      int
	Offset     int
}

// ListResult is one page of the catalog.
type ListResult struct {
	Total    int                      `json:"total"`
	Captures []archive.CaptureSummary `json:"captures"`
	HasMore  bool                     `json:"hasMore"`
}

var titleCollator = collate.New(language.English, collate.IgnoreCase)

// List applies tag/collection/search filters, sorts by date, title, or
// size, and paginates. Search matches a case-insensitive substring of the
// title, URL, or notes.
func (s *Store) List(opts ListOptions) (ListResult, error) {
	s.mu.Lock()
	index := s.loadIndexLocked()
	s.mu.Unlock()

	filtered := make([]archive.CaptureSummary, 0, len(index.Captures))
	needle := strings.ToLower(strings.TrimSpace(opts.Search))
	for _, summary := range index.Captures {
		if opts.Tag != "" && !contains(summary.Tags, opts.Tag) {
			continue
		}
		if opts.Collection != "" && !contains(summary.Collections, opts.Collection) {
			continue
		}
		if needle != "" && !s.matchesSearch(summary, needle) {
			continue
		}
		filtered = append(filtered, summary)
	}

	sortKey := opts.Sort
	if sortKey == "" {
		sortKey = SortDate
	}
	descending := !strings.EqualFold(opts.Order, "asc")
	sort.SliceStable(filtered, func(i, j int) bool {
		var less bool
		switch sortKey {
		case SortTitle:
			less = titleCollator.CompareString(filtered[i].Title, filtered[j].Title) < 0
		case SortSize:
			less = filtered[i].Size < filtered[j].Size
		default:
			less = filtered[i].CapturedAt.Before(filtered[j].CapturedAt)
		}
		if descending {
			return !less && !equalKey(sortKey, filtered[i], filtered[j])
		}
		return less
	})

	total := len(filtered)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = total - offset
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return ListResult{
		Total:    total,
		Captures: filtered[offset:end],
		HasMore:  end < total,
	}, nil
}

// matchesSearch checks the summary fields, then falls back to the metadata
// notes, which are not mirrored into the index.
func (s *Store) matchesSearch(summary archive.CaptureSummary, needle string) bool {
	if strings.Contains(strings.ToLower(summary.Title), needle) ||
		strings.Contains(strings.ToLower(summary.URL), needle) {
		return true
	}
	meta, err := readMetadata(filepath.Join(s.baseDir, summary.ID))
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(meta.Notes), needle)
}

func contains(values []string, needle string) bool {
	for _, v := range values {
		if v == needle {
			return true
		}
	}
	return false
}

func equalKey(sortKey string, a, b archive.CaptureSummary) bool {
	switch sortKey {
	case SortTitle:
		return titleCollator.CompareString(a.Title, b.Title) == 0
	case SortSize:
		return a.Size == b.Size
	default:
		return a.CapturedAt.Equal(b.CapturedAt)
	}
}
