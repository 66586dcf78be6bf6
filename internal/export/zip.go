// Package export writes multi-page batch archives: each member capture
// directory grouped under <hostname>-<jobPrefix>/ plus a top-level
// manifest.json carrying the batch summary.
package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pagekeep/pagekeep/internal/archive"
)

// jobPrefixLen shortens member job ids inside the archive.
const jobPrefixLen = 8

// Member pairs a batch member with its capture directory on disk.
type Member struct {
	JobID string
	URL   string
	Dir   string
}

// manifest is the top-level manifest.json document.
type manifest struct {
	BatchID     string                `json:"batchId"`
	Status      archive.BatchStatus   `json:"status"`
	Summary     archive.BatchSummary  `json:"summary"`
	Jobs        []archive.BatchMember `json:"jobs"`
	ExportedAt  time.Time             `json:"exportedAt"`
	ArchiveDirs []string              `json:"archiveDirs"`
}

// WriteBatchArchive streams a ZIP of the batch to w.
func WriteBatchArchive(w io.Writer, batch archive.BatchJob, members []Member, now time.Time) error {
	zw := zip.NewWriter(w)

	dirs := make([]string, 0, len(members))
	for _, member := range members {
		prefix := memberPrefix(member)
		dirs = append(dirs, prefix)
		if err := addDirectory(zw, member.Dir, prefix); err != nil {
			return fmt.Errorf("add member %s: %w", member.JobID, err)
		}
	}

	doc := manifest{
		BatchID:     batch.ID,
		Status:      batch.Status,
		Summary:     batch.Summary,
		Jobs:        batch.Members,
		ExportedAt:  now,
		ArchiveDirs: dirs,
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	entry, err := zw.Create("manifest.json")
	if err != nil {
		return fmt.Errorf("create manifest entry: %w", err)
	}
	if _, err := entry.Write(payload); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

// memberPrefix is "<hostname>-<jobPrefix>" with filesystem-hostile
// characters collapsed.
func memberPrefix(member Member) string {
	host := "capture"
	if u, err := url.Parse(member.URL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	prefix := member.JobID
	if len(prefix) > jobPrefixLen {
		prefix = prefix[:jobPrefixLen]
	}
	name := host + "-" + prefix
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '-'
		}
	}, name)
}

func addDirectory(zw *zip.Writer, dir, prefix string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entry, err := zw.Create(prefix + "/" + filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(entry, file)
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		return err
	})
}
