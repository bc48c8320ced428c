package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// DefaultReportPrefix is the key prefix sync reports are stored under.
const DefaultReportPrefix = "sync-reports"

// ReportArchiver stores indexer sync reports as JSON objects keyed by
// network and run date:
//
//	sync-reports/<network>/2026/10/19/<runID>.json
type ReportArchiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	deleter domain.BlobDeleter
	prefix  string
}

// NewReportArchiver creates a ReportArchiver. reader may be nil when only
// archiving is needed.
func NewReportArchiver(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *ReportArchiver {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultReportPrefix
	}
	return &ReportArchiver{writer: writer, reader: reader, prefix: prefix}
}

// WithDeleter enables Prune.
func (a *ReportArchiver) WithDeleter(d domain.BlobDeleter) *ReportArchiver {
	a.deleter = d
	return a
}

// ReportPath returns the object key for a report.
func (a *ReportArchiver) ReportPath(r domain.SyncReport) string {
	return path.Join(a.prefix, r.Network, r.StartedAt.UTC().Format("2006/01/02"), r.RunID+".json")
}

// Archive uploads the report and returns its key.
func (a *ReportArchiver) Archive(ctx context.Context, r domain.SyncReport) (string, error) {
	if r.RunID == "" {
		return "", fmt.Errorf("s3blob: archive report: empty run id")
	}
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report %s: %w", r.RunID, err)
	}
	key := a.ReportPath(r)
	if err := a.writer.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive report %s: %w", r.RunID, err)
	}
	return key, nil
}

// List returns archived reports for a network.
func (a *ReportArchiver) List(ctx context.Context, network string) ([]domain.BlobInfo, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: list reports: no reader configured")
	}
	return a.reader.List(ctx, path.Join(a.prefix, network)+"/")
}

// Load reads one archived report back.
func (a *ReportArchiver) Load(ctx context.Context, key string) (domain.SyncReport, error) {
	if a.reader == nil {
		return domain.SyncReport{}, fmt.Errorf("s3blob: load report: no reader configured")
	}
	rc, err := a.reader.Get(ctx, key)
	if err != nil {
		return domain.SyncReport{}, err
	}
	defer rc.Close()

	var r domain.SyncReport
	if err := json.NewDecoder(rc).Decode(&r); err != nil {
		return domain.SyncReport{}, fmt.Errorf("s3blob: decode report %s: %w", key, err)
	}
	return r, nil
}

// Prune deletes the reports of network last modified before cutoff and
// returns how many were removed.
func (a *ReportArchiver) Prune(ctx context.Context, network string, cutoff time.Time) (int, error) {
	if a.deleter == nil {
		return 0, fmt.Errorf("s3blob: prune reports: no deleter configured")
	}
	infos, err := a.List(ctx, network)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, info := range infos {
		if !info.LastModified.Before(cutoff) {
			continue
		}
		if err := a.deleter.Delete(ctx, info.Path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
