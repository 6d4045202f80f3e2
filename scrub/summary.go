// Package scrub chains taxonomic classifiers and aligners into a read
// scrubbing pipeline: each stage selects read identifiers from one
// reference, and the selected reads are depleted from (or extracted
// into) the output sequence files.
package scrub

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/clinbio/scrub/cleaner"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// Version is the release version recorded in run summaries.
const Version = "1.1.0"

// SchemaVersion tracks the summary JSON layout.
const SchemaVersion = 1

// RunCounts is the run-level accounting. Total is the read count the
// run was measured against: the reads entering the first stage when
// depleting, or the reads scanned by the final extraction pass.
type RunCounts struct {
	Total     uint64 `json:"total"`
	Depleted  uint64 `json:"depleted"`
	Extracted uint64 `json:"extracted"`
}

// Settings records the selection parameters the run was configured
// with, so a summary is interpretable on its own.
type Settings struct {
	Taxa       []string `json:"taxa"`
	TaxaDirect []string `json:"taxa_direct"`
	MinLen     uint64   `json:"min_len"`
	MinCov     float64  `json:"min_cov"`
	MinMapQ    uint8    `json:"min_mapq"`
	Extract    bool     `json:"extract"`
}

// StageResult is the accounting for one pipeline stage. Total is the
// sum of the per-file totals; in extract mode filtering is deferred to
// the final pass, so Total is zero, Files is empty, and Extracted is
// the size of the stage's identifier set.
type StageResult struct {
	Index     int                  `json:"index"`
	Tool      string               `json:"tool"`
	Name      string               `json:"name"`
	Path      string               `json:"path"`
	Total     uint64               `json:"total"`
	Depleted  uint64               `json:"depleted"`
	Extracted uint64               `json:"extracted"`
	Files     []cleaner.FileCounts `json:"files"`
	Command   string               `json:"command"`
}

// Summary is the JSON run report.
type Summary struct {
	Version       string        `json:"version"`
	SchemaVersion int           `json:"schema_version"`
	Summary       RunCounts     `json:"summary"`
	Settings      Settings      `json:"settings"`
	Pipeline      []StageResult `json:"pipeline"`
}

func newSummary(o *Opts) *Summary {
	// Unset slices marshal as [] rather than null.
	taxa, direct := o.Taxa, o.TaxaDirect
	if taxa == nil {
		taxa = []string{}
	}
	if direct == nil {
		direct = []string{}
	}
	return &Summary{
		Version:       Version,
		SchemaVersion: SchemaVersion,
		Settings: Settings{
			Taxa:       taxa,
			TaxaDirect: direct,
			MinLen:     o.MinLen,
			MinCov:     o.MinCov,
			MinMapQ:    o.MinMapQ,
			Extract:    o.Extract,
		},
		Pipeline: []StageResult{},
	}
}

// WriteJSON writes the summary, indented, to path.
func (s *Summary) WriteJSON(ctx context.Context, path string) (err error) {
	js, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.E(err, "marshaling run summary")
	}
	js = append(js, '\n')
	dst, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "creating summary file", path)
	}
	defer file.CloseAndReport(ctx, dst, &err)
	_, err = dst.Writer(ctx).Write(js)
	return err
}

// LedgerRow attributes one selected read to the stage that selected
// it. A read selected by several stages appears once per stage.
type LedgerRow struct {
	ID        string
	Tool      string
	Reference string
}

// Ledger accumulates per-read provenance across stages.
type Ledger struct {
	rows []LedgerRow
}

// Add records every identifier in ids as selected by the named tool
// and reference.
func (l *Ledger) Add(ids map[string]struct{}, tool, reference string) {
	for id := range ids {
		l.rows = append(l.rows, LedgerRow{ID: id, Tool: tool, Reference: reference})
	}
}

// Len returns the number of recorded rows.
func (l *Ledger) Len() int { return len(l.rows) }

// WriteTSV writes the ledger to path with an "id tool reference"
// header, sorted by identifier then stage for deterministic output.
func (l *Ledger) WriteTSV(ctx context.Context, path string) (err error) {
	rows := make([]LedgerRow, len(l.rows))
	copy(rows, l.rows)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ID != rows[j].ID {
			return rows[i].ID < rows[j].ID
		}
		if rows[i].Tool != rows[j].Tool {
			return rows[i].Tool < rows[j].Tool
		}
		return rows[i].Reference < rows[j].Reference
	})

	dst, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "creating read ledger", path)
	}
	defer file.CloseAndReport(ctx, dst, &err)
	w := tsv.NewWriter(dst.Writer(ctx))
	w.WriteString("id\ttool\treference")
	if err = w.EndLine(); err != nil {
		return err
	}
	for i := range rows {
		w.WriteString(rows[i].ID)
		w.WriteString(rows[i].Tool)
		w.WriteString(rows[i].Reference)
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}
