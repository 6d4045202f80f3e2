// Package alignment resolves read-identifier sets from alignment
// files. SAM/BAM record streams, PAF mappings, and plain read-id lists
// all reduce to one filtered set of query names.
package alignment

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/clinbio/scrub/encoding/zio"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Format identifies an alignment input format.
type Format int

const (
	// Unknown requests extension-based detection.
	Unknown Format = iota
	// Sam is the SAM text format.
	Sam
	// Bam is the binary BGZF-compressed SAM format.
	Bam
	// Cram is the CRAM reference-compressed format.
	Cram
	// Paf is the minimap2 pairwise mapping format.
	Paf
	// Txt is a plain list with one read identifier per line.
	Txt
)

func (f Format) String() string {
	switch f {
	case Unknown:
		return "unknown"
	case Sam:
		return "sam"
	case Bam:
		return "bam"
	case Cram:
		return "cram"
	case Paf:
		return "paf"
	case Txt:
		return "txt"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat maps an explicit user-supplied format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "":
		return Unknown, nil
	case "sam":
		return Sam, nil
	case "bam":
		return Bam, nil
	case "cram":
		return Cram, nil
	case "paf", "gaf":
		return Paf, nil
	case "txt", "list":
		return Txt, nil
	}
	return Unknown, errors.E(errors.NotSupported, "unknown alignment format:", s)
}

// FormatFromPath infers the alignment format from the file extension,
// looking through one compression suffix (.gz, .bz2, .xz) for the text
// formats. Unrecognized extensions map to Unknown.
func FormatFromPath(path string) Format {
	switch filepath.Ext(zio.TrimExt(path)) {
	case ".sam":
		return Sam
	case ".bam":
		return Bam
	case ".cram":
		return Cram
	case ".paf", ".gaf":
		return Paf
	case ".txt":
		return Txt
	}
	return Unknown
}

// Policy names the sense of the threshold predicate. Two historical
// implementations disagreed on whether reads passing the thresholds
// are the targets handed to the deplete/extract filter or the reads to
// keep out of it, so the choice is explicit.
type Policy int

const (
	// TargetPassing marks reads whose alignments pass the thresholds
	// as the targets. This is the canonical semantics: a confident
	// host alignment selects the read for depletion (or extraction).
	TargetPassing Policy = iota
	// TargetFailing marks the complement: reads whose alignments fail
	// the thresholds become the targets.
	TargetFailing
)

// ParsePolicy maps a user-supplied policy name to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "pass", "passing":
		return TargetPassing, nil
	case "fail", "failing":
		return TargetFailing, nil
	}
	return TargetPassing, errors.E(errors.Precondition, "unknown target policy:", s)
}

// missingMapQ is the mapping quality value meaning "not available";
// it satisfies any threshold.
const missingMapQ = 255

// Filter holds the numeric thresholds applied to alignment records.
// A record passes when its aligned length or query coverage clears the
// corresponding minimum and its mapping quality clears MinMapQ.
type Filter struct {
	MinLen  uint64
	MinCov  float64
	MinMapQ uint8
	Policy  Policy
}

func (f Filter) pass(rec Record) bool {
	if rec.AlignedLen < f.MinLen && rec.Coverage() < f.MinCov {
		return false
	}
	return rec.MapQ == missingMapQ || rec.MapQ >= f.MinMapQ
}

// target reports whether rec selects its read under the filter policy.
func (f Filter) target(rec Record) bool {
	if f.Policy == TargetFailing {
		return !f.pass(rec)
	}
	return f.pass(rec)
}

// Record is the unified view of one alignment, reduced to the fields
// the filter needs.
type Record struct {
	// Name is the query (read) name.
	Name string
	// Len is the query sequence length.
	Len uint64
	// AlignedLen is the aligned query length: qend-qstart for PAF,
	// the CIGAR match+insertion sum for SAM/BAM.
	AlignedLen uint64
	// MapQ is the mapping quality (0-255; 255 for missing).
	MapQ uint8
}

// Coverage returns the aligned fraction of the query, 0 for a
// zero-length query.
func (r Record) Coverage() float64 {
	if r.Len == 0 {
		return 0
	}
	return float64(r.AlignedLen) / float64(r.Len)
}

// ReadIDs parses the alignment file at path and returns the read
// identifiers selected by the filter. With format Unknown the format
// is inferred from the path; an unrecognized extension is an error.
// Txt lists are taken verbatim, one identifier per line, with no
// numeric filtering.
func ReadIDs(ctx context.Context, path string, format Format, filter Filter) (map[string]struct{}, error) {
	if format == Unknown {
		if format = FormatFromPath(path); format == Unknown {
			return nil, errors.E(errors.NotSupported,
				"cannot infer alignment format from path:", path)
		}
	}

	ids := make(map[string]struct{})
	var err error
	switch format {
	case Paf:
		err = withReader(ctx, path, func(r io.Reader) error {
			return readPAF(r, filter, ids)
		})
	case Txt:
		err = withReader(ctx, path, func(r io.Reader) error {
			return readList(r, ids)
		})
	case Sam:
		err = withReader(ctx, path, func(r io.Reader) error {
			return readSAM(r, filter, ids)
		})
	case Bam:
		err = withReader(ctx, path, func(r io.Reader) error {
			return readBAM(r, filter, ids)
		})
	case Cram:
		// CRAM decoding needs an external reference; convert to BAM first.
		return nil, errors.E(errors.NotSupported, "CRAM input is not supported:", path)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("%d reads selected from alignment %s", len(ids), path)
	return ids, nil
}

func withReader(ctx context.Context, path string, fn func(io.Reader) error) error {
	in, err := zio.Open(ctx, path)
	if err != nil {
		return errors.E(err, "opening alignment", path)
	}
	ferr := fn(in)
	if cerr := in.Close(); cerr != nil && ferr == nil {
		ferr = cerr
	}
	return ferr
}

func readList(r io.Reader, ids map[string]struct{}) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			ids[line] = struct{}{}
		}
	}
	return scanner.Err()
}
