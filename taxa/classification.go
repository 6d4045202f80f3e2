package taxa

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/clinbio/scrub/encoding/zio"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// readFields is the minimum column count of a per-read classification
// line: status flag, read identifier, taxon identifier, length. Tools
// append their own trailing columns, which are ignored.
const readFields = 4

// ReadRecord is one per-read classification. Kraken2 flags classified
// reads with "C"/"U", Metabuli with "1"/"0"; both conventions parse
// into the same record.
type ReadRecord struct {
	Classified bool
	ReadID     string
	TaxID      string
	Length     string
}

func parseReadRecord(line string) (ReadRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < readFields {
		return ReadRecord{}, errors.E(errors.Invalid,
			"classification line has", len(fields), "fields, want at least", readFields)
	}
	flag := strings.TrimSpace(fields[0])
	return ReadRecord{
		Classified: flag == "C" || flag == "1",
		ReadID:     strings.TrimSpace(fields[1]),
		TaxID:      strings.TrimSpace(fields[2]),
		Length:     strings.TrimSpace(fields[3]),
	}, nil
}

// ClassifiedReadIDs scans the per-read classification file at path and
// returns the identifiers of reads assigned to any taxon in taxids.
// A missing file yields an empty set: classifiers legitimately omit
// the per-read output when no reads were classified.
func ClassifiedReadIDs(ctx context.Context, path string, taxids map[string]struct{}) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	if _, err := file.Stat(ctx, path); err != nil {
		// The file layer kinds its errors; local paths may surface a
		// bare os error.
		if errors.Is(errors.NotExist, err) || os.IsNotExist(err) {
			return ids, nil
		}
		return nil, errors.E(err, "probing classifications", path)
	}

	in, err := zio.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "opening classifications", path)
	}
	defer in.Close() // nolint: errcheck

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		record, err := parseReadRecord(scanner.Text())
		if err != nil {
			return nil, err
		}
		if _, ok := taxids[record.TaxID]; ok {
			ids[record.ReadID] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "reading classifications", path)
	}

	log.Printf("%d matching classified reads detected in %s", len(ids), path)
	return ids, nil
}
