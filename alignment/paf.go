package alignment

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

// pafFields is the number of mandatory PAF columns; SAM-like typed
// tags may follow and are ignored.
const pafFields = 12

// pafRecord holds the mandatory columns of one PAF line.
type pafRecord struct {
	QName  string
	QLen   uint64
	QStart uint64
	QEnd   uint64
	Strand string
	TName  string
	TLen   uint64
	TStart uint64
	TEnd   uint64
	Match  uint64
	Block  uint64
	MapQ   uint8
}

func parsePAF(line string) (pafRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < pafFields {
		return pafRecord{}, errors.E(errors.Invalid,
			"PAF line has", len(fields), "fields, want at least", pafFields)
	}
	var (
		rec  pafRecord
		err  error
		u64s = []struct {
			dst   *uint64
			field int
			name  string
		}{
			{&rec.QLen, 1, "query length"},
			{&rec.QStart, 2, "query start"},
			{&rec.QEnd, 3, "query end"},
			{&rec.TLen, 6, "target length"},
			{&rec.TStart, 7, "target start"},
			{&rec.TEnd, 8, "target end"},
			{&rec.Match, 9, "matching bases"},
			{&rec.Block, 10, "block length"},
		}
	)
	rec.QName = fields[0]
	rec.Strand = fields[4]
	rec.TName = fields[5]
	for _, f := range u64s {
		if *f.dst, err = strconv.ParseUint(fields[f.field], 10, 64); err != nil {
			return pafRecord{}, errors.E(errors.Invalid, err, "PAF", f.name)
		}
	}
	mapq, err := strconv.ParseUint(fields[11], 10, 8)
	if err != nil {
		return pafRecord{}, errors.E(errors.Invalid, err, "PAF mapping quality")
	}
	rec.MapQ = uint8(mapq)
	if rec.QEnd < rec.QStart {
		return pafRecord{}, errors.E(errors.Invalid,
			"PAF query end precedes query start:", fields[0])
	}
	return rec, nil
}

// record reduces the PAF columns to the unified alignment Record. PAF
// query start/end already account for insertions but not deletions,
// matching the CIGAR match+insertion sum used for SAM/BAM.
func (p *pafRecord) record() Record {
	return Record{
		Name:       p.QName,
		Len:        p.QLen,
		AlignedLen: p.QEnd - p.QStart,
		MapQ:       p.MapQ,
	}
}

func readPAF(r io.Reader, filter Filter, ids map[string]struct{}) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, err := parsePAF(line)
		if err != nil {
			return err
		}
		if filter.target(rec.record()) {
			ids[rec.QName] = struct{}{}
		}
	}
	return scanner.Err()
}
