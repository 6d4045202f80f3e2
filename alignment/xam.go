package alignment

import (
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// fromSAMRecord reduces a SAM/BAM record to the unified Record. The
// aligned query length is the CIGAR match+insertion sum, which is what
// PAF bakes into its query start/end columns.
func fromSAMRecord(rec *sam.Record) Record {
	var alen int
	for _, co := range rec.Cigar {
		switch co.Type() {
		case sam.CigarMatch, sam.CigarInsertion:
			alen += co.Len()
		}
	}
	return Record{
		Name:       rec.Name,
		Len:        uint64(rec.Seq.Length),
		AlignedLen: uint64(alen),
		MapQ:       rec.MapQ,
	}
}

func collect(rec *sam.Record, filter Filter, ids map[string]struct{}) {
	if rec.Flags&sam.Unmapped != 0 {
		return
	}
	if filter.target(fromSAMRecord(rec)) {
		ids[rec.Name] = struct{}{}
	}
}

func readSAM(r io.Reader, filter Filter, ids map[string]struct{}) error {
	sr, err := sam.NewReader(r)
	if err != nil {
		return errors.E(errors.Invalid, err, "reading SAM header")
	}
	for {
		rec, err := sr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.E(errors.Invalid, err, "reading SAM record")
		}
		collect(rec, filter, ids)
	}
}

func readBAM(r io.Reader, filter Filter, ids map[string]struct{}) error {
	br, err := bam.NewReader(r, 1)
	if err != nil {
		return errors.E(errors.Invalid, err, "reading BAM header")
	}
	defer br.Close() // nolint: errcheck
	for {
		rec, err := br.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.E(errors.Invalid, err, "reading BAM record")
		}
		collect(rec, filter, ids)
	}
}
