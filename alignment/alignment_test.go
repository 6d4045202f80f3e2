package alignment

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"aln.sam", Sam},
		{"aln.sam.gz", Sam},
		{"aln.bam", Bam},
		{"aln.cram", Cram},
		{"aln.paf", Paf},
		{"aln.paf.gz", Paf},
		{"aln.gaf", Paf},
		{"reads.txt", Txt},
		{"reads.txt.xz", Txt},
		{"reads.fq", Unknown},
		{"reads", Unknown},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, FormatFromPath(test.path), "path %q", test.path)
	}
}

func TestFilter(t *testing.T) {
	filter := Filter{MinLen: 400, MinCov: 0.5, MinMapQ: 20}
	tests := []struct {
		rec  Record
		want bool
	}{
		// Passing length suffices even with low coverage.
		{Record{Name: "a", Len: 10000, AlignedLen: 600, MapQ: 30}, true},
		// Passing coverage suffices even with a short alignment.
		{Record{Name: "b", Len: 500, AlignedLen: 300, MapQ: 30}, true},
		// Both thresholds missed.
		{Record{Name: "c", Len: 10000, AlignedLen: 300, MapQ: 30}, false},
		// Mapping quality gates a read that passes on length.
		{Record{Name: "d", Len: 1000, AlignedLen: 600, MapQ: 10}, false},
		// 255 means missing and always passes the quality gate.
		{Record{Name: "e", Len: 1000, AlignedLen: 600, MapQ: 255}, true},
		// Zero-length query has zero coverage.
		{Record{Name: "f", Len: 0, AlignedLen: 0, MapQ: 30}, false},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, filter.target(test.rec), "record %s", test.rec.Name)
	}

	failing := filter
	failing.Policy = TargetFailing
	for _, test := range tests {
		assert.Equal(t, !test.want, failing.target(test.rec), "record %s", test.rec.Name)
	}
}

func TestParsePAF(t *testing.T) {
	rec, err := parsePAF("read1\t1000\t100\t700\t+\tchr1\t5000\t200\t800\t550\t600\t30\ttp:A:P")
	assert.NoError(t, err)
	got := rec.record()
	assert.Equal(t, "read1", got.Name)
	assert.Equal(t, uint64(1000), got.Len)
	assert.Equal(t, uint64(600), got.AlignedLen)
	assert.Equal(t, uint8(30), got.MapQ)
	assert.Equal(t, 0.6, got.Coverage())

	for _, line := range []string{
		"read1\t1000\t100\t700\t+\tchr1\t5000\t200\t800\t550\t600", // 11 fields
		"read1\tx\t100\t700\t+\tchr1\t5000\t200\t800\t550\t600\t30",
		"read1\t1000\t100\t700\t+\tchr1\t5000\t200\t800\t550\t600\t999", // mapq > 255
		"read1\t1000\t700\t100\t+\tchr1\t5000\t200\t800\t550\t600\t30",  // end < start
	} {
		_, err := parsePAF(line)
		assert.Error(t, err, "line %q", line)
		assert.True(t, errors.Is(errors.Invalid, err), "line %q", line)
	}
}

func sortedIDs(ids map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func writeTmp(t *testing.T, dir, name, body string) string {
	path := filepath.Join(dir, name)
	assert.NoError(t, ioutil.WriteFile(path, []byte(body), 0600))
	return path
}

func TestReadIDsPAF(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	path := writeTmp(t, tmpDir, "aln.paf",
		"read1\t1000\t100\t700\t+\tchr1\t5000\t200\t800\t550\t600\t30\n"+
			"read2\t1000\t100\t200\t+\tchr1\t5000\t200\t300\t90\t100\t30\n"+
			"\n"+
			"read3\t1000\t0\t900\t-\tchr2\t8000\t100\t1000\t880\t900\t255\n")
	ids, err := ReadIDs(context.Background(), path, Unknown,
		Filter{MinLen: 400, MinCov: 0.5, MinMapQ: 20})
	assert.NoError(t, err)
	assert.Equal(t, []string{"read1", "read3"}, sortedIDs(ids))
}

func TestReadIDsTxt(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	// Lists are taken verbatim with no numeric filtering.
	path := writeTmp(t, tmpDir, "reads.txt", "read1\n\n  read2  \nread1\n")
	ids, err := ReadIDs(context.Background(), path, Unknown,
		Filter{MinLen: 1 << 60, MinCov: 2, MinMapQ: 254})
	assert.NoError(t, err)
	assert.Equal(t, []string{"read1", "read2"}, sortedIDs(ids))
}

func TestReadIDsSAM(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	sam := strings.Join([]string{
		"@HD\tVN:1.6\tSO:unsorted",
		"@SQ\tSN:chr1\tLN:10000",
		// 60M10I30S consumes 100 query bases; aligned length is 70.
		"read1\t0\tchr1\t100\t60\t60M10I30S\t*\t0\t0\t" + strings.Repeat("A", 100) + "\t*",
		"read2\t4\t*\t0\t0\t*\t*\t0\t0\tACGT\t*",
		"read3\t0\tchr1\t500\t10\t90M10S\t*\t0\t0\t" + strings.Repeat("A", 100) + "\t*",
		"",
	}, "\n")
	path := writeTmp(t, tmpDir, "aln.sam", sam)

	// read2 is unmapped; read3 fails the mapping quality gate.
	ids, err := ReadIDs(context.Background(), path, Unknown,
		Filter{MinLen: 50, MinMapQ: 20})
	assert.NoError(t, err)
	assert.Equal(t, []string{"read1"}, sortedIDs(ids))
}

func TestReadIDsUnsupported(t *testing.T) {
	_, err := ReadIDs(context.Background(), "aln.cram", Unknown, Filter{})
	assert.Error(t, err)
	assert.True(t, errors.Is(errors.NotSupported, err))

	_, err = ReadIDs(context.Background(), "aln.mystery", Unknown, Filter{})
	assert.Error(t, err)
	assert.True(t, errors.Is(errors.NotSupported, err))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	assert.NoError(t, err)
	assert.Equal(t, TargetPassing, p)
	p, err = ParsePolicy("failing")
	assert.NoError(t, err)
	assert.Equal(t, TargetFailing, p)
	_, err = ParsePolicy("bogus")
	assert.Error(t, err)
}
