package cleaner_test

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clinbio/scrub/cleaner"
	"github.com/clinbio/scrub/encoding/fastx"
	"github.com/clinbio/scrub/encoding/zio"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
)

// fastq renders one FASTQ record per read identifier.
func fastq(ids ...string) string {
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "@%s\nACGT\n+\nIIII\n", id)
	}
	return b.String()
}

func writeReads(t *testing.T, path string, ids ...string) {
	assert.NoError(t, ioutil.WriteFile(path, []byte(fastq(ids...)), 0600))
}

func readIDs(t *testing.T, path string) []string {
	in, err := zio.Open(context.Background(), path)
	assert.NoError(t, err)
	defer in.Close() // nolint: errcheck
	s := fastx.NewScanner(in)
	var (
		ids []string
		rec fastx.Record
	)
	for s.Scan(&rec) {
		ids = append(ids, rec.ID())
	}
	assert.NoError(t, s.Err())
	return ids
}

func set(ids ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func TestDeplete(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	input := filepath.Join(tmpDir, "in.fq")
	output := filepath.Join(tmpDir, "out.fq")
	all := []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10"}
	writeReads(t, input, all...)

	c := cleaner.Cleaner{Reads: set("r2", "r5", "r9"), Mode: cleaner.Deplete}
	counts, err := c.CleanFile(ctx, input, output)
	assert.NoError(t, err)
	assert.Equal(t, uint64(10), counts.Total)
	assert.Equal(t, uint64(3), counts.Depleted)
	assert.Equal(t, uint64(0), counts.Extracted)
	assert.Equal(t, uint64(7), counts.Retained)
	assert.Equal(t, []string{"r1", "r3", "r4", "r6", "r7", "r8", "r10"}, readIDs(t, output))

	// Depleting the already depleted output is a fixed point.
	again := filepath.Join(tmpDir, "out2.fq")
	counts, err = c.CleanFile(ctx, output, again)
	assert.NoError(t, err)
	assert.Equal(t, uint64(7), counts.Total)
	assert.Equal(t, uint64(0), counts.Depleted)
	assert.Equal(t, readIDs(t, output), readIDs(t, again))
}

func TestExtract(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	input := filepath.Join(tmpDir, "in.fq")
	writeReads(t, input, "r1", "r2", "r3", "r4")

	c := cleaner.Cleaner{Reads: set("r2", "r4"), Mode: cleaner.Extract}
	output := filepath.Join(tmpDir, "out.fq")
	counts, err := c.CleanFile(ctx, input, output)
	assert.NoError(t, err)
	assert.Equal(t, uint64(4), counts.Total)
	assert.Equal(t, uint64(2), counts.Extracted)
	assert.Equal(t, uint64(0), counts.Depleted)
	assert.Equal(t, uint64(2), counts.Retained)
	assert.Equal(t, []string{"r2", "r4"}, readIDs(t, output))
}

func TestDepleteExtractPartition(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	input := filepath.Join(tmpDir, "in.fq")
	writeReads(t, input, "r1", "r2", "r3", "r4", "r5")
	reads := set("r1", "r3")

	depleted := filepath.Join(tmpDir, "depleted.fq")
	extracted := filepath.Join(tmpDir, "extracted.fq")
	d := cleaner.Cleaner{Reads: reads, Mode: cleaner.Deplete}
	e := cleaner.Cleaner{Reads: reads, Mode: cleaner.Extract}
	dc, err := d.CleanFile(ctx, input, depleted)
	assert.NoError(t, err)
	ec, err := e.CleanFile(ctx, input, extracted)
	assert.NoError(t, err)

	// The two modes partition the input.
	assert.Equal(t, dc.Total, dc.Retained+ec.Retained)
	assert.Equal(t, []string{"r2", "r4", "r5"}, readIDs(t, depleted))
	assert.Equal(t, []string{"r1", "r3"}, readIDs(t, extracted))
}

func TestCleanPaired(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	in1 := filepath.Join(tmpDir, "in_1.fq")
	in2 := filepath.Join(tmpDir, "in_2.fq")
	writeReads(t, in1, "r1", "r2", "r3")
	writeReads(t, in2, "r1", "r2", "r3")

	out1 := filepath.Join(tmpDir, "out_1.fq.gz")
	out2 := filepath.Join(tmpDir, "out_2.fq.gz")
	c := cleaner.Cleaner{Reads: set("r2"), Mode: cleaner.Deplete}
	counts, err := c.Clean(ctx, []string{in1, in2}, []string{out1, out2})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(counts))
	for i, fc := range counts {
		assert.Equal(t, uint64(3), fc.Total, "file %d", i)
		assert.Equal(t, uint64(1), fc.Depleted, "file %d", i)
	}
	// Mates stay positionally in sync, through gzip outputs.
	assert.Equal(t, []string{"r1", "r3"}, readIDs(t, out1))
	assert.Equal(t, []string{"r1", "r3"}, readIDs(t, out2))
}

func TestCleanEmptyInput(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	input := filepath.Join(tmpDir, "in.fq")
	assert.NoError(t, ioutil.WriteFile(input, nil, 0600))
	output := filepath.Join(tmpDir, "out.fq")

	c := cleaner.Cleaner{Reads: set("r1"), Mode: cleaner.Deplete}
	counts, err := c.CleanFile(ctx, input, output)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), counts.Total)

	// An output file exists even for empty input.
	_, err = ioutil.ReadFile(output)
	assert.NoError(t, err)
}

func TestCleanArgValidation(t *testing.T) {
	c := cleaner.Cleaner{}
	_, err := c.Clean(context.Background(), nil, nil)
	assert.Error(t, err)
	_, err = c.Clean(context.Background(), []string{"a", "b", "c"}, []string{"x", "y", "z"})
	assert.Error(t, err)
	_, err = c.Clean(context.Background(), []string{"a"}, []string{"x", "y"})
	assert.Error(t, err)
}
