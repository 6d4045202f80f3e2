package zio

import (
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"reads.fq.gz", Gzip},
		{"reads.fq.bgz", Gzip},
		{"reads.fq.bz2", Bzip2},
		{"reads.fq.bz", Bzip2},
		{"reads.fq.xz", Xz},
		{"reads.fq.lzma", Xz},
		{"reads.fq", None},
		{"reads", None},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, FromPath(test.path), "path %q", test.path)
	}
}

func TestTrimExt(t *testing.T) {
	assert.Equal(t, "reads.fq", TrimExt("reads.fq.gz"))
	assert.Equal(t, "aln.paf", TrimExt("aln.paf.xz"))
	assert.Equal(t, "reads.fq", TrimExt("reads.fq"))
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]Format{
		"": Infer, "none": None, "u": None,
		"gz": Gzip, "gzip": Gzip, "g": Gzip,
		"bz2": Bzip2, "bzip2": Bzip2, "b": Bzip2,
		"xz": Xz, "lzma": Xz, "l": Xz,
	} {
		got, err := ParseFormat(name)
		assert.NoError(t, err, "name %q", name)
		assert.Equal(t, want, got, "name %q", name)
	}
	_, err := ParseFormat("zstd")
	assert.Error(t, err)
}

func TestRoundTripInMemory(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 100)
	for _, format := range []Format{None, Gzip, Bzip2, Xz} {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, format, 0)
		assert.NoError(t, err, "format %s", format)
		_, err = w.Write(payload)
		assert.NoError(t, err, "format %s", format)
		assert.NoError(t, w.Close(), "format %s", format)

		r, err := newReader(bytes.NewReader(buf.Bytes()), format)
		assert.NoError(t, err, "format %s", format)
		got, err := ioutil.ReadAll(r)
		assert.NoError(t, err, "format %s", format)
		assert.NoError(t, r.Close(), "format %s", format)
		assert.Equal(t, payload, got, "format %s", format)
	}
}

func TestOpenCreate(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	// Compression is inferred from the extension on both ends.
	for _, name := range []string{"data.txt", "data.txt.gz", "data.txt.bz2", "data.txt.xz"} {
		path := filepath.Join(tmpDir, name)
		w, err := Create(ctx, path, Infer, 0)
		assert.NoError(t, err, "path %q", name)
		_, err = w.Write([]byte("hello\n"))
		assert.NoError(t, err, "path %q", name)
		assert.NoError(t, w.Close(), "path %q", name)

		r, err := Open(ctx, path)
		assert.NoError(t, err, "path %q", name)
		got, err := ioutil.ReadAll(r)
		assert.NoError(t, err, "path %q", name)
		assert.NoError(t, r.Close(), "path %q", name)
		assert.Equal(t, "hello\n", string(got), "path %q", name)
	}

	// Raw bytes on disk actually carry the gzip magic.
	raw, err := ioutil.ReadFile(filepath.Join(tmpDir, "data.txt.gz"))
	assert.NoError(t, err)
	assert.True(t, len(raw) > 2 && raw[0] == 0x1f && raw[1] == 0x8b)
}

func TestCreateExplicitNone(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	// An explicit None wins over a compressed extension.
	path := filepath.Join(tmpDir, "data.txt.gz")
	w, err := Create(ctx, path, None, 0)
	assert.NoError(t, err)
	_, err = w.Write([]byte("hello\n"))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())

	raw, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "hello\n", string(raw))
}
