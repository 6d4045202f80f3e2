// Package zio provides compression-aware readers and writers for the
// text and sequence files handled by the scrub pipeline. Formats are
// inferred from the path extension unless given explicitly.
package zio

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// Format enumerates the supported stream compression formats. The zero
// value Infer defers to the path extension when creating files; None is
// an explicit request for no compression and wins over the extension.
type Format int

const (
	// Infer selects the format from the path extension on Create.
	Infer Format = iota
	// None means no compression, regardless of the path extension.
	None
	// Gzip is RFC 1952 gzip.
	Gzip
	// Bzip2 is the bzip2 block format.
	Bzip2
	// Xz is the xz container with LZMA2.
	Xz
)

// DefaultLevel is used when a caller passes a compression level of 0.
const DefaultLevel = 6

func (f Format) String() string {
	switch f {
	case Infer:
		return "infer"
	case None:
		return "none"
	case Gzip:
		return "gz"
	case Bzip2:
		return "bz2"
	case Xz:
		return "xz"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "":
		return Infer, nil
	case "none", "u":
		return None, nil
	case "gz", "gzip", "g":
		return Gzip, nil
	case "bz2", "bz", "bzip2", "b":
		return Bzip2, nil
	case "xz", "lzma", "l":
		return Xz, nil
	}
	return Infer, fmt.Errorf("zio: unknown compression format %q", s)
}

// FromPath infers the compression format from the path extension.
// Unknown extensions map to None.
func FromPath(path string) Format {
	switch filepath.Ext(path) {
	case ".gz", ".bgz":
		return Gzip
	case ".bz", ".bz2":
		return Bzip2
	case ".xz", ".lzma":
		return Xz
	}
	return None
}

// TrimExt removes one compression suffix from path, if present, so the
// underlying file extension can be examined.
func TrimExt(path string) string {
	if FromPath(path) != None {
		return strings.TrimSuffix(path, filepath.Ext(path))
	}
	return path
}

type readCloser struct {
	io.Reader
	closers []func() error
}

func (r *readCloser) Close() error {
	var err error
	for _, c := range r.closers {
		if e := c(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

type writeCloser struct {
	io.Writer
	closers []func() error
}

func (w *writeCloser) Close() error {
	var err error
	for _, c := range w.closers {
		if e := c(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// NewReaderPath wraps r in a decompressor chosen by the extension of
// path. For unrecognized extensions r is passed through unchanged.
func NewReaderPath(r io.Reader, path string) (io.ReadCloser, error) {
	return newReader(r, FromPath(path))
}

func newReader(r io.Reader, format Format) (io.ReadCloser, error) {
	switch format {
	case Gzip:
		z, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &readCloser{Reader: z, closers: []func() error{z.Close}}, nil
	case Bzip2:
		z, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, err
		}
		return &readCloser{Reader: z, closers: []func() error{z.Close}}, nil
	case Xz:
		z, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		// xz.Reader has no Close.
		return &readCloser{Reader: z}, nil
	}
	return &readCloser{Reader: r}, nil
}

// NewWriter wraps w in a compressor for the given format and level.
// Level 0 selects DefaultLevel; Xz ignores the level.
func NewWriter(w io.Writer, format Format, level int) (io.WriteCloser, error) {
	if level == 0 {
		level = DefaultLevel
	}
	switch format {
	case Gzip:
		z, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, err
		}
		return &writeCloser{Writer: z, closers: []func() error{z.Close}}, nil
	case Bzip2:
		z, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: level})
		if err != nil {
			return nil, err
		}
		return &writeCloser{Writer: z, closers: []func() error{z.Close}}, nil
	case Xz:
		z, err := xz.NewWriter(w)
		if err != nil {
			return nil, err
		}
		return &writeCloser{Writer: z, closers: []func() error{z.Close}}, nil
	}
	return &writeCloser{Writer: w}, nil
}

// Open opens path for reading, transparently decompressing it based on
// the path extension. Closing the returned reader closes the file.
func Open(ctx context.Context, path string) (io.ReadCloser, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	rc, err := NewReaderPath(in.Reader(ctx), path)
	if err != nil {
		_ = in.Close(ctx)
		return nil, err
	}
	r := rc.(*readCloser)
	r.closers = append(r.closers, func() error { return in.Close(ctx) })
	return r, nil
}

// Create creates path for writing. With Format Infer the compression
// is inferred from the path extension; any explicit format, including
// None, wins over the extension. Closing the returned writer flushes
// the compressor and closes the file.
func Create(ctx context.Context, path string, format Format, level int) (io.WriteCloser, error) {
	if format == Infer {
		format = FromPath(path)
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	wc, err := NewWriter(out.Writer(ctx), format, level)
	if err != nil {
		_ = out.Close(ctx)
		return nil, err
	}
	w := wc.(*writeCloser)
	w.closers = append(w.closers, func() error { return out.Close(ctx) })
	return w, nil
}
