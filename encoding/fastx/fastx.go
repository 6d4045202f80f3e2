// Package fastx provides streaming scanners and writers for FASTA and
// FASTQ sequence files. Records pass through the scanner/writer pair
// byte-for-byte, so filtering a file never reformats the survivors.
package fastx

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrInvalid is returned when a record header has the wrong marker.
	ErrInvalid = errors.New("invalid FASTA/FASTQ record")
	// ErrShort is returned when a truncated FASTQ record is encountered.
	ErrShort = errors.New("short FASTQ record")
)

var errEOF = errors.New("eof")

// A Record is one FASTA or FASTQ record. For FASTA records Plus and
// Qual are empty and Seq holds the original sequence lines joined by
// newlines, preserving any line wrapping.
type Record struct {
	Header, Seq, Plus, Qual string
}

// ID returns the record identifier: the header token before the first
// whitespace, with the leading '@' or '>' marker stripped.
func (r *Record) ID() string {
	h := r.Header
	if len(h) > 0 && (h[0] == '@' || h[0] == '>') {
		h = h[1:]
	}
	if i := strings.IndexAny(h, " \t"); i >= 0 {
		h = h[:i]
	}
	return h
}

// Scanner reads FASTA or FASTQ records from a stream. The format is
// detected from the first byte: '@' for FASTQ, '>' for FASTA. Scanners
// are not threadsafe.
//
// FASTQ records must span exactly four lines; FASTA sequences may wrap
// over any number of lines. Beyond the header and '+' markers no
// validation is performed.
type Scanner struct {
	b       *bufio.Scanner
	err     error
	fastq   bool
	started bool
	pending string
	havePending bool
}

// NewScanner constructs a Scanner reading raw FASTA/FASTQ data from r.
func NewScanner(r io.Reader) *Scanner {
	b := bufio.NewScanner(r)
	b.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	return &Scanner{b: b}
}

// Scan reads the next record into rec, returning whether the scan
// succeeded. Once Scan returns false it never returns true again; the
// caller should then check Err.
func (s *Scanner) Scan(rec *Record) bool {
	if s.err != nil {
		return false
	}
	header, ok := s.next()
	if !ok {
		return false
	}
	if !s.started {
		s.started = true
		switch {
		case len(header) > 0 && header[0] == '@':
			s.fastq = true
		case len(header) > 0 && header[0] == '>':
			s.fastq = false
		default:
			s.err = ErrInvalid
			return false
		}
	}
	if s.fastq {
		return s.scanFASTQ(header, rec)
	}
	return s.scanFASTA(header, rec)
}

func (s *Scanner) scanFASTQ(header string, rec *Record) bool {
	if len(header) == 0 || header[0] != '@' {
		s.err = ErrInvalid
		return false
	}
	rec.Header = header
	var ok bool
	if rec.Seq, ok = s.must(); !ok {
		return false
	}
	if rec.Plus, ok = s.must(); !ok {
		return false
	}
	if len(rec.Plus) == 0 || rec.Plus[0] != '+' {
		s.err = ErrInvalid
		return false
	}
	if rec.Qual, ok = s.must(); !ok {
		return false
	}
	return true
}

func (s *Scanner) scanFASTA(header string, rec *Record) bool {
	if len(header) == 0 || header[0] != '>' {
		s.err = ErrInvalid
		return false
	}
	rec.Header = header
	rec.Plus, rec.Qual = "", ""
	var seq []string
	for {
		line, ok := s.next()
		if !ok {
			break
		}
		if len(line) > 0 && line[0] == '>' {
			s.pending = line
			s.havePending = true
			break
		}
		seq = append(seq, line)
	}
	if s.err == errEOF {
		s.err = nil // EOF ends the last FASTA record cleanly
	}
	if s.err != nil {
		return false
	}
	rec.Seq = strings.Join(seq, "\n")
	return true
}

// next returns the next input line, consuming the lookahead first.
func (s *Scanner) next() (string, bool) {
	if s.havePending {
		s.havePending = false
		return s.pending, true
	}
	if !s.b.Scan() {
		if s.err = s.b.Err(); s.err == nil {
			s.err = errEOF
		}
		return "", false
	}
	return s.b.Text(), true
}

// must returns the next line of a FASTQ record, flagging truncation.
func (s *Scanner) must() (string, bool) {
	line, ok := s.next()
	if !ok && s.err == errEOF {
		s.err = ErrShort
	}
	return line, ok
}

// Err returns the scanning error, if any.
func (s *Scanner) Err() error {
	if s.err == errEOF {
		return nil
	}
	return s.err
}

var newline = []byte{'\n'}

// Writer writes FASTA/FASTQ records verbatim.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter constructs a Writer that writes records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes rec exactly as it was scanned. An error is returned if
// the write failed.
func (w *Writer) Write(rec *Record) error {
	w.writeln(rec.Header)
	if rec.Plus == "" && rec.Qual == "" && rec.Seq == "" {
		return w.err // FASTA entry without sequence lines
	}
	w.writeln(rec.Seq)
	if rec.Plus != "" || rec.Qual != "" {
		w.writeln(rec.Plus)
		w.writeln(rec.Qual)
	}
	return w.err
}

func (w *Writer) writeln(line string) {
	if w.err != nil {
		return
	}
	if _, w.err = io.WriteString(w.w, line); w.err == nil {
		_, w.err = w.w.Write(newline)
	}
}
