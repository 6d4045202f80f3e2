// Package cleaner streams sequence files through a read-identifier
// filter. Depletion drops the reads in the set and keeps the rest;
// extraction keeps only the reads in the set. Records that survive are
// written unmodified.
package cleaner

import (
	"context"
	"fmt"

	"github.com/clinbio/scrub/encoding/fastx"
	"github.com/clinbio/scrub/encoding/zio"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

// Mode selects the action taken on reads matching the identifier set.
type Mode int

const (
	// Deplete removes matching reads and keeps the remainder.
	Deplete Mode = iota
	// Extract keeps only matching reads and discards the remainder.
	Extract
)

func (m Mode) String() string {
	if m == Extract {
		return "extract"
	}
	return "deplete"
}

// FileCounts reports the outcome of filtering one sequence file.
// Depleted and Extracted are mode-exclusive: Depleted counts records
// dropped in Deplete mode, Extracted counts records kept in Extract
// mode, and the other is always zero.
type FileCounts struct {
	Input     string `json:"input"`
	Output    string `json:"output"`
	Total     uint64 `json:"total"`
	Depleted  uint64 `json:"depleted"`
	Extracted uint64 `json:"extracted"`
	Retained  uint64 `json:"retained"`
}

// Cleaner applies one read-identifier set to sequence files. The set
// is treated as read-only: paired files are filtered by concurrent
// workers sharing it without synchronization.
type Cleaner struct {
	// Reads is the read-identifier set acted on.
	Reads map[string]struct{}
	// Mode selects deplete or extract semantics.
	Mode Mode
	// Output selects the output compression; zio.Infer (the zero
	// value) infers it from each output path.
	Output zio.Format
	// Level is the output compression level; 0 means the default.
	Level int
}

// CleanFile filters a single sequence file from input to output and
// returns the per-file counts. The record identifier is the header
// token before the first whitespace. An output file is always
// produced, even when the input is empty, so downstream stages always
// have a file to consume.
func (c *Cleaner) CleanFile(ctx context.Context, input, output string) (FileCounts, error) {
	counts := FileCounts{Input: input, Output: output}

	in, err := zio.Open(ctx, input)
	if err != nil {
		return counts, errors.E(err, "opening reads", input)
	}
	out, err := zio.Create(ctx, output, c.Output, c.Level)
	if err != nil {
		_ = in.Close()
		return counts, errors.E(err, "creating filtered output", output)
	}

	scanner := fastx.NewScanner(in)
	w := fastx.NewWriter(out)
	var (
		rec  fastx.Record
		werr error
	)
	for scanner.Scan(&rec) {
		counts.Total++
		_, hit := c.Reads[rec.ID()]
		keep := hit == (c.Mode == Extract)
		if !keep {
			if c.Mode == Deplete {
				counts.Depleted++
			}
			continue
		}
		if c.Mode == Extract {
			counts.Extracted++
		}
		counts.Retained++
		if werr = w.Write(&rec); werr != nil {
			break
		}
	}

	once := errors.Once{}
	if serr := scanner.Err(); serr != nil {
		once.Set(errors.E(errors.Invalid, serr, fmt.Sprintf("parsing %s", input)))
	}
	once.Set(werr)
	once.Set(out.Close())
	once.Set(in.Close())
	if err := once.Err(); err != nil {
		return counts, err
	}
	log.Printf("%s: %s %d of %d reads", input, c.Mode, counts.Depleted+counts.Extracted, counts.Total)
	return counts, nil
}

// Clean filters one single-end file or a positionally significant
// forward/reverse pair. Pairs run on two workers against the shared
// read-only set and are joined before the results are returned in
// input order.
func (c *Cleaner) Clean(ctx context.Context, inputs, outputs []string) ([]FileCounts, error) {
	if len(inputs) == 0 || len(inputs) > 2 || len(inputs) != len(outputs) {
		return nil, errors.E(errors.Precondition,
			"need one or two input files with matching outputs, got",
			len(inputs), "inputs and", len(outputs), "outputs")
	}
	counts := make([]FileCounts, len(inputs))
	err := traverse.Each(len(inputs), func(i int) error {
		fc, err := c.CleanFile(ctx, inputs[i], outputs[i])
		counts[i] = fc
		return err
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
