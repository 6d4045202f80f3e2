package scrub

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clinbio/scrub/alignment"
	"github.com/clinbio/scrub/taxa"
	"github.com/grailbio/base/errors"
)

// Tool identifies the classifier or aligner backing a pipeline stage.
// The orchestrator never branches on the concrete tool: every tool
// builds an invocation and parses its output into a read-identifier
// set through the same two operations.
type Tool int

const (
	// Kraken2 is the Kraken2 k-mer taxonomic classifier.
	Kraken2 Tool = iota
	// Metabuli is the Metabuli DNA+AA taxonomic classifier.
	Metabuli
	// Minimap2 is the minimap2 aligner, producing PAF.
	Minimap2
	// Bowtie2 is the bowtie2 short-read aligner, producing SAM.
	Bowtie2
	// Strobealign is the strobealign short-read aligner, producing SAM.
	Strobealign
	// Precomputed marks a stage fed by an existing alignment or
	// classifier output; no external process is run.
	Precomputed
)

var toolNames = map[Tool]string{
	Kraken2:     "kraken2",
	Metabuli:    "metabuli",
	Minimap2:    "minimap2",
	Bowtie2:     "bowtie2",
	Strobealign: "strobealign",
	Precomputed: "precomputed",
}

func (t Tool) String() string {
	if s, ok := toolNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Tool(%d)", int(t))
}

// ParseTool maps a tool name to a Tool.
func ParseTool(s string) (Tool, error) {
	for t, name := range toolNames {
		if name == strings.ToLower(s) {
			return t, nil
		}
	}
	return Precomputed, errors.E(errors.Precondition, "unknown tool:", s)
}

// Classifier reports whether the tool emits a taxonomic report plus
// per-read classifications rather than alignments.
func (t Tool) Classifier() bool {
	return t == Kraken2 || t == Metabuli
}

// executable returns the binary a stage of this tool kind invokes, or
// "" when nothing is run.
func (t Tool) executable() string {
	if t == Precomputed {
		return ""
	}
	return toolNames[t]
}

// A Stage is one reference within a chained pipeline: a classifier
// database or alignment index plus its identifier-resolution step.
type Stage struct {
	Tool Tool
	// Name labels the reference in outputs and stage file names.
	Name string
	// Reference is the database or index path handed to the tool.
	Reference string

	// Precomputed stage inputs. When Report or Alignment is set, the
	// stage parses these files instead of invoking an external tool.
	Report    string
	Reads     string
	Alignment string
	// Format overrides extension-based alignment format detection.
	Format alignment.Format
}

func (s *Stage) precomputed() bool {
	return s.Report != "" || s.Alignment != ""
}

// invocation is the external-collaborator contract for one stage: the
// argv to run and the deterministic, stage-indexed paths at which the
// tool must leave its outputs inside the working directory.
type invocation struct {
	argv   []string
	stdout string // stdout redirect target, "" for none
	report string // classifier report path
	reads  string // per-read classification path
	align  string // alignment output path
}

// invocation builds the stage's external command for the given input
// files. Precomputed stages return an empty argv and their own paths.
func (s *Stage) invocation(index int, inputs []string, workdir string, o *Opts) (invocation, error) {
	if len(inputs) == 0 || len(inputs) > 2 {
		return invocation{}, errors.E(errors.Precondition,
			"stages take one or two input files, got", len(inputs))
	}
	if s.precomputed() {
		return invocation{report: s.Report, reads: s.Reads, align: s.Alignment}, nil
	}

	paired := len(inputs) == 2
	threads := strconv.Itoa(o.threads())
	prefix := fmt.Sprintf("%d-%s", index, s.Name)
	extra := o.ToolArgs[s.Tool]

	switch s.Tool {
	case Kraken2:
		inv := invocation{
			report: filepath.Join(workdir, prefix+".report"),
			reads:  filepath.Join(workdir, prefix+".kraken"),
		}
		inv.argv = []string{"kraken2",
			"--threads", threads,
			"--db", s.Reference,
			"--output", inv.reads,
			"--report", inv.report,
		}
		inv.argv = append(inv.argv, extra...)
		if paired {
			inv.argv = append(inv.argv, "--paired")
		}
		inv.argv = append(inv.argv, inputs...)
		return inv, nil

	case Metabuli:
		inv := invocation{
			report: filepath.Join(workdir, prefix+"_report.tsv"),
			reads:  filepath.Join(workdir, prefix+"_classifications.tsv"),
		}
		seqMode := "3" // long reads
		if paired {
			seqMode = "2"
		}
		inv.argv = []string{"metabuli", "classify",
			"--seq-mode", seqMode,
			"--threads", threads,
		}
		inv.argv = append(inv.argv, extra...)
		inv.argv = append(inv.argv, inputs...)
		inv.argv = append(inv.argv, s.Reference, workdir, prefix)
		return inv, nil

	case Minimap2:
		inv := invocation{align: filepath.Join(workdir, prefix+".paf")}
		preset := o.Preset
		if preset == "" {
			if paired {
				preset = "sr"
			} else {
				preset = "map-ont"
			}
		}
		inv.argv = []string{"minimap2",
			"-t", threads,
			"-c",
			"-x", preset,
			"--secondary=no",
			"-o", inv.align,
		}
		inv.argv = append(inv.argv, extra...)
		inv.argv = append(inv.argv, s.Reference)
		inv.argv = append(inv.argv, inputs...)
		return inv, nil

	case Bowtie2:
		inv := invocation{align: filepath.Join(workdir, prefix+".sam")}
		inv.argv = []string{"bowtie2",
			"-x", s.Reference,
			"-k", "1",
			"--mm",
			"-p", threads,
			"-S", inv.align,
		}
		inv.argv = append(inv.argv, extra...)
		if paired {
			inv.argv = append(inv.argv, "-1", inputs[0], "-2", inputs[1])
		} else {
			inv.argv = append(inv.argv, "-U", inputs[0])
		}
		return inv, nil

	case Strobealign:
		// strobealign writes SAM to stdout.
		inv := invocation{align: filepath.Join(workdir, prefix+".sam")}
		inv.stdout = inv.align
		inv.argv = []string{"strobealign", "-t", threads}
		inv.argv = append(inv.argv, extra...)
		inv.argv = append(inv.argv, s.Reference)
		inv.argv = append(inv.argv, inputs...)
		return inv, nil
	}
	return invocation{}, errors.E(errors.Precondition, "stage has no runnable tool:", s.Tool)
}

// readIDs parses the stage's deposited outputs into the identifier set
// to act on.
func (s *Stage) readIDs(ctx context.Context, inv invocation, o *Opts) (map[string]struct{}, error) {
	if s.Tool.Classifier() || inv.report != "" {
		taxids, counts, err := targetTaxaFile(ctx, inv.report, o.Taxa, o.TaxaDirect)
		if err != nil {
			return nil, err
		}
		counts.Log()
		return taxa.ClassifiedReadIDs(ctx, inv.reads, taxids)
	}
	return alignment.ReadIDs(ctx, inv.align, s.Format, alignment.Filter{
		MinLen:  o.MinLen,
		MinCov:  o.MinCov,
		MinMapQ: o.MinMapQ,
		Policy:  o.Policy,
	})
}
