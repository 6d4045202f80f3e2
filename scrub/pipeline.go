package scrub

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/clinbio/scrub/alignment"
	"github.com/clinbio/scrub/cleaner"
	"github.com/clinbio/scrub/encoding/zio"
	"github.com/clinbio/scrub/taxa"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Opts configures a pipeline run. The zero value depletes with no
// taxa, no thresholds, and extension-inferred output compression.
type Opts struct {
	// Taxa are the taxon names or identifiers whose classified subtrees
	// are selected from classifier reports.
	Taxa []string
	// TaxaDirect are taxa selected only on directly assigned reads,
	// without descending into their subtrees.
	TaxaDirect []string

	// Alignment thresholds; see alignment.Filter.
	MinLen  uint64
	MinCov  float64
	MinMapQ uint8
	Policy  alignment.Policy

	// Extract keeps the selected reads instead of removing them. All
	// stages then run against the original inputs and their identifier
	// sets are united into a single final pass.
	Extract bool

	// Workdir is the working directory for stage files. Empty means a
	// timestamped directory under the current directory.
	Workdir string
	// Keep retains the working directory after a successful run.
	Keep bool
	// Force removes a pre-existing working directory instead of failing.
	Force bool

	// Threads is the thread count passed to external tools; 0 means 1.
	Threads int
	// Preset overrides the minimap2 preset chosen from the input layout.
	Preset string
	// ToolArgs are extra arguments inserted into each tool's command
	// line before its input files.
	ToolArgs map[Tool][]string

	// Output selects the final output compression; zio.Infer (the zero
	// value) infers it from each output path. Level 0 means the format
	// default.
	Output zio.Format
	Level  int
}

func (o *Opts) threads() int {
	if o.Threads < 1 {
		return 1
	}
	return o.Threads
}

// Runner executes stage commands. The single production implementation
// is ExecRunner; tests substitute a fake that deposits canned outputs.
type Runner interface {
	// Check verifies that the named executable is available.
	Check(executable string) error
	// Run executes argv, redirecting standard output to the named file
	// when stdout is non-empty. All paths in argv are absolute.
	Run(ctx context.Context, argv []string, stdout string) error
}

// ExecRunner runs stage commands as local processes.
type ExecRunner struct{}

// Check resolves the executable on PATH.
func (ExecRunner) Check(executable string) error {
	if _, err := exec.LookPath(executable); err != nil {
		return errors.E(errors.NotExist, err, "required executable not found:", executable)
	}
	return nil
}

// Run executes argv, capturing standard error for diagnostics. A
// non-zero exit is an error carrying the tail of the tool's stderr.
// The process inherits the caller's working directory; stage commands
// carry absolute paths so nothing depends on it.
func (ExecRunner) Run(ctx context.Context, argv []string, stdout string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if stdout != "" {
		out, err := os.Create(stdout)
		if err != nil {
			return errors.E(err, "creating stdout file for", argv[0])
		}
		defer out.Close() // nolint: errcheck
		cmd.Stdout = out
	}
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if n := len(msg); n > 4096 {
			msg = "..." + msg[n-4096:]
		}
		return errors.E(err, fmt.Sprintf("%s failed: %s", argv[0], msg))
	}
	return nil
}

// Scrubber chains stages over one or two sequence files, depleting or
// extracting the reads each stage selects.
type Scrubber struct {
	opts    Opts
	runner  Runner
	workdir string
	ledger  *Ledger
}

// New prepares the working directory and returns a Scrubber. A nil
// runner means local process execution.
func New(opts Opts, runner Runner) (*Scrubber, error) {
	if runner == nil {
		runner = ExecRunner{}
	}
	workdir := opts.Workdir
	if workdir == "" {
		workdir = "scrub-" + time.Now().Format("20060102T150405")
	}
	if _, err := os.Stat(workdir); err == nil {
		if !opts.Force {
			return nil, errors.E(errors.Precondition,
				"working directory exists (use force to replace):", workdir)
		}
		if err := os.RemoveAll(workdir); err != nil {
			return nil, errors.E(err, "removing working directory", workdir)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.E(err, "inspecting working directory", workdir)
	}
	if err := os.MkdirAll(workdir, 0777); err != nil {
		return nil, errors.E(err, "creating working directory", workdir)
	}
	abs, err := filepath.Abs(workdir)
	if err != nil {
		return nil, errors.E(err, "resolving working directory", workdir)
	}
	return &Scrubber{opts: opts, runner: runner, workdir: abs, ledger: &Ledger{}}, nil
}

// Workdir returns the absolute working directory path.
func (s *Scrubber) Workdir() string { return s.workdir }

// Ledger returns the per-read provenance recorded so far. Rows
// accumulate as stages complete during Run.
func (s *Scrubber) Ledger() *Ledger { return s.ledger }

// Run executes the stages in order against the inputs and writes the
// surviving reads to the outputs. In deplete mode each stage consumes
// the previous stage's survivors; in extract mode every stage reads
// the original inputs and the union of all selected identifiers is
// extracted in one final pass. The returned summary carries the run,
// stage, and file level accounting.
func (s *Scrubber) Run(ctx context.Context, stages []Stage, inputs, outputs []string) (*Summary, error) {
	if len(stages) == 0 {
		return nil, errors.E(errors.Precondition, "no pipeline stages configured")
	}
	if len(inputs) == 0 || len(inputs) > 2 || len(inputs) != len(outputs) {
		return nil, errors.E(errors.Precondition,
			"need one or two input files with matching outputs, got",
			len(inputs), "inputs and", len(outputs), "outputs")
	}
	if err := s.checkTools(stages); err != nil {
		return nil, err
	}

	// External tools get absolute paths: they must not care what the
	// process working directory happens to be.
	inputs, err := absPaths(inputs)
	if err != nil {
		return nil, err
	}
	stages, err = absStages(stages)
	if err != nil {
		return nil, err
	}

	summary := newSummary(&s.opts)
	live := inputs
	union := make(map[string]struct{})

	for i := range stages {
		st := &stages[i]
		stageIn := live
		if s.opts.Extract {
			stageIn = inputs
		}
		inv, err := st.invocation(i, stageIn, s.workdir, &s.opts)
		if err != nil {
			return nil, err
		}
		if len(inv.argv) > 0 {
			log.Printf("stage %d (%s): %s", i, st.Name, strings.Join(inv.argv, " "))
			if err := s.runner.Run(ctx, inv.argv, inv.stdout); err != nil {
				return nil, errors.E(err, fmt.Sprintf("stage %d (%s)", i, st.Name))
			}
		}
		ids, err := st.readIDs(ctx, inv, &s.opts)
		if err != nil {
			return nil, errors.E(err, fmt.Sprintf("stage %d (%s)", i, st.Name))
		}
		s.ledger.Add(ids, st.Tool.String(), st.Name)

		result := StageResult{
			Index:   i,
			Tool:    st.Tool.String(),
			Name:    st.Name,
			Path:    st.path(inv),
			Command: strings.Join(inv.argv, " "),
		}
		if s.opts.Extract {
			// Extraction defers filtering to a single final pass; the
			// stage accounts only for the identifiers it contributed.
			result.Extracted = uint64(len(ids))
			for id := range ids {
				union[id] = struct{}{}
			}
		} else {
			stageOut := s.stagePaths(i, st.Name, len(live))
			c := cleaner.Cleaner{Reads: ids, Mode: cleaner.Deplete, Output: zio.Gzip, Level: s.opts.Level}
			files, err := c.Clean(ctx, live, stageOut)
			if err != nil {
				return nil, errors.E(err, fmt.Sprintf("stage %d (%s)", i, st.Name))
			}
			for _, fc := range files {
				result.Total += fc.Total
				result.Depleted += fc.Depleted
			}
			result.Files = files
			live = stageOut
		}
		summary.Summary.Depleted += result.Depleted
		summary.Summary.Extracted += result.Extracted
		summary.Pipeline = append(summary.Pipeline, result)
	}

	// Final pass: extract the accumulated union, or re-encode the last
	// deplete survivors into the declared outputs.
	final := cleaner.Cleaner{Mode: cleaner.Deplete, Output: s.opts.Output, Level: s.opts.Level}
	if s.opts.Extract {
		final.Reads = union
		final.Mode = cleaner.Extract
		files, err := final.Clean(ctx, inputs, outputs)
		if err != nil {
			return nil, errors.E(err, "extracting selected reads")
		}
		for _, fc := range files {
			summary.Summary.Total += fc.Total
		}
	} else {
		if _, err := final.Clean(ctx, live, outputs); err != nil {
			return nil, errors.E(err, "writing final outputs")
		}
		// The run total is the read count entering the first stage.
		summary.Summary.Total = summary.Pipeline[0].Total
	}

	if !s.opts.Keep {
		if err := os.RemoveAll(s.workdir); err != nil {
			return nil, errors.E(err, "removing working directory", s.workdir)
		}
	}
	mode := cleaner.Deplete
	if s.opts.Extract {
		mode = cleaner.Extract
	}
	log.Printf("scrub complete: %s %d of %d reads", mode,
		summary.Summary.Depleted+summary.Summary.Extracted, summary.Summary.Total)
	return summary, nil
}

// checkTools verifies every external dependency before the first stage
// runs, so a missing binary fails fast rather than mid-pipeline.
func (s *Scrubber) checkTools(stages []Stage) error {
	seen := make(map[string]bool)
	for i := range stages {
		if stages[i].precomputed() {
			continue
		}
		exe := stages[i].Tool.executable()
		if exe == "" {
			return errors.E(errors.Precondition,
				"stage", i, "has neither a runnable tool nor precomputed outputs")
		}
		if seen[exe] {
			continue
		}
		seen[exe] = true
		if err := s.runner.Check(exe); err != nil {
			return err
		}
	}
	return nil
}

// absPaths resolves every path against the process working directory.
func absPaths(paths []string) ([]string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, errors.E(err, "resolving path", p)
		}
		out[i] = abs
	}
	return out, nil
}

// absStages returns a copy of stages with their reference and
// precomputed paths resolved, leaving the caller's slice untouched.
func absStages(stages []Stage) ([]Stage, error) {
	out := make([]Stage, len(stages))
	copy(out, stages)
	for i := range out {
		for _, p := range []*string{
			&out[i].Reference, &out[i].Report, &out[i].Reads, &out[i].Alignment,
		} {
			if *p == "" {
				continue
			}
			abs, err := filepath.Abs(*p)
			if err != nil {
				return nil, errors.E(err, "resolving path", *p)
			}
			*p = abs
		}
	}
	return out, nil
}

// stagePaths returns the intermediate output paths for a deplete stage.
func (s *Scrubber) stagePaths(index int, name string, n int) []string {
	prefix := fmt.Sprintf("%d-%s", index, name)
	if n == 1 {
		return []string{filepath.Join(s.workdir, prefix+".fq.gz")}
	}
	return []string{
		filepath.Join(s.workdir, prefix+"_1.fq.gz"),
		filepath.Join(s.workdir, prefix+"_2.fq.gz"),
	}
}

// path names the stage's reference (or precomputed source) for the
// summary.
func (s *Stage) path(inv invocation) string {
	if !s.precomputed() {
		return s.Reference
	}
	if inv.report != "" {
		return inv.report
	}
	return inv.align
}

// targetTaxaFile opens a classifier report and resolves the target
// taxon identifiers and their read counts.
func targetTaxaFile(ctx context.Context, path string, targets, direct []string) (map[string]struct{}, *taxa.TaxonCounts, error) {
	in, err := zio.Open(ctx, path)
	if err != nil {
		return nil, nil, errors.E(err, "opening classifier report", path)
	}
	taxids, counts, err := taxa.TargetTaxa(in, targets, direct)
	if cerr := in.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, nil, errors.E(err, "parsing classifier report", path)
	}
	return taxids, counts, nil
}
