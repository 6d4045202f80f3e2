package main

/*
scrub removes (or extracts) reads matching reference taxa or alignment
targets from FASTQ/FASTA files. Each -kraken2/-metabuli/-minimap2/
-bowtie2/-strobealign flag adds a pipeline stage for one reference
database or index; precomputed classifier and alignment outputs can be
scrubbed against directly without running the tools.
*/

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/clinbio/scrub/alignment"
	"github.com/clinbio/scrub/encoding/zio"
	"github.com/clinbio/scrub/scrub"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
)

var (
	outputs = flag.String("out", "", "Comma-separated output paths, one per input file (required)")

	kraken2Refs     = flag.String("kraken2", "", "Comma-separated Kraken2 database paths, one stage each")
	metabuliRefs    = flag.String("metabuli", "", "Comma-separated Metabuli database paths, one stage each")
	minimap2Refs    = flag.String("minimap2", "", "Comma-separated minimap2 index/FASTA paths, one stage each")
	bowtie2Refs     = flag.String("bowtie2", "", "Comma-separated bowtie2 index prefixes, one stage each")
	strobealignRefs = flag.String("strobealign", "", "Comma-separated strobealign index/FASTA paths, one stage each")

	classifierReport = flag.String("classifier-report", "", "Precomputed classifier report to scrub against (with -classifier-reads)")
	classifierReads  = flag.String("classifier-reads", "", "Precomputed per-read classifications matching -classifier-report")
	alignmentPath    = flag.String("alignment", "", "Precomputed alignment (SAM/BAM/PAF) or read-id list to scrub against")
	alignmentFormat  = flag.String("alignment-format", "", "Alignment format override: 'sam', 'bam', 'paf', or 'txt'; default infers from extension")

	taxaFlag       = flag.String("taxa", "", "Comma-separated taxon names or taxids; classified subtrees are selected")
	taxaDirectFlag = flag.String("taxa-direct", "", "Comma-separated taxa selected on directly assigned reads only")

	minLen       = flag.Uint64("min-len", 0, "Minimum aligned query length for an alignment to pass")
	minCov       = flag.Float64("min-cov", 0, "Minimum query coverage for an alignment to pass")
	minMapQ      = flag.Uint("min-mapq", 0, "Minimum mapping quality for an alignment to pass; 255 (missing) always passes")
	targetPolicy = flag.String("target-policy", "passing", "Whether reads 'passing' or 'failing' the thresholds are selected")

	extract = flag.Bool("extract", false, "Keep the selected reads instead of removing them")

	workdir = flag.String("workdir", "", "Working directory for stage files; default is a timestamped directory")
	keep    = flag.Bool("keep", false, "Retain the working directory after a successful run")
	force   = flag.Bool("force", false, "Replace a pre-existing working directory")

	threads = flag.Int("threads", 4, "Thread count passed to external tools")
	preset  = flag.String("preset", "", "minimap2 preset; default 'sr' for paired inputs, 'map-ont' otherwise")

	jsonPath   = flag.String("json", "", "Write the run summary as JSON to this path")
	ledgerPath = flag.String("ledger", "", "Write the per-read provenance ledger as TSV to this path")

	outputFormat = flag.String("output-format", "", "Output compression: 'gz', 'bz2', or 'xz'; default infers from the output extensions")
	level        = flag.Int("compression-level", 0, "Output compression level; 0 means the format default")
)

func scrubUsage() {
	fmt.Printf("Usage: %s [OPTIONS] input.fq[.gz] [input2.fq[.gz]]\n", os.Args[0])
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = scrubUsage
	shutdown := grail.Init()
	defer shutdown()

	inputs := flag.Args()
	if len(inputs) < 1 || len(inputs) > 2 {
		log.Fatalf("Expected one or two input files, got %d; please check flag syntax: '%s'",
			len(inputs), strings.Join(inputs, " "))
	}
	outs := splitList(*outputs)
	if len(outs) != len(inputs) {
		log.Fatalf("-out must name %d output path(s), got %d", len(inputs), len(outs))
	}

	format, err := zio.ParseFormat(*outputFormat)
	if err != nil {
		log.Fatalf("-output-format: %v", err)
	}
	policy, err := alignment.ParsePolicy(*targetPolicy)
	if err != nil {
		log.Fatalf("-target-policy: %v", err)
	}
	if *minMapQ > 255 {
		log.Fatalf("-min-mapq must be at most 255, got %d", *minMapQ)
	}

	opts := scrub.Opts{
		Taxa:       splitList(*taxaFlag),
		TaxaDirect: splitList(*taxaDirectFlag),
		MinLen:     *minLen,
		MinCov:     *minCov,
		MinMapQ:    uint8(*minMapQ),
		Policy:     policy,
		Extract:    *extract,
		Workdir:    *workdir,
		Keep:       *keep,
		Force:      *force,
		Threads:    *threads,
		Preset:     *preset,
		Output:     format,
		Level:      *level,
	}

	stages := buildStages()
	if len(stages) == 0 {
		log.Fatalf("No stages configured; supply at least one reference or precomputed output")
	}
	classifiers := 0
	for _, st := range stages {
		if st.Tool.Classifier() || st.Report != "" {
			classifiers++
		}
	}
	if classifiers > 0 && len(opts.Taxa)+len(opts.TaxaDirect) == 0 {
		log.Fatalf("Classifier stages need -taxa or -taxa-direct to select reads")
	}

	ctx := vcontext.Background()
	s, err := scrub.New(opts, nil)
	if err != nil {
		log.Fatalf("%v", err)
	}
	summary, err := s.Run(ctx, stages, inputs, outs)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if *jsonPath != "" {
		if err := summary.WriteJSON(ctx, *jsonPath); err != nil {
			log.Fatalf("%v", err)
		}
	}
	if *ledgerPath != "" {
		if err := s.Ledger().WriteTSV(ctx, *ledgerPath); err != nil {
			log.Fatalf("%v", err)
		}
	}
}

// buildStages assembles the pipeline in flag order: classifiers first,
// then aligners, then precomputed outputs.
func buildStages() []scrub.Stage {
	var stages []scrub.Stage
	add := func(tool scrub.Tool, refs string) {
		for _, ref := range splitList(refs) {
			stages = append(stages, scrub.Stage{
				Tool:      tool,
				Name:      referenceName(ref),
				Reference: ref,
			})
		}
	}
	add(scrub.Kraken2, *kraken2Refs)
	add(scrub.Metabuli, *metabuliRefs)
	add(scrub.Minimap2, *minimap2Refs)
	add(scrub.Bowtie2, *bowtie2Refs)
	add(scrub.Strobealign, *strobealignRefs)

	if *classifierReport != "" {
		if *classifierReads == "" {
			log.Fatalf("-classifier-report needs -classifier-reads")
		}
		stages = append(stages, scrub.Stage{
			Tool:   scrub.Precomputed,
			Name:   referenceName(*classifierReport),
			Report: *classifierReport,
			Reads:  *classifierReads,
		})
	}
	if *alignmentPath != "" {
		format, err := alignment.ParseFormat(*alignmentFormat)
		if err != nil {
			log.Fatalf("-alignment-format: %v", err)
		}
		stages = append(stages, scrub.Stage{
			Tool:      scrub.Precomputed,
			Name:      referenceName(*alignmentPath),
			Alignment: *alignmentPath,
			Format:    format,
		})
	}
	return stages
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// referenceName derives the stage label from a reference path: the
// base name with compression and one content extension stripped.
func referenceName(path string) string {
	base := filepath.Base(zio.TrimExt(path))
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" {
		return "reference"
	}
	return base
}
