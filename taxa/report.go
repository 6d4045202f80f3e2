package taxa

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// reportFields is the column count of a classifier report line:
// fraction, reads in clade, reads assigned directly, level code,
// taxon identifier, taxon name.
const reportFields = 6

// ReportRecord is one line of a hierarchical per-taxon report. Reports
// are flattened pre-order traversals of the classifier's taxonomy;
// records carry no parent pointers. Taxon identifiers are kept as
// strings since some taxonomies (e.g. GTDB) use non-numeric ids.
type ReportRecord struct {
	Fraction    string
	Reads       uint64
	ReadsDirect uint64
	LevelCode   string
	TaxID       string
	Name        string
}

// Level returns the parsed taxonomic level of the record.
func (r *ReportRecord) Level() Level {
	return ParseLevel(r.LevelCode)
}

func parseReportRecord(line string) (ReportRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < reportFields {
		return ReportRecord{}, errors.E(errors.Invalid,
			"report line has", len(fields), "fields, want", reportFields)
	}
	reads, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return ReportRecord{}, errors.E(errors.Invalid, err, "report clade read count")
	}
	direct, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		return ReportRecord{}, errors.E(errors.Invalid, err, "report direct read count")
	}
	return ReportRecord{
		Fraction:    fields[0],
		Reads:       reads,
		ReadsDirect: direct,
		LevelCode:   strings.TrimSpace(fields[3]),
		TaxID:       strings.TrimSpace(fields[4]),
		Name:        strings.TrimSpace(fields[5]),
	}, nil
}

// TaxonCounts accumulates directly assigned read counts keyed by the
// matched ancestor name and the taxon name underneath it. It exists
// only for human-readable accounting and carries no control flow.
type TaxonCounts struct {
	taxa map[string]map[string]uint64
}

// NewTaxonCounts returns an empty TaxonCounts.
func NewTaxonCounts() *TaxonCounts {
	return &TaxonCounts{taxa: map[string]map[string]uint64{}}
}

// Update adds reads for name under parent.
func (c *TaxonCounts) Update(name, parent string, reads uint64) {
	sub := c.taxa[parent]
	if sub == nil {
		sub = map[string]uint64{}
		c.taxa[parent] = sub
	}
	sub[name] += reads
}

// Total returns the sum of all recorded direct read counts.
func (c *TaxonCounts) Total() uint64 {
	var n uint64
	for _, sub := range c.taxa {
		for _, reads := range sub {
			n += reads
		}
	}
	return n
}

// Log renders the parent :: child (count) breakdown, sorted for
// deterministic output.
func (c *TaxonCounts) Log() {
	parents := make([]string, 0, len(c.taxa))
	for parent := range c.taxa {
		parents = append(parents, parent)
	}
	sort.Strings(parents)
	for _, parent := range parents {
		sub := c.taxa[parent]
		children := make([]string, 0, len(sub))
		for child := range sub {
			children = append(children, child)
		}
		sort.Strings(children)
		for _, child := range children {
			log.Printf("%s :: %s (%d)", parent, child, sub[child])
		}
	}
	log.Printf("%d directly assigned reads collected from report", c.Total())
}

// TargetTaxa resolves the taxon identifiers to act on from a
// hierarchical report. Entries of taxa select a taxon and its whole
// subtree; entries of taxaDirect select exactly the named taxon with
// no subtree expansion. Both match a record's name or identifier, and
// only taxa with directly assigned reads enter the returned set.
//
// The report is consumed in file order, which must be a pre-order
// traversal of the taxonomy. Two pieces of state suffice to bound one
// contiguous target subtree at a time: the level of the most recent
// target match and its name. A later record at the same or a coarser
// level, carrying a single-character level code, closes the subtree;
// compound sub-rank codes such as "D1" do not. Records coarser than
// Domain (Unclassified, Root) never participate in subtree matching
// and must be named in taxaDirect to be selected. A report that is not
// in pre-order will silently under- or over-select; this is not
// checked.
func TargetTaxa(r io.Reader, taxa, taxaDirect []string) (map[string]struct{}, *TaxonCounts, error) {
	targets := matchSet(taxa)
	direct := matchSet(taxaDirect)

	ids := make(map[string]struct{})
	counts := NewTaxonCounts()

	activeLevel := None
	activeName := ""

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		record, err := parseReportRecord(scanner.Text())
		if err != nil {
			return nil, nil, err
		}
		level := record.Level()

		if matches(direct, &record) {
			log.Printf("detected direct taxon (%s : %s : %s : %s)",
				level, record.LevelCode, record.TaxID, record.Name)
			if record.ReadsDirect > 0 {
				ids[record.TaxID] = struct{}{}
				counts.Update(record.Name, record.Name, record.ReadsDirect)
			}
		}

		if level < Domain {
			// Unclassified and Root lines carry no reliable structure;
			// they are selectable through taxaDirect only.
			log.Debug.Printf("ignoring taxon above domain (%s : %s : %s : %s)",
				level, record.LevelCode, record.TaxID, record.Name)
			continue
		}

		if matches(targets, &record) {
			log.Printf("detected target taxon (%s : %s : %s : %s)",
				level, record.LevelCode, record.TaxID, record.Name)
			activeLevel = level
			activeName = record.Name
			if record.ReadsDirect > 0 {
				ids[record.TaxID] = struct{}{}
				counts.Update(record.Name, record.Name, record.ReadsDirect)
			}
			continue
		}

		if activeLevel == None {
			continue // outside any armed subtree
		}
		if level <= activeLevel && len(record.LevelCode) == 1 {
			// A sibling or coarser rank closes the subtree. Compound
			// sub-rank codes (D1, D2, ...) are still descendants.
			log.Debug.Printf("subtree reset at (%s : %s : %s : %s)",
				level, record.LevelCode, record.TaxID, record.Name)
			activeLevel = None
			continue
		}
		if record.ReadsDirect > 0 {
			if activeName == "" {
				return nil, nil, errors.E(errors.Integrity,
					"descendant taxon with direct reads but no armed ancestor:", record.TaxID)
			}
			ids[record.TaxID] = struct{}{}
			counts.Update(record.Name, activeName, record.ReadsDirect)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.E(err, "reading report")
	}

	log.Printf("%d taxonomic levels with directly assigned reads detected", len(ids))
	return ids, counts, nil
}

// matches reports whether the record's name or identifier is in set.
func matches(set map[string]struct{}, record *ReportRecord) bool {
	if _, ok := set[record.Name]; ok {
		return true
	}
	_, ok := set[record.TaxID]
	return ok
}

// matchSet builds a lookup of trimmed names/identifiers so stray user
// whitespace never breaks matching.
func matchSet(entries []string) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e != "" {
			set[e] = struct{}{}
		}
	}
	return set
}
