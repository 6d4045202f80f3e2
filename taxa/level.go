package taxa

import (
	"fmt"
	"strings"
)

// Level is a taxonomic rank ordered from coarse to fine. The ordering
// drives subtree-boundary detection when walking a flattened report:
// a record at a level less than or equal to the armed ancestor level
// closes the ancestor's subtree. None sits below every real rank and
// marks the resolver's idle state.
type Level int

const (
	None Level = iota
	Unclassified
	Root
	Domain
	Kingdom
	Phylum
	Class
	Order
	Family
	Genus
	Species
	Unspecified
)

var levelNames = map[Level]string{
	None:         "None",
	Unclassified: "Unclassified",
	Root:         "Root",
	Domain:       "Domain",
	Kingdom:      "Kingdom",
	Phylum:       "Phylum",
	Class:        "Class",
	Order:        "Order",
	Family:       "Family",
	Genus:        "Genus",
	Species:      "Species",
	Unspecified:  "Unspecified",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel maps a raw report level code to a Level. Kraken-style
// codes are matched on their first letter, so compound sub-ranks such
// as "D1" or "S2" map to their top-level rank. Metabuli-style word
// ranks ("superkingdom", "species", ...) are also recognized. Unknown
// codes map to Unspecified, which never closes a subtree.
func ParseLevel(code string) Level {
	if code == "" {
		return Unspecified
	}
	switch code[0] {
	case 'U':
		return Unclassified
	case 'R':
		return Root
	case 'D':
		return Domain
	case 'K':
		return Kingdom
	case 'P':
		return Phylum
	case 'C':
		return Class
	case 'O':
		return Order
	case 'F':
		return Family
	case 'G':
		return Genus
	case 'S':
		return Species
	}
	switch {
	case strings.HasPrefix(code, "superkingdom"), strings.HasPrefix(code, "domain"):
		return Domain
	case strings.HasPrefix(code, "kingdom"):
		return Kingdom
	case strings.HasPrefix(code, "phylum"):
		return Phylum
	case strings.HasPrefix(code, "class"):
		return Class
	case strings.HasPrefix(code, "order"):
		return Order
	case strings.HasPrefix(code, "family"):
		return Family
	case strings.HasPrefix(code, "genus"):
		return Genus
	case strings.HasPrefix(code, "species"):
		return Species
	}
	return Unspecified
}
