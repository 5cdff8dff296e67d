package dataprocessing

import (
	"sort"
	"strconv"
	"strings"

	"donorpulse/pkg/contracts/domain"
)

// SheetLabel is the result of parsing a "<year>_<suffix>" sheet label.
// OK is false when the leading part is not an integer.
type SheetLabel struct {
	Raw    string
	Year   int
	Suffix string
	OK     bool
}

// ParseSheetLabel parses the integer before the first underscore of a sheet label.
// A label without an underscore is parsed as a whole ("2021" has year 2021).
func ParseSheetLabel(label string) SheetLabel {
	head, suffix, _ := strings.Cut(label, "_")
	year, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return SheetLabel{Raw: label, Suffix: suffix}
	}
	return SheetLabel{Raw: label, Year: year, Suffix: suffix, OK: true}
}

// OrderColumns sorts sheet labels oldest first by their parsed year.
// If any label fails to parse the input order is kept and the fallback is reported.
func OrderColumns(labels []string) ([]string, domain.ColumnOrdering) {
	parsed := make([]SheetLabel, len(labels))
	for i, label := range labels {
		parsed[i] = ParseSheetLabel(label)
		if !parsed[i].OK {
			out := make([]string, len(labels))
			copy(out, labels)
			return out, domain.OrderingInsertion
		}
	}

	sort.SliceStable(parsed, func(i, j int) bool {
		return parsed[i].Year < parsed[j].Year
	})

	out := make([]string, len(parsed))
	for i, p := range parsed {
		out[i] = p.Raw
	}
	return out, domain.OrderingChronological
}

// OrderColumnsDescending sorts sheet labels most recent first.
// On fallback the input order is returned unchanged.
func OrderColumnsDescending(labels []string) ([]string, domain.ColumnOrdering) {
	ordered, ordering := OrderColumns(labels)
	if ordering != domain.OrderingChronological {
		return ordered, ordering
	}
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered, ordering
}
