// Package citation turns the sources behind an answer into compact,
// human-readable references such as "report.pdf (pages 1-3, 5)".
package citation

import (
	"fmt"
	"sort"
	"strings"

	"documind/internal/models"
)

// Citation is the consolidated view of one source file.
type Citation struct {
	Filename string
	Pages    []int
}

// Group collects refs by filename in order of first appearance. Pages are
// sorted ascending without duplicates.
func Group(refs []models.SourceRef) []Citation {
	var out []Citation
	index := make(map[string]int)
	for _, ref := range refs {
		i, ok := index[ref.Filename]
		if !ok {
			i = len(out)
			index[ref.Filename] = i
			out = append(out, Citation{Filename: ref.Filename})
		}
		if ref.Page != nil {
			out[i].Pages = append(out[i].Pages, *ref.Page)
		}
	}
	for i := range out {
		out[i].Pages = uniqueSorted(out[i].Pages)
	}
	return out
}

// Format renders one string per source file.
func Format(refs []models.SourceRef) []string {
	groups := Group(refs)
	out := make([]string, len(groups))
	for i, c := range groups {
		out[i] = c.String()
	}
	return out
}

func (c Citation) String() string {
	switch len(c.Pages) {
	case 0:
		return c.Filename
	case 1:
		return fmt.Sprintf("%s (page %d)", c.Filename, c.Pages[0])
	default:
		return fmt.Sprintf("%s (pages %s)", c.Filename, Ranges(c.Pages))
	}
}

// Ranges consolidates sorted, distinct pages into runs: [1 2 3 5 6 8]
// becomes "1-3, 5-6, 8".
func Ranges(pages []int) string {
	var parts []string
	for i := 0; i < len(pages); {
		j := i
		for j+1 < len(pages) && pages[j+1] == pages[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, fmt.Sprint(pages[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", pages[i], pages[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ", ")
}

// SourcesSection renders citations as a "Sources:" block, or "" when there
// is nothing to cite.
func SourcesSection(citations []string) string {
	if len(citations) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Sources:")
	for _, c := range citations {
		sb.WriteString("\n- ")
		sb.WriteString(c)
	}
	return sb.String()
}

func uniqueSorted(pages []int) []int {
	if len(pages) == 0 {
		return nil
	}
	sort.Ints(pages)
	out := pages[:1]
	for _, p := range pages[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}
