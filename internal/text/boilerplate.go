package text

import (
	"strings"
	"unicode/utf8"
)

// Boilerplate holds repeated page-boundary lines detected across a document.
type Boilerplate struct {
	Headers []string
	Footers []string
}

const (
	// Detection only makes sense with enough pages to establish repetition.
	minBoilerplatePages = 3

	// A candidate must repeat on at least max(3, 40% of pages).
	minBoilerplateCount = 3
	boilerplateRatio    = 0.4

	// Length bounds in code points. Shorter lines are too ambiguous
	// ("1.", "iv"), longer ones are body text that happens to lead a page.
	minBoilerplateLen = 4
	maxBoilerplateLen = 199
)

// DetectBoilerplate finds headers and footers by exact-string frequency over
// page boundaries: the first non-blank line of each page feeds the header
// candidate set, the last non-blank line the footer set. Matching is plain
// string equality: "Page 3" and "Page 4" are different lines and must not
// collapse into one candidate.
func DetectBoilerplate(pages []string) Boilerplate {
	if len(pages) < minBoilerplatePages {
		return Boilerplate{}
	}

	firstCounts := make(map[string]int)
	lastCounts := make(map[string]int)
	var firstOrder, lastOrder []string

	for _, page := range pages {
		first, last := boundaryLines(page)
		if first != "" {
			if firstCounts[first] == 0 {
				firstOrder = append(firstOrder, first)
			}
			firstCounts[first]++
		}
		if last != "" {
			if lastCounts[last] == 0 {
				lastOrder = append(lastOrder, last)
			}
			lastCounts[last]++
		}
	}

	threshold := float64(minBoilerplateCount)
	if r := boilerplateRatio * float64(len(pages)); r > threshold {
		threshold = r
	}

	var bp Boilerplate
	for _, line := range firstOrder {
		if qualifies(line, firstCounts[line], threshold) {
			bp.Headers = append(bp.Headers, line)
		}
	}
	for _, line := range lastOrder {
		if qualifies(line, lastCounts[line], threshold) {
			bp.Footers = append(bp.Footers, line)
		}
	}
	return bp
}

func qualifies(line string, count int, threshold float64) bool {
	if float64(count) < threshold {
		return false
	}
	n := utf8.RuneCountInString(line)
	return n >= minBoilerplateLen && n <= maxBoilerplateLen
}

func boundaryLines(page string) (first, last string) {
	lines := strings.Split(page, "\n")
	for _, l := range lines {
		if t := strings.TrimSpace(l); t != "" {
			first = t
			break
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if t := strings.TrimSpace(lines[i]); t != "" {
			last = t
			break
		}
	}
	return first, last
}
