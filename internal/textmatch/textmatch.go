// Package textmatch implements order-insensitive fuzzy string similarity on a
// 0-100 scale.
package textmatch

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Normalize lowercases s, turns every non-alphanumeric rune into a space and
// trims the result.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteByte(' ')
	}
	return strings.TrimSpace(b.String())
}

// Ratio is the edit-distance similarity of two strings, 0-100. Either side
// being empty yields 0.
func Ratio(a, b string) int {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	d := levenshtein.ComputeDistance(a, b)
	return int(math.Round(100 * (1 - float64(d)/float64(longest))))
}

// TokenSetRatio compares the word sets of a and b. Shared words are sorted
// and compared against each side's remainder, so word order and repetition
// do not matter and a query that is a subset of the value scores 100.
func TokenSetRatio(a, b string) int {
	ta, tb := tokenSet(Normalize(a)), tokenSet(Normalize(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var common, onlyA, onlyB []string
	for w := range ta {
		if _, ok := tb[w]; ok {
			common = append(common, w)
		} else {
			onlyA = append(onlyA, w)
		}
	}
	for w := range tb {
		if _, ok := ta[w]; !ok {
			onlyB = append(onlyB, w)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(common, " ")
	combinedA := strings.TrimSpace(sect + " " + strings.Join(onlyA, " "))
	combinedB := strings.TrimSpace(sect + " " + strings.Join(onlyB, " "))

	best := Ratio(sect, combinedA)
	if r := Ratio(sect, combinedB); r > best {
		best = r
	}
	if r := Ratio(combinedA, combinedB); r > best {
		best = r
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// ExtractOne returns the choice scoring highest against query with
// TokenSetRatio. Ties keep the earliest choice. ok is false when choices is
// empty.
func ExtractOne(query string, choices []string) (best string, score int, ok bool) {
	score = -1
	for _, c := range choices {
		s := TokenSetRatio(query, c)
		if s > score {
			best, score, ok = c, s, true
		}
	}
	if !ok {
		return "", 0, false
	}
	return best, score, true
}
