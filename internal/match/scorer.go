package match

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Scorer returns the similarity of two processed strings in [0, 100].
type Scorer func(a, b string) float64

const (
	ScorerTokenSet  = "token_set_ratio"
	ScorerTokenSort = "token_sort_ratio"
	ScorerPartial   = "partial_ratio"
	ScorerRatio     = "ratio"
)

// ScorerByName resolves a configured scorer name.
func ScorerByName(name string) (Scorer, error) {
	switch name {
	case ScorerTokenSet, "":
		return TokenSetRatio, nil
	case ScorerTokenSort:
		return TokenSortRatio, nil
	case ScorerPartial:
		return PartialRatio, nil
	case ScorerRatio:
		return Ratio, nil
	}
	return nil, fmt.Errorf("unknown scorer %q", name)
}

// Ratio is the normalized indel similarity: 100 * (1 - dist / (len(a)+len(b))),
// where dist counts the insertions and deletions turning a into b. Lengths
// are in runes.
func Ratio(a, b string) float64 {
	return ratioRunes([]rune(a), []rune(b))
}

func ratioRunes(a, b []rune) float64 {
	lensum := len(a) + len(b)
	if lensum == 0 {
		return 100
	}
	dist := lensum - 2*lcsLength(a, b)
	return normalizedScore(dist, lensum)
}

func normalizedScore(dist, lensum int) float64 {
	if lensum == 0 {
		return 100
	}
	return 100 * (1 - float64(dist)/float64(lensum))
}

// PartialRatio is the best Ratio between the shorter string and any window
// of the longer one, including windows clipped at either end.
func PartialRatio(a, b string) float64 {
	s1, s2 := []rune(a), []rune(b)
	if len(s1) == 0 || len(s2) == 0 {
		return 0
	}
	if len(s1) > len(s2) {
		s1, s2 = s2, s1
	}
	best := partialWindows(s1, s2)
	if len(s1) == len(s2) && best < 100 {
		if r := partialWindows(s2, s1); r > best {
			best = r
		}
	}
	return best
}

func partialWindows(short, long []rune) float64 {
	n1, n2 := len(short), len(long)
	best := 0.0
	consider := func(w []rune) bool {
		if r := ratioRunes(short, w); r > best {
			best = r
		}
		return best == 100
	}
	for i := 1; i < n1; i++ {
		if consider(long[:i]) {
			return best
		}
	}
	for i := 0; i+n1 <= n2; i++ {
		if consider(long[i : i+n1]) {
			return best
		}
	}
	for i := n2 - n1 + 1; i < n2; i++ {
		if consider(long[i:]) {
			return best
		}
	}
	return best
}

// TokenSortRatio compares the strings after sorting their tokens.
func TokenSortRatio(a, b string) float64 {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	sort.Strings(ta)
	sort.Strings(tb)
	return Ratio(strings.Join(ta, " "), strings.Join(tb, " "))
}

// TokenSetRatio compares the shared tokens and the tokens unique to each
// side. It is 100 when one side's tokens are a subset of the other's.
func TokenSetRatio(a, b string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	var intersect, diffAB, diffBA []string
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersect = append(intersect, t)
		} else {
			diffAB = append(diffAB, t)
		}
	}
	for t := range setB {
		if _, ok := setA[t]; !ok {
			diffBA = append(diffBA, t)
		}
	}
	if len(intersect) > 0 && (len(diffAB) == 0 || len(diffBA) == 0) {
		return 100
	}

	sort.Strings(intersect)
	sort.Strings(diffAB)
	sort.Strings(diffBA)
	ab := []rune(strings.Join(diffAB, " "))
	ba := []rune(strings.Join(diffBA, " "))
	sectLen := runeLen(intersect)

	sep := 0
	if sectLen > 0 {
		sep = 1
	}
	sectABLen := sectLen + sep + len(ab)
	sectBALen := sectLen + sep + len(ba)

	// "sect ab" vs "sect ba" differ only in their tails.
	dist := len(ab) + len(ba) - 2*lcsLength(ab, ba)
	result := normalizedScore(dist, sectABLen+sectBALen)
	if sectLen == 0 {
		return result
	}

	sectAB := normalizedScore(sep+len(ab), sectLen+sectABLen)
	sectBA := normalizedScore(sep+len(ba), sectLen+sectBALen)
	return max(result, sectAB, sectBA)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// runeLen is the rune length of tokens joined by single spaces.
func runeLen(tokens []string) int {
	if len(tokens) == 0 {
		return 0
	}
	n := len(tokens) - 1
	for _, t := range tokens {
		n += len([]rune(t))
	}
	return n
}

// lcsLength returns the length of the longest common subsequence using the
// bit-parallel algorithm of Hyyrö, one 64-bit word per 64 pattern runes.
func lcsLength(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	if len(a) <= 64 {
		return lcsSingleWord(a, b)
	}
	return lcsBlocks(a, b)
}

func lcsSingleWord(pattern, text []rune) int {
	var ascii [256]uint64
	var other map[rune]uint64
	for i, r := range pattern {
		bit := uint64(1) << uint(i)
		if r < 256 {
			ascii[r] |= bit
			continue
		}
		if other == nil {
			other = make(map[rune]uint64)
		}
		other[r] |= bit
	}

	s := ^uint64(0)
	for _, r := range text {
		var m uint64
		if r < 256 {
			m = ascii[r]
		} else if other != nil {
			m = other[r]
		}
		u := s & m
		s = (s + u) | (s - u)
	}

	mask := ^uint64(0)
	if len(pattern) < 64 {
		mask = uint64(1)<<uint(len(pattern)) - 1
	}
	return bits.OnesCount64(^s & mask)
}

func lcsBlocks(pattern, text []rune) int {
	words := (len(pattern) + 63) / 64
	pm := make(map[rune][]uint64)
	for i, r := range pattern {
		w, ok := pm[r]
		if !ok {
			w = make([]uint64, words)
			pm[r] = w
		}
		w[i/64] |= uint64(1) << uint(i%64)
	}

	s := make([]uint64, words)
	for i := range s {
		s[i] = ^uint64(0)
	}
	for _, r := range text {
		m := pm[r]
		var carry uint64
		for w := 0; w < words; w++ {
			var mw uint64
			if m != nil {
				mw = m[w]
			}
			u := s[w] & mw
			x, c := bits.Add64(s[w], u, carry)
			s[w] = x | (s[w] - u)
			carry = c
		}
	}

	n := 0
	for w := 0; w < words; w++ {
		v := ^s[w]
		if w == words-1 && len(pattern)%64 != 0 {
			v &= uint64(1)<<uint(len(pattern)%64) - 1
		}
		n += bits.OnesCount64(v)
	}
	return n
}
