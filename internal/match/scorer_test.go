package match

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"LACTOGEN PRO-1 (BIB) 24x400g": "lactogen pro 1 bib 24x400g",
		"  Nestle   India Pvt. Ltd. ":  "nestle india pvt ltd",
		"":                             "",
		" -- ":                         "",
		"Äpfel/Birnen":                 "äpfel birnen",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 100.0, Ratio("abc", "abc"))
	assert.Equal(t, 100.0, Ratio("", ""))
	assert.Equal(t, 0.0, Ratio("abc", ""))
	assert.Equal(t, 75.0, Ratio("abcd", "abce"))
	assert.InDelta(t, 0.0, Ratio("abc", "xyz"), 1e-9)
}

func TestPartialRatio(t *testing.T) {
	assert.Equal(t, 100.0, PartialRatio("abc", "xxabcxx"))
	assert.Equal(t, 100.0, PartialRatio("xxabcxx", "abc"))
	assert.Equal(t, 0.0, PartialRatio("", "abc"))
	assert.Less(t, PartialRatio("abc", "xyz"), 1.0)
	// Prefix windows shorter than the query are considered.
	assert.InDelta(t, 80.0, PartialRatio("abc", "bcxxxxx"), 1e-9)
}

func TestTokenSortRatio(t *testing.T) {
	assert.Equal(t, 100.0, TokenSortRatio("bib lactogen", "lactogen bib"))
	assert.Equal(t, 0.0, TokenSortRatio("", "lactogen"))
	assert.Less(t, TokenSortRatio("lactogen pro", "lactogen"), 100.0)
}

func TestTokenSetRatio(t *testing.T) {
	assert.Equal(t, 100.0, TokenSetRatio("nan pro", "nan pro 2 400g"))
	assert.Equal(t, 100.0, TokenSetRatio("400g pro nan 2", "nan pro"))
	assert.Equal(t, 0.0, TokenSetRatio("", "nan"))
	assert.InDelta(t, 76.19, TokenSetRatio("lactogen pro3", "lactogen pro 1 bib 24x400g innwpb176"), 0.005)
}

func TestTokenSetRatio_OCRNoiseScoresHigh(t *testing.T) {
	query := Normalize("LACTOGEN PRO1 BIB 24x400g INNWPB176 NP")
	choice := Normalize("LACTOGEN PRO 1 BIB 24x400g INNWPB176")

	score := TokenSetRatio(query, choice)

	assert.GreaterOrEqual(t, score, 90.0)
	assert.InDelta(t, 94.59, round2(score), 1e-9)
	assert.Equal(t, ConfidenceHigh, Classify(round2(score)))
}

func TestClassifyBoundaries(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, Classify(100))
	assert.Equal(t, ConfidenceHigh, Classify(85.0))
	assert.Equal(t, ConfidenceMedium, Classify(84.99))
	assert.Equal(t, ConfidenceMedium, Classify(70.0))
	assert.Equal(t, ConfidenceLow, Classify(69.99))
	assert.Equal(t, ConfidenceLow, Classify(60.0))
	assert.Equal(t, ConfidenceNone, Classify(59.99))
	assert.Equal(t, ConfidenceNone, Classify(0))
}

func TestScorerByName(t *testing.T) {
	for _, name := range []string{ScorerTokenSet, ScorerTokenSort, ScorerPartial, ScorerRatio, ""} {
		s, err := ScorerByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}
	_, err := ScorerByName("WRatio")
	assert.Error(t, err)
}

func lcsReference(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func TestLCSMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abcde xyzé€")
	randomRunes := func(n int) []rune {
		out := make([]rune, n)
		for i := range out {
			out[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return out
	}
	for i := 0; i < 300; i++ {
		a := randomRunes(rng.Intn(200))
		b := randomRunes(rng.Intn(200))
		assert.Equal(t, lcsReference(a, b), lcsLength(a, b), "a=%q b=%q", string(a), string(b))
	}
}
