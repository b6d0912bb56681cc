package validator

import (
	"strings"

	"github.com/xrash/smetrics"
)

// minSimilarity is the Jaro-Winkler score below which no suggestion is made
const minSimilarity = 0.7

// nearest returns the candidate most similar to name, or "" when none is
// close enough. Case is ignored when scoring so a wrongly quoted name still
// finds its table. Ties go to the alphabetically first candidate.
func nearest(name string, candidates []string) string {
	best, bestScore := "", 0.0

	for _, c := range candidates {
		if c == "" || c == name {
			continue
		}

		score := smetrics.JaroWinkler(strings.ToLower(name), strings.ToLower(c), 0.7, 4)
		if score > bestScore || (score == bestScore && c < best) {
			best, bestScore = c, score
		}
	}

	if bestScore < minSimilarity {
		return ""
	}

	return best
}
