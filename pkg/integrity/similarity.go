package integrity

import "strings"

// bigramSimilarity is the Sorensen-Dice coefficient over character bigrams
// of the whitespace-normalized, lower-cased inputs. Near-identical phrasings
// ("lives in Lisbon" / "Lives in lisbon.") score close to 1; the pre-filter
// treats those as restatements.
func bigramSimilarity(a, b string) float64 {
	na := normalizeText(a)
	nb := normalizeText(b)
	if na == nb {
		return 1
	}

	ba := bigrams(na)
	bb := bigrams(nb)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}

	matches := 0
	for gram, count := range ba {
		if other, ok := bb[gram]; ok {
			matches += min(count, other)
		}
	}

	totalA, totalB := 0, 0
	for _, c := range ba {
		totalA += c
	}
	for _, c := range bb {
		totalB += c
	}
	return 2 * float64(matches) / float64(totalA+totalB)
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// bigrams counts adjacent rune pairs.
func bigrams(s string) map[string]int {
	runes := []rune(s)
	if len(runes) < 2 {
		return nil
	}
	grams := make(map[string]int, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		grams[string(runes[i:i+2])]++
	}
	return grams
}
