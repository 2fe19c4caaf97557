package hints

import (
	"strings"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/models"
)

const vowels = "AEIOU"

// Generate builds the presentation hint payload for a known answer
// word. The scramble is a deterministic rotation rather than a random
// shuffle so that repeated generation for the same word is stable.
func Generate(word string) *models.HintPayload {
	word = strings.ToUpper(word)
	if word == "" {
		return nil
	}

	payload := &models.HintPayload{
		FirstLetter: string(word[0]),
		LastLetter:  string(word[len(word)-1]),
		LetterCount: len(word),
		Vowels:      []string{},
		Consonants:  []string{},
		Scrambled:   rotate(word, 2),
	}

	seen := make(map[byte]bool, len(word))
	for i := 0; i < len(word); i++ {
		ch := word[i]
		if seen[ch] {
			continue
		}
		seen[ch] = true
		if strings.IndexByte(vowels, ch) >= 0 {
			payload.Vowels = append(payload.Vowels, string(ch))
		} else {
			payload.Consonants = append(payload.Consonants, string(ch))
		}
	}

	return payload
}

func rotate(s string, by int) string {
	if len(s) == 0 {
		return s
	}
	by = by % len(s)
	return s[by:] + s[:by]
}
