package hints_test

import (
	"reflect"
	"testing"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/hints"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	payload := hints.Generate("groan")
	if payload == nil {
		t.Fatalf("Generate() returned nil")
	}
	if payload.FirstLetter != "G" || payload.LastLetter != "N" {
		t.Fatalf("unexpected letters: %q %q", payload.FirstLetter, payload.LastLetter)
	}
	if payload.LetterCount != 5 {
		t.Fatalf("LetterCount = %d, want 5", payload.LetterCount)
	}
	if !reflect.DeepEqual(payload.Vowels, []string{"O", "A"}) {
		t.Fatalf("Vowels = %v", payload.Vowels)
	}
	if !reflect.DeepEqual(payload.Consonants, []string{"G", "R", "N"}) {
		t.Fatalf("Consonants = %v", payload.Consonants)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	t.Parallel()

	a := hints.Generate("CRISP")
	b := hints.Generate("CRISP")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical payloads, got %+v vs %+v", a, b)
	}
	if a.Scrambled == "CRISP" {
		t.Fatalf("scramble should not equal the word itself")
	}
	if len(a.Scrambled) != 5 {
		t.Fatalf("scramble length = %d", len(a.Scrambled))
	}
}

func TestGenerateDedupesRepeatedLetters(t *testing.T) {
	t.Parallel()

	payload := hints.Generate("SASSY")
	if !reflect.DeepEqual(payload.Consonants, []string{"S", "Y"}) {
		t.Fatalf("Consonants = %v", payload.Consonants)
	}
	if !reflect.DeepEqual(payload.Vowels, []string{"A"}) {
		t.Fatalf("Vowels = %v", payload.Vowels)
	}
}

func TestGenerateEmptyWord(t *testing.T) {
	t.Parallel()

	if payload := hints.Generate(""); payload != nil {
		t.Fatalf("expected nil payload for empty word, got %+v", payload)
	}
}
