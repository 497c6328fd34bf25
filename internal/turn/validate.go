package turn

import (
	"strings"

	"github.com/loqalabs/loqa-voice/internal/config"
)

// Verdict is the outcome of checking a transcript before it reaches the model.
type Verdict int

const (
	Accepted Verdict = iota
	// RejectedEmpty means the recognizer heard nothing.
	RejectedEmpty
	// RejectedFalsePositive means the transcript is a phrase the recognizer invents from
	// silence or noise.
	RejectedFalsePositive
	// RejectedOneWord means a single word outside the allow-list, usually a misheard artifact.
	RejectedOneWord
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case RejectedEmpty:
		return "empty"
	case RejectedFalsePositive:
		return "false_positive"
	case RejectedOneWord:
		return "one_word"
	}
	return "unknown"
}

var punctuation = strings.NewReplacer(" ", "", ".", "", ",", "", "!", "", "?", "")

// Normalize strips spaces and . , ! ? then lowercases.
func Normalize(text string) string {
	return strings.ToLower(punctuation.Replace(text))
}

// Validator applies the transcript heuristics.
type Validator struct {
	falsePositives map[string]struct{}
	allowed        map[string]struct{}
}

func NewValidator(cfg config.ValidationConfig) *Validator {
	return &Validator{
		falsePositives: wordSet(cfg.FalsePositives),
		allowed:        wordSet(cfg.AllowedOneWords),
	}
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[Normalize(w)] = struct{}{}
	}
	return set
}

func (v *Validator) Check(transcript string) Verdict {
	normalized := Normalize(transcript)
	if normalized == "" {
		return RejectedEmpty
	}
	if _, ok := v.falsePositives[normalized]; ok {
		return RejectedFalsePositive
	}
	if len(strings.Fields(transcript)) == 1 {
		if _, ok := v.allowed[normalized]; !ok {
			return RejectedOneWord
		}
	}
	return Accepted
}
