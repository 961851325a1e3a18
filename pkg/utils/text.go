package utils

import "strings"

// NormalizeAnswer is the form answers are stored and compared in.
func NormalizeAnswer(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// NormalizeAnswers applies NormalizeAnswer to every element.
func NormalizeAnswers(inputs []string) []string {
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, NormalizeAnswer(in))
	}
	return out
}
