// Package repetition flags degenerate completions that have collapsed
// into a loop. Both functions are pure; the selector calls them on every
// candidate before accepting it.
package repetition

import "strings"

// repetitionThreshold pairs a maximum pattern length with the minimum
// number of trailing repetitions needed to call the output degenerate.
// Short patterns need many repeats (a single token said thirty times);
// long patterns looping even a few times are already pathological.
type repetitionThreshold struct {
	maxPatternLen  int
	minRepetitions int
}

var thresholds = []repetitionThreshold{
	{maxPatternLen: 1, minRepetitions: 30},
	{maxPatternLen: 10, minRepetitions: 10},
	{maxPatternLen: 30, minRepetitions: 4},
	{maxPatternLen: 100, minRepetitions: 2},
}

// IsRepetitive reports whether the token sequence ends in a degenerate
// loop: some trailing pattern repeated often enough to trip a threshold.
func IsRepetitive(tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, th := range thresholds {
		for patternLen := 1; patternLen <= th.maxPatternLen; patternLen++ {
			if patternLen*th.minRepetitions > len(tokens) {
				break
			}
			if trailingRepeats(tokens, patternLen) >= th.minRepetitions {
				return true
			}
		}
	}
	return false
}

// trailingRepeats counts how many times the final patternLen tokens
// repeat consecutively at the end of the sequence, including the final
// occurrence itself.
func trailingRepeats(tokens []string, patternLen int) int {
	pattern := tokens[len(tokens)-patternLen:]
	repeats := 1
	for start := len(tokens) - 2*patternLen; start >= 0; start -= patternLen {
		if !equalWindow(tokens, start, pattern) {
			break
		}
		repeats++
	}
	return repeats
}

// equalWindow reports whether tokens[start:start+len(pattern)] equals pattern.
func equalWindow(tokens []string, start int, pattern []string) bool {
	for i, p := range pattern {
		if tokens[start+i] != p {
			return false
		}
	}
	return true
}

// Stats summarises line-level repetition in a completion, for telemetry.
type Stats struct {
	// RepeatedLine is the most frequent non-blank line.
	RepeatedLine string

	// RepeatCount is how many times RepeatedLine occurs.
	RepeatCount int

	// TotalLines is the number of non-blank lines.
	TotalLines int
}

// LineStats computes repetition statistics over the completion's lines.
// Blank lines are ignored; lines are compared after trimming whitespace.
func LineStats(text string) Stats {
	counts := make(map[string]int)
	var stats Stats
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		stats.TotalLines++
		counts[line]++
		if counts[line] > stats.RepeatCount {
			stats.RepeatCount = counts[line]
			stats.RepeatedLine = line
		}
	}
	return stats
}

// Tokenize splits text into the whitespace-delimited tokens IsRepetitive
// operates on.
func Tokenize(text string) []string {
	return strings.Fields(text)
}
