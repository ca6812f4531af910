// SPDX-FileCopyrightText: Copyright (C) 2026  The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package codephrase generates and normalizes the human-readable code
// phrases two peers share out of band to find each other.  A generated
// phrase has the shape "N-word-word" with a small random number followed
// by words drawn from a fixed 256-word list.  Arbitrary phrases typed by
// users are also legal; normalization is what both sides must agree on.
package codephrase

import (
	"fmt"
	"strings"

	"github.com/katzenpost/hpqc/rand"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultWords is the number of words in a generated phrase, not
	// counting the numeric prefix.
	DefaultWords = 2

	// Separator joins the components of a generated phrase.
	Separator = "-"

	maxPrefix = 99
)

// Generate returns a fresh random code phrase with a numeric prefix in
// [1, 99] followed by nWords words, e.g. "7-guitar-castle".  nWords
// values below 1 fall back to DefaultWords.
func Generate(nWords int) string {
	if nWords < 1 {
		nWords = DefaultWords
	}

	parts := make([]string, 0, nWords+1)
	parts = append(parts, fmt.Sprintf("%d", 1+rand.NewMath().Intn(maxPrefix)))
	for i := 0; i < nWords; i++ {
		parts = append(parts, words[rand.NewMath().Intn(len(words))])
	}
	return strings.Join(parts, Separator)
}

// Normalize canonicalizes a phrase so that both peers derive identical
// key material from visually identical input: Unicode NFC, lower case,
// outer whitespace trimmed.  All phrase-derived values (room ids, the
// code-phrase binding) MUST be computed over the normalized form.
func Normalize(phrase string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(phrase)))
}

// Validate reports whether a phrase has the generated shape: at least
// two Separator-joined components, each non-empty, with every word
// component on the word list.  This is advisory only; callers accept
// arbitrary phrases and use Validate to warn about likely typos.
func Validate(phrase string) bool {
	parts := strings.Split(Normalize(phrase), Separator)
	if len(parts) < 2 {
		return false
	}

	for i, part := range parts {
		if part == "" {
			return false
		}
		if i == 0 && isNumeric(part) {
			// Numeric prefixes are legal in the leading position.
			continue
		}
		if !wordSet[part] {
			return false
		}
	}
	return true
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

var wordSet = func() map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()
