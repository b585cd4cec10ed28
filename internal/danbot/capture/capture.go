// Package capture decides, from the raw text of an inbound message, whether
// the message should also be recorded as a fact, a forget request, or a
// note before the reply is generated. The decision is a pure string match
// that never calls the model, so it can run synchronously on the message path.
package capture

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind classifies what a detected action should do.
type Kind int

const (
	// KindNone means the message carries no memory action.
	KindNone Kind = iota
	// KindFact upserts Key=Value into the fact ledger.
	KindFact
	// KindForget removes Key from the fact ledger.
	KindForget
	// KindNote appends Text to the note log.
	KindNote
)

// Action is one memory operation detected in a message.
type Action struct {
	Kind  Kind
	Key   string
	Value string
	Text  string
}

// Detector matches message prefixes and keywords. Prefixes are matched
// case-insensitively at the start of the message ("retine: greutate = 81");
// keywords anywhere in the text trigger a verbatim auto-note, the way the
// bot logs meals and gym visits without being asked.
type Detector struct {
	RememberPrefixes []string
	ForgetPrefixes   []string
	NotePrefixes     []string
	NoteKeywords     []string
}

// Detect returns the action the message asks for, or a KindNone action.
// Prefix rules win over the keyword auto-note; only one action is ever
// returned per message.
func (d *Detector) Detect(text string) Action {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Action{Kind: KindNone}
	}

	if rest, ok := matchPrefix(trimmed, d.RememberPrefixes); ok {
		key, value, found := strings.Cut(rest, "=")
		if !found || strings.TrimSpace(key) == "" {
			// No key=value shape: keep the request as a note rather
			// than dropping it.
			return Action{Kind: KindNote, Text: rest}
		}
		return Action{
			Kind:  KindFact,
			Key:   strings.TrimSpace(key),
			Value: strings.TrimSpace(value),
		}
	}

	if rest, ok := matchPrefix(trimmed, d.ForgetPrefixes); ok {
		if rest == "" {
			return Action{Kind: KindNone}
		}
		return Action{Kind: KindForget, Key: rest}
	}

	if rest, ok := matchPrefix(trimmed, d.NotePrefixes); ok {
		if rest == "" {
			return Action{Kind: KindNone}
		}
		return Action{Kind: KindNote, Text: rest}
	}

	lower := strings.ToLower(trimmed)
	for _, kw := range d.NoteKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return Action{Kind: KindNote, Text: trimmed}
		}
	}

	return Action{Kind: KindNone}
}

// matchPrefix returns the text after the first matching prefix, trimmed.
func matchPrefix(text string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if rest, ok := cutPrefixFold(text, p); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

// cutPrefixFold is strings.CutPrefix with case folding. It walks both strings
// rune by rune so the remainder is sliced at the right byte offset even when
// folding changes a rune's width (e.g. U+0130 folds to a 1-byte "i").
func cutPrefixFold(s, prefix string) (string, bool) {
	for _, pr := range prefix {
		r, size := utf8.DecodeRuneInString(s)
		if size == 0 {
			return "", false
		}
		if unicode.ToLower(r) != unicode.ToLower(pr) {
			return "", false
		}
		s = s[size:]
	}
	return s, true
}
