// Package index implements the two optional value indexes the storage
// engine drives synchronously: an inverted full-text index and a
// bag-of-words similarity index. Neither is part of the engine's hard
// engineering surface (spec section 1); both are specified only at their
// interface (store.FullTextIndex / store.SimilarityIndex) and must be
// total and failure-free.
package index

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var tokenRe = regexp.MustCompile(`\w+`)

// tokenize lowercases text and splits on non-word-character boundaries,
// matching the \b\w+\b tokenization spec section 4.3 requires.
func tokenize(value any) []string {
	text := strings.ToLower(stringify(value))
	return tokenRe.FindAllString(text, -1)
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

// FullText is an inverted word -> key-set index used for AND-semantics
// token search (spec section 4.3).
type FullText struct {
	mu         sync.Mutex
	wordToKeys map[string]map[string]struct{}
}

// NewFullText constructs an empty FullText index.
func NewFullText() *FullText {
	return &FullText{wordToKeys: make(map[string]map[string]struct{})}
}

// Index replaces any previous postings for key with the tokens of value.
func (f *FullText) Index(key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.forgetLocked(key)
	for _, word := range tokenize(value) {
		keys, ok := f.wordToKeys[word]
		if !ok {
			keys = make(map[string]struct{})
			f.wordToKeys[word] = keys
		}
		keys[key] = struct{}{}
	}
}

// Forget removes key from every posting list.
func (f *FullText) Forget(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgetLocked(key)
}

func (f *FullText) forgetLocked(key string) {
	for word, keys := range f.wordToKeys {
		delete(keys, key)
		if len(keys) == 0 {
			delete(f.wordToKeys, word)
		}
	}
}

// Search returns the keys whose indexed value contains every token of
// query. A query with no word-character tokens returns no results.
func (f *FullText) Search(query string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	words := tokenize(query)
	if len(words) == 0 {
		return nil
	}

	var result map[string]struct{}
	for i, word := range words {
		keys := f.wordToKeys[word]
		if i == 0 {
			result = make(map[string]struct{}, len(keys))
			for k := range keys {
				result[k] = struct{}{}
			}
			continue
		}
		for k := range result {
			if _, ok := keys[k]; !ok {
				delete(result, k)
			}
		}
	}

	out := make([]string, 0, len(result))
	for k := range result {
		out = append(out, k)
	}
	return out
}
