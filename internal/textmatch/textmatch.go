// Package textmatch provides whole-word keyword matching. Substring
// matching produces false positives the rule chain must never emit:
// "sport" must not match "port", "striker" must not match "strike".
package textmatch

import (
	"regexp"
	"sync"
)

var (
	mu       sync.RWMutex
	compiled = map[string]*regexp.Regexp{}
)

// wordPattern returns the cached whole-word pattern for a keyword.
func wordPattern(keyword string) *regexp.Regexp {
	mu.RLock()
	re, ok := compiled[keyword]
	mu.RUnlock()
	if ok {
		return re
	}

	mu.Lock()
	defer mu.Unlock()
	if re, ok = compiled[keyword]; ok {
		return re
	}
	re = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(keyword) + `\b`)
	compiled[keyword] = re
	return re
}

// ContainsWord reports whether text contains keyword as a whole word,
// case-insensitively. Multi-word keywords match as exact phrases.
func ContainsWord(text, keyword string) bool {
	if keyword == "" {
		return false
	}
	return wordPattern(keyword).MatchString(text)
}

// CountWord counts whole-word occurrences of keyword in text.
func CountWord(text, keyword string) int {
	if keyword == "" {
		return 0
	}
	return len(wordPattern(keyword).FindAllStringIndex(text, -1))
}
