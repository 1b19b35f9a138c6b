// Package match implements the script-visible pattern matching: anchored
// shell-style globs (like/ilike) and cached regular expressions (matches).
package match

import (
	"errors"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

const (
	// regexCacheSize bounds the number of compiled patterns kept per cache.
	regexCacheSize = 1000

	// maxPatternLen rejects absurd patterns before compilation so a cache
	// entry stays small.
	maxPatternLen = 64 << 10
)

// Like reports whether text matches the anchored glob pattern.
// `*` matches any run of characters including the empty run, `?` matches
// exactly one character. There is no escaping. Never errors.
func Like(text, pattern string) bool {
	if isASCII(text) && isASCII(pattern) {
		return globBytes(text, pattern)
	}
	return globRunes([]rune(text), []rune(pattern))
}

// ILike is Like after case folding both operands. ASCII operands take a
// lowercase fast path; anything else goes through NFKC normalization and
// full Unicode case folding, so both "ß" and "ẞ" match "ss".
func ILike(text, pattern string) bool {
	if isASCII(text) && isASCII(pattern) {
		return globBytes(strings.ToLower(text), strings.ToLower(pattern))
	}
	return globRunes([]rune(fold(text)), []rune(fold(pattern)))
}

func fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// globBytes runs the iterative two-pointer glob over bytes. A star
// bookmark records where the last `*` could re-expand when a literal
// mismatch forces backtracking.
func globBytes(h, p string) bool {
	hIdx, pIdx := 0, 0
	starIdx, matchIdx := -1, 0

	for hIdx < len(h) {
		switch {
		case pIdx < len(p) && (p[pIdx] == '?' || p[pIdx] == h[hIdx]):
			hIdx++
			pIdx++
		case pIdx < len(p) && p[pIdx] == '*':
			starIdx = pIdx
			matchIdx = hIdx
			pIdx++
		case starIdx != -1:
			pIdx = starIdx + 1
			matchIdx++
			hIdx = matchIdx
		default:
			return false
		}
	}

	for pIdx < len(p) && p[pIdx] == '*' {
		pIdx++
	}
	return pIdx == len(p)
}

func globRunes(h, p []rune) bool {
	hIdx, pIdx := 0, 0
	starIdx, matchIdx := -1, 0

	for hIdx < len(h) {
		switch {
		case pIdx < len(p) && (p[pIdx] == '?' || p[pIdx] == h[hIdx]):
			hIdx++
			pIdx++
		case pIdx < len(p) && p[pIdx] == '*':
			starIdx = pIdx
			matchIdx = hIdx
			pIdx++
		case starIdx != -1:
			pIdx = starIdx + 1
			matchIdx++
			hIdx = matchIdx
		default:
			return false
		}
	}

	for pIdx < len(p) && p[pIdx] == '*' {
		pIdx++
	}
	return pIdx == len(p)
}

// Regexps is a bounded compiled-pattern cache. Each worker owns one, so
// no locking is needed beyond what the LRU provides.
type Regexps struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

// NewRegexps creates a cache holding up to 1000 compiled patterns.
func NewRegexps() *Regexps {
	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	return &Regexps{cache: cache}
}

// Matches reports whether text contains a match of the regex pattern.
// An invalid pattern returns a Hard error naming the pattern; the cache
// and all later calls keep working.
func (r *Regexps) Matches(text, pattern string) (bool, error) {
	re, err := r.compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(text), nil
}

// Find returns the first match of pattern in text, or "" when there is
// none.
func (r *Regexps) Find(text, pattern string) (string, error) {
	re, err := r.compile(pattern)
	if err != nil {
		return "", err
	}
	return re.FindString(text), nil
}

func (r *Regexps) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := r.cache.Get(pattern); ok {
		return re, nil
	}
	if len(pattern) > maxPatternLen {
		return nil, lserrors.BadRegex(pattern[:64]+"...", errors.New("pattern too long"))
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, lserrors.BadRegex(pattern, err)
	}
	r.cache.Add(pattern, re)
	return re, nil
}

// Len returns the number of cached patterns.
func (r *Regexps) Len() int {
	return r.cache.Len()
}
