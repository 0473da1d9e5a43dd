// Package textfilter drops filler-only recognizer output ("uh", "um", "嗯")
// before it reaches the language model. Streaming recognizers emit these as
// standalone utterances surprisingly often, and each one would otherwise
// trigger a full LLM round trip and a spoken reply.
package textfilter

import (
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/antzucaro/matchr"
)

// DefaultBlacklist covers the fillers seen most in practice. Latin-script
// entries also match at Levenshtein distance 1 ("umm", "uhh").
var DefaultBlacklist = []string{
	"uh", "um", "hmm", "mhm", "erm", "ah", "eh",
	"嗯", "啊", "呃", "哦", "唉",
}

// Filter decides whether a transcript delta carries real content.
// Stateless apart from the filtered counter; safe for concurrent use.
type Filter struct {
	blacklist []string
	filtered  atomic.Int64
}

// New creates a Filter with the given blacklist; nil means DefaultBlacklist.
func New(blacklist []string) *Filter {
	if blacklist == nil {
		blacklist = DefaultBlacklist
	}
	lowered := make([]string, len(blacklist))
	for i, w := range blacklist {
		lowered[i] = strings.ToLower(w)
	}
	return &Filter{blacklist: lowered}
}

// ShouldProcess reports whether text should be forwarded to the language
// model. Pure whitespace/punctuation and blacklist fillers are dropped.
func (f *Filter) ShouldProcess(text string) bool {
	cleaned := normalize(text)
	if cleaned == "" {
		f.filtered.Add(1)
		return false
	}
	for _, w := range f.blacklist {
		if cleaned == w {
			f.filtered.Add(1)
			return false
		}
		// Tolerate stretched latin fillers ("umm", "uhm", "ahh"). Only
		// longer-by-one variants, so short real words ("an", "at") survive.
		if isASCII(w) && isASCII(cleaned) && len(cleaned) == len(w)+1 {
			if matchr.Levenshtein(cleaned, w) <= 1 {
				f.filtered.Add(1)
				return false
			}
		}
	}
	return true
}

// FilteredCount returns how many deltas were dropped so far.
func (f *Filter) FilteredCount() int64 {
	return f.filtered.Load()
}

// normalize lowercases and strips surrounding whitespace and punctuation.
func normalize(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}))
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
