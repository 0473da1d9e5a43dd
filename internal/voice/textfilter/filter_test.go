package textfilter_test

import (
	"testing"

	"github.com/parleyvoice/parley/internal/voice/textfilter"
)

func TestShouldProcess(t *testing.T) {
	f := textfilter.New(nil)

	tests := []struct {
		text string
		want bool
	}{
		{"what's the weather like", true},
		{"turn the lights off", true},
		{"", false},
		{"   ", false},
		{"...", false},
		{"um", false},
		{"Um,", false},
		{"umm", false},
		{"uhm", false},
		{"hmm.", false},
		{"嗯", false},
		{"啊，", false},
		// Short real words must survive the fuzzy filler matching.
		{"an", true},
		{"at", true},
		{"no", true},
		{"嗯，今天天气怎么样", true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := f.ShouldProcess(tt.text); got != tt.want {
				t.Errorf("ShouldProcess(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestFilteredCount(t *testing.T) {
	f := textfilter.New(nil)
	f.ShouldProcess("um")
	f.ShouldProcess("real question")
	f.ShouldProcess("")
	if got := f.FilteredCount(); got != 2 {
		t.Errorf("FilteredCount() = %d, want 2", got)
	}
}

func TestCustomBlacklist(t *testing.T) {
	f := textfilter.New([]string{"okay"})
	if f.ShouldProcess("okay") {
		t.Error("custom blacklist entry should be filtered")
	}
	if !f.ShouldProcess("um") {
		t.Error("default entries should not apply with a custom blacklist")
	}
}
