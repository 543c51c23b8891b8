package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestAssessment(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "passthrough clean text",
			input: "Lower the furnace setpoint to 790 C.",
			want:  "Lower the furnace setpoint to 790 C.",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
		{
			name:  "strip control characters except newline and tab",
			input: "Hold\x00 pH\x07 at 8\nthen\tcool",
			want:  "Hold pH at 8\nthen\tcool",
		},
		{
			name:  "headings become bold",
			input: "## Diagnosis\nToo hot.\n### Optimization ##\nCool down.",
			want:  "**Diagnosis**\nToo hot.\n**Optimization**\nCool down.",
		},
		{
			name:  "preserve hash in non-heading context",
			input: "See batch #12 for comparison",
			want:  "See batch #12 for comparison",
		},
		{
			name:  "strip html tags",
			input: "<script>alert(1)</script>Reduce <b>temperature</b>",
			want:  "alert(1)Reduce temperature",
		},
		{
			name:  "remove horizontal rules",
			input: "Part one\n---\nPart two",
			want:  "Part one\n\nPart two",
		},
		{
			name:  "collapse code fences",
			input: "```\nset_temp:800\n```",
			want:  "`\nset_temp:800\n`",
		},
		{
			name:  "collapse excessive newlines",
			input: "a\n\n\n\n\nb",
			want:  "a\n\nb",
		},
		{
			name:  "trim whitespace",
			input: "  \n text \n ",
			want:  "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Assessment(tt.input); got != tt.want {
				t.Errorf("Assessment() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAssessment_Truncation(t *testing.T) {
	long := strings.Repeat("é", MaxAssessmentLength)
	got := Assessment(long)

	if !strings.HasSuffix(got, "...") {
		t.Error("truncated text should end with ellipsis")
	}
	if len(got) > MaxAssessmentLength+3 {
		t.Errorf("len = %d, want <= %d", len(got), MaxAssessmentLength+3)
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a multi-byte rune")
	}
}

func TestFileComponent(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"BATCH_001", "BATCH_001"},
		{"line 3/furnace.A", "line_3_furnace_A"},
		{"../../etc/passwd", "etc_passwd"},
		{"a--b__c", "a-b_c"},
		{"$$$", "batch"},
		{"", "batch"},
		{strings.Repeat("x", 200), strings.Repeat("x", MaxFileComponentLength)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := FileComponent(tt.input); got != tt.want {
				t.Errorf("FileComponent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
