package core

import (
	"strings"
	"testing"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantSame bool
	}{
		{
			name:     "same content produces same ID",
			content:  "test content",
			wantSame: true,
		},
		{
			name:     "empty string",
			content:  "",
			wantSame: true,
		},
		{
			name:     "long content",
			content:  "This is a much longer piece of content that should still hash consistently",
			wantSame: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)

			if tt.wantSame && id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestIDFromContent_Different(t *testing.T) {
	id1 := IDFromContent("content1")
	id2 := IDFromContent("content2")

	if id1 == id2 {
		t.Errorf("IDFromContent() produced same ID for different content")
	}
}

func TestIsBlank(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"", true},
		{"   ", true},
		{"\t\n\r ", true},
		{"a", false},
		{"  a  ", false},
		{" ", true},
		{"日本", false},
	}

	for _, tt := range tests {
		if got := IsBlank(tt.content); got != tt.want {
			t.Errorf("IsBlank(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestRunKey(t *testing.T) {
	records := []Record{{Id: "1", Content: "alpha"}, {Content: "beta"}}

	k1 := RunKey("embed", records)
	k2 := RunKey("embed", []Record{{Id: "1", Content: "alpha"}, {Content: "beta"}})
	if k1 != k2 {
		t.Errorf("RunKey() not deterministic: %q vs %q", k1, k2)
	}

	if RunKey("reindex", records) == k1 {
		t.Errorf("RunKey() ignored the operation name")
	}

	if RunKey("embed", []Record{{Id: "2", Content: "alpha"}, {Content: "beta"}}) == k1 {
		t.Errorf("RunKey() ignored record ids")
	}

	// Full 256-bit digest, hex encoded after the operation prefix
	if !strings.HasPrefix(k1, "embed:") || len(k1) != len("embed:")+64 {
		t.Errorf("RunKey() = %q, want embed: followed by 64 hex digits", k1)
	}

	// Separator bytes inside content must not merge fields
	if RunKey("embed", []Record{{Content: "a\x00b"}}) == RunKey("embed", []Record{{Content: "a"}, {Content: "b"}}) {
		t.Errorf("RunKey() collided on embedded separator")
	}

	// Boundaries between fields must matter
	a := RunKey("embed", []Record{{Content: "ab"}, {Content: "c"}})
	b := RunKey("embed", []Record{{Content: "a"}, {Content: "bc"}})
	if a == b {
		t.Errorf("RunKey() collided on shifted content boundaries")
	}
}

func TestOutcome_Indexable(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    bool
	}{
		{"embedded", Outcome{Embedding: []float32{1, 0}}, true},
		{"degraded", DegradedOutcome(Record{Content: "x"}), false},
		{"blank content", Outcome{Embedding: []float32{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.Indexable(); got != tt.want {
				t.Errorf("Indexable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDegradedOutcome(t *testing.T) {
	o := DegradedOutcome(Record{Id: "r1", Content: "text"})
	if !o.Degraded {
		t.Errorf("DegradedOutcome() not marked degraded")
	}
	if o.Embedding == nil || len(o.Embedding) != 0 {
		t.Errorf("DegradedOutcome() embedding = %v, want empty non-nil slice", o.Embedding)
	}
	if o.Record.Id != "r1" {
		t.Errorf("DegradedOutcome() lost the record")
	}
}

func TestPartition(t *testing.T) {
	outcomes := []Outcome{
		{Record: Record{Id: "a"}, Embedding: []float32{1}},
		DegradedOutcome(Record{Id: "b"}),
		{Record: Record{Id: "c"}, Embedding: []float32{}},
		{Record: Record{Id: "d"}, Embedding: []float32{0, 1}},
	}

	indexable, rest := Partition(outcomes)
	if len(indexable) != 2 || indexable[0].Record.Id != "a" || indexable[1].Record.Id != "d" {
		t.Errorf("Partition() indexable = %v", indexable)
	}
	if len(rest) != 2 || rest[0].Record.Id != "b" || rest[1].Record.Id != "c" {
		t.Errorf("Partition() rest = %v", rest)
	}
}

func TestRunStatus_String(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   string
	}{
		{RunStatusProcessing, "processing"},
		{RunStatusCompleted, "completed"},
		{RunStatusFailed, "failed"},
		{RunStatus(42), "unknown(42)"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("RunStatus(%d).String() = %q, want %q", int(tt.status), got, tt.want)
		}
	}
}

func TestParseRunStatus(t *testing.T) {
	for _, s := range []RunStatus{RunStatusProcessing, RunStatusCompleted, RunStatusFailed} {
		got, err := ParseRunStatus(s.String())
		if err != nil {
			t.Fatalf("ParseRunStatus(%q) error: %v", s.String(), err)
		}
		if got != s {
			t.Errorf("ParseRunStatus(%q) = %v, want %v", s.String(), got, s)
		}
	}

	if _, err := ParseRunStatus("bogus"); err != ErrInvalidRunStatus {
		t.Errorf("ParseRunStatus(bogus) error = %v, want ErrInvalidRunStatus", err)
	}
}
