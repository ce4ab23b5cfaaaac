package flume

import (
	"strings"
	"testing"
	"time"
)

func TestNewRunID(t *testing.T) {
	id1 := NewRunID()
	id2 := NewRunID()
	if id1 == id2 {
		t.Error("two run ids should be unique")
	}

	parts := strings.SplitN(id1, "_", 3)
	if len(parts) != 3 {
		t.Fatalf("run id %q should have date_time_suffix shape", id1)
	}
	if _, err := time.Parse(runIDFormat, parts[0]+"_"+parts[1]); err != nil {
		t.Errorf("run id %q does not start with a %s timestamp: %v", id1, runIDFormat, err)
	}
	if len(parts[2]) != 8 {
		t.Errorf("run id suffix %q has %d chars, want 8", parts[2], len(parts[2]))
	}
}

func TestNewForkID(t *testing.T) {
	id := NewForkID()
	if !strings.Contains(id, "_fork_") {
		t.Errorf("fork id %q does not contain the fork marker", id)
	}
	suffix := id[strings.LastIndex(id, "_")+1:]
	if len(suffix) != 6 {
		t.Errorf("fork id suffix %q has %d chars, want 6", suffix, len(suffix))
	}
}

func TestRunIDsSortByCreationTime(t *testing.T) {
	// Ids created in different seconds must sort chronologically; the
	// random suffix only breaks ties within a second.
	earlier := time.Now().Add(-time.Hour).Format(runIDFormat) + "_" + randHex(8)
	later := NewRunID()
	if earlier >= later {
		t.Errorf("run ids should sort by creation time: %q >= %q", earlier, later)
	}
}

func TestNormalizeID(t *testing.T) {
	// "e" followed by a combining acute accent composes to "é".
	decomposed := "café"
	composed := "café"
	if got := normalizeID(decomposed); got != composed {
		t.Errorf("normalizeID(%q) = %q, want %q", decomposed, got, composed)
	}
	if got := normalizeID("plain_id"); got != "plain_id" {
		t.Errorf("normalizeID changed an ASCII id: %q", got)
	}
}
