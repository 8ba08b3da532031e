package event

import (
	"testing"
	"time"
)

func TestDataValuesRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	in := map[string]DataValue{
		"deabcdefgh1": {Value: "72", StoredBy: "nurse", Created: &ts, LastUpdated: &ts},
		"deabcdefgh2": {Value: "yes", ProvidedElsewhere: true, SkipSynchronization: true},
	}
	raw, err := MarshalDataValues(in)
	if err != nil {
		t.Fatalf("MarshalDataValues: %v", err)
	}
	out, err := UnmarshalDataValues(raw)
	if err != nil {
		t.Fatalf("UnmarshalDataValues: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 values, got %d", len(out))
	}
	if out["deabcdefgh1"].Value != "72" || out["deabcdefgh1"].StoredBy != "nurse" {
		t.Errorf("value lost in round trip: %+v", out["deabcdefgh1"])
	}
	if !out["deabcdefgh2"].SkipSynchronization {
		t.Error("skipSynchronization flag lost")
	}
}

func TestUnmarshalDataValuesEmpty(t *testing.T) {
	out, err := UnmarshalDataValues(nil)
	if err != nil {
		t.Fatalf("UnmarshalDataValues(nil): %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty map, got %v", out)
	}
}

func TestMergeNoteDeduplicates(t *testing.T) {
	ev := &Event{}
	ev.MergeNote(Note{UID: "n1", Text: "first"})
	ev.MergeNote(Note{UID: "n1", Text: "first again"})
	ev.MergeNote(Note{UID: "n2", Text: "second"})
	ev.MergeNote(Note{})
	if len(ev.Notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(ev.Notes))
	}
	if ev.Notes[0].Text != "first" || ev.Notes[1].Text != "second" {
		t.Errorf("note order or content wrong: %+v", ev.Notes)
	}
}

func TestStatusValid(t *testing.T) {
	for _, st := range []Status{StatusActive, StatusCompleted, StatusSchedule, StatusSkipped, StatusVisited, StatusOverdue} {
		if !st.Valid() {
			t.Errorf("%s should be valid", st)
		}
	}
	if Status("DONE").Valid() {
		t.Error("DONE should not be valid")
	}
}
