package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWritesJSONWithDomainFields(t *testing.T) {
	var buf bytes.Buffer
	log := newWithOutput("debug", &buf)

	log.WithTrip("trip-1", "staff-1").Info("trip started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["message"] != "trip started" || entry["trip_id"] != "trip-1" || entry["staff_id"] != "staff-1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("expected timestamp field")
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newWithOutput("loud", &buf)

	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug suppressed at info level")
	}
	log.WithVisit("visit-1", "staff-1").Info("shown")
	if buf.Len() == 0 {
		t.Fatalf("expected info output")
	}
}

func TestDiscard(t *testing.T) {
	log := Discard()
	log.WithComponent("test").Error("nothing")
	log.WithStaff("staff-1").Warn("nothing")
}
