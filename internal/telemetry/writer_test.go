package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"droneops-control/internal/fleet"
)

type batchCapture struct {
	rows    []fleet.FlightLogEntry
	batches int
}

func (w *batchCapture) Write(row fleet.FlightLogEntry) error {
	w.rows = append(w.rows, row)
	return nil
}

func (w *batchCapture) WriteBatch(rows []fleet.FlightLogEntry) error {
	w.batches++
	w.rows = append(w.rows, rows...)
	return nil
}

func TestMultiWriterPrefersBatch(t *testing.T) {
	plain := newCaptureWriter(4)
	batched := &batchCapture{}
	mw := NewMultiWriter(plain, batched)

	rows := []fleet.FlightLogEntry{{ID: "a"}, {ID: "b"}}
	if err := mw.WriteBatch(rows); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	plain.mu.Lock()
	if len(plain.rows) != 2 {
		t.Errorf("plain writer rows = %d, want 2", len(plain.rows))
	}
	plain.mu.Unlock()
	if batched.batches != 1 || len(batched.rows) != 2 {
		t.Errorf("batch writer: batches = %d rows = %d", batched.batches, len(batched.rows))
	}
}

func TestFileWriterAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flight.jsonl")

	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2"} {
		err := w.Write(fleet.FlightLogEntry{
			ID: id, MissionID: "m1", DroneID: "d1",
			Timestamp: ts.Add(time.Duration(i) * time.Second),
			Latitude:  48.2, Longitude: 16.4, Altitude: 100, BatteryLevel: 80,
		})
		if err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// reopening must append, not truncate
	w2, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w2.Write(fleet.FlightLogEntry{ID: "r3", MissionID: "m1", DroneID: "d1", Timestamp: ts}); err != nil {
		t.Fatalf("write r3: %v", err)
	}
	if err := w2.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var row fleet.FlightLogEntry
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			t.Fatalf("line %d: %v", len(ids)+1, err)
		}
		ids = append(ids, row.ID)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != "r1" || ids[2] != "r3" {
		t.Errorf("ids = %v, want [r1 r2 r3]", ids)
	}
}
