package fleet

import (
	"testing"
	"time"
)

func TestProgress(t *testing.T) {
	now := time.Now()
	started := now.Add(-30 * time.Minute)

	cases := []struct {
		name    string
		mission Mission
		want    int
	}{
		{"completed", Mission{Status: MissionCompleted}, 100},
		{"planned", Mission{Status: MissionPlanned}, 0},
		{"aborted", Mission{Status: MissionAborted}, 0},
		{"failed", Mission{Status: MissionFailed}, 0},
		{"in progress halfway", Mission{Status: MissionInProgress, StartedAt: &started, EstimatedDuration: 60}, 50},
		{"in progress capped", Mission{Status: MissionInProgress, StartedAt: &started, EstimatedDuration: 10}, 95},
		{"in progress no estimate", Mission{Status: MissionInProgress, StartedAt: &started}, 0},
		{"in progress never started", Mission{Status: MissionInProgress, EstimatedDuration: 60}, 0},
		{"paused halfway", Mission{Status: MissionPaused, StartedAt: &started, EstimatedDuration: 60}, 50},
	}

	for _, tc := range cases {
		if got := tc.mission.Progress(now); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestMissionStatusTerminal(t *testing.T) {
	for _, s := range []MissionStatus{MissionCompleted, MissionAborted, MissionFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []MissionStatus{MissionPlanned, MissionInProgress, MissionPaused} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestHoldsDrone(t *testing.T) {
	if !MissionInProgress.HoldsDrone() || !MissionPaused.HoldsDrone() {
		t.Error("in-progress and paused missions should hold their drone")
	}
	if MissionPlanned.HoldsDrone() || MissionCompleted.HoldsDrone() {
		t.Error("planned and completed missions should not hold a drone")
	}
}

func TestValidators(t *testing.T) {
	if ValidLatitude(91) || ValidLatitude(-91) || !ValidLatitude(48.2) {
		t.Error("latitude range check broken")
	}
	if ValidLongitude(181) || ValidLongitude(-181) || !ValidLongitude(16.4) {
		t.Error("longitude range check broken")
	}
	if ValidAltitude(-1) || !ValidAltitude(0) {
		t.Error("altitude range check broken")
	}
	if ValidBatteryLevel(150) || ValidBatteryLevel(-1) || !ValidBatteryLevel(45) {
		t.Error("battery range check broken")
	}
	if ValidHeading(361) || !ValidHeading(360) {
		t.Error("heading range check broken")
	}
}

func TestViolationsCollect(t *testing.T) {
	var v Violations
	v.CheckPosition(99, 200, -5)
	err := v.Err()
	if err == nil {
		t.Fatal("expected validation error")
	}
	de, ok := err.(*Error)
	if !ok || de.Kind != KindValidation {
		t.Fatalf("expected validation kind, got %v", err)
	}
	if len(de.Violations) != 3 {
		t.Errorf("expected 3 collected violations, got %d", len(de.Violations))
	}
}
