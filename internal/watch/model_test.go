package watch

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"droneops-control/internal/fleet"
)

func testModel() Model {
	m := NewModel(NewClient("http://localhost:8080", "t"), "org-1")
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	mi, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return mi.(Model)
}

func TestMissionsMsgFillsTable(t *testing.T) {
	m := testModel()
	mi, _ := m.Update(missionsMsg{
		{ID: "aaaaaaaa-1111", Name: "survey", Status: fleet.MissionPlanned, DroneID: "dddddddd-2222", Priority: 3},
		{ID: "bbbbbbbb-3333", Name: "patrol", Status: fleet.MissionInProgress, DroneID: "eeeeeeee-4444", Priority: 1},
	})
	m = mi.(Model)

	view := m.View()
	for _, want := range []string{"survey", "patrol", "aaaaaaaa", "PLANNED"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if m.selected != "aaaaaaaa-1111" {
		t.Errorf("selected = %q, want first mission", m.selected)
	}
}

func TestLogsMsgFillsViewport(t *testing.T) {
	m := testModel()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mi, _ := m.Update(logsMsg{
		{DroneID: "dddddddd-2222", Timestamp: ts.Add(time.Minute), Latitude: 48.2, Longitude: 16.4, BatteryLevel: 80},
		{DroneID: "dddddddd-2222", Timestamp: ts, Latitude: 48.1, Longitude: 16.3, BatteryLevel: 82},
	})
	m = mi.(Model)

	view := m.vp.View()
	if !strings.Contains(view, "dddddddd") || !strings.Contains(view, "batt=80.0") {
		t.Errorf("viewport = %q", view)
	}
	// oldest first in the pane
	if strings.Index(view, "batt=82.0") > strings.Index(view, "batt=80.0") {
		t.Error("log rows not ordered oldest-first")
	}
}

func TestErrMsgShownInView(t *testing.T) {
	m := testModel()
	mi, _ := m.Update(errMsg{errors.New("connection refused")})
	m = mi.(Model)
	if !strings.Contains(m.View(), "connection refused") {
		t.Error("error not rendered")
	}
}

func TestQuitKey(t *testing.T) {
	m := testModel()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}
