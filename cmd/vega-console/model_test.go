package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/vega-mount/internal/status"
)

func fixedNow() time.Time { return time.Unix(1704063600, 0) }

func TestInitSynchronisesClock(t *testing.T) {
	var link bytes.Buffer
	m := newModel(&link, nil, fixedNow)

	msg := m.send("sync_time 1704063600.000")()
	if got := link.String(); got != "sync_time 1704063600.000\n" {
		t.Fatalf("link = %q", got)
	}
	if sm, ok := msg.(sentMsg); !ok || sm.err != nil {
		t.Fatalf("send returned %#v", msg)
	}

	if m.Init() == nil {
		t.Fatal("Init returned no command")
	}
}

func TestEnterSendsCommand(t *testing.T) {
	var link bytes.Buffer
	m := newModel(&link, nil, fixedNow)

	for _, r := range "point_to 180 45" {
		key := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
		if r == ' ' {
			key = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
		}
		next, _ := m.Update(key)
		m = next.(model)
	}
	if m.input != "point_to 180 45" {
		t.Fatalf("input = %q", m.input)
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	if cmd == nil {
		t.Fatal("enter produced no command")
	}
	next, _ = m.Update(cmd())
	m = next.(model)

	if got := link.String(); got != "point_to 180 45\n" {
		t.Errorf("link = %q", got)
	}
	if m.input != "" {
		t.Errorf("input not cleared: %q", m.input)
	}
	if len(m.entries) != 1 || !m.entries[0].outgoing {
		t.Fatalf("entries = %+v, want one outgoing", m.entries)
	}
}

func TestHistoryRecall(t *testing.T) {
	m := newModel(&bytes.Buffer{}, nil, fixedNow)
	m.sent = []string{"home", "status"}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(model)
	if m.input != "status" {
		t.Fatalf("first up = %q, want status", m.input)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(model)
	if m.input != "home" {
		t.Fatalf("second up = %q, want home", m.input)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(model)
	if m.input != "status" {
		t.Fatalf("down = %q, want status", m.input)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(model)
	if m.input != "" {
		t.Fatalf("down past end = %q, want empty", m.input)
	}
}

func TestReceiveMessages(t *testing.T) {
	lines := make(chan string, 1)
	m := newModel(&bytes.Buffer{}, lines, fixedNow)

	next, cmd := m.Update(lineMsg(`{"type":"POSITION","status":"success","payload":{"azimuth":185.09,"elevation":73.43},"timestamp":1704063600}`))
	m = next.(model)
	if cmd == nil {
		t.Fatal("expected a follow-up read")
	}
	if !m.posValid || m.az != 185.09 || m.el != 73.43 {
		t.Fatalf("position = %v %g %g", m.posValid, m.az, m.el)
	}
	if len(m.entries) != 0 {
		t.Fatalf("position broadcast was logged: %+v", m.entries)
	}

	next, _ = m.Update(lineMsg(`{"type":"ACKNOWLEDGEMENT","status":"warning","payload":"Tracking target below horizon","timestamp":1704063600}`))
	m = next.(model)
	if len(m.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(m.entries))
	}
	e := m.entries[0]
	if e.kind != status.TypeAcknowledgement || e.severity != status.Warning || e.text != "Tracking target below horizon" {
		t.Errorf("entry = %+v", e)
	}

	next, _ = m.Update(lineMsg(`{"type":"POSITION","status":"error","payload":"mount not connected","timestamp":1704063600}`))
	m = next.(model)
	if got := m.entries[len(m.entries)-1]; got.severity != status.Error || got.text != "mount not connected" {
		t.Errorf("position error entry = %+v", got)
	}

	next, _ = m.Update(lineMsg("garbage"))
	m = next.(model)
	if got := m.entries[len(m.entries)-1]; got.text != "garbage" {
		t.Errorf("raw entry = %+v", got)
	}

	view := m.View()
	if !strings.Contains(view, "185.09") || !strings.Contains(view, "mount not connected") {
		t.Errorf("view missing content:\n%s", view)
	}
}

func TestLogIsBounded(t *testing.T) {
	m := newModel(&bytes.Buffer{}, nil, fixedNow)
	for i := 0; i < maxLog+25; i++ {
		m.appendLog(logEntry{text: "x"})
	}
	if len(m.entries) != maxLog {
		t.Errorf("entries = %d, want %d", len(m.entries), maxLog)
	}
}

func TestLinkClosed(t *testing.T) {
	lines := make(chan string)
	close(lines)
	m := newModel(&bytes.Buffer{}, lines, fixedNow)

	msg := waitForLine(lines)()
	next, _ := m.Update(msg)
	m = next.(model)
	if m.closed == nil {
		t.Fatal("expected closed link")
	}
	if !strings.Contains(m.View(), "link closed") {
		t.Error("view does not report closed link")
	}
}
