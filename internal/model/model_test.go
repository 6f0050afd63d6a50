package model

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	r := LogRecord{Time: " 2026-01-28 14:00:00 ", App: " Biz ", Service: "", Code: "E500", Message: "  ", Node: " node-1 "}.Normalize()
	want := LogRecord{
		Time: "2026-01-28 14:00:00", Channel: UnknownValue, App: " Biz ", Service: UnknownValue,
		Operation: UnknownValue, Code: "E500", Message: UnknownValue, Node: "node-1",
	}
	if r != want {
		t.Errorf("Normalize = %+v, want %+v", r, want)
	}
	if n := (LogRecord{}).Normalize().Node; n != "" {
		t.Errorf("empty node defaulted to %q", n)
	}
}

func TestKey_ExactMessage(t *testing.T) {
	a := LogRecord{Code: "E1", Message: "timeout"}.Normalize()
	b := LogRecord{Code: "E1", Message: "timeout "}.Normalize()
	c := LogRecord{Code: "E1", Message: "Timeout"}.Normalize()
	if a.Key() == b.Key() {
		t.Error("messages differing in trailing whitespace must not share a key")
	}
	if b.Message != "timeout " {
		t.Errorf("message rewritten to %q", b.Message)
	}
	if a.Key() == c.Key() {
		t.Error("messages differing in case must not share a key")
	}
}

func TestChannelLabel(t *testing.T) {
	tests := map[string]string{
		"MA0":  "Mobile App",
		" mw0": "Mobile Web",
		"HOM":  "Homepage",
		"":     "-",
		"  ":   "-",
		"XYZ":  "XYZ",
	}
	for code, want := range tests {
		if got := ChannelLabel(code); got != want {
			t.Errorf("ChannelLabel(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestChannelID(t *testing.T) {
	if id := (Channel{Key: "ma", Name: "Mobile App"}).ID(); id != "ma" {
		t.Errorf("ID = %q", id)
	}
	if id := (Channel{Name: "Mobile App"}).ID(); id != "Mobile App" {
		t.Errorf("ID without key = %q", id)
	}
}

func TestWindow(t *testing.T) {
	now := time.Date(2026, 1, 28, 15, 0, 0, 0, time.UTC)
	w := Window{Start: "2026-01-27 10:00:00"}.WithDefaults(now)
	if w.Start != "2026-01-27 10:00:00" || w.End != "2026-01-28 23:59:59" {
		t.Errorf("WithDefaults = %+v", w)
	}
	if got := DefaultWindow(now).Label(); got != "2026-01-28 00:00:00 ~ 2026-01-28 23:59:59" {
		t.Errorf("Label = %q", got)
	}
}

func TestEmitter(t *testing.T) {
	var got []Event
	at := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	em := Emitter{Sink: SinkFunc(func(e Event) { got = append(got, e) }), Channel: "ma", Now: func() time.Time { return at }}
	em.Emit(EventWarn, "degraded")
	Emitter{}.Emit(EventInfo, "dropped")

	if len(got) != 1 || got[0] != (Event{Time: at, Channel: "ma", Kind: EventWarn, Message: "degraded"}) {
		t.Errorf("events = %+v", got)
	}
}
