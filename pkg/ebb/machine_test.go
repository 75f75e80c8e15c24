// EBB machine interface tests
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package ebb

import (
	"bytes"
	"strings"
	"testing"
)

// fakePort scripts one response line per round trip and records
// everything written.
type fakePort struct {
	writes    bytes.Buffer
	responses []string
}

func (f *fakePort) Write(p []byte) (int, error) {
	return f.writes.Write(p)
}

func (f *fakePort) Read(p []byte) (int, error) {
	if len(f.responses) == 0 {
		return 0, nil
	}
	line := f.responses[0] + "\r\n"
	f.responses = f.responses[1:]
	return copy(p, line), nil
}

func (f *fakePort) sent() []string {
	raw := strings.TrimSuffix(f.writes.String(), "\r")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\r")
}

func TestWireFormats(t *testing.T) {
	tests := []struct {
		name string
		run  func(e *EBB) error
		resp string
		want string
	}{
		{"xy move", func(e *EBB) error { return e.XYMove(-10, 25, 400) }, "OK", "SM,-10,25,400"},
		{"timed pause", func(e *EBB) error { return e.TimedPause(100) }, "OK", "SM,0,0,100"},
		{"pen raise", func(e *EBB) error { return e.PenRaise(350, 1) }, "OK", "SP,1,350,1"},
		{"pen lower", func(e *EBB) error { return e.PenLower(350, 1) }, "OK", "SP,0,350,1"},
		{"emergency pen up", func(e *EBB) error { return e.EmergencyPenUp() }, "OK", "SP,3"},
		{"emergency stop", func(e *EBB) error { return e.EmergencyStop() }, "OK", "ES"},
		{"motors enable", func(e *EBB) error { return e.MotorsEnable(1, 1) }, "OK", "EM,1,1"},
		{"var write", func(e *EBB) error { return e.VarWrite(1, 12) }, "OK", "SL,1,12"},
		{"clear steps", func(e *EBB) error { return e.ClearSteps() }, "OK", "CS"},
		{"limit mask", func(e *EBB) error { return e.LimitSwitchMask(64) }, "OK", "CU,51,64"},
		{"limit target", func(e *EBB) error { return e.LimitSwitchTarget(64) }, "OK", "CU,52,64"},
		{"freewheel", func(e *EBB) error { return e.Freewheel() }, "OK", "CU,50,0"},
		{"servo pos up", func(e *EBB) error { return e.ServoPosUp(27831) }, "OK", "SC,4,27831"},
		{"servo pos down", func(e *EBB) error { return e.ServoPosDown(9855) }, "OK", "SC,5,9855"},
		{"servo rate up", func(e *EBB) error { return e.ServoRateUp(400) }, "OK", "SC,11,400"},
		{"servo rate down", func(e *EBB) error { return e.ServoRateDown(400) }, "OK", "SC,12,400"},
		{"servo timeout", func(e *EBB) error { return e.ServoTimeout(60000, 1) }, "OK", "SR,60000,1"},
		{"abs move", func(e *EBB) error { return e.AbsMove(3200, 0, 0) }, "OK", "HM,3200,0,0"},
		{"clear accumulators", func(e *EBB) error { return e.ClearAccumulators() }, "OK", "T3,1,0,0,0,0,0,0,3"},
	}
	for _, tc := range tests {
		port := &fakePort{responses: []string{tc.resp}}
		e := New(port)
		if err := tc.run(e); err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
			continue
		}
		got := port.sent()
		if len(got) != 1 || got[0] != tc.want {
			t.Errorf("%s: sent %q, want [%q]", tc.name, got, tc.want)
		}
	}
}

func TestConfigure(t *testing.T) {
	port := &fakePort{responses: []string{"OK", "OK", "OK"}}
	e := New(port)
	if err := e.Configure(); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	want := []string{"CU,3,1", "CU,4,16", "CU,50,0"}
	got := port.sent()
	if len(got) != len(want) {
		t.Fatalf("Configure() sent %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Configure() command %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestQueryStatusByte(t *testing.T) {
	tests := []struct {
		resp string
		want byte
	}{
		{"QG,3E", 0x3E},
		{"A0", 0xA0},
		{"00", 0x00},
	}
	for _, tc := range tests {
		port := &fakePort{responses: []string{tc.resp}}
		got, err := New(port).QueryStatusByte()
		if err != nil {
			t.Errorf("QueryStatusByte() with %q: %v", tc.resp, err)
			continue
		}
		if got != tc.want {
			t.Errorf("QueryStatusByte() with %q = %#x, want %#x", tc.resp, got, tc.want)
		}
	}
}

func TestQuerySteps(t *testing.T) {
	port := &fakePort{responses: []string{"QS,1200,-340"}}
	s1, s2, err := New(port).QuerySteps()
	if err != nil {
		t.Fatalf("QuerySteps() error = %v", err)
	}
	if s1 != 1200 || s2 != -340 {
		t.Errorf("QuerySteps() = %d, %d, want 1200, -340", s1, s2)
	}
}

func TestQueueDepth(t *testing.T) {
	port := &fakePort{responses: []string{"QU,6,3"}}
	depth, err := New(port).QueueDepth()
	if err != nil {
		t.Fatalf("QueueDepth() error = %v", err)
	}
	if depth != 3 {
		t.Errorf("QueueDepth() = %d, want 3", depth)
	}
	if got := port.sent(); len(got) != 1 || got[0] != "QU,6" {
		t.Errorf("QueueDepth() sent %q, want [\"QU,6\"]", got)
	}
}

func TestVarRead(t *testing.T) {
	port := &fakePort{responses: []string{"QL,1"}}
	val, err := New(port).VarRead(12)
	if err != nil {
		t.Fatalf("VarRead() error = %v", err)
	}
	if val != 1 {
		t.Errorf("VarRead(12) = %d, want 1", val)
	}
	if got := port.sent(); got[0] != "QL,12" {
		t.Errorf("VarRead(12) sent %q, want QL,12", got[0])
	}
}

func TestQueryVoltage(t *testing.T) {
	tests := []struct {
		resp string
		want bool
	}{
		{"QC,0150,0394", true},
		{"QC,0150,0120", false},
	}
	for _, tc := range tests {
		port := &fakePort{responses: []string{tc.resp}}
		ok, err := New(port).QueryVoltage(200)
		if err != nil {
			t.Errorf("QueryVoltage() with %q: %v", tc.resp, err)
			continue
		}
		if ok != tc.want {
			t.Errorf("QueryVoltage() with %q = %v, want %v", tc.resp, ok, tc.want)
		}
	}
}

func TestControllerError(t *testing.T) {
	port := &fakePort{responses: []string{"!8 Err: unknown command"}}
	if err := New(port).Command("BOGUS"); err == nil {
		t.Error("Command() with error response returned nil error")
	}
}

func TestDigitalConfigB(t *testing.T) {
	port := &fakePort{responses: []string{"OK", "OK"}}
	if err := New(port).DigitalConfigB(1, 1, 1); err != nil {
		t.Fatalf("DigitalConfigB() error = %v", err)
	}
	want := []string{"PO,B,1,1", "PD,B,1,1"}
	got := port.sent()
	if len(got) != len(want) {
		t.Fatalf("DigitalConfigB() sent %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DigitalConfigB() command %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDigitalReadB(t *testing.T) {
	tests := []struct {
		resp string
		want bool
	}{
		{"PI,1", true},
		{"PI,0", false},
		{"0", false},
	}
	for _, tc := range tests {
		port := &fakePort{responses: []string{tc.resp}}
		got, err := New(port).DigitalReadB(1)
		if err != nil {
			t.Errorf("DigitalReadB() with %q: %v", tc.resp, err)
			continue
		}
		if got != tc.want {
			t.Errorf("DigitalReadB() with %q = %v, want %v", tc.resp, got, tc.want)
		}
		if sent := port.sent(); sent[0] != "PI,B,1" {
			t.Errorf("DigitalReadB() sent %q, want PI,B,1", sent[0])
		}
	}
}
