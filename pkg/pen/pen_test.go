// Tests for pen lift handling
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pen

import (
	"fmt"
	"strings"
	"testing"

	"plotdrive/pkg/ebb"
	"plotdrive/pkg/motion"
	"plotdrive/pkg/params"
)

// fakeMachine records commands and scripts variable reads.
type fakeMachine struct {
	sent   []string
	vars   map[int]int
	status byte
}

func newFakeMachine() *fakeMachine {
	return &fakeMachine{vars: map[int]int{}}
}

func (f *fakeMachine) Command(cmd string) error { f.sent = append(f.sent, cmd); return nil }
func (f *fakeMachine) Query(cmd string) (string, error) {
	f.sent = append(f.sent, cmd)
	return "OK", nil
}
func (f *fakeMachine) XYMove(steps2, steps1, timeMs int) error {
	return f.Command(fmt.Sprintf("SM,%d,%d,%d", steps2, steps1, timeMs))
}
func (f *fakeMachine) QueryStatusByte() (byte, error) { return f.status, nil }
func (f *fakeMachine) QuerySteps() (int64, int64, error) {
	return 0, 0, nil
}
func (f *fakeMachine) ClearSteps() error        { return f.Command("CS") }
func (f *fakeMachine) ClearAccumulators() error { return f.Command("T3,1,0,0,0,0,0,0,3") }
func (f *fakeMachine) DigitalConfigB(pin, latch, direction int) error {
	return f.Command(fmt.Sprintf("PD,B,%d,%d", pin, direction))
}
func (f *fakeMachine) DigitalReadB(pin int) (bool, error) { return false, nil }
func (f *fakeMachine) VarRead(index int) (int, error) {
	return f.vars[index], nil
}
func (f *fakeMachine) VarWrite(value, index int) error {
	f.vars[index] = value
	return f.Command(fmt.Sprintf("SL,%d,%d", value, index))
}
func (f *fakeMachine) MotorsEnable(res1, res2 int) error {
	return f.Command(fmt.Sprintf("EM,%d,%d", res1, res2))
}
func (f *fakeMachine) MotorsQueryEnabled() (int, int, error) { return 1, 1, nil }
func (f *fakeMachine) QueueDepth() (int, error)              { return 0, nil }
func (f *fakeMachine) PenRaise(durationMs, pin int) error {
	return f.Command(fmt.Sprintf("SP,1,%d,%d", durationMs, pin))
}
func (f *fakeMachine) PenLower(durationMs, pin int) error {
	return f.Command(fmt.Sprintf("SP,0,%d,%d", durationMs, pin))
}
func (f *fakeMachine) EmergencyPenUp() error { return f.Command("SP,3") }
func (f *fakeMachine) EmergencyStop() error  { return f.Command("ES") }
func (f *fakeMachine) TimedPause(ms int) error {
	return f.Command(fmt.Sprintf("SM,0,0,%d", ms))
}
func (f *fakeMachine) AbsMove(rate, pos1, pos2 int) error {
	return f.Command(fmt.Sprintf("HM,%d,%d,%d", rate, pos1, pos2))
}
func (f *fakeMachine) LimitSwitchMask(mask int) error {
	return f.Command(fmt.Sprintf("CU,51,%d", mask))
}
func (f *fakeMachine) LimitSwitchTarget(target int) error {
	return f.Command(fmt.Sprintf("CU,52,%d", target))
}
func (f *fakeMachine) Freewheel() error { return f.Command("CU,50,0") }
func (f *fakeMachine) ServoPosUp(value int) error {
	return f.Command(fmt.Sprintf("SC,4,%d", value))
}
func (f *fakeMachine) ServoPosDown(value int) error {
	return f.Command(fmt.Sprintf("SC,5,%d", value))
}
func (f *fakeMachine) ServoRateUp(value int) error {
	return f.Command(fmt.Sprintf("SC,11,%d", value))
}
func (f *fakeMachine) ServoRateDown(value int) error {
	return f.Command(fmt.Sprintf("SC,12,%d", value))
}
func (f *fakeMachine) ServoTimeout(timeoutMs, state int) error {
	return f.Command(fmt.Sprintf("SR,%d,%d", timeoutMs, state))
}
func (f *fakeMachine) QueryVoltage(threshold int) (bool, error) { return true, nil }

func (f *fakeMachine) countPrefix(prefix string) int {
	n := 0
	for _, cmd := range f.sent {
		if strings.HasPrefix(cmd, prefix) {
			n++
		}
	}
	return n
}

func newTestHandler(f *fakeMachine) (*Handler, *motion.PenPosition) {
	machine := params.MachineFor(8) // NextDraw 8511, brushless servo
	pos := &motion.PenPosition{Defined: true}
	h := NewHandler(f, machine, DefaultConfig(), pos)
	h.Pace = false
	return h, pos
}

func TestRaiseIsIdempotent(t *testing.T) {
	f := newFakeMachine()
	h, pos := newTestHandler(f)

	if err := h.Raise(); err != nil {
		t.Fatalf("Raise() error = %v", err)
	}
	if err := h.Raise(); err != nil {
		t.Fatalf("second Raise() error = %v", err)
	}
	if got := f.countPrefix("SP,1,"); got != 1 {
		t.Errorf("raise commands sent = %d, want 1", got)
	}
	if !pos.PenUp || !pos.ZKnown {
		t.Error("pen state not tracked as up")
	}
	if h.Lifts != 1 {
		t.Errorf("Lifts = %d, want 1", h.Lifts)
	}
}

func TestLowerAfterUnknownStateSendsCommand(t *testing.T) {
	f := newFakeMachine()
	h, pos := newTestHandler(f)

	// Z state unknown: lowering must send a command even though the
	// default PenUp value is false.
	if err := h.Lower(); err != nil {
		t.Fatalf("Lower() error = %v", err)
	}
	if got := f.countPrefix("SP,0,"); got != 1 {
		t.Errorf("lower commands sent = %d, want 1", got)
	}
	if pos.PenUp {
		t.Error("pen tracked as up after Lower()")
	}

	if err := h.Lower(); err != nil {
		t.Fatalf("second Lower() error = %v", err)
	}
	if got := f.countPrefix("SP,0,"); got != 1 {
		t.Errorf("lower commands after repeat = %d, want 1", got)
	}
}

func TestServoInitConfiguresAndCaches(t *testing.T) {
	f := newFakeMachine()
	h, pos := newTestHandler(f)

	if err := h.ServoInit(); err != nil {
		t.Fatalf("ServoInit() error = %v", err)
	}
	for _, prefix := range []string{"SC,4,", "SC,5,", "SC,11,", "SC,12,"} {
		if got := f.countPrefix(prefix); got != 1 {
			t.Errorf("%s commands = %d, want 1", prefix, got)
		}
	}
	// Brushless servo: single PWM channel, no timeout command.
	if got := f.countPrefix("SC,8,1"); got != 1 {
		t.Errorf("SC,8,1 commands = %d, want 1", got)
	}
	if got := f.countPrefix("SR,"); got != 0 {
		t.Errorf("SR commands = %d, want 0 for brushless servo", got)
	}
	if !pos.PenUp {
		t.Error("pen not raised by initialization")
	}

	// Heights cached in controller variables, offset for brushless.
	cfg := DefaultConfig()
	if f.vars[ebb.VarPenConfigA] != cfg.PosUp+102 {
		t.Errorf("var 10 = %d, want %d", f.vars[ebb.VarPenConfigA], cfg.PosUp+102)
	}
	if f.vars[ebb.VarPenConfigB] != cfg.PosDown+102 {
		t.Errorf("var 11 = %d, want %d", f.vars[ebb.VarPenConfigB], cfg.PosDown+102)
	}
}

func TestServoInitSkipsWhenAlreadyConfigured(t *testing.T) {
	f := newFakeMachine()
	h, pos := newTestHandler(f)

	cfg := DefaultConfig()
	f.vars[ebb.VarPenConfigA] = cfg.PosUp + 102
	f.vars[ebb.VarPenConfigB] = cfg.PosDown + 102
	f.status = ebb.StatusPenUp

	if err := h.ServoInit(); err != nil {
		t.Fatalf("ServoInit() error = %v", err)
	}
	if got := f.countPrefix("SC,"); got != 0 {
		t.Errorf("servo config commands = %d, want 0 when already configured", got)
	}
	if got := f.countPrefix("SP,"); got != 0 {
		t.Errorf("pen move commands = %d, want 0 when already configured", got)
	}
	if !pos.PenUp || !pos.ZKnown {
		t.Error("pen state not adopted from controller")
	}
}

func TestServoInitLegacyTimeout(t *testing.T) {
	f := newFakeMachine()
	machine := params.MachineFor(1) // AxiDraw V3, legacy servo
	pos := &motion.PenPosition{Defined: true}
	h := NewHandler(f, machine, DefaultConfig(), pos)
	h.Pace = false

	if err := h.ServoInit(); err != nil {
		t.Fatalf("ServoInit() error = %v", err)
	}
	if got := f.countPrefix("SC,8,8"); got != 1 {
		t.Errorf("SC,8,8 commands = %d, want 1", got)
	}
	if got := f.countPrefix("SR,60000,"); got != 1 {
		t.Errorf("SR commands = %d, want 1 for legacy servo", got)
	}
}

func TestTimingZeroWhenHeightsEqual(t *testing.T) {
	f := newFakeMachine()
	machine := params.MachineFor(8)
	cfg := DefaultConfig()
	cfg.PosUp = 40
	cfg.PosDown = 40
	pos := &motion.PenPosition{Defined: true}
	h := NewHandler(f, machine, cfg, pos)

	if h.RaiseTimeMs() != 0 || h.LowerTimeMs() != 0 {
		t.Errorf("transit times = %d, %d, want 0, 0 for equal heights",
			h.RaiseTimeMs(), h.LowerTimeMs())
	}
}

func TestPreviewTracksStateWithoutCommands(t *testing.T) {
	f := newFakeMachine()
	h, pos := newTestHandler(f)
	h.Preview = true

	if err := h.Lower(); err != nil {
		t.Fatalf("Lower() error = %v", err)
	}
	if err := h.Raise(); err != nil {
		t.Fatalf("Raise() error = %v", err)
	}
	if len(f.sent) != 0 {
		t.Errorf("commands sent in preview = %v, want none", f.sent)
	}
	if !pos.PenUp {
		t.Error("preview pen state not tracked")
	}
}
