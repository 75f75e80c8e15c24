// EBB machine interface
//
// Text command/query layer for the EBB motion controller. Commands
// are CR-terminated ASCII; responses are single lines, with error
// responses prefixed by '!'. The wire vocabulary here matches the
// EBB 3.x firmware: T3/TD jerk moves, SM step moves, SP pen servo
// control, QG status byte, QS/CS step counters, QL/SL variables,
// EM/QE motor enables, QU queue introspection, and CU configuration.
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package ebb

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"plotdrive/pkg/log"
)

// Commander is the machine interface consumed by the planning,
// dripfeed, pen, and homing layers. A live implementation talks to
// hardware; tests substitute scripted fakes.
type Commander interface {
	// Command sends a command expecting only an acknowledgement.
	Command(cmd string) error

	// Query sends a command and returns the response line.
	Query(cmd string) (string, error)

	// XYMove issues a native step move: two signed step deltas and
	// a duration in milliseconds.
	XYMove(steps2, steps1, timeMs int) error

	// QueryStatusByte reads the QG status byte. Bit 7: limit
	// switch, bit 6: power lost, bit 5: button press, low nibble:
	// motor-in-motion flags.
	QueryStatusByte() (byte, error)

	// QuerySteps returns the absolute step counters for both motors.
	QuerySteps() (int64, int64, error)

	// ClearSteps zeroes the step counters and accumulators.
	ClearSteps() error

	// ClearAccumulators zeroes the motion accumulators without
	// touching the step counters.
	ClearAccumulators() error

	// DigitalConfigB sets the latch and direction of a port B pin.
	// The homing limit switch input is pin B1, configured as an
	// input with the latch high.
	DigitalConfigB(pin, latch, direction int) error

	// DigitalReadB reads a port B input pin. The normally-closed
	// limit switch grounds B1, so a high reading means the switch
	// is pressed or absent.
	DigitalReadB(pin int) (bool, error)

	// VarRead and VarWrite access small integer controller
	// variables by index. Indices 10 and 11 hold the pen servo
	// configuration signature, 12 the homed flag, 13 the power flag.
	VarRead(index int) (int, error)
	VarWrite(value, index int) error

	// MotorsEnable sets each motor's enable/resolution code
	// (0 disabled, 1 for 16X microstepping, 2 for 8X).
	MotorsEnable(res1, res2 int) error

	// MotorsQueryEnabled reads back both enable/resolution codes.
	MotorsQueryEnabled() (int, int, error)

	// QueueDepth returns the number of commands in the motion FIFO.
	QueueDepth() (int, error)

	// PenRaise and PenLower drive the pen servo over durationMs on
	// the given output pin.
	PenRaise(durationMs, pin int) error
	PenLower(durationMs, pin int) error

	// EmergencyPenUp raises the pen, discarding queued lowerings.
	EmergencyPenUp() error

	// EmergencyStop aborts all queued and executing motion.
	EmergencyStop() error

	// TimedPause schedules a motion-queue delay of ms milliseconds.
	TimedPause(ms int) error

	// AbsMove moves to an absolute (motor1, motor2) step position
	// at the given rate. Not necessarily a straight line; intended
	// for short correction moves only.
	AbsMove(rate, pos1, pos2 int) error

	// LimitSwitchMask and LimitSwitchTarget configure limit switch
	// detection; Freewheel releases the motors.
	LimitSwitchMask(mask int) error
	LimitSwitchTarget(target int) error
	Freewheel() error

	// Servo configuration.
	ServoPosUp(value int) error
	ServoPosDown(value int) error
	ServoRateUp(value int) error
	ServoRateDown(value int) error
	ServoTimeout(timeoutMs, state int) error

	// QueryVoltage reports whether the V+ supply reading is at or
	// above the given threshold.
	QueryVoltage(threshold int) (bool, error)
}

// EBB is the serial-backed Commander implementation.
type EBB struct {
	mu     sync.Mutex
	port   io.ReadWriter
	reader *bufio.Reader
	logger *log.Logger
}

// New wraps a connected port with the EBB command layer.
func New(port io.ReadWriter) *EBB {
	return &EBB{
		port:   port,
		reader: bufio.NewReader(port),
		logger: log.GetLogger("ebb"),
	}
}

// Configure applies the connection-time controller settings: data
// LED on command activity, FIFO depth 16, and motor freewheeling.
func (e *EBB) Configure() error {
	for _, cmd := range []string{"CU,3,1", "CU,4,16", "CU,50,0"} {
		if err := e.Command(cmd); err != nil {
			return err
		}
	}
	return nil
}

// EnablePowerMonitor turns on supply voltage monitoring with the
// given comparator threshold.
func (e *EBB) EnablePowerMonitor(threshold int) error {
	return e.Command(fmt.Sprintf("CU,60,%d", threshold))
}

// QueryVersion returns the firmware version string.
func (e *EBB) QueryVersion() (string, error) {
	return e.Query("V")
}

func (e *EBB) roundTrip(cmd string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Debug("-> %s", cmd)
	if _, err := io.WriteString(e.port, cmd+"\r"); err != nil {
		return "", fmt.Errorf("ebb: write %q: %w", cmd, err)
	}
	line, err := e.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("ebb: read response to %q: %w", cmd, err)
	}
	line = strings.TrimRight(line, "\r\n")
	e.logger.Debug("<- %s", line)
	if strings.HasPrefix(line, "!") {
		return "", fmt.Errorf("ebb: %q: controller error %q", cmd, line)
	}
	return line, nil
}

// Command implements Commander.
func (e *EBB) Command(cmd string) error {
	_, err := e.roundTrip(cmd)
	return err
}

// Query implements Commander.
func (e *EBB) Query(cmd string) (string, error) {
	return e.roundTrip(cmd)
}

// fields splits a response, dropping an echoed command name so that
// both "QS,12,-34" and "12,-34" parse the same way.
func fields(resp, echo string) []string {
	parts := strings.Split(strings.TrimSpace(resp), ",")
	if len(parts) > 0 && strings.EqualFold(parts[0], echo) {
		parts = parts[1:]
	}
	return parts
}

// XYMove implements Commander.
func (e *EBB) XYMove(steps2, steps1, timeMs int) error {
	return e.Command(fmt.Sprintf("SM,%d,%d,%d", steps2, steps1, timeMs))
}

// QueryStatusByte implements Commander.
func (e *EBB) QueryStatusByte() (byte, error) {
	resp, err := e.Query("QG")
	if err != nil {
		return 0, err
	}
	parts := fields(resp, "QG")
	if len(parts) == 0 {
		return 0, fmt.Errorf("ebb: empty QG response")
	}
	val, err := strconv.ParseUint(strings.TrimSpace(parts[len(parts)-1]), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("ebb: parse QG response %q: %w", resp, err)
	}
	return byte(val), nil
}

// QuerySteps implements Commander.
func (e *EBB) QuerySteps() (int64, int64, error) {
	resp, err := e.Query("QS")
	if err != nil {
		return 0, 0, err
	}
	parts := fields(resp, "QS")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("ebb: malformed QS response %q", resp)
	}
	s1, err1 := strconv.ParseInt(strings.TrimSpace(parts[len(parts)-2]), 10, 64)
	s2, err2 := strconv.ParseInt(strings.TrimSpace(parts[len(parts)-1]), 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("ebb: parse QS response %q", resp)
	}
	return s1, s2, nil
}

// ClearSteps implements Commander.
func (e *EBB) ClearSteps() error {
	return e.Command("CS")
}

// ClearAccumulators implements Commander. It issues a null T3 move
// with both clear bits set, leaving the step counters intact.
func (e *EBB) ClearAccumulators() error {
	return e.Command("T3,1,0,0,0,0,0,0,3")
}

// DigitalConfigB implements Commander.
func (e *EBB) DigitalConfigB(pin, latch, direction int) error {
	if err := e.Command(fmt.Sprintf("PO,B,%d,%d", pin, latch)); err != nil {
		return err
	}
	return e.Command(fmt.Sprintf("PD,B,%d,%d", pin, direction))
}

// DigitalReadB implements Commander.
func (e *EBB) DigitalReadB(pin int) (bool, error) {
	resp, err := e.Query(fmt.Sprintf("PI,B,%d", pin))
	if err != nil {
		return false, err
	}
	parts := fields(resp, "PI")
	val, err := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
	if err != nil {
		return false, fmt.Errorf("ebb: parse PI response %q: %w", resp, err)
	}
	return val != 0, nil
}

// VarRead implements Commander.
func (e *EBB) VarRead(index int) (int, error) {
	resp, err := e.Query(fmt.Sprintf("QL,%d", index))
	if err != nil {
		return 0, err
	}
	parts := fields(resp, "QL")
	val, err := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
	if err != nil {
		return 0, fmt.Errorf("ebb: parse QL response %q: %w", resp, err)
	}
	return val, nil
}

// VarWrite implements Commander.
func (e *EBB) VarWrite(value, index int) error {
	return e.Command(fmt.Sprintf("SL,%d,%d", value, index))
}

// MotorsEnable implements Commander.
func (e *EBB) MotorsEnable(res1, res2 int) error {
	return e.Command(fmt.Sprintf("EM,%d,%d", res1, res2))
}

// MotorsQueryEnabled implements Commander.
func (e *EBB) MotorsQueryEnabled() (int, int, error) {
	resp, err := e.Query("QE")
	if err != nil {
		return 0, 0, err
	}
	parts := fields(resp, "QE")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("ebb: malformed QE response %q", resp)
	}
	r1, err1 := strconv.Atoi(strings.TrimSpace(parts[len(parts)-2]))
	r2, err2 := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("ebb: parse QE response %q", resp)
	}
	return r1, r2, nil
}

// QueueDepth implements Commander.
func (e *EBB) QueueDepth() (int, error) {
	resp, err := e.Query("QU,6")
	if err != nil {
		return 0, err
	}
	parts := fields(resp, "QU")
	depth, err := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
	if err != nil {
		return 0, fmt.Errorf("ebb: parse QU,6 response %q: %w", resp, err)
	}
	return depth, nil
}

// PenRaise implements Commander.
func (e *EBB) PenRaise(durationMs, pin int) error {
	return e.Command(fmt.Sprintf("SP,1,%d,%d", durationMs, pin))
}

// PenLower implements Commander.
func (e *EBB) PenLower(durationMs, pin int) error {
	return e.Command(fmt.Sprintf("SP,0,%d,%d", durationMs, pin))
}

// EmergencyPenUp implements Commander.
func (e *EBB) EmergencyPenUp() error {
	return e.Command("SP,3")
}

// EmergencyStop implements Commander.
func (e *EBB) EmergencyStop() error {
	return e.Command("ES")
}

// TimedPause implements Commander.
func (e *EBB) TimedPause(ms int) error {
	return e.XYMove(0, 0, ms)
}

// AbsMove implements Commander.
func (e *EBB) AbsMove(rate, pos1, pos2 int) error {
	return e.Command(fmt.Sprintf("HM,%d,%d,%d", rate, pos1, pos2))
}

// LimitSwitchMask implements Commander.
func (e *EBB) LimitSwitchMask(mask int) error {
	return e.Command(fmt.Sprintf("CU,51,%d", mask))
}

// LimitSwitchTarget implements Commander.
func (e *EBB) LimitSwitchTarget(target int) error {
	return e.Command(fmt.Sprintf("CU,52,%d", target))
}

// Freewheel implements Commander.
func (e *EBB) Freewheel() error {
	return e.Command("CU,50,0")
}

// ServoPosUp implements Commander.
func (e *EBB) ServoPosUp(value int) error {
	return e.Command(fmt.Sprintf("SC,4,%d", value))
}

// ServoPosDown implements Commander.
func (e *EBB) ServoPosDown(value int) error {
	return e.Command(fmt.Sprintf("SC,5,%d", value))
}

// ServoRateUp implements Commander.
func (e *EBB) ServoRateUp(value int) error {
	return e.Command(fmt.Sprintf("SC,11,%d", value))
}

// ServoRateDown implements Commander.
func (e *EBB) ServoRateDown(value int) error {
	return e.Command(fmt.Sprintf("SC,12,%d", value))
}

// ServoTimeout implements Commander.
func (e *EBB) ServoTimeout(timeoutMs, state int) error {
	return e.Command(fmt.Sprintf("SR,%d,%d", timeoutMs, state))
}

// QueryVoltage implements Commander.
func (e *EBB) QueryVoltage(threshold int) (bool, error) {
	resp, err := e.Query("QC")
	if err != nil {
		return false, err
	}
	parts := fields(resp, "QC")
	if len(parts) < 2 {
		return false, fmt.Errorf("ebb: malformed QC response %q", resp)
	}
	voltage, err := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
	if err != nil {
		return false, fmt.Errorf("ebb: parse QC response %q: %w", resp, err)
	}
	return voltage >= threshold, nil
}

// Status byte bit assignments for QueryStatusByte results.
const (
	// StatusLimit is set while the limit switch input is triggered.
	StatusLimit = 1 << 7
	// StatusPower is set when supply power has been lost.
	StatusPower = 1 << 6
	// StatusButton is set when the pause button has been pressed.
	StatusButton = 1 << 5
	// StatusPenUp is set while the controller believes the pen is up.
	StatusPenUp = 1 << 4
	// StatusMotionMask covers the motor-in-motion flags.
	StatusMotionMask = 0x0F
)

// Controller variable indices used by the host.
const (
	// VarPenConfigA and VarPenConfigB hold the pen servo
	// configuration signature, letting the host detect whether the
	// servo was already initialized with matching settings.
	VarPenConfigA = 10
	VarPenConfigB = 11
	// VarHomed is nonzero when the machine has been homed.
	VarHomed = 12
	// VarPower is nonzero after an acknowledged power loss.
	VarPower = 13
)
