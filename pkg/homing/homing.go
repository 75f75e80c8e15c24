// Automatic homing
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package homing drives the multi-stage limit-switch homing sequence
// for models equipped with a homing switch. The normally-closed
// switch sits at the origin on pin B1; the carriage is walked into
// it with the right-hand motor, zeroed against repeated fine
// approaches, and then calibrated diagonally for the left-hand
// motor. Position state is only trusted after the sequence succeeds.
package homing

import (
	"math"
	"time"

	"plotdrive/pkg/ebb"
	"plotdrive/pkg/errors"
	"plotdrive/pkg/log"
	"plotdrive/pkg/motion"
	"plotdrive/pkg/params"
	"plotdrive/pkg/status"
)

const (
	// speedFast is the coarse approach speed in inch/s. speedFine is
	// the normal fine approach speed; speedSlow suits switches with
	// extra mechanical hysteresis.
	speedFast = 2.0
	speedFine = 0.25
	speedSlow = 0.1

	// sideDist is the diagonal step-off distance in mm for the
	// left-hand motor calibration.
	sideDist = 6.0

	// leftFineDist limits fine leftward moves, in mm.
	leftFineDist = 7.0

	// limitPin is the port B input wired to the limit switch.
	limitPin = 1

	// zeroNominal is the expected fine approach distance in inches
	// when the carriage starts from the calibrated 2.5 mm back-off.
	// zeroLoose and zeroNear are the looser acceptance bands.
	zeroNominal = 0.0984
	zeroLoose   = 0.12
	zeroNear    = 0.15

	// VoltageThreshold is the minimum QC reading for motor power.
	VoltageThreshold = 200
)

// Homer runs the homing sequence against the controller.
type Homer struct {
	mach    ebb.Commander
	machine params.Machine
	res     params.Resolution
	track   *status.Tracker
	pos     *motion.PenPosition

	// SpeedFine is the fine approach speed in inch/s. Lower it to
	// speedSlow for switches that trigger inconsistently.
	SpeedFine float64

	// Preview skips homing entirely.
	Preview bool

	// SkipVoltageCheck bypasses the supply voltage precheck.
	SkipVoltageCheck bool

	stepScale  float64
	failed     bool
	paused     bool
	voltageLow bool

	logger *log.Logger
	sleep  func(time.Duration)
}

// NewHomer returns a Homer operating on the shared position and
// status tracker.
func NewHomer(mach ebb.Commander, machine params.Machine, res params.Resolution,
	track *status.Tracker, pos *motion.PenPosition) *Homer {
	return &Homer{
		mach:      mach,
		machine:   machine,
		res:       res,
		track:     track,
		pos:       pos,
		SpeedFine: speedFine,
		stepScale: res.StepScale(),
		logger:    log.GetLogger("homing"),
		sleep:     time.Sleep,
	}
}

// FindHome runs the full homing sequence: right-hand motor homing to
// locate the origin, then left-hand motor calibration. On success the
// step counters are zeroed, the homed flag is written to the
// controller, and the tracked position is set to the origin.
func (h *Homer) FindHome() error {
	if h.Preview {
		return nil
	}
	if !h.machine.AutoHome {
		return errors.Newf(errors.CodeHoming,
			"%s has no homing switch", h.machine.ModelName)
	}

	if !h.SkipVoltageCheck {
		ok, err := h.mach.QueryVoltage(VoltageThreshold)
		if err != nil || !ok {
			h.voltageLow = true
			h.failed = true
			return h.markFailed()
		}
	}

	if homed, err := h.mach.VarRead(ebb.VarHomed); err == nil && homed != 0 {
		return nil
	}

	h.failed = false
	h.paused = false

	h.rhmHoming()
	if h.failed {
		return h.markFailed()
	}

	h.mach.ClearSteps()
	h.lhmHoming()
	if h.failed {
		return h.markFailed()
	}

	h.mach.ClearSteps()
	if err := h.mach.VarWrite(1, ebb.VarHomed); err != nil {
		return err
	}

	h.pos.X = 0
	h.pos.Y = 0
	h.pos.Defined = true
	h.pos.Accum1 = 0
	h.pos.Accum2 = 0
	return nil
}

// markFailed records the failure on the tracker and the controller.
func (h *Homer) markFailed() error {
	code := errors.CodeHoming
	if h.voltageLow || h.track.Power {
		code = errors.CodePower
	}
	if !h.track.Stopped() {
		h.track.Stop(code)
		h.track.Finalize()
	}
	h.mach.VarWrite(0, ebb.VarHomed)
	if code == errors.CodePower {
		return errors.New(code, "homing aborted, motor power not detected")
	}
	if h.paused {
		return errors.New(code, "homing interrupted by button press")
	}
	return errors.New(code, "automatic homing failed")
}

// block waits until all queued motion has finished, polling the
// status byte every 2 ms up to timeoutMs. A button press during the
// wait e-stops the machine and aborts the homing sequence.
func (h *Homer) block(timeoutMs int) {
	if h.failed {
		return
	}
	left := timeoutMs
	for {
		sb, err := h.mach.QueryStatusByte()
		if err != nil {
			h.track.Connection = true
			h.failed = true
			return
		}
		if sb&ebb.StatusLimit != 0 {
			h.track.Limit = true
		}
		if sb&ebb.StatusButton != 0 {
			h.track.Button = true
		}
		if sb&ebb.StatusPower != 0 {
			h.track.Power = true
		}

		if h.track.Button {
			h.logger.Info("homing interrupted by button press")
			h.paused = true
			h.failed = true
			h.mach.EmergencyStop()
			return
		}
		if sb&ebb.StatusMotionMask == 0 {
			return
		}
		if left <= 0 {
			h.failed = true
			h.logger.Error("timeout waiting for homing move to finish")
			return
		}
		if left < 2 {
			h.sleep(time.Duration(left) * time.Millisecond)
			left = 0
			continue
		}
		h.sleep(2 * time.Millisecond)
		left -= 2
	}
}

// limitPressed drains pending motion, then reads the limit switch
// input. A high reading means the switch is pressed, or absent.
func (h *Homer) limitPressed(waitMs int) bool {
	h.block(waitMs)
	if h.failed {
		return false
	}
	pressed, err := h.mach.DigitalReadB(limitPin)
	if err != nil {
		h.logger.Error("limit switch read: %v", err)
		h.failed = true
		return false
	}
	return pressed
}

// armLimit enables firmware limit switch detection; motion stops as
// soon as pin B1 reads high.
func (h *Homer) armLimit() {
	h.mach.LimitSwitchTarget(2)
	h.mach.LimitSwitchMask(2)
	h.track.Limit = false
}

// moveXY issues a plain step move by the given XY distance in inches.
func (h *Homer) moveXY(xInch, yInch float64, timeMs int) {
	if h.failed || h.paused {
		return
	}
	steps1 := int(math.Round(h.stepScale * (xInch + yInch)))
	steps2 := int(math.Round(h.stepScale * (xInch - yInch)))
	h.mach.XYMove(steps2, steps1, timeMs)
}

// leftUntilBump moves left with only the right-hand motor enabled
// until the limit switch trips, up to maxDist inches at the given
// speed. It returns the apparent distance traveled per the step
// counter, or -1 on failure. While the carriage is above Y = 0 the
// single-motor drive moves it diagonally at half the commanded
// distance, so the apparent distance is twice the actual travel.
func (h *Homer) leftUntilBump(speed, maxDist float64) float64 {
	if h.failed || h.paused {
		h.failed = true
		return -1
	}
	if h.limitPressed(1000) {
		h.failed = true
		h.logger.Error("homing failed, limit switch not ready")
		return -1
	}
	if h.failed {
		return -1
	}
	if h.track.Power {
		h.failed = true
		return -1
	}

	// Disabling the left-hand motor also clears the step counters,
	// so the counter afterwards reflects this move alone.
	h.mach.MotorsEnable(h.res.EBBResolutionCode(), 0)
	h.block(1000)

	h.armLimit()
	timeMs := int(math.Abs(1000 * maxDist / speed))
	h.moveXY(-maxDist, 0, timeMs)
	h.block(timeMs + 1000)

	limitOccurred := h.track.Limit
	h.mach.LimitSwitchMask(0)

	if !limitOccurred && !h.paused {
		h.failed = true
		h.logger.Error("homing failed, no limit found within %.2f in; configured model is %s",
			maxDist, h.machine.ModelName)
		return -1
	}

	_, steps2, err := h.mach.QuerySteps()
	if err != nil {
		h.failed = true
		return -1
	}
	return math.Abs(float64(steps2) / h.stepScale)
}

// rhmFine backs the carriage off to the right and makes one fine
// approach into the switch. Starting from a previous bump, the
// back-off of 6 mm out and 3.5 mm in leaves the carriage a nominal
// 2.5 mm from home, so the returned approach distance measures how
// well zeroed the carriage already was.
func (h *Homer) rhmFine() float64 {
	if h.failed || h.paused {
		return -1
	}
	h.mach.MotorsEnable(h.res.EBBResolutionCode(), h.res.EBBResolutionCode())

	step := sideDist / 25.4
	h.moveXY(step, 0, int(1000*step/speedFast))
	if h.limitPressed(1000) {
		h.failed = true
		h.logger.Error("homing failed, limit switch not detected; is the model selected correctly?")
		return -1
	}

	step = (leftFineDist / 2) / 25.4
	h.moveXY(-step, 0, int(1000*step/speedFast))
	if h.limitPressed(1000) {
		h.failed = true
		h.logger.Error("homing failed, limit switch tripped early")
		return -1
	}
	if h.failed {
		return -1
	}

	return h.leftUntilBump(h.SpeedFine, leftFineDist/25.4)
}

// rhmHoming locates Y = 0 with the right-hand motor in up to three
// stages: an initial coarse bump (skipped when the switch is already
// pressed), fine approaches to confirm a consistent zero, and, if
// the measured approach shows the carriage was not actually at the
// origin, a large secondary coarse pass.
func (h *Homer) rhmHoming() {
	xMax, yMax := h.machine.TravelX, h.machine.TravelY

	h.mach.DigitalConfigB(limitPin, 1, 1)
	h.mach.Freewheel()

	// Switch already pressed: skip the initial coarse move and
	// treat the carriage as starting at the switch.
	firstCoarseDist := 0.05
	pressed := h.limitPressed(1000)
	if h.failed {
		return
	}
	if !pressed {
		// Maximum travel: twice the Y extent along the half-speed
		// diagonal, plus any extra X travel, plus slack.
		maxDist := 2*yMax + (xMax - yMax) + 0.5
		apparent := h.leftUntilBump(speedFast, maxDist)
		if h.failed {
			return
		}
		firstCoarseDist = apparent / 2
	}

	dist := h.rhmFine()
	if h.failed {
		return
	}
	firstDistClose := dist < zeroNear

	dist = h.rhmFine()
	if dist < 0 {
		h.failed = true
		return
	}
	if dist <= zeroNominal {
		return // Zeroed on the first try.
	}
	if firstDistClose && dist < zeroLoose {
		return
	}
	if dist < zeroNear {
		if dist2 := h.rhmFine(); dist2 > zeroLoose {
			h.failed = true
			h.logger.Error("homing failed, zero position inconsistent")
		}
		return
	}

	// Not close to zero: the first bump stopped against the switch
	// with Y still positive. Step right by the remaining possible
	// travel and repeat the coarse approach.
	remaining := yMax - firstCoarseDist - 2.5/25.4
	if remaining < 0 {
		remaining = 0
	}
	h.mach.MotorsEnable(h.res.EBBResolutionCode(), h.res.EBBResolutionCode())
	rightMs := int(1000 * remaining / speedFast)
	h.moveXY(remaining, 0, rightMs)
	h.block(rightMs + 1000)

	maxDist := 2 * (remaining + 0.1)
	if coarse := h.leftUntilBump(speedFast, maxDist); coarse < 0 {
		h.failed = true
		h.logger.Error("homing failed at second coarse move, no limit found")
		return
	}

	dist = h.rhmFine()
	if dist < 0 {
		return
	}
	if dist <= zeroNominal {
		return
	}
	if dist < zeroNear {
		if dist2 := h.rhmFine(); dist2 > zeroLoose {
			h.failed = true
			h.logger.Error("homing failed at secondary fine move")
		}
	}
}

// lhmHoming calibrates the left-hand motor once the right-hand motor
// is zeroed. The carriage steps out (6, 6) mm diagonally, then moves
// back toward the switch with the left-hand motor until it trips,
// and finally retraces both motors to the origin.
func (h *Homer) lhmHoming() {
	if h.failed || h.paused {
		return
	}
	h.mach.MotorsEnable(h.res.EBBResolutionCode(), h.res.EBBResolutionCode())

	step := sideDist / 25.4
	steps1 := int(math.Round(h.stepScale * 2 * step))
	outMs := int(1000 * step / speedFast)
	h.mach.XYMove(0, steps1, outMs)

	// First half of the return at coarse speed.
	step = (sideDist / 2) / 25.4
	halfMs := int(1000 * step / speedFast)
	steps2 := int(math.Round(h.stepScale * -2 * step))
	h.mach.XYMove(steps2, 0, halfMs)

	// Second half slow, until the switch trips.
	step = sideDist / 25.4
	slowMs := int(1000 * step / h.SpeedFine)
	steps2 = int(math.Round(h.stepScale * -2 * step))

	if h.limitPressed(1000) {
		h.failed = true
		h.logger.Error("homing failed, limit switch not ready for precision stage")
		return
	}
	if h.failed {
		return
	}

	h.armLimit()
	h.mach.XYMove(steps2, 0, slowMs)
	h.block(slowMs + 1000)

	limitOccurred := h.track.Limit
	h.mach.LimitSwitchMask(0)
	if !limitOccurred {
		h.failed = true
		h.logger.Error("homing failed, no limit found in precision stage")
		return
	}

	// Walk both motors back to the origin.
	h.mach.XYMove(steps1, -steps1, 4*halfMs)
	h.block(4*halfMs + 1000)
}

// ReadPosition waits for motion to drain, then sets the tracked
// position from the controller step counters and zeroes the motion
// accumulators.
func (h *Homer) ReadPosition() error {
	if h.Preview {
		return nil
	}
	h.block(10000)
	steps1, steps2, err := h.mach.QuerySteps()
	if err != nil {
		return err
	}
	h.pos.X = float64(steps1+steps2) / (2 * h.stepScale)
	h.pos.Y = float64(steps1-steps2) / (2 * h.stepScale)
	h.pos.Defined = true
	h.pos.Accum1 = 0
	h.pos.Accum2 = 0
	return h.mach.ClearAccumulators()
}
