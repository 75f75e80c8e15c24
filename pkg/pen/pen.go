// Pen lift handling
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package pen manages the pen-lift servo: raising, lowering, height
// and speed configuration, and transit timing. Configuration is
// cached in controller variables so that reconnecting to an
// already-configured controller can skip the slow initial sweep.
package pen

import (
	"math"
	"time"

	"plotdrive/pkg/ebb"
	"plotdrive/pkg/log"
	"plotdrive/pkg/motion"
	"plotdrive/pkg/params"
)

// Config holds the user-settable pen options.
type Config struct {
	PosUp   int // pen-up height, percent 0-100
	PosDown int // pen-down height, percent 0-100

	RateRaise int // raising speed, percent 1-100
	RateLower int // lowering speed, percent 1-100

	DelayUpMs   int // extra delay after raising
	DelayDownMs int // extra delay after lowering
}

// DefaultConfig returns the stock pen settings.
func DefaultConfig() Config {
	return Config{PosUp: 60, PosDown: 30, RateRaise: 75, RateLower: 50}
}

// Handler manages pen state and the pen-lift servo.
type Handler struct {
	mach    ebb.Commander
	machine params.Machine
	cfg     Config

	// Phys is the tracked physical position shared with the
	// planning and execution layers.
	Phys *motion.PenPosition

	// Lifts counts pen raises during the current plot.
	Lifts int

	// Preview skips all hardware commands, tracking state only.
	Preview bool

	// Pace sleeps through long servo transits so the host stays
	// roughly synchronized with the hardware.
	Pace bool

	tempHeight bool
	posDown    int // active pen-down height; may be temporary

	raiseTimeMs int
	lowerTimeMs int

	logger *log.Logger
}

// NewHandler returns a pen handler for the given machine parameters.
func NewHandler(mach ebb.Commander, machine params.Machine, cfg Config, phys *motion.PenPosition) *Handler {
	h := &Handler{
		mach:    mach,
		machine: machine,
		cfg:     cfg,
		Phys:    phys,
		Pace:    true,
		posDown: cfg.PosDown,
		logger:  log.GetLogger("pen"),
	}
	h.updateTiming()
	return h
}

// updateTiming recomputes raise and lower transit times. Servo travel
// time blends the transit time of fast sweeps with the rate-limited
// time of slow sweeps using a 4th power average.
func (h *Handler) updateTiming() {
	vDist := math.Abs(float64(h.cfg.PosUp - h.posDown))

	slope := h.machine.ServoMoveSlope
	moveMin := float64(h.machine.ServoMoveMin)
	sweep := float64(h.machine.ServoSweepTime)

	timeFor := func(ratePercent, extraMs int) int {
		fast := slope*vDist + moveMin
		slow := sweep * vDist / float64(ratePercent)
		vTime := int(math.Pow(math.Pow(fast, 4)+math.Pow(slow, 4), 0.25))
		if vDist < 0.9 { // equal up and down positions move nothing
			vTime = 0
		}
		vTime += extraMs
		if vTime < 0 {
			vTime = 0
		}
		return vTime
	}

	h.raiseTimeMs = timeFor(h.cfg.RateRaise, h.cfg.DelayUpMs)
	h.lowerTimeMs = timeFor(h.cfg.RateLower, h.cfg.DelayDownMs)
}

// RaiseTimeMs returns the modeled pen raise transit time.
func (h *Handler) RaiseTimeMs() int { return h.raiseTimeMs }

// LowerTimeMs returns the modeled pen lower transit time.
func (h *Handler) LowerTimeMs() int { return h.lowerTimeMs }

// Raise lifts the pen. It is a no-op when the pen is already known
// to be up.
func (h *Handler) Raise() error {
	if h.Phys.ZKnown && h.Phys.PenUp {
		return nil
	}
	h.Lifts++

	if !h.Preview {
		if err := h.mach.PenRaise(h.raiseTimeMs, h.machine.ServoPin); err != nil {
			return err
		}
		h.pace(h.raiseTimeMs)
	}
	h.Phys.PenUp = true
	h.Phys.ZKnown = true
	return nil
}

// Lower lowers the pen. It is a no-op when the pen is already known
// to be down.
func (h *Handler) Lower() error {
	if h.Phys.ZKnown && !h.Phys.PenUp {
		return nil
	}

	if !h.Preview {
		if err := h.mach.PenLower(h.lowerTimeMs, h.machine.ServoPin); err != nil {
			return err
		}
		h.pace(h.lowerTimeMs)
	}
	h.Phys.PenUp = false
	h.Phys.ZKnown = true
	return nil
}

// Cycle lowers the pen, pauses half a second, and raises it again.
// Setup utility; call only after ServoInit.
func (h *Handler) Cycle() error {
	if err := h.Lower(); err != nil {
		return err
	}
	if !h.Preview {
		if err := h.mach.TimedPause(500); err != nil {
			return err
		}
	}
	return h.Raise()
}

func (h *Handler) pace(ms int) {
	if h.Pace && ms > 50 {
		time.Sleep(time.Duration(ms-30) * time.Millisecond)
	}
}

// SetTempHeight switches to a temporary pen-down height, typically
// for a layer override, reconfiguring the servo if it changed.
func (h *Handler) SetTempHeight(height int) error {
	h.tempHeight = true
	if h.posDown == height {
		return nil
	}
	h.posDown = height
	h.updateTiming()
	return h.ServoInit()
}

// EndTempHeight restores the configured pen-down height.
func (h *Handler) EndTempHeight() error {
	h.tempHeight = false
	if h.posDown == h.cfg.PosDown {
		return nil
	}
	h.posDown = h.cfg.PosDown
	h.updateTiming()
	return h.ServoInit()
}

// Position codes stored in controller variables 10 and 11. Zero
// means uninitialized. Legacy servo heights map to 1 through 101;
// brushless heights map to 102 through 202 so that a servo type
// change always invalidates the stored configuration.
func (h *Handler) heightCodes() (up, down int) {
	up = 1 + h.cfg.PosUp
	down = 1 + h.posDown
	if h.machine.BrushlessZ {
		up += 101
		down += 101
	}
	return up, down
}

// storedState reads back the configuration cached on the controller.
// ok is false when the servo has not been configured since reset or
// was configured for a different motor type.
func (h *Handler) storedState() (up, down int, penUp, ok bool) {
	codeUp, err := h.mach.VarRead(ebb.VarPenConfigA)
	if err != nil {
		return 0, 0, false, false
	}
	codeDown, err := h.mach.VarRead(ebb.VarPenConfigB)
	if err != nil {
		return 0, 0, false, false
	}
	if codeUp == 0 || codeDown == 0 {
		return 0, 0, false, false
	}

	if h.machine.BrushlessZ {
		if codeUp <= 101 || codeDown <= 101 {
			return 0, 0, false, false
		}
		up = codeUp - 102
		down = codeDown - 102
	} else {
		if codeUp > 101 || codeDown > 101 {
			return 0, 0, false, false
		}
		up = codeUp - 1
		down = codeDown - 1
	}

	sb, err := h.mach.QueryStatusByte()
	if err != nil {
		// Assume pen up without further information.
		return up, down, true, true
	}
	return up, down, sb&ebb.StatusPenUp != 0, true
}

// ServoInit configures the pen-lift servo: positions, sweep rates,
// PWM channels, and timeout. When the controller already carries a
// matching configuration the initial pen move is skipped, avoiding a
// slow sweep on every reconnect.
func (h *Handler) ServoInit() error {
	h.updateTiming()

	if h.Preview {
		h.Phys.PenUp = true
		h.Phys.ZKnown = true
		return nil
	}

	pwmPeriod := 0.24 // 8 channels at 3 ms, in ms per percent
	if h.machine.BrushlessZ {
		pwmPeriod = 0.03
	}

	storedUp, storedDown, penWasUp, initialized := h.storedState()
	if initialized && storedUp == h.cfg.PosUp && storedDown == h.posDown {
		// Controller already configured with these settings; adopt
		// its pen state and skip the slow initial sweep.
		h.logger.Debug("servo already configured, pen up: %v", penWasUp)
		h.Phys.PenUp = penWasUp
		h.Phys.ZKnown = true
		return nil
	}
	h.logger.Debug("configuring pen servo, heights %d/%d", h.cfg.PosUp, h.posDown)
	goalUp := true // raising is the default initialization move

	servoMin := h.machine.ServoMin
	servoRange := h.machine.ServoMax - servoMin
	servoSlope := float64(servoRange) / 100.0
	rateScale := float64(servoRange) * pwmPeriod / float64(h.machine.ServoSweepTime)

	if err := h.mach.ServoRateUp(int(math.Round(rateScale * float64(h.cfg.RateRaise)))); err != nil {
		return err
	}
	if err := h.mach.ServoRateDown(int(math.Round(rateScale * float64(h.cfg.RateLower)))); err != nil {
		return err
	}
	if err := h.mach.ServoPosUp(int(math.Round(float64(servoMin) + servoSlope*float64(h.cfg.PosUp)))); err != nil {
		return err
	}
	if err := h.mach.ServoPosDown(int(math.Round(float64(servoMin) + servoSlope*float64(h.posDown)))); err != nil {
		return err
	}

	if goalUp {
		if err := h.mach.PenRaise(h.raiseTimeMs, h.machine.ServoPin); err != nil {
			return err
		}
		h.Phys.PenUp = true
	} else {
		if err := h.mach.PenLower(h.lowerTimeMs, h.machine.ServoPin); err != nil {
			return err
		}
		h.Phys.PenUp = false
	}
	h.Phys.ZKnown = true

	if h.machine.BrushlessZ {
		if err := h.mach.Command("SC,8,1"); err != nil {
			return err
		}
	} else {
		if err := h.mach.Command("SC,8,8"); err != nil {
			return err
		}
		// Power timeout only applies to the legacy servo.
		if err := h.mach.ServoTimeout(h.machine.ServoTimeout, 1); err != nil {
			return err
		}
	}

	codeUp, codeDown := h.heightCodes()
	if err := h.mach.VarWrite(codeUp, ebb.VarPenConfigA); err != nil {
		return err
	}
	return h.mach.VarWrite(codeDown, ebb.VarPenConfigB)
}

// ServoRevert restores the pen-down height after a pause. The
// emergency raise (SP,3) sets the pen-down height equal to the
// pen-up height; once motion has drained this puts it back.
func (h *Handler) ServoRevert() error {
	if !h.Phys.ZKnown {
		return nil
	}
	h.updateTiming()

	servoMin := h.machine.ServoMin
	servoSlope := float64(h.machine.ServoMax-servoMin) / 100.0
	return h.mach.ServoPosDown(int(math.Round(float64(servoMin) + servoSlope*float64(h.posDown))))
}

// ResetForPlot clears per-plot pen state: lift count and any
// temporary height override.
func (h *Handler) ResetForPlot() {
	h.Lifts = 0
	h.tempHeight = false
	h.posDown = h.cfg.PosDown
	h.updateTiming()
}
