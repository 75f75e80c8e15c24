// Machine and planner parameters for the plotdrive host
//
// Narrow parameter structs passed into the planning and execution
// layers. Config-file parsing is a caller concern; this package only
// defines the shapes, the model tables, and the defaults.
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package params

// Resolution selects the microstepping mode of the motion controller.
type Resolution int

const (
	// ResHigh is 16X microstepping ("super" mode).
	ResHigh Resolution = 1
	// ResLow is 8X microstepping ("normal" mode).
	ResLow Resolution = 2
)

// String returns the resolution name.
func (r Resolution) String() string {
	switch r {
	case ResHigh:
		return "high"
	case ResLow:
		return "low"
	default:
		return "unknown"
	}
}

// NativeResFactor is the motor steps per inch of native-axis belt
// travel at 8X microstepping. High resolution doubles it.
const NativeResFactor = 1016.064

// StepScale returns steps per inch along the native axes for the
// given resolution.
func (r Resolution) StepScale() float64 {
	if r == ResHigh {
		return 2.0 * NativeResFactor
	}
	return NativeResFactor
}

// EBBResolutionCode returns the EM command resolution argument for
// the given microstepping mode.
func (r Resolution) EBBResolutionCode() int {
	if r == ResHigh {
		return 1 // 16X
	}
	return 2 // 8X
}

// Bounds is the rectangular travel limit in inches, [min, max] per axis.
type Bounds struct {
	XMin, YMin float64
	XMax, YMax float64
}

// Machine holds model-specific physical parameters.
type Machine struct {
	// ModelName is the human-readable hardware name.
	ModelName string

	// TravelX, TravelY are the axis travels in inches.
	TravelX float64
	TravelY float64

	// BoundsTolerance is the slack allowed when clipping destinations
	// to the travel bounds before flagging a warning.
	BoundsTolerance float64

	// AutoHome is true when the model carries a homing limit switch.
	AutoHome bool

	// BrushlessZ is true for the narrow-band brushless pen-lift
	// motor; false selects the legacy hobby servo.
	BrushlessZ bool

	// ServoTimeout is the ms of idle time before the legacy servo
	// output powers down.
	ServoTimeout int

	// Servo (pen-lift motor) parameters. Max and min positions are
	// PWM widths in units of 1/12 MHz (about 83.3 ns).
	ServoPin       int
	ServoMax       int
	ServoMin       int
	ServoSweepTime int     // ms to sweep the control signal over 100% range
	ServoMoveMin   int     // minimum ms for a non-zero pen lift or lower
	ServoMoveSlope float64 // additional ms per percent of vertical travel
}

// TravelBounds returns the machine's travel limits as Bounds.
func (m Machine) TravelBounds() Bounds {
	return Bounds{XMin: 0, YMin: 0, XMax: m.TravelX, YMax: m.TravelY}
}

// Planner holds the per-plot motion planning parameters.
type Planner struct {
	// SpeedPenDown, SpeedPenUp are speed limits in inch/s.
	SpeedPenDown float64
	SpeedPenUp   float64

	// JerkPenDown, JerkPenUp in inch/s^3.
	JerkPenDown float64
	JerkPenUp   float64

	// Resolution selects the microstepping mode.
	Resolution Resolution

	// Accel is the acceleration setting as a percentage, 1 to 100.
	// It derates the jerk rates cubically; see EffectiveJerks.
	Accel float64

	// ConstSpeed forces constant-velocity segments at the speed limit.
	ConstSpeed bool

	// Bounds are the travel limits applied during segment compilation.
	Bounds Bounds

	// IgnoreBounds disables bounds clipping (utility moves).
	IgnoreBounds bool
}

// StepScale returns steps per inch for the configured resolution.
func (p Planner) StepScale() float64 {
	return p.Resolution.StepScale()
}

// EffectiveJerks returns the pen-up and pen-down jerk rates in
// inch/s^3 after applying the acceleration percentage. The percentage
// scales cubically, so a 50% accel setting yields 12.5% of nominal jerk.
func (p Planner) EffectiveJerks() (up, down float64) {
	accel := p.Accel
	if accel > 100 {
		accel = 100
	}
	scale := accel / 100.0
	scale = scale * scale * scale
	return p.JerkPenUp * scale, p.JerkPenDown * scale
}

// ZMotor describes a pen-lift motor type.
type ZMotor struct {
	Name      string
	Pin       int
	Max       int
	Min       int
	SweepTime int
	MoveMin   int
	MoveSlope float64
}

// ZMotors lists the supported pen-lift motor types. Index 0 is the
// standard hobby servo, index 1 the narrow-band brushless servo.
var ZMotors = []ZMotor{
	{
		Name:      "Standard servo",
		Pin:       1,
		Max:       27831,
		Min:       9855,
		SweepTime: 200,
		MoveMin:   45,
		MoveSlope: 2.69,
	},
	{
		Name:      "Narrow-band brushless servo",
		Pin:       2,
		Max:       12600,
		Min:       5400,
		SweepTime: 70,
		MoveMin:   20,
		MoveSlope: 1.28,
	},
}

// Handler describes a handling mode: a parameter set tuned for one
// class of plotting work.
type Handler struct {
	Name       string
	Resolution Resolution
	Jerk       float64 // nominal pen-down jerk; 0 selects constant speed
	Speed      float64 // pen-down speed limit, inch/s
	SpeedUp    float64 // pen-up speed limit, inch/s
	Tolerance  float64 // allowed curve-sampling error, inches
}

// Handlers lists the named handling modes. Index 0 is "none selected".
var Handlers = []Handler{
	{Name: "No handler selected"},
	{Name: "Technical drawing", Resolution: ResHigh, Jerk: 20000,
		Speed: 8.6979, SpeedUp: 8.6979, Tolerance: 0.002},
	{Name: "Handwriting", Resolution: ResLow, Jerk: 90000,
		Speed: 7, SpeedUp: 12, Tolerance: 0.008},
	{Name: "Sketching", Resolution: ResLow, Jerk: 14000,
		Speed: 12, SpeedUp: 12, Tolerance: 0.005},
	{Name: "Constant speed", Resolution: ResHigh, Jerk: 0,
		Speed: 3.0, SpeedUp: 8.6979, Tolerance: 0.002},
}

// Model describes a plotter hardware model.
type Model struct {
	Name        string
	TravelX     float64
	TravelY     float64
	JerkPenUpHi float64 // maximum pen-up jerk, high res, in/s^3
	JerkPenUpLo float64 // maximum pen-up jerk, low res, in/s^3
	JerkDerate  float64 // derating factor for pen-down jerk
	AutoHome    bool
	ZMotor      int // index into ZMotors
}

// Models lists the supported plotter models. Index 0 is "none selected".
var Models = []Model{
	{Name: "No model selected", JerkDerate: 1},
	{Name: "AxiDraw V3 or SE/A4", TravelX: 11.81, TravelY: 8.58,
		JerkPenUpHi: 19000, JerkPenUpLo: 13000, JerkDerate: 1.0},
	{Name: "AxiDraw V3/A3 or SE/A3", TravelX: 16.93, TravelY: 11.69,
		JerkPenUpHi: 17000, JerkPenUpLo: 12000, JerkDerate: 0.9},
	{Name: "AxiDraw V3 XLX", TravelX: 23.42, TravelY: 8.58,
		JerkPenUpHi: 18000, JerkPenUpLo: 13000, JerkDerate: 1.0},
	{Name: "AxiDraw MiniKit", TravelX: 6.30, TravelY: 4.00,
		JerkPenUpHi: 6000, JerkPenUpLo: 6000, JerkDerate: 0.6},
	{Name: "AxiDraw SE/A1", TravelX: 34.02, TravelY: 23.39,
		JerkPenUpHi: 13000, JerkPenUpLo: 8000, JerkDerate: 0.6},
	{Name: "AxiDraw SE/A2", TravelX: 23.39, TravelY: 17.01,
		JerkPenUpHi: 16000, JerkPenUpLo: 10000, JerkDerate: 0.7},
	{Name: "AxiDraw V3/B6", TravelX: 7.48, TravelY: 5.51,
		JerkPenUpHi: 14000, JerkPenUpLo: 14000, JerkDerate: 1.0},
	{Name: "Bantam Tools NextDraw 8511", TravelX: 11.81, TravelY: 8.58,
		JerkPenUpHi: 19000, JerkPenUpLo: 13000, JerkDerate: 1.0,
		AutoHome: true, ZMotor: 1},
	{Name: "Bantam Tools NextDraw 1117", TravelX: 16.93, TravelY: 11.69,
		JerkPenUpHi: 17000, JerkPenUpLo: 12000, JerkDerate: 0.9,
		AutoHome: true, ZMotor: 1},
	{Name: "Bantam Tools NextDraw 2234", TravelX: 34.02, TravelY: 23.39,
		JerkPenUpHi: 13000, JerkPenUpLo: 8000, JerkDerate: 0.6,
		AutoHome: true, ZMotor: 1},
}

// MachineFor builds a Machine from a model table entry.
func MachineFor(model int) Machine {
	if model <= 0 || model >= len(Models) {
		model = 0
	}
	m := Models[model]
	z := ZMotors[m.ZMotor]
	return Machine{
		ModelName:       m.Name,
		TravelX:         m.TravelX,
		TravelY:         m.TravelY,
		BoundsTolerance: 0.003,
		AutoHome:        m.AutoHome,
		BrushlessZ:      m.ZMotor == 1,
		ServoTimeout:    60000,
		ServoPin:        z.Pin,
		ServoMax:        z.Max,
		ServoMin:        z.Min,
		ServoSweepTime:  z.SweepTime,
		ServoMoveMin:    z.MoveMin,
		ServoMoveSlope:  z.MoveSlope,
	}
}

// PlannerFor builds a Planner from a model and handling mode,
// applying the model's pen-down jerk derate and per-resolution
// pen-up jerk.
func PlannerFor(model, handling int) Planner {
	if model <= 0 || model >= len(Models) {
		model = 0
	}
	if handling <= 0 || handling >= len(Handlers) {
		handling = 1
	}
	m := Models[model]
	h := Handlers[handling]

	p := Planner{
		SpeedPenDown: h.Speed,
		SpeedPenUp:   h.SpeedUp,
		Accel:        100,
		JerkPenDown:  h.Jerk * m.JerkDerate,
		Resolution:   h.Resolution,
		ConstSpeed:   h.Jerk == 0,
		Bounds:       Bounds{XMax: m.TravelX, YMax: m.TravelY},
	}
	if h.Resolution == ResLow {
		p.JerkPenUp = m.JerkPenUpLo
	} else {
		p.JerkPenUp = m.JerkPenUpHi
	}
	return p
}
