// plotdrive drives an EBB-based pen plotter: it connects to the
// controller, homes the carriage, and plots a waypoint file with
// drip-fed motion commands.
//
// Usage:
//
//	plotdrive -file drawing.txt [options]
//
// The waypoint file holds one "x y" pair per line, in inches, with
// blank lines separating pen-down polylines.
//
// Options:
//
//	-file string     Waypoint file to plot (required unless -home-only)
//	-config string   Settings file (INI); flags override file values
//	-port string     Serial device, tcp:host:port, or empty to scan
//	-model int       Hardware model index (default 8)
//	-handling int    Speed/jerk handling preset 1-4 (default 1)
//	-copies int      Number of copies to plot (default 1)
//	-page-delay int  Seconds to wait between copies (default 15)
//	-preview         Simulate the plot and report the time estimate
//	-home-only       Home the carriage and exit
//	-monitor string  Status server address (e.g. :9730), empty to disable
//	-logfile string  Log file path (default: stderr)
//	-trace           Enable debug logging
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"plotdrive/pkg/config"
	"plotdrive/pkg/dripfeed"
	"plotdrive/pkg/ebb"
	"plotdrive/pkg/errors"
	"plotdrive/pkg/homing"
	"plotdrive/pkg/log"
	"plotdrive/pkg/monitor"
	"plotdrive/pkg/motion"
	"plotdrive/pkg/params"
	"plotdrive/pkg/pen"
	"plotdrive/pkg/serial"
	"plotdrive/pkg/status"
)

func main() {
	defaults := config.DefaultSettings()
	file := flag.String("file", "", "Waypoint file to plot")
	cfgFile := flag.String("config", "", "Settings file; flags override file values")
	port := flag.String("port", defaults.Port, "Serial device, tcp:host:port, or empty to scan")
	model := flag.Int("model", defaults.Model, "Hardware model index")
	handling := flag.Int("handling", defaults.Handling, "Speed/jerk handling preset 1-4")
	copies := flag.Int("copies", defaults.Copies, "Number of copies to plot")
	pageDelay := flag.Int("page-delay", defaults.PageDelay, "Seconds to wait between copies")
	preview := flag.Bool("preview", false, "Simulate the plot and report the time estimate")
	homeOnly := flag.Bool("home-only", false, "Home the carriage and exit")
	monitorAddr := flag.String("monitor", defaults.Monitor, "Status server address, empty to disable")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	trace := flag.Bool("trace", false, "Enable debug logging")
	flag.Parse()

	settings := defaults
	if *cfgFile != "" {
		var err error
		settings, err = config.LoadSettings(*cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", *cfgFile, err)
			os.Exit(1)
		}
		// File values apply only where no flag was given.
		set := make(map[string]bool)
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if !set["port"] {
			*port = settings.Port
		}
		if !set["monitor"] {
			*monitorAddr = settings.Monitor
		}
		if !set["model"] {
			*model = settings.Model
		}
		if !set["handling"] {
			*handling = settings.Handling
		}
		if !set["copies"] {
			*copies = settings.Copies
		}
		if !set["page-delay"] {
			*pageDelay = settings.PageDelay
		}
	}

	level := log.INFO
	if *trace {
		level = log.DEBUG
	}
	if *logFile != "" {
		w, err := log.NewRotatingFileWriter(log.RotationConfig{Filename: *logFile})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer w.Close()
		log.Configure(level, w)
	} else {
		log.Configure(level, nil)
	}
	logger := log.GetLogger("main")

	if *file == "" && !*homeOnly {
		fmt.Fprintf(os.Stderr, "Error: -file is required\n")
		flag.Usage()
		os.Exit(1)
	}

	var paths [][]motion.Vertex
	if *file != "" {
		var err error
		paths, err = loadPaths(*file)
		if err != nil {
			logger.Error("Loading %s: %v", *file, err)
			os.Exit(1)
		}
		logger.Info("Loaded %d paths from %s", len(paths), *file)
	}

	machine := params.MachineFor(*model)
	plan := params.PlannerFor(*model, *handling)
	logger.Info("Model: %s, handling preset %d", machine.ModelName, *handling)

	pos := &motion.PenPosition{}
	track := status.NewTracker()
	track.CopiesToPlot = *copies

	var mach ebb.Commander
	var portDev string
	if !*preview {
		cfg := serial.DefaultConfig(*port)
		sp, err := serial.Detect(cfg)
		if err != nil {
			logger.Error("Connecting: %v", err)
			os.Exit(1)
		}
		defer sp.Close()
		portDev = sp.Device()

		m := ebb.New(sp)
		if err := m.Configure(); err != nil {
			logger.Error("Configuring controller: %v", err)
			os.Exit(1)
		}
		version, err := m.QueryVersion()
		if err != nil {
			logger.Error("Querying version: %v", err)
			os.Exit(1)
		}
		logger.Info("Connected to %s on %s", version, portDev)

		if ok, err := m.QueryVoltage(homing.VoltageThreshold); err != nil {
			logger.Error("Voltage check: %v", err)
		} else if !ok {
			logger.Warn("Supply voltage low; check the power adapter")
		}
		if err := m.EnablePowerMonitor(homing.VoltageThreshold); err != nil {
			logger.Error("Power monitor: %v", err)
		}
		mach = m
	}

	penCfg := pen.Config{
		PosUp:     settings.PosUp,
		PosDown:   settings.PosDown,
		RateRaise: settings.RateRaise,
		RateLower: settings.RateLower,
	}
	penHandler := pen.NewHandler(mach, machine, penCfg, pos)
	penHandler.Preview = *preview

	feeder := dripfeed.NewFeeder(mach, penHandler, track, pos)
	feeder.Preview = *preview
	recorder := &dripfeed.Recorder{}
	if *preview {
		feeder.Recorder = recorder
		pos.Defined = true
	}

	var source *monitor.PlotSource
	if *monitorAddr != "" {
		source = monitor.NewPlotSource(mach, track, pos)
		feeder.PauseRequested = source.PauseRequested
		server := monitor.New(monitor.Config{Addr: *monitorAddr, Plotter: source})
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("Status server: %v", err)
			}
		}()
		defer server.Stop()
	}

	// First interrupt pauses at the next safe point; a second one
	// aborts motion immediately.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Interrupt: pausing at next safe point")
		if source != nil {
			source.RequestPause()
		} else {
			track.Stop(errors.CodeKeyboard)
		}
		<-sigCh
		logger.Info("Second interrupt: emergency stop")
		if mach != nil {
			mach.EmergencyStop()
			mach.EmergencyPenUp()
		}
		os.Exit(1)
	}()

	if err := penHandler.ServoInit(); err != nil {
		logger.Error("Servo setup: %v", err)
		os.Exit(1)
	}

	if !*preview {
		homer := homing.NewHomer(mach, machine, plan.Resolution, track, pos)
		if err := homer.FindHome(); err != nil {
			logger.Error("Homing: %v", err)
			os.Exit(1)
		}
		if *homeOnly {
			logger.Info("Homed at origin")
			return
		}
	}

	compiler := motion.NewCompiler(plan, machine.BoundsTolerance)
	if source != nil {
		source.Plotting.Store(true)
		defer source.Plotting.Store(false)
	}

	start := time.Now()
	plotAll(feeder, compiler, track, pos, paths, *pageDelay)

	if !track.Stopped() {
		if err := feeder.GoToPosition(compiler, 0, 0); err != nil {
			logger.Error("Return to origin: %v", err)
		}
		feeder.ExhaustQueue(60 * time.Second)
	}

	track.Stats.NextPage()
	if *preview {
		est := time.Duration(track.Stats.TimeEstimateMs) * time.Millisecond
		logger.Info("Preview: %d moves, estimated time %s", len(recorder.Moves), est.Round(time.Second))
	} else {
		logger.Info("Plot finished in %s", time.Since(start).Round(time.Second))
	}
	logger.Info("Travel: %.2f in pen down, %.2f in pen up",
		track.Stats.DownTravelTotal, track.Stats.UpTravelTotal)
	if code := track.Code(); code != 0 {
		logger.Warn("Stopped: %s", code)
		os.Exit(1)
	}
}

// plotAll plots every copy, folding per-page statistics between
// copies and honoring stop requests.
func plotAll(feeder *dripfeed.Feeder, compiler *motion.Compiler, track *status.Tracker, pos *motion.PenPosition, paths [][]motion.Vertex, pageDelaySec int) {
	for track.CopiesToPlot != 0 {
		for _, path := range paths {
			moves := compiler.PlotPolyline(path, pos)
			if moves == nil {
				continue
			}
			if err := feeder.Feed(moves); err != nil {
				return
			}
			if track.Stopped() {
				return
			}
		}
		track.CopiesToPlot--
		if track.CopiesToPlot != 0 {
			track.Stats.NextPage()
			feeder.PageLayerDelay(pageDelaySec*1000, true)
			if track.Stopped() {
				return
			}
		}
	}
}

// loadPaths parses a waypoint file: one "x y" pair per line in
// inches, blank lines separating polylines, '#' starting a comment.
func loadPaths(name string) ([][]motion.Vertex, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var paths [][]motion.Vertex
	var current []motion.Vertex
	flush := func() {
		if len(current) >= 2 {
			paths = append(paths, current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			flush()
			continue
		}
		var v motion.Vertex
		if _, err := fmt.Sscanf(line, "%f %f", &v.X, &v.Y); err != nil {
			return nil, fmt.Errorf("line %d: %q: %w", lineNo, line, err)
		}
		current = append(current, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return paths, nil
}
