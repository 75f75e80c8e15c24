// mock-ebb simulates an EBB motion controller over TCP for testing
// the host without hardware. It speaks the ASCII command vocabulary
// the host uses: moves are acknowledged and step counters tracked,
// the pen state feeds the status byte, and the limit switch "trips"
// whenever limit detection is armed so homing runs to completion.
//
// Usage:
//
//	mock-ebb -addr :9720 [-trace]
//
// Point the host at it with: plotdrive -port tcp:localhost:9720
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

const versionString = "EBBv13_and_above EB Firmware Version 3.0.2 (mock)"

// controller holds the simulated firmware state for one connection.
type controller struct {
	mu sync.Mutex

	steps1, steps2 int64
	vars           map[int]int
	penUp          bool

	res1, res2 int

	limitTarget  int
	limitArmed   bool
	limitLatched bool

	// bumped counts armed moves, so the first (coarse) bump reports
	// a long apparent distance and later (fine) bumps a short one.
	bumped int

	coarseSteps int64
	fineSteps   int64
}

func newController(coarseSteps, fineSteps int64) *controller {
	return &controller{
		vars:        make(map[int]int),
		penUp:       true,
		coarseSteps: coarseSteps,
		fineSteps:   fineSteps,
	}
}

// handle processes one command line and returns the response lines.
func (c *controller) handle(line string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := strings.Split(line, ",")
	name := strings.ToUpper(strings.TrimSpace(parts[0]))
	args := parts[1:]

	switch name {
	case "V":
		return []string{versionString}

	case "QG":
		var sb byte
		if c.limitLatched {
			sb |= 0x80
		}
		if c.penUp {
			sb |= 0x10
		}
		return []string{fmt.Sprintf("QG,%02X", sb)}

	case "QS":
		return []string{fmt.Sprintf("QS,%d,%d", c.steps1, c.steps2)}

	case "CS":
		c.steps1, c.steps2 = 0, 0
		return []string{"OK"}

	case "QC":
		// RA0 reading, V+ reading. 300 is comfortably above the
		// host's power threshold.
		return []string{"QC,0300,0300"}

	case "QL":
		idx := atoi(args, 0)
		return []string{fmt.Sprintf("QL,%d", c.vars[idx])}

	case "SL":
		if len(args) >= 2 {
			c.vars[atoi(args, 1)] = atoi(args, 0)
		}
		return []string{"OK"}

	case "QE":
		return []string{fmt.Sprintf("QE,%d,%d", c.res1, c.res2)}

	case "EM":
		c.res1, c.res2 = atoi(args, 0), atoi(args, 1)
		c.steps1, c.steps2 = 0, 0
		return []string{"OK"}

	case "QU":
		// Only subcommand 6 (FIFO depth) is queried; the mock
		// executes instantly so the queue is always empty.
		return []string{"QU,6,0"}

	case "SM":
		c.applyMove(atoi64(args, 1), atoi64(args, 0))
		return []string{"OK"}

	case "HM":
		if len(args) >= 3 {
			c.steps1 = int64(atoi(args, 1))
			c.steps2 = int64(atoi(args, 2))
		} else {
			c.steps1, c.steps2 = 0, 0
		}
		return []string{"OK"}

	case "T3", "TD":
		// Jerk moves carry rates, not steps; the mock acknowledges
		// and leaves counters to the CS/QS bookkeeping the host does.
		return []string{"OK"}

	case "SP":
		switch atoi(args, 0) {
		case 0:
			c.penUp = false
		case 1, 3:
			c.penUp = true
		}
		return []string{"OK"}

	case "ES":
		return []string{"OK"}

	case "SC", "SR", "PO", "PD":
		return []string{"OK"}

	case "PI":
		// Limit switch input: high when pressed. The mock's switch
		// is released unless a bump latched it.
		val := 0
		if c.limitLatched {
			val = 1
		}
		return []string{fmt.Sprintf("PI,%d", val)}

	case "CU":
		switch atoi(args, 0) {
		case 51:
			c.limitArmed = atoi(args, 1) != 0
			if !c.limitArmed {
				c.limitLatched = false
			}
		case 52:
			c.limitTarget = atoi(args, 1)
		}
		return []string{"OK"}

	default:
		return []string{fmt.Sprintf("!8 Err: unknown command %q", name)}
	}
}

// applyMove advances the step counters for an SM move. When limit
// detection is armed the move "hits" the switch: the counters land
// at the apparent bump distance and the limit bit latches.
func (c *controller) applyMove(steps1, steps2 int64) {
	if c.limitArmed && !c.limitLatched {
		c.bumped++
		bump := c.fineSteps
		if c.bumped == 1 {
			bump = c.coarseSteps
		}
		c.steps1 = -bump
		c.steps2 = -bump
		c.limitLatched = true
		return
	}
	c.steps1 += steps1
	c.steps2 += steps2
}

func atoi(args []string, i int) int {
	if i >= len(args) {
		return 0
	}
	v, _ := strconv.Atoi(strings.TrimSpace(args[i]))
	return v
}

func atoi64(args []string, i int) int64 {
	if i >= len(args) {
		return 0
	}
	v, _ := strconv.ParseInt(strings.TrimSpace(args[i]), 10, 64)
	return v
}

func serve(conn net.Conn, coarseSteps, fineSteps int64, trace bool) {
	defer conn.Close()
	ctl := newController(coarseSteps, fineSteps)
	scanner := bufio.NewScanner(conn)
	scanner.Split(scanCR)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if trace {
			fmt.Printf("<- %s\n", line)
		}
		for _, resp := range ctl.handle(line) {
			if trace {
				fmt.Printf("-> %s\n", resp)
			}
			fmt.Fprintf(conn, "%s\r\n", resp)
		}
	}
}

// scanCR splits on carriage returns, the EBB command terminator.
func scanCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\r' || b == '\n' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func main() {
	addr := flag.String("addr", ":9720", "TCP listen address")
	trace := flag.Bool("trace", false, "Print commands and responses")
	coarse := flag.Int64("coarse-steps", 16256, "Apparent step count of the first homing bump")
	fine := flag.Int64("fine-steps", 150, "Apparent step count of later homing bumps")
	flag.Parse()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listening on %s: %v\n", *addr, err)
		os.Exit(1)
	}
	fmt.Printf("mock-ebb listening on %s\n", ln.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		ln.Close()
		os.Exit(0)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fmt.Printf("connection from %s\n", conn.RemoteAddr())
		go serve(conn, *coarse, *fine, *trace)
	}
}
