// Simulated controller tests
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"testing"
)

func send(t *testing.T, c *controller, cmd string) string {
	t.Helper()
	resp := c.handle(cmd)
	if len(resp) != 1 {
		t.Fatalf("handle(%q) returned %d lines, want 1", cmd, len(resp))
	}
	return resp[0]
}

func TestVersionQuery(t *testing.T) {
	c := newController(16256, 150)
	if got := send(t, c, "V"); got != versionString {
		t.Errorf("V = %q, want %q", got, versionString)
	}
}

func TestStepCountersTrackMoves(t *testing.T) {
	c := newController(16256, 150)

	send(t, c, "SM,100,250,50")
	send(t, c, "SM,-40,10,50")
	if got := send(t, c, "QS"); got != "QS,260,60" {
		t.Errorf("QS = %q, want QS,260,60", got)
	}

	send(t, c, "CS")
	if got := send(t, c, "QS"); got != "QS,0,0" {
		t.Errorf("QS after CS = %q, want QS,0,0", got)
	}
}

func TestPenStateInStatusByte(t *testing.T) {
	c := newController(16256, 150)

	if got := send(t, c, "QG"); got != "QG,10" {
		t.Errorf("QG with pen up = %q, want QG,10", got)
	}
	send(t, c, "SP,0,400,2")
	if got := send(t, c, "QG"); got != "QG,00" {
		t.Errorf("QG with pen down = %q, want QG,00", got)
	}
	send(t, c, "SP,3")
	if got := send(t, c, "QG"); got != "QG,10" {
		t.Errorf("QG after emergency raise = %q, want QG,10", got)
	}
}

func TestVariableRoundTrip(t *testing.T) {
	c := newController(16256, 150)

	send(t, c, "SL,1,12")
	if got := send(t, c, "QL,12"); got != "QL,1" {
		t.Errorf("QL,12 = %q, want QL,1", got)
	}
	if got := send(t, c, "QL,13"); got != "QL,0" {
		t.Errorf("QL,13 = %q, want QL,0", got)
	}
}

func TestArmedMoveBumpsLimit(t *testing.T) {
	c := newController(16256, 150)

	send(t, c, "CU,52,2")
	send(t, c, "CU,51,2")
	send(t, c, "SM,-30000,-30000,4000")

	if got := send(t, c, "QS"); got != "QS,-16256,-16256" {
		t.Errorf("QS after coarse bump = %q, want QS,-16256,-16256", got)
	}
	if got := send(t, c, "QG"); got != "QG,90" {
		t.Errorf("QG after bump = %q, want QG,90 (limit + pen up)", got)
	}

	// Disarm clears the latch; the next armed move is a fine bump.
	send(t, c, "CU,51,0")
	if got := send(t, c, "QG"); got != "QG,10" {
		t.Errorf("QG after disarm = %q, want QG,10", got)
	}
	send(t, c, "EM,1,1")
	send(t, c, "CU,51,2")
	send(t, c, "SM,-1000,-1000,500")
	if got := send(t, c, "QS"); got != "QS,-150,-150" {
		t.Errorf("QS after fine bump = %q, want QS,-150,-150", got)
	}
}

func TestUnknownCommandErrors(t *testing.T) {
	c := newController(16256, 150)
	if got := send(t, c, "ZZ,1"); got[0] != '!' {
		t.Errorf("unknown command response = %q, want error prefix '!'", got)
	}
}
