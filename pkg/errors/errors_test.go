// Tests for plotdrive error codes
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeClassification(t *testing.T) {
	tests := []struct {
		code      Code
		userPause bool
		fault     bool
	}{
		{CodeNone, false, false},
		{CodeProgram, true, false},
		{CodeBetweenCopies, true, false},
		{CodeButton, true, false},
		{CodeKeyboard, true, false},
		{CodeConnection, false, true},
		{CodePower, false, true},
		{CodeConnectFailed, false, true},
		{CodeHoming, false, false},
		{CodePlanning, false, false},
	}
	for _, tt := range tests {
		if got := tt.code.UserPause(); got != tt.userPause {
			t.Errorf("%v.UserPause() = %v, want %v", tt.code, got, tt.userPause)
		}
		if got := tt.code.Fault(); got != tt.fault {
			t.Errorf("%v.Fault() = %v, want %v", tt.code, got, tt.fault)
		}
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	base := fmt.Errorf("read timed out")
	err := Wrap(base, CodeConnection, "status query failed")

	if !errors.Is(err, base) {
		t.Errorf("errors.Is(err, base) = false, want true")
	}
	if got := CodeOf(err); got != CodeConnection {
		t.Errorf("CodeOf(err) = %v, want %v", got, CodeConnection)
	}
	wrapped := fmt.Errorf("feed aborted: %w", err)
	if got := CodeOf(wrapped); got != CodeConnection {
		t.Errorf("CodeOf(wrapped) = %v, want %v", got, CodeConnection)
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeHoming, "fine limit not found")
	if !IsCode(err, CodeHoming) {
		t.Errorf("IsCode(err, CodeHoming) = false, want true")
	}
	if IsCode(err, CodeButton) {
		t.Errorf("IsCode(err, CodeButton) = true, want false")
	}
	if IsCode(nil, CodeHoming) {
		t.Errorf("IsCode(nil, CodeHoming) = true, want false")
	}
}
