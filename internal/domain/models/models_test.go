package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNetWeightFollowsGrossAndTare(t *testing.T) {
	var s WeighingSession
	s.SetGross(24500)
	if s.NetKg != 24500 {
		t.Fatalf("net = %v, want 24500 before tare", s.NetKg)
	}
	s.SetTare(8200, TareVehicle)
	if s.NetKg != 16300 {
		t.Errorf("net = %v, want 16300", s.NetKg)
	}
	s.SetGross(25000)
	if s.NetKg != 16800 {
		t.Errorf("net = %v, want 16800 after regross", s.NetKg)
	}
}

func TestTerminalStates(t *testing.T) {
	tests := []struct {
		state SessionState
		want  bool
	}{
		{StateIdle, false},
		{StateWeighing, false},
		{StateStableCaptured, false},
		{StateAwaitingPlate, false},
		{StateReadyToSubmit, false},
		{StateSubmitting, false},
		{StateCommitted, true},
		{StateAbandoned, true},
		{StateFailed, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestCloneDetachesPointers(t *testing.T) {
	now := time.Now()
	s := WeighingSession{SessionID: "a", CapturedAt: &now, ANPR: &ANPRRequest{RequestID: "r", ResolvedAt: &now}}
	c := s.Clone()
	*c.CapturedAt = now.Add(time.Hour)
	c.ANPR.Plate = "B 1234 XY"
	if !s.CapturedAt.Equal(now) {
		t.Error("clone shares CapturedAt with original")
	}
	if s.ANPR.Plate != "" {
		t.Error("clone shares ANPR with original")
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	var err error = &ValidationError{SessionID: "s1", Field: "gross_kg", Reason: "must exceed tare"}
	if !errors.Is(fmt.Errorf("wrapped: %w", err), ErrValidation) {
		t.Error("ValidationError does not match ErrValidation")
	}

	cause := errors.New("connection reset")
	err = &PersistenceError{SessionID: "s1", Attempts: 3, Err: cause}
	if !errors.Is(err, ErrPersistence) {
		t.Error("PersistenceError does not match ErrPersistence")
	}
	if !errors.Is(err, cause) {
		t.Error("PersistenceError does not unwrap its cause")
	}
}
