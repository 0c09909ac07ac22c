package gpioport

import "testing"

func TestConfigureOutputDefaultsToLow(t *testing.T) {
	s := NewSimPort()
	if err := s.ConfigureOutput(5); err != nil {
		t.Fatalf("ConfigureOutput: %v", err)
	}
	if got := s.Level(5); got != Low {
		t.Errorf("level = %v, want Low", got)
	}
}

func TestWriteRejectsUnconfiguredPin(t *testing.T) {
	s := NewSimPort()
	if err := s.Write(5, High); err == nil {
		t.Fatal("Write on unconfigured pin succeeded, want error")
	}
}

func TestWriteUpdatesLevel(t *testing.T) {
	s := NewSimPort()
	if err := s.ConfigureOutput(5); err != nil {
		t.Fatalf("ConfigureOutput: %v", err)
	}
	if err := s.Write(5, High); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := s.Level(5); got != High {
		t.Errorf("level = %v, want High", got)
	}
}

func TestOpenPWMStartAndSetDuty(t *testing.T) {
	s := NewSimPort()
	h, err := s.OpenPWM(12, 1000)
	if err != nil {
		t.Fatalf("OpenPWM: %v", err)
	}
	if err := h.Start(40); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.Duty(12); got != 40 {
		t.Errorf("duty = %d, want 40", got)
	}
	if err := h.SetDuty(75); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	if got := s.Duty(12); got != 75 {
		t.Errorf("duty = %d, want 75", got)
	}
}

func TestPWMStopZeroesDutyWithoutClosing(t *testing.T) {
	s := NewSimPort()
	h, err := s.OpenPWM(12, 1000)
	if err != nil {
		t.Fatalf("OpenPWM: %v", err)
	}
	if err := h.Start(50); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := s.Duty(12); got != 0 {
		t.Errorf("duty after Stop = %d, want 0", got)
	}
	// still open: SetDuty should succeed after Stop.
	if err := h.SetDuty(20); err != nil {
		t.Fatalf("SetDuty after Stop: %v", err)
	}
}

func TestPWMCloseRejectsFurtherSetDuty(t *testing.T) {
	s := NewSimPort()
	h, err := s.OpenPWM(12, 1000)
	if err != nil {
		t.Fatalf("OpenPWM: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.SetDuty(20); err == nil {
		t.Fatal("SetDuty after Close succeeded, want error")
	}
}

func TestReleaseAllResetsLevelsAndDuties(t *testing.T) {
	s := NewSimPort()
	if err := s.ConfigureOutput(5); err != nil {
		t.Fatalf("ConfigureOutput: %v", err)
	}
	if err := s.Write(5, High); err != nil {
		t.Fatalf("Write: %v", err)
	}
	h, err := s.OpenPWM(12, 1000)
	if err != nil {
		t.Fatalf("OpenPWM: %v", err)
	}
	if err := h.Start(80); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.ReleaseAll(); err != nil {
		t.Fatalf("ReleaseAll: %v", err)
	}
	if got := s.Level(5); got != Low {
		t.Errorf("level after ReleaseAll = %v, want Low", got)
	}
	if got := s.Duty(12); got != 0 {
		t.Errorf("duty after ReleaseAll = %d, want 0", got)
	}
}

func TestReleaseAllIsIdempotent(t *testing.T) {
	s := NewSimPort()
	if err := s.ReleaseAll(); err != nil {
		t.Fatalf("first ReleaseAll: %v", err)
	}
	if err := s.ReleaseAll(); err != nil {
		t.Fatalf("second ReleaseAll: %v", err)
	}
}
