package gpioport

import (
	"fmt"
	"sync"
)

// SimPort is the simulated GPIO port: an in-memory map of
// pin -> last-written level and pin -> current PWM duty, usable for
// tests and for running the whole stack on a developer machine.
// Simulated PWM is pure bookkeeping — durations elapse via the system
// clock, not physical pulses.
type SimPort struct {
	mu         sync.Mutex
	configured map[int]bool
	levels     map[int]Level
	duties     map[int]int
	pwmFreqHz  map[int]int
	pwmOpen    map[int]bool
}

// NewSimPort constructs an empty simulated port.
func NewSimPort() *SimPort {
	return &SimPort{
		configured: make(map[int]bool),
		levels:     make(map[int]Level),
		duties:     make(map[int]int),
		pwmFreqHz:  make(map[int]int),
		pwmOpen:    make(map[int]bool),
	}
}

func (s *SimPort) ConfigureOutput(pin int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured[pin] = true
	s.levels[pin] = Low
	return nil
}

func (s *SimPort) Write(pin int, level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured[pin] {
		return fmt.Errorf("gpioport: sim pin %d not configured as output", pin)
	}
	s.levels[pin] = level
	return nil
}

func (s *SimPort) OpenPWM(pin int, frequencyHz int) (PWMHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pwmOpen[pin] = true
	s.pwmFreqHz[pin] = frequencyHz
	s.duties[pin] = 0
	return &simPWM{port: s, pin: pin}, nil
}

func (s *SimPort) ReleaseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pin := range s.configured {
		s.levels[pin] = Low
	}
	for pin := range s.pwmOpen {
		s.duties[pin] = 0
		s.pwmOpen[pin] = false
	}
	return nil
}

// Level reports the last level written to pin, for assertions in
// tests.
func (s *SimPort) Level(pin int) Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin]
}

// Duty reports the current PWM duty cycle on pin, for assertions in
// tests.
func (s *SimPort) Duty(pin int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duties[pin]
}

type simPWM struct {
	port *SimPort
	pin  int
}

func (p *simPWM) Start(dutyPercent int) error {
	p.port.mu.Lock()
	defer p.port.mu.Unlock()
	p.port.duties[p.pin] = dutyPercent
	return nil
}

func (p *simPWM) SetDuty(dutyPercent int) error {
	p.port.mu.Lock()
	defer p.port.mu.Unlock()
	if !p.port.pwmOpen[p.pin] {
		return fmt.Errorf("gpioport: sim pwm pin %d not open", p.pin)
	}
	p.port.duties[p.pin] = dutyPercent
	return nil
}

func (p *simPWM) Stop() error {
	p.port.mu.Lock()
	defer p.port.mu.Unlock()
	p.port.duties[p.pin] = 0
	return nil
}

func (p *simPWM) Close() error {
	p.port.mu.Lock()
	defer p.port.mu.Unlock()
	p.port.duties[p.pin] = 0
	p.port.pwmOpen[p.pin] = false
	return nil
}
