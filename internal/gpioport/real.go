package gpioport

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warthog618/gpiod"
)

// minSoftPWMPeriod is the shortest toggling period of the software PWM
// generator.
// 1000Hz carrier / 100 duty steps would need a 10us tick; gpiod lines
// are not fast enough for that over a full /dev/gpiochipN round trip,
// so instead the generator toggles at a period derived from the
// configured frequency directly (matching the datasheet's nominal
// 1000Hz) and distributes on/off time within that single period
// according to duty percent. This is coarser than a hardware PWM
// block but matches the open-loop, timed-dispense model in spec.md
// §1: what matters is average on-time over the run, not waveform
// fidelity.
const minSoftPWMPeriod = time.Millisecond

// RealPort is the GPIO port backed by gpiod (Linux GPIO character
// device), grounded on aleFerri99-device-gpiod/gpio.GPIO.
type RealPort struct {
	chipName string

	mu    sync.Mutex
	lines map[int]*gpiod.Line
	pwms  map[int]*realPWM
}

// NewRealPort opens a port bound to the named gpiod chip (e.g.
// "gpiochip0").
func NewRealPort(chipName string) *RealPort {
	return &RealPort{
		chipName: chipName,
		lines:    make(map[int]*gpiod.Line),
		pwms:     make(map[int]*realPWM),
	}
}

func (r *RealPort) ConfigureOutput(pin int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lines[pin]; ok {
		return nil
	}
	line, err := gpiod.RequestLine(r.chipName, pin, gpiod.AsOutput(0))
	if err != nil {
		log.Printf("gpioport: chip %s line %d: configure output failed: %v", r.chipName, pin, err)
		return fmt.Errorf("gpioport: configure output pin %d: %w", pin, err)
	}
	r.lines[pin] = line
	return nil
}

func (r *RealPort) Write(pin int, level Level) error {
	r.mu.Lock()
	line, ok := r.lines[pin]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("gpioport: pin %d not configured as output", pin)
	}
	v := 0
	if level == High {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		log.Printf("gpioport: chip %s line %d: write %v failed: %v", r.chipName, pin, level, err)
		return fmt.Errorf("gpioport: write pin %d: %w", pin, err)
	}
	return nil
}

func (r *RealPort) OpenPWM(pin int, frequencyHz int) (PWMHandle, error) {
	if err := r.ConfigureOutput(pin); err != nil {
		return nil, err
	}
	period := time.Second / time.Duration(frequencyHz)
	if period < minSoftPWMPeriod {
		period = minSoftPWMPeriod
	}
	p := &realPWM{port: r, pin: pin, period: period, stop: make(chan struct{})}
	r.mu.Lock()
	r.pwms[pin] = p
	r.mu.Unlock()
	return p, nil
}

func (r *RealPort) ReleaseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pin, p := range r.pwms {
		p.closeLocked()
		delete(r.pwms, pin)
	}
	for pin, line := range r.lines {
		_ = line.SetValue(0)
		if err := line.Close(); err != nil {
			log.Printf("gpioport: chip %s line %d: release failed: %v", r.chipName, pin, err)
		}
		delete(r.lines, pin)
	}
	return nil
}

// realPWM toggles a gpiod output line on a ticker to approximate a
// hardware PWM channel.
type realPWM struct {
	port   *RealPort
	pin    int
	period time.Duration

	mu      sync.Mutex
	duty    int
	running bool
	stop    chan struct{}
}

func (p *realPWM) Start(dutyPercent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duty = clampDuty(dutyPercent)
	if !p.running {
		p.running = true
		p.stop = make(chan struct{})
		go p.run(p.stop)
	}
	return nil
}

func (p *realPWM) SetDuty(dutyPercent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duty = clampDuty(dutyPercent)
	return nil
}

func (p *realPWM) Stop() error {
	p.mu.Lock()
	p.duty = 0
	p.mu.Unlock()
	return p.port.Write(p.pin, Low)
}

func (p *realPWM) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *realPWM) closeLocked() {
	if p.running {
		close(p.stop)
		p.running = false
	}
}

func (p *realPWM) run(stop chan struct{}) {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		duty := p.duty
		p.mu.Unlock()

		onTime := p.period * time.Duration(duty) / 100
		offTime := p.period - onTime

		if onTime > 0 {
			_ = p.port.Write(p.pin, High)
			select {
			case <-time.After(onTime):
			case <-stop:
				return
			}
		}
		if offTime > 0 {
			_ = p.port.Write(p.pin, Low)
			select {
			case <-time.After(offTime):
			case <-stop:
				return
			}
		}

		select {
		case <-ticker.C:
		case <-stop:
			return
		}
	}
}

func clampDuty(d int) int {
	if d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}
