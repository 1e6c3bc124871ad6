package room

import (
	"sync"
	"time"
)

// ActivityMonitor checks every interval whether a slot has been silent for
// longer than timeout, and reports the first such slot once.
type ActivityMonitor struct {
	clock     Clock
	interval  time.Duration
	timeout   time.Duration
	onTimeout func(number int)

	mu      sync.Mutex
	last    [2]time.Time
	timer   Timer
	running bool
}

func NewActivityMonitor(clock Clock, interval, timeout time.Duration, onTimeout func(number int)) *ActivityMonitor {
	return &ActivityMonitor{
		clock:     clock,
		interval:  interval,
		timeout:   timeout,
		onTimeout: onTimeout,
	}
}

// Start resets both slots to now and begins checking.
func (m *ActivityMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.last = [2]time.Time{now, now}
	m.running = true
	m.schedule()
}

func (m *ActivityMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *ActivityMonitor) Record(number int) {
	if number < 1 || number > 2 {
		return
	}
	m.mu.Lock()
	m.last[number-1] = m.clock.Now()
	m.mu.Unlock()
}

func (m *ActivityMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Check returns the first slot, in player order, idle for longer than timeout.
func (m *ActivityMonitor) Check() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired(m.clock.Now())
}

func (m *ActivityMonitor) expired(now time.Time) (int, bool) {
	for i, t := range m.last {
		if now.Sub(t) > m.timeout {
			return i + 1, true
		}
	}
	return 0, false
}

func (m *ActivityMonitor) schedule() {
	m.timer = m.clock.AfterFunc(m.interval, m.tick)
}

func (m *ActivityMonitor) tick() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	number, ok := m.expired(m.clock.Now())
	if !ok {
		m.schedule()
		m.mu.Unlock()
		return
	}
	m.running = false
	m.timer = nil
	m.mu.Unlock()

	m.onTimeout(number)
}
