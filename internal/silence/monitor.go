package silence

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReasonUnresponsive is the end-of-call reason reported when the reminder
// ceiling is exhausted. A designed terminal state, not a fault.
const ReasonUnresponsive = "unresponsive"

// TimeoutMessage is spoken to the caller just before the call is ended.
const TimeoutMessage = "We have not heard from you, so we will end the call now. Goodbye."

var reminderMessages = []string{
	"Are you still there?",
	"Just checking you are still on the line. Is there anything I can help you with?",
}

func reminderText(attempt int) string {
	if attempt-1 < len(reminderMessages) {
		return reminderMessages[attempt-1]
	}
	return reminderMessages[len(reminderMessages)-1]
}

// Config tunes the monitor. Zero values fall back to 5s threshold, 3
// reminders and a 1s tick.
type Config struct {
	Threshold    time.Duration
	MaxReminders int
	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 5 * time.Second
	}
	if c.MaxReminders <= 0 {
		c.MaxReminders = 3
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// Monitor tracks elapsed time since the last meaningful inbound event on a
// call and escalates through reminder prompts to a forced termination.
// Pure timer plus callbacks; the callbacks run on the monitor goroutine.
type Monitor struct {
	cfg        Config
	log        *zap.Logger
	onReminder func(attempt int, message string)
	onTimeout  func(message string)

	mu        sync.Mutex
	baseline  time.Time
	reminders int
	started   bool
	stopped   bool
	stop      chan struct{}
}

func NewMonitor(cfg Config, log *zap.Logger, onReminder func(int, string), onTimeout func(string)) *Monitor {
	return &Monitor{
		cfg:        cfg.withDefaults(),
		log:        log,
		onReminder: onReminder,
		onTimeout:  onTimeout,
		stop:       make(chan struct{}),
	}
}

// Start begins ticking. Calling Start twice is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.baseline = time.Now()
	m.mu.Unlock()
	go m.loop()
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.tick(now)
		}
	}
}

func (m *Monitor) tick(now time.Time) {
	m.mu.Lock()
	if m.stopped || now.Sub(m.baseline) < m.cfg.Threshold {
		m.mu.Unlock()
		return
	}
	m.reminders++
	attempt := m.reminders
	m.baseline = now
	onReminder, onTimeout := m.onReminder, m.onTimeout
	m.mu.Unlock()

	if attempt >= m.cfg.MaxReminders {
		m.log.Info("silence ceiling reached, ending call", zap.Int("reminders", attempt-1))
		if onTimeout != nil {
			onTimeout(TimeoutMessage)
		}
		m.Stop()
		return
	}
	m.log.Debug("silence reminder", zap.Int("attempt", attempt))
	if onReminder != nil {
		onReminder(attempt, reminderText(attempt))
	}
}

// Activity resets both the elapsed-time baseline and the reminder count.
func (m *Monitor) Activity() {
	m.mu.Lock()
	m.baseline = time.Now()
	m.reminders = 0
	m.mu.Unlock()
}

// Stop halts ticking and discards the callbacks. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.onReminder = nil
	m.onTimeout = nil
	close(m.stop)
	m.mu.Unlock()
}
