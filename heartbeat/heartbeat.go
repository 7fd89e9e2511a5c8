package heartbeat

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vinayprograms/courier/bus"
	"github.com/vinayprograms/courier/logging"
)

var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// DefaultSubject carries every heartbeat.
const DefaultSubject = "courier.heartbeat"

// Process states.
const (
	StatusReady    = "ready"
	StatusBusy     = "busy"
	StatusDraining = "draining"
	StatusStopped  = "stopped"
)

// Heartbeat is one liveness signal.
type Heartbeat struct {
	ProcessID string    `json:"process_id"`
	Role      string    `json:"role"`
	Version   string    `json:"version,omitempty"`
	Status    string    `json:"status"`
	InFlight  int       `json:"in_flight"`
	Sessions  int       `json:"sessions"`
	Timestamp time.Time `json:"timestamp"`
}

// Marshal serializes a heartbeat to JSON.
func (h *Heartbeat) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// Unmarshal deserializes a heartbeat from JSON.
func Unmarshal(data []byte) (*Heartbeat, error) {
	var h Heartbeat
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	if h.ProcessID == "" {
		return nil, errors.New("heartbeat without process_id")
	}
	return &h, nil
}

// Stats is the load a process reports.
type Stats struct {
	InFlight int // running tasks
	Sessions int // connected gateway sessions
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	Bus       bus.MessageBus
	Subject   string // default DefaultSubject
	ProcessID string
	Role      string
	Version   string

	// Interval between heartbeats. Default: 5s
	Interval time.Duration

	// Stats is sampled for every beat; nil reports zero load.
	Stats func() Stats
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Bus == nil || c.ProcessID == "" {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Subject:  DefaultSubject,
		Interval: 5 * time.Second,
	}
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Bus     bus.MessageBus
	Subject string // default DefaultSubject

	// Timeout after which a silent process is presumed dead. Keep it at
	// two to three sender intervals. Default: 15s
	Timeout time.Duration

	// CheckInterval for the dead process sweep. Default: 1s
	CheckInterval time.Duration

	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *MonitorConfig) Validate() error {
	if c.Bus == nil {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultMonitorConfig returns configuration with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Subject:       DefaultSubject,
		Timeout:       15 * time.Second,
		CheckInterval: time.Second,
	}
}
