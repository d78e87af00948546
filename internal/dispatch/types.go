package dispatch

import (
	"context"
	"time"
)

// Driver performs the side effects on one worker.
type Driver interface {
	// Reset force-stops the given applications on worker. Best effort.
	Reset(ctx context.Context, worker string, appIDs []string) error
	// Deliver opens link on worker and confirms the send. The driver bounds
	// its own steps with timeouts.
	Deliver(ctx context.Context, worker, link string) error
}

// Runner hosts the background goroutine of a run. The supervisor satisfies it.
type Runner interface {
	Go(name string, fn func(ctx context.Context) error)
}

type goRunner struct{}

func (goRunner) Go(_ string, fn func(ctx context.Context) error) {
	go func() { _ = fn(context.Background()) }()
}

type State int

const (
	Idle State = iota
	Running
	Paused
	Completed
	Canceled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Active reports whether a run is in progress.
func (s State) Active() bool { return s == Running || s == Paused }

// DefaultAppIDs are force-stopped before the run and before every delivery.
var DefaultAppIDs = []string{
	"com.whatsapp.w4b",
	"com.whatsapp",
	"com.google.android.googlequicksearchbox",
}

// Pacing is the randomized wait window between two deliveries.
type Pacing struct {
	DelayMin time.Duration
	DelayMax time.Duration
}

func (p Pacing) normalize() Pacing {
	if p.DelayMin < 0 {
		p.DelayMin = 0
	}
	if p.DelayMax < p.DelayMin {
		p.DelayMax = p.DelayMin
	}
	return p
}

type Config struct {
	Pacing
	// SettleDelay is waited once after the initial resets.
	SettleDelay time.Duration
	// PollInterval is the sleep quantum of every cooperative wait.
	PollInterval time.Duration
	AppIDs       []string
}

func DefaultConfig() Config {
	return Config{
		Pacing:       Pacing{DelayMin: 10 * time.Second, DelayMax: 15 * time.Second},
		SettleDelay:  3 * time.Second,
		PollInterval: 100 * time.Millisecond,
		AppIDs:       DefaultAppIDs,
	}
}

func (c Config) normalize() Config {
	c.Pacing = c.Pacing.normalize()
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.AppIDs == nil {
		c.AppIDs = DefaultAppIDs
	}
	return c
}

// Tag classifies a human-readable log line.
type Tag string

const (
	TagInfo    Tag = "info"
	TagSuccess Tag = "success"
	TagWarning Tag = "warning"
	TagError   Tag = "error"
)

// Bus topics.
const (
	TopicLog      = "dispatch.log"
	TopicProgress = "dispatch.progress"
	TopicDelivery = "dispatch.delivery"
	TopicStarted  = "dispatch.started"
	TopicFinished = "dispatch.finished"
)

// LogLine is published on TopicLog.
type LogLine struct {
	RunID string
	Tag   Tag
	Text  string
	At    time.Time
}

// Delivery is published on TopicDelivery after every attempt.
type Delivery struct {
	RunID  string
	Index  int
	Worker string
	Link   string
	Err    error
	Took   time.Duration
	At     time.Time
}

func (d Delivery) OK() bool { return d.Err == nil }

// Started is published on TopicStarted.
type Started struct {
	RunID     string
	Total     int
	Workers   []string
	StartedAt time.Time
}

// Summary is published on TopicFinished and returned by Wait.
type Summary struct {
	RunID      string
	Outcome    State
	Total      int
	Attempted  int
	Sent       int
	Failed     int
	Workers    []string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (s Summary) Elapsed() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }
