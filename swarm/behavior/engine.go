package behavior

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

// HandlerFunc executes one behavior against an event. The returned map is the
// behavior's structured outcome; an error marks the execution failed without
// affecting other behaviors fired by the same event.
type HandlerFunc func(ctx context.Context, ev Event) (map[string]any, error)

// Behavior is a registered reaction to a trigger type. Higher priority runs
// first.
type Behavior struct {
	Name     string
	Trigger  TriggerType
	Priority int
	Enabled  bool
	Handler  HandlerFunc

	execCount      int
	lastExecutedAt time.Time
}

// Info is a read-only view of a registered behavior.
type Info struct {
	Name           string      `json:"name"`
	Trigger        TriggerType `json:"trigger"`
	Priority       int         `json:"priority"`
	Enabled        bool        `json:"enabled"`
	ExecCount      int         `json:"exec_count"`
	LastExecutedAt time.Time   `json:"last_executed_at,omitzero"`
}

// Outcome records one behavior execution for history inspection.
type Outcome struct {
	Behavior   string         `json:"behavior"`
	Event      Event          `json:"event"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// Succeeded reports whether the execution completed without error.
func (o Outcome) Succeeded() bool { return o.Error == "" }

// Engine registers behaviors and dispatches events to them in descending
// priority order with per-handler isolation.
type Engine struct {
	mu        sync.RWMutex
	cfg       config.BehaviorConfig
	behaviors map[string]*Behavior
	history   []Outcome
	logger    *zap.Logger
}

// NewEngine creates an empty behavior engine.
func NewEngine(cfg config.BehaviorConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return &Engine{
		cfg:       cfg,
		behaviors: make(map[string]*Behavior),
		logger:    logger.With(zap.String("component", "behavior_engine")),
	}
}

// Register adds a behavior. Names are unique.
func (e *Engine) Register(b *Behavior) error {
	if b.Name == "" || b.Handler == nil {
		return types.NewError(types.ErrInvalidConfig, "behavior needs a name and a handler")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.behaviors[b.Name]; exists {
		return types.NewErrorf(types.ErrPreconditionFailed, "behavior %q already registered", b.Name)
	}
	e.behaviors[b.Name] = b
	return nil
}

// SetEnabled flips a behavior's enabled flag.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.behaviors[name]
	if !ok {
		return types.NewErrorf(types.ErrPreconditionFailed, "behavior %q not registered", name)
	}
	b.Enabled = enabled
	return nil
}

// Dispatch fires every enabled behavior matching the event's trigger, highest
// priority first. Each handler's panic or error is recorded and isolated.
func (e *Engine) Dispatch(ctx context.Context, ev Event) []Outcome {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	e.mu.RLock()
	matched := make([]*Behavior, 0, len(e.behaviors))
	for _, b := range e.behaviors {
		if b.Enabled && b.Trigger == ev.Type {
			matched = append(matched, b)
		}
	}
	e.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].Name < matched[j].Name
	})

	outcomes := make([]Outcome, 0, len(matched))
	for _, b := range matched {
		outcome := e.execute(ctx, b, ev)
		outcomes = append(outcomes, outcome)
	}

	e.mu.Lock()
	e.history = append(e.history, outcomes...)
	if len(e.history) > e.cfg.HistorySize {
		e.history = e.history[len(e.history)-e.cfg.HistorySize:]
	}
	e.mu.Unlock()
	return outcomes
}

func (e *Engine) execute(ctx context.Context, b *Behavior, ev Event) (outcome Outcome) {
	outcome = Outcome{Behavior: b.Name, Event: ev, ExecutedAt: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			outcome.Error = fmt.Sprintf("panic: %v", r)
			e.logger.Error("behavior panicked",
				zap.String("behavior", b.Name),
				zap.Any("panic", r),
			)
		}
	}()

	result, err := b.Handler(ctx, ev)
	e.mu.Lock()
	b.execCount++
	b.lastExecutedAt = outcome.ExecutedAt
	e.mu.Unlock()

	if err != nil {
		outcome.Error = err.Error()
		e.logger.Warn("behavior failed",
			zap.String("behavior", b.Name),
			zap.String("trigger", string(ev.Type)),
			zap.Error(err),
		)
		return outcome
	}
	outcome.Result = result
	e.logger.Debug("behavior executed",
		zap.String("behavior", b.Name),
		zap.String("trigger", string(ev.Type)),
	)
	return outcome
}

// Behaviors returns read-only views sorted by descending priority.
func (e *Engine) Behaviors() []Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Info, 0, len(e.behaviors))
	for _, b := range e.behaviors {
		out = append(out, Info{
			Name:           b.Name,
			Trigger:        b.Trigger,
			Priority:       b.Priority,
			Enabled:        b.Enabled,
			ExecCount:      b.execCount,
			LastExecutedAt: b.lastExecutedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// History returns the retained execution records, oldest first.
func (e *Engine) History() []Outcome {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Outcome(nil), e.history...)
}

// ExecCounts returns per-behavior execution counters.
func (e *Engine) ExecCounts() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]int, len(e.behaviors))
	for name, b := range e.behaviors {
		out[name] = b.execCount
	}
	return out
}
