package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rpcbench/internal/clock"
)

// State is the externally visible breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

var (
	// ErrOpen is returned by Allow while the breaker is open.
	ErrOpen = errors.New("circuit breaker is open")

	// ErrTrialLimit is returned by Allow when a half-open breaker has
	// already admitted all of its trial calls.
	ErrTrialLimit = errors.New("circuit breaker half-open trial limit reached")
)

// Generation identifies the state episode a call was admitted in. Every
// transition starts a new generation.
type Generation uint64

// state is one of closed, open or halfOpen.
type state interface {
	kind() State
}

type closed struct {
	window *outcomeWindow
}

type open struct {
	since time.Time
}

type halfOpen struct {
	since     time.Time
	admitted  int
	successes int
}

func (closed) kind() State    { return StateClosed }
func (open) kind() State      { return StateOpen }
func (*halfOpen) kind() State { return StateHalfOpen }

// failureRate is the share of admitted trials that have not succeeded.
func (s *halfOpen) failureRate() float64 {
	if s.admitted == 0 {
		return 1
	}
	return float64(s.admitted-s.successes) / float64(s.admitted)
}

// Transition describes one state change.
type Transition struct {
	Name string    `json:"name"`
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`

	// FailureRate is the closed-state window's rate when tripping, and the
	// share of admitted trials that did not succeed when a trial reopens
	// the breaker.
	FailureRate float64 `json:"failureRate"`
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name  string `json:"name"`
	State State  `json:"state"`

	// FailureRate, Failures and Successes describe the closed-state window,
	// or the current trial episode while half-open
	FailureRate float64 `json:"failureRate"`
	Failures    int     `json:"failures"`
	Successes   int     `json:"successes"`

	Threshold   float64       `json:"threshold"`
	Since       time.Time     `json:"since"`
	TimeInState time.Duration `json:"timeInState"`
	Transitions int64         `json:"transitions"`
}

// Options holds the breaker's collaborators. All fields are optional.
type Options struct {
	Clock  clock.Clock
	Logger *zap.Logger
	Scope  tally.Scope

	// OnTransition is called after every state change, outside the lock
	OnTransition func(Transition)
}

// Breaker is a circuit breaker for one endpoint or endpoint+method.
//
// All check-then-transition sequences run under a single mutex, so
// concurrent callers cannot trip or reset the breaker twice.
type Breaker struct {
	name   string
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger
	notify func(Transition)

	mu          sync.Mutex
	state       state
	generation  Generation
	since       time.Time
	transitions int64
	threshold   *thresholdTracker

	scope      tally.Scope
	stateGauge tally.Gauge
}

// New creates a closed breaker. cfg is assumed valid; see Config.Validate.
func New(name string, cfg Config, opts Options) *Breaker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scope := opts.Scope
	if scope == nil {
		scope = tally.NoopScope
	}
	scope = scope.SubScope("breaker").Tagged(map[string]string{"breaker": name})

	clk := clock.OrSystem(opts.Clock)
	b := &Breaker{
		name:       name,
		cfg:        cfg,
		clock:      clk,
		logger:     logger.With(zap.String("breaker", name)),
		notify:     opts.OnTransition,
		state:      closed{window: newOutcomeWindow(cfg.WindowSize)},
		since:      clk.Now(),
		threshold:  newThresholdTracker(cfg.FailureThreshold, cfg.Adaptive),
		scope:      scope,
		stateGauge: scope.Gauge("state"),
	}
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// Allow asks to admit one call. On success the returned generation must be
// passed to Record (or Cancel if the call never runs).
func (b *Breaker) Allow() (Generation, error) {
	b.mu.Lock()
	now := b.clock.Now()
	t := b.advanceLocked(now)

	var err error
	switch s := b.state.(type) {
	case open:
		err = ErrOpen
	case *halfOpen:
		if s.admitted >= b.cfg.TrialCount {
			err = ErrTrialLimit
		} else {
			s.admitted++
		}
	}
	gen := b.generation
	b.mu.Unlock()

	b.emit(t)
	return gen, err
}

// Record reports the final outcome of a call admitted in generation gen.
// Outcomes from earlier generations are ignored.
func (b *Breaker) Record(gen Generation, success bool) {
	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return
	}

	now := b.clock.Now()
	var t *Transition

	switch s := b.state.(type) {
	case closed:
		s.window.add(success)
		rate := s.window.failureRate()
		if s.window.total() >= b.cfg.MinimumThroughput && rate > b.threshold.current() {
			t = b.transitionLocked(open{since: now}, now, rate)
		} else {
			b.threshold.observe(s.window)
		}
	case *halfOpen:
		if !success {
			t = b.transitionLocked(open{since: now}, now, s.failureRate())
		} else {
			s.successes++
			if s.successes >= b.cfg.SuccessesToClose {
				t = b.transitionLocked(closed{window: newOutcomeWindow(b.cfg.WindowSize)}, now, 0)
			}
		}
	}
	b.mu.Unlock()

	b.emit(t)
}

// Cancel returns an unused half-open trial slot for a call admitted in gen
// that was never executed.
func (b *Breaker) Cancel(gen Generation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		return
	}
	if s, ok := b.state.(*halfOpen); ok && s.admitted > 0 {
		s.admitted--
	}
}

// State returns the current state, applying a due cooldown transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	t := b.advanceLocked(b.clock.Now())
	st := b.state.kind()
	b.mu.Unlock()

	b.emit(t)
	return st
}

// Snapshot returns the breaker's observable state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	now := b.clock.Now()
	t := b.advanceLocked(now)

	snap := Snapshot{
		Name:        b.name,
		State:       b.state.kind(),
		Threshold:   b.threshold.current(),
		Since:       b.since,
		TimeInState: now.Sub(b.since),
		Transitions: b.transitions,
	}
	switch s := b.state.(type) {
	case closed:
		snap.FailureRate = s.window.failureRate()
		snap.Failures = s.window.failures
		snap.Successes = s.window.successes()
	case *halfOpen:
		snap.Successes = s.successes
	}
	b.mu.Unlock()

	b.emit(t)
	return snap
}

// SetBaselineErrorRate seeds the adaptive threshold with a known error rate.
// It has no effect unless adaptive mode is enabled.
func (b *Breaker) SetBaselineErrorRate(rate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threshold.seed(rate)
}

// Reset forces the breaker closed with an empty window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	now := b.clock.Now()
	var t *Transition
	if _, ok := b.state.(closed); ok {
		b.state = closed{window: newOutcomeWindow(b.cfg.WindowSize)}
		b.generation++
	} else {
		t = b.transitionLocked(closed{window: newOutcomeWindow(b.cfg.WindowSize)}, now, 0)
	}
	b.mu.Unlock()

	b.emit(t)
}

// advanceLocked moves an open breaker to half-open once the cooldown has
// elapsed. Caller holds mu.
func (b *Breaker) advanceLocked(now time.Time) *Transition {
	s, ok := b.state.(open)
	if !ok || now.Sub(s.since) < b.cfg.CooldownPeriod {
		return nil
	}
	return b.transitionLocked(&halfOpen{since: now}, now, 0)
}

// transitionLocked installs next and starts a new generation. Caller holds mu.
func (b *Breaker) transitionLocked(next state, now time.Time, rate float64) *Transition {
	t := &Transition{
		Name:        b.name,
		From:        b.state.kind(),
		To:          next.kind(),
		At:          now,
		FailureRate: rate,
	}
	b.state = next
	b.generation++
	b.since = now
	b.transitions++
	return t
}

func (b *Breaker) emit(t *Transition) {
	if t == nil {
		return
	}

	b.scope.Tagged(map[string]string{"to": string(t.To)}).Counter("transitions").Inc(1)
	b.stateGauge.Update(stateValue(t.To))

	fields := []zap.Field{
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.Float64("failureRate", t.FailureRate),
	}
	if t.To == StateOpen {
		b.logger.Warn("circuit breaker opened", fields...)
	} else {
		b.logger.Info("circuit breaker transition", fields...)
	}

	if b.notify != nil {
		b.notify(*t)
	}
}

func stateValue(s State) float64 {
	switch s {
	case StateOpen:
		return 2
	case StateHalfOpen:
		return 1
	default:
		return 0
	}
}
