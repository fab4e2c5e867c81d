package encoder

import (
	"fmt"
	"time"
)

// DefaultActiveTimeout is how long an encoder keeps focus without activity.
const DefaultActiveTimeout = 500 * time.Millisecond

type encoderState struct {
	id    int
	cfg   EncoderConfig
	lastA bool
	mode  int
}

// Arbiter owns the shared bus and decides, per poll, which encoder is read.
//
// Once an encoder reports activity it holds focus: later polls read only that
// encoder until it has been quiet for longer than the active timeout. This
// keeps two encoders turned at the same time from interleaving on the bus.
//
// An Arbiter is not safe for concurrent use; one goroutine drives Poll.
type Arbiter struct {
	lines Lines
	bus   Bus
	now   func() time.Time

	encoders []*encoderState // index id-1, nil until registered

	focused       int // 0 = no focus
	lastActivity  time.Time
	activeTimeout time.Duration
	debounceWidth int
	spinLimit     int

	filter Filter // reset before every settle
}

// NewArbiter creates an arbiter for bus. now defaults to time.Now.
func NewArbiter(lines Lines, bus Bus, now func() time.Time) (*Arbiter, error) {
	if lines == nil {
		return nil, fmt.Errorf("%w: no line driver", ErrInvalidBus)
	}
	if bus.Count < 1 {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidBus, bus.Count)
	}
	if bus.LineA < 0 || bus.LineB < 0 || bus.LineSwitch < 0 {
		return nil, fmt.Errorf("%w: negative line offset", ErrInvalidBus)
	}
	if bus.LineA == bus.LineB || bus.LineA == bus.LineSwitch || bus.LineB == bus.LineSwitch {
		return nil, fmt.Errorf("%w: shared lines must be distinct", ErrInvalidBus)
	}
	if now == nil {
		now = time.Now
	}
	filter, _ := NewFilter(DefaultDebounceWidth)
	return &Arbiter{
		lines:         lines,
		bus:           bus,
		now:           now,
		encoders:      make([]*encoderState, bus.Count),
		lastActivity:  now(),
		activeTimeout: DefaultActiveTimeout,
		debounceWidth: DefaultDebounceWidth,
		filter:        filter,
	}, nil
}

// Register adds encoder id (1..Count) and drives its select line inactive.
func (a *Arbiter) Register(id int, cfg EncoderConfig) error {
	if id < 1 || id > len(a.encoders) {
		return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidID, id, len(a.encoders))
	}
	if a.encoders[id-1] != nil {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	if err := a.validate(id, cfg); err != nil {
		return err
	}
	if err := a.lines.WriteLine(cfg.SelectLine, selectInactive); err != nil {
		return fmt.Errorf("encoder %d: init select line %d: %w", id, cfg.SelectLine, err)
	}
	a.encoders[id-1] = &encoderState{id: id, cfg: cfg, lastA: levelRest}
	return nil
}

func (a *Arbiter) validate(id int, cfg EncoderConfig) error {
	if cfg.Modes < 1 {
		return fmt.Errorf("encoder %d: %w: got %d", id, ErrInvalidModes, cfg.Modes)
	}
	if cfg.Type != FourStep && cfg.Type != TwoStep {
		return fmt.Errorf("encoder %d: %w: %v", id, ErrInvalidDecodeType, cfg.Type)
	}
	if cfg.SelectLine < 0 {
		return fmt.Errorf("encoder %d: %w: select line %d", id, ErrLineConflict, cfg.SelectLine)
	}
	switch cfg.SelectLine {
	case a.bus.LineA, a.bus.LineB, a.bus.LineSwitch:
		return fmt.Errorf("encoder %d: %w: select line %d is a shared line", id, ErrLineConflict, cfg.SelectLine)
	}
	if cfg.Modes > 1 && cfg.SwitchIndex != 0 {
		return fmt.Errorf("encoder %d: %w: %d modes", id, ErrSwitchIndexMultiMode, cfg.Modes)
	}

	own, ok := rotationSpan(cfg)
	if !ok {
		return fmt.Errorf("encoder %d: %w: rotation index %d with %d modes overflows", id, ErrInvalidModes, cfg.RotationIndex, cfg.Modes)
	}
	if own.contains(0) {
		return fmt.Errorf("encoder %d: %w", id, ErrReservedIndex)
	}
	if cfg.SwitchIndex != 0 && own.contains(cfg.SwitchIndex) {
		return fmt.Errorf("encoder %d: %w: switch index %d is also a rotation index", id, ErrIndexCollision, cfg.SwitchIndex)
	}

	for _, other := range a.encoders {
		if other == nil {
			continue
		}
		if other.cfg.SelectLine == cfg.SelectLine {
			return fmt.Errorf("encoder %d: %w: select line %d used by encoder %d", id, ErrLineConflict, cfg.SelectLine, other.id)
		}
		theirs, _ := rotationSpan(other.cfg)
		switch {
		case own.overlaps(theirs):
			return fmt.Errorf("encoder %d: %w: indices %d..%d overlap encoder %d", id, ErrIndexCollision, own.lo, own.hi-1, other.id)
		case cfg.SwitchIndex != 0 && (theirs.contains(cfg.SwitchIndex) || cfg.SwitchIndex == other.cfg.SwitchIndex):
			return fmt.Errorf("encoder %d: %w: switch index %d used by encoder %d", id, ErrIndexCollision, cfg.SwitchIndex, other.id)
		case other.cfg.SwitchIndex != 0 && own.contains(other.cfg.SwitchIndex):
			return fmt.Errorf("encoder %d: %w: %d is the switch index of encoder %d", id, ErrIndexCollision, other.cfg.SwitchIndex, other.id)
		}
	}
	return nil
}

// Poll runs one acquisition cycle and returns the index of the event it
// produced, or 0 when nothing happened.
func (a *Arbiter) Poll() (int, error) {
	ev, err := a.PollEvent()
	return ev.Index, err
}

// PollEvent is Poll returning the full event. A zero Event means no activity.
func (a *Arbiter) PollEvent() (Event, error) {
	if a.focused != 0 && a.now().Sub(a.lastActivity) > a.activeTimeout {
		a.encoders[a.focused-1].mode = 0
		a.focused = 0
	}

	if a.focused != 0 {
		ev, err := a.sample(a.encoders[a.focused-1])
		if err != nil || ev.Index == 0 {
			return Event{}, err
		}
		a.lastActivity = ev.Time
		return ev, nil
	}

	for _, e := range a.encoders {
		if e == nil {
			continue
		}
		ev, err := a.sample(e)
		if err != nil {
			return Event{}, err
		}
		if ev.Index != 0 {
			a.focused = e.id
			a.lastActivity = ev.Time
			return ev, nil
		}
	}
	return Event{}, nil
}

func (a *Arbiter) sample(e *encoderState) (Event, error) {
	s, err := a.readEncoder(e)
	if err != nil {
		return Event{}, fmt.Errorf("encoder %d: %w", e.id, err)
	}
	idx := Index(e.cfg, e.mode, s)
	if idx == 0 {
		return Event{}, nil
	}
	return Event{
		Time:    a.now(),
		Encoder: e.id,
		Name:    e.cfg.Name,
		Signal:  s,
		Mode:    e.mode,
		Index:   idx,
	}, nil
}

func (a *Arbiter) encoder(id int) (*encoderState, error) {
	if id < 1 || id > len(a.encoders) || a.encoders[id-1] == nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	return a.encoders[id-1], nil
}

// HasFocus reports whether an encoder currently holds focus.
func (a *Arbiter) HasFocus() bool {
	return a.focused != 0
}

// Focused returns the id of the focused encoder, or 0.
func (a *Arbiter) Focused() int {
	return a.focused
}

// Mode returns the current mode of encoder id, or 0 if it is not registered.
func (a *Arbiter) Mode(id int) int {
	e, err := a.encoder(id)
	if err != nil {
		return 0
	}
	return e.mode
}

// Config returns the registration of encoder id.
func (a *Arbiter) Config(id int) (EncoderConfig, bool) {
	e, err := a.encoder(id)
	if err != nil {
		return EncoderConfig{}, false
	}
	return e.cfg, true
}

// Count returns the number of encoder slots on the bus.
func (a *Arbiter) Count() int {
	return len(a.encoders)
}

// SetActiveTimeout sets how long focus survives without activity.
func (a *Arbiter) SetActiveTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTimeout, d)
	}
	a.activeTimeout = d
	return nil
}

// ActiveTimeout returns the focus timeout.
func (a *Arbiter) ActiveTimeout() time.Duration {
	return a.activeTimeout
}

// SetDebounceWidth sets the number of consecutive identical samples (1..32)
// a line needs before it is considered stable.
func (a *Arbiter) SetDebounceWidth(w int) error {
	f, err := NewFilter(w)
	if err != nil {
		return err
	}
	a.debounceWidth, a.filter = w, f
	return nil
}

// DebounceWidth returns the debounce width.
func (a *Arbiter) DebounceWidth() int {
	return a.debounceWidth
}

// SetSpinLimit bounds the number of reads a debounce or switch-release wait
// may take before failing with ErrLineUnstable. 0 waits forever.
func (a *Arbiter) SetSpinLimit(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSpinLimit, n)
	}
	a.spinLimit = n
	return nil
}
