package encoder

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sweeney/busencoders/internal/gpio"
)

const (
	testLineA = 17
	testLineB = 27
	testLineS = 22
)

var testSelect = []int{5, 6, 13}

// Step sequences from rest (both lines high) through one detent.
var (
	fourStepCW  = [][2]bool{{true, false}, {false, false}, {false, true}, {true, true}}
	fourStepCCW = [][2]bool{{false, true}, {false, false}, {true, false}, {true, true}}
	twoStepCW   = [][2]bool{{false, true}, {false, false}, {true, false}, {true, true}}
	twoStepCCW  = [][2]bool{{true, false}, {false, false}, {false, true}, {true, true}}
)

type manualClock struct {
	t time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time { return c.t }

func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testBus(count int) Bus {
	return Bus{LineA: testLineA, LineB: testLineB, LineSwitch: testLineS, Count: count}
}

func fourStep(sel, base int) EncoderConfig {
	return EncoderConfig{Type: FourStep, SelectLine: sel, Modes: 1, RotationIndex: base}
}

func newSimArbiter(t *testing.T, n int) (*Arbiter, *gpio.Sim, *manualClock) {
	t.Helper()
	sim := gpio.NewSim(testLineA, testLineB, testLineS)
	for i := 0; i < n; i++ {
		sim.AddEncoder(testSelect[i])
	}
	clock := newManualClock()
	a, err := NewArbiter(sim, testBus(n), clock.Now)
	if err != nil {
		t.Fatalf("NewArbiter: %v", err)
	}
	return a, sim, clock
}

func mustRegister(t *testing.T, a *Arbiter, id int, cfg EncoderConfig) {
	t.Helper()
	if err := a.Register(id, cfg); err != nil {
		t.Fatalf("Register(%d): %v", id, err)
	}
}

func mustPoll(t *testing.T, a *Arbiter) int {
	t.Helper()
	idx, err := a.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	return idx
}

// turn moves the encoder on sel through steps, polling once per step.
func turn(t *testing.T, a *Arbiter, sim *gpio.Sim, sel int, steps [][2]bool) []int {
	t.Helper()
	var out []int
	for _, st := range steps {
		sim.Set(sel, st[0], st[1])
		out = append(out, mustPoll(t, a))
	}
	return out
}

// lastNonZero returns the single non-zero index in got, failing if there is
// not exactly one.
func lastNonZero(t *testing.T, got []int) int {
	t.Helper()
	found := 0
	n := 0
	for _, v := range got {
		if v != 0 {
			found = v
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected exactly one event, got %v", got)
	}
	return found
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPollNoActivity(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 2)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))
	mustRegister(t, a, 2, fourStep(testSelect[1], 200))

	for i := 0; i < 5; i++ {
		if got := mustPoll(t, a); got != 0 {
			t.Fatalf("poll %d: expected 0, got %d", i, got)
		}
	}
	if a.HasFocus() {
		t.Error("expected no focus")
	}
	if len(sim.Selected()) != 0 {
		t.Errorf("expected nothing selected after poll, got %v", sim.Selected())
	}
}

func TestPollEmptyBus(t *testing.T) {
	a, _, _ := newSimArbiter(t, 2)
	if got := mustPoll(t, a); got != 0 {
		t.Errorf("expected 0 with no encoders registered, got %d", got)
	}
}

func TestFourStepClockwise(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 1)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))

	got := turn(t, a, sim, testSelect[0], fourStepCW)
	if want := []int{0, 0, 0, 100}; !equalInts(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFourStepCounterClockwise(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 1)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))

	got := turn(t, a, sim, testSelect[0], fourStepCCW)
	if want := []int{0, 0, 101, 0}; !equalInts(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTwoStepReportsBothEdges(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 1)
	mustRegister(t, a, 1, EncoderConfig{Type: TwoStep, SelectLine: testSelect[0], Modes: 1, RotationIndex: 10})

	got := turn(t, a, sim, testSelect[0], twoStepCW)
	if want := []int{10, 0, 10, 0}; !equalInts(got, want) {
		t.Errorf("cw: got %v, want %v", got, want)
	}

	got = turn(t, a, sim, testSelect[0], twoStepCCW)
	if want := []int{0, 11, 0, 11}; !equalInts(got, want) {
		t.Errorf("ccw: got %v, want %v", got, want)
	}
}

func TestPollEventFields(t *testing.T) {
	a, sim, clock := newSimArbiter(t, 2)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))
	cfg := fourStep(testSelect[1], 200)
	cfg.Name = "volume"
	mustRegister(t, a, 2, cfg)

	for _, st := range fourStepCW[:3] {
		sim.Set(testSelect[1], st[0], st[1])
		a.PollEvent()
	}
	clock.Advance(time.Second)
	sim.Set(testSelect[1], true, true)

	ev, err := a.PollEvent()
	if err != nil {
		t.Fatalf("PollEvent: %v", err)
	}
	if ev.Encoder != 2 || ev.Name != "volume" || ev.Signal != Clockwise || ev.Mode != 0 || ev.Index != 200 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if !ev.Time.Equal(clock.Now()) {
		t.Errorf("expected event time %v, got %v", clock.Now(), ev.Time)
	}
}

func TestSwitchCyclesModes(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 1)
	cfg := fourStep(testSelect[0], 100)
	cfg.Modes = 3
	mustRegister(t, a, 1, cfg)

	wantModes := []int{1, 2, 0, 1}
	for i, want := range wantModes {
		sim.Press(testSelect[0], DefaultDebounceWidth+4)
		if got := mustPoll(t, a); got != 0 {
			t.Errorf("press %d: multi-mode press should report 0, got %d", i, got)
		}
		if got := a.Mode(1); got != want {
			t.Errorf("press %d: expected mode %d, got %d", i, want, got)
		}
	}
}

func TestModeOffsetsRotation(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 1)
	cfg := fourStep(testSelect[0], 100)
	cfg.Modes = 2
	mustRegister(t, a, 1, cfg)

	sim.Press(testSelect[0], DefaultDebounceWidth+4)
	mustPoll(t, a)

	if got := lastNonZero(t, turn(t, a, sim, testSelect[0], fourStepCW)); got != 102 {
		t.Errorf("cw in mode 1: got %d, want 102", got)
	}
	if got := lastNonZero(t, turn(t, a, sim, testSelect[0], fourStepCCW)); got != 103 {
		t.Errorf("ccw in mode 1: got %d, want 103", got)
	}
}

func TestSingleModeSwitchIndex(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 1)
	cfg := fourStep(testSelect[0], 100)
	cfg.SwitchIndex = 50
	mustRegister(t, a, 1, cfg)

	sim.Press(testSelect[0], DefaultDebounceWidth+4)
	ev, err := a.PollEvent()
	if err != nil {
		t.Fatalf("PollEvent: %v", err)
	}
	if ev.Index != 50 || ev.Signal != SwitchPressed {
		t.Errorf("expected switch event 50, got %+v", ev)
	}
	if a.Mode(1) != 0 {
		t.Errorf("single-mode encoder should stay in mode 0, got %d", a.Mode(1))
	}
	if a.Focused() != 1 {
		t.Errorf("switch event should take focus, focused=%d", a.Focused())
	}
}

func TestSingleModeWithoutSwitchIndex(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 1)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))

	sim.Press(testSelect[0], DefaultDebounceWidth+4)
	if got := mustPoll(t, a); got != 0 {
		t.Errorf("expected unreported switch, got %d", got)
	}
	if a.HasFocus() {
		t.Error("unreported switch should not take focus")
	}
}

func TestScenarioSwitchIndex(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 1)
	cfg := fourStep(testSelect[0], 100)
	cfg.SwitchIndex = 50
	mustRegister(t, a, 1, cfg)

	var got []int
	got = append(got, lastNonZero(t, turn(t, a, sim, testSelect[0], fourStepCW)))

	sim.Press(testSelect[0], DefaultDebounceWidth+4)
	got = append(got, mustPoll(t, a))

	got = append(got, lastNonZero(t, turn(t, a, sim, testSelect[0], fourStepCCW)))

	if want := []int{100, 50, 101}; !equalInts(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestScenarioModeChange(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 1)
	cfg := fourStep(testSelect[0], 100)
	cfg.Modes = 2
	mustRegister(t, a, 1, cfg)

	var got []int
	got = append(got, lastNonZero(t, turn(t, a, sim, testSelect[0], fourStepCW)))

	sim.Press(testSelect[0], DefaultDebounceWidth+4)
	got = append(got, mustPoll(t, a))

	got = append(got, lastNonZero(t, turn(t, a, sim, testSelect[0], fourStepCW)))

	if want := []int{100, 0, 102}; !equalInts(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if a.Mode(1) != 1 {
		t.Errorf("expected mode 1, got %d", a.Mode(1))
	}
}

func TestFocusIsSticky(t *testing.T) {
	a, sim, clock := newSimArbiter(t, 2)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))
	mustRegister(t, a, 2, fourStep(testSelect[1], 200))

	if got := lastNonZero(t, turn(t, a, sim, testSelect[0], fourStepCW)); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if a.Focused() != 1 {
		t.Fatalf("expected encoder 1 focused, got %d", a.Focused())
	}

	// Encoder 2 turns while encoder 1 holds focus; it is never selected.
	before := sim.Selections(testSelect[1])
	for _, st := range fourStepCW {
		sim.Set(testSelect[1], st[0], st[1])
		clock.Advance(100 * time.Millisecond)
		if got := mustPoll(t, a); got != 0 {
			t.Fatalf("expected 0 while encoder 1 focused, got %d", got)
		}
	}
	if sim.Selections(testSelect[1]) != before {
		t.Errorf("encoder 2 was selected %d times while not focused", sim.Selections(testSelect[1])-before)
	}
	if a.Focused() != 1 {
		t.Errorf("focus should stay on encoder 1, got %d", a.Focused())
	}

	// Quiet for longer than the timeout: focus is released and encoder 2 is read.
	clock.Advance(DefaultActiveTimeout)
	if got := mustPoll(t, a); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if a.HasFocus() {
		t.Fatal("focus should have been released")
	}

	if got := lastNonZero(t, turn(t, a, sim, testSelect[1], fourStepCW)); got != 200 {
		t.Errorf("expected 200, got %d", got)
	}
	if a.Focused() != 2 {
		t.Errorf("expected encoder 2 focused, got %d", a.Focused())
	}
}

func TestFocusActivityExtendsTimeout(t *testing.T) {
	a, sim, clock := newSimArbiter(t, 2)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))
	mustRegister(t, a, 2, fourStep(testSelect[1], 200))

	for i := 0; i < 3; i++ {
		for _, st := range fourStepCW {
			clock.Advance(100 * time.Millisecond)
			sim.Set(testSelect[0], st[0], st[1])
			mustPoll(t, a)
		}
		if a.Focused() != 1 {
			t.Fatalf("turn %d: expected encoder 1 focused, got %d", i, a.Focused())
		}
	}
}

func TestFocusTimeoutBoundary(t *testing.T) {
	a, sim, clock := newSimArbiter(t, 1)
	cfg := fourStep(testSelect[0], 100)
	cfg.Modes = 2
	mustRegister(t, a, 1, cfg)

	sim.Press(testSelect[0], DefaultDebounceWidth+4)
	mustPoll(t, a)
	lastNonZero(t, turn(t, a, sim, testSelect[0], fourStepCW))

	clock.Advance(DefaultActiveTimeout)
	mustPoll(t, a)
	if !a.HasFocus() {
		t.Fatal("exactly the timeout should not release focus")
	}
	if a.Mode(1) != 1 {
		t.Fatalf("mode should be kept while focused, got %d", a.Mode(1))
	}

	clock.Advance(time.Nanosecond)
	mustPoll(t, a)
	if a.HasFocus() {
		t.Error("focus should be released past the timeout")
	}
	if a.Mode(1) != 0 {
		t.Errorf("mode should reset on release, got %d", a.Mode(1))
	}
}

func TestFocusedQuietPollKeepsFocus(t *testing.T) {
	a, sim, clock := newSimArbiter(t, 1)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))
	lastNonZero(t, turn(t, a, sim, testSelect[0], fourStepCW))

	for i := 0; i < 4; i++ {
		clock.Advance(100 * time.Millisecond)
		if got := mustPoll(t, a); got != 0 {
			t.Fatalf("expected 0, got %d", got)
		}
	}
	if a.Focused() != 1 {
		t.Errorf("quiet polls within the timeout should keep focus, got %d", a.Focused())
	}
}

func TestModeKeptWithoutFocus(t *testing.T) {
	a, sim, clock := newSimArbiter(t, 1)
	cfg := fourStep(testSelect[0], 100)
	cfg.Modes = 4
	mustRegister(t, a, 1, cfg)

	sim.Press(testSelect[0], DefaultDebounceWidth+4)
	mustPoll(t, a)

	clock.Advance(10 * time.Second)
	mustPoll(t, a)
	if a.Mode(1) != 1 {
		t.Errorf("mode should survive idle time without focus, got %d", a.Mode(1))
	}
}

func TestSetActiveTimeout(t *testing.T) {
	a, sim, clock := newSimArbiter(t, 1)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))

	if err := a.SetActiveTimeout(-time.Second); !errors.Is(err, ErrInvalidTimeout) {
		t.Errorf("expected ErrInvalidTimeout, got %v", err)
	}
	if err := a.SetActiveTimeout(2 * time.Second); err != nil {
		t.Fatalf("SetActiveTimeout: %v", err)
	}
	if a.ActiveTimeout() != 2*time.Second {
		t.Errorf("ActiveTimeout: got %v", a.ActiveTimeout())
	}

	lastNonZero(t, turn(t, a, sim, testSelect[0], fourStepCW))
	clock.Advance(time.Second)
	mustPoll(t, a)
	if !a.HasFocus() {
		t.Error("focus should survive under the longer timeout")
	}
}

func TestOnlyOneEncoderSelected(t *testing.T) {
	a, sim, clock := newSimArbiter(t, 3)
	for i := 0; i < 3; i++ {
		mustRegister(t, a, i+1, fourStep(testSelect[i], 100*(i+1)))
	}

	for i := 0; i < 3; i++ {
		turn(t, a, sim, testSelect[i], fourStepCW)
		clock.Advance(time.Second)
		mustPoll(t, a)
	}
	sim.Press(testSelect[2], DefaultDebounceWidth+4)
	mustPoll(t, a)

	if sim.MaxSelected() != 1 {
		t.Errorf("expected at most one encoder selected, got %d", sim.MaxSelected())
	}
	if len(sim.Selected()) != 0 {
		t.Errorf("expected all encoders deselected, got %v", sim.Selected())
	}
}

func TestScanOrderLowestIDWins(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 2)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))
	mustRegister(t, a, 2, fourStep(testSelect[1], 200))

	// Both encoders sit just before the rising edge.
	for _, sel := range testSelect[:2] {
		sim.Set(sel, false, true)
	}
	mustPoll(t, a)
	for _, sel := range testSelect[:2] {
		sim.Set(sel, true, true)
	}

	if got := mustPoll(t, a); got != 100 {
		t.Errorf("expected encoder 1 first, got %d", got)
	}
	if a.Focused() != 1 {
		t.Errorf("expected encoder 1 focused, got %d", a.Focused())
	}
}

func TestBounceOnAYieldsOneEvent(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 1)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))

	turn(t, a, sim, testSelect[0], fourStepCW[:3])
	sim.Set(testSelect[0], true, true)
	sim.Bounce(testSelect[0], testLineA, true, false, true, false, false, true)

	var got []int
	for i := 0; i < 3; i++ {
		got = append(got, mustPoll(t, a))
	}
	if want := []int{100, 0, 0}; !equalInts(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestHeldSwitchSpinLimit(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 1)
	cfg := fourStep(testSelect[0], 100)
	cfg.Modes = 2
	mustRegister(t, a, 1, cfg)
	if err := a.SetSpinLimit(200); err != nil {
		t.Fatalf("SetSpinLimit: %v", err)
	}

	sim.Press(testSelect[0], 10000)
	_, err := a.Poll()
	if !errors.Is(err, ErrLineUnstable) {
		t.Fatalf("expected ErrLineUnstable, got %v", err)
	}
	if len(sim.Selected()) != 0 {
		t.Errorf("encoder left selected after error: %v", sim.Selected())
	}
	if a.Mode(1) != 1 {
		t.Errorf("press should still advance the mode, got %d", a.Mode(1))
	}
}

func TestPollReadErrorDeselects(t *testing.T) {
	bus := gpio.NewFakeBus(nil)
	a, err := NewArbiter(bus, testBus(1), nil)
	if err != nil {
		t.Fatalf("NewArbiter: %v", err)
	}
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))

	if _, err := a.Poll(); err == nil {
		t.Fatal("expected error with no line samples")
	}

	want := []gpio.Write{
		{Line: testSelect[0], Level: true},
		{Line: testSelect[0], Level: false},
		{Line: testSelect[0], Level: true},
	}
	if len(bus.Writes) != len(want) {
		t.Fatalf("writes: got %v, want %v", bus.Writes, want)
	}
	for i := range want {
		if bus.Writes[i] != want[i] {
			t.Errorf("write %d: got %+v, want %+v", i, bus.Writes[i], want[i])
		}
	}
}

func TestPollSelectErrorLeavesLineInactive(t *testing.T) {
	bus := gpio.NewFakeBus(map[int][]bool{testLineA: {true}, testLineS: {true}})
	a, _ := NewArbiter(bus, testBus(1), nil)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))

	bus.WriteError = errors.New("line busy")
	if _, err := a.Poll(); err == nil {
		t.Error("expected select error")
	}
}

func TestRegisterDrivesSelectInactive(t *testing.T) {
	bus := gpio.NewFakeBus(nil)
	a, _ := NewArbiter(bus, testBus(2), nil)
	mustRegister(t, a, 2, fourStep(9, 100))

	if len(bus.Writes) != 1 || bus.Writes[0] != (gpio.Write{Line: 9, Level: true}) {
		t.Errorf("expected select line driven high, got %v", bus.Writes)
	}
	if cfg, ok := a.Config(2); !ok || cfg.SelectLine != 9 {
		t.Errorf("Config(2): got %+v, %v", cfg, ok)
	}
	if _, ok := a.Config(1); ok {
		t.Error("Config(1) should report unregistered")
	}
}

func TestRegisterWriteError(t *testing.T) {
	bus := gpio.NewFakeBus(nil)
	bus.WriteError = errors.New("no such line")
	a, _ := NewArbiter(bus, testBus(1), nil)

	if err := a.Register(1, fourStep(9, 100)); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := a.Config(1); ok {
		t.Error("failed registration should not store the encoder")
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		id   int
		cfg  EncoderConfig
		want error
	}{
		{"id zero", 0, fourStep(6, 300), ErrInvalidID},
		{"id past count", 4, fourStep(6, 300), ErrInvalidID},
		{"duplicate id", 1, fourStep(6, 300), ErrDuplicateID},
		{"zero modes", 2, EncoderConfig{Type: FourStep, SelectLine: 6, RotationIndex: 300}, ErrInvalidModes},
		{"bad type", 2, EncoderConfig{Type: 7, SelectLine: 6, Modes: 1, RotationIndex: 300}, ErrInvalidDecodeType},
		{"negative select", 2, fourStep(-1, 300), ErrLineConflict},
		{"select is shared line", 2, fourStep(testLineB, 300), ErrLineConflict},
		{"select in use", 2, fourStep(testSelect[0], 300), ErrLineConflict},
		{"switch index with modes", 2, EncoderConfig{Type: FourStep, SelectLine: 6, Modes: 2, RotationIndex: 300, SwitchIndex: 9}, ErrSwitchIndexMultiMode},
		{"zero rotation index", 2, fourStep(6, 0), ErrReservedIndex},
		{"mode reaches zero", 2, EncoderConfig{Type: FourStep, SelectLine: 6, Modes: 2, RotationIndex: -3}, ErrReservedIndex},
		{"switch overlaps rotation", 2, EncoderConfig{Type: FourStep, SelectLine: 6, Modes: 1, RotationIndex: 300, SwitchIndex: 301}, ErrIndexCollision},
		{"overlaps encoder 1", 2, fourStep(6, 101), ErrIndexCollision},
		{"switch overlaps encoder 1", 2, EncoderConfig{Type: FourStep, SelectLine: 6, Modes: 1, RotationIndex: 300, SwitchIndex: 100}, ErrIndexCollision},
		{"modes overflow index range", 2, EncoderConfig{Type: FourStep, SelectLine: 6, Modes: math.MaxInt/2 + 1, RotationIndex: 300}, ErrInvalidModes},
		{"rotation index near max", 2, EncoderConfig{Type: FourStep, SelectLine: 6, Modes: 2, RotationIndex: math.MaxInt - 2}, ErrInvalidModes},
		{"range covers encoder 1", 2, EncoderConfig{Type: FourStep, SelectLine: 6, Modes: 50, RotationIndex: 10}, ErrIndexCollision},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _ := newSimArbiter(t, 3)
			mustRegister(t, a, 1, fourStep(testSelect[0], 100))

			err := a.Register(tt.id, tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegisterAdjacentIndexRanges(t *testing.T) {
	a, _, _ := newSimArbiter(t, 2)
	cfg := fourStep(testSelect[0], 100)
	cfg.Modes = 2
	mustRegister(t, a, 1, cfg)

	// 100..103 taken; 104 is free.
	if err := a.Register(2, fourStep(testSelect[1], 104)); err != nil {
		t.Errorf("adjacent range should register: %v", err)
	}
}

func TestRegisterLargeModeCount(t *testing.T) {
	a, _, _ := newSimArbiter(t, 2)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))

	cfg := EncoderConfig{Type: FourStep, SelectLine: testSelect[1], Modes: 100_000_000, RotationIndex: 1000}
	if err := a.Register(2, cfg); err != nil {
		t.Fatalf("large mode count should register: %v", err)
	}
	if got := a.Mode(2); got != 0 {
		t.Errorf("mode = %d, want 0", got)
	}
}

func TestRegisterSharedSwitchIndex(t *testing.T) {
	a, _, _ := newSimArbiter(t, 2)
	mustRegister(t, a, 1, EncoderConfig{Type: FourStep, SelectLine: testSelect[0], Modes: 1, RotationIndex: 100, SwitchIndex: 50})

	err := a.Register(2, EncoderConfig{Type: FourStep, SelectLine: testSelect[1], Modes: 1, RotationIndex: 200, SwitchIndex: 50})
	if !errors.Is(err, ErrIndexCollision) {
		t.Errorf("expected ErrIndexCollision, got %v", err)
	}
}

func TestNewArbiterValidation(t *testing.T) {
	sim := gpio.NewSim(testLineA, testLineB, testLineS)
	tests := []struct {
		name  string
		lines Lines
		bus   Bus
	}{
		{"nil lines", nil, testBus(1)},
		{"zero count", sim, testBus(0)},
		{"negative line", sim, Bus{LineA: -1, LineB: 2, LineSwitch: 3, Count: 1}},
		{"a equals b", sim, Bus{LineA: 2, LineB: 2, LineSwitch: 3, Count: 1}},
		{"b equals switch", sim, Bus{LineA: 1, LineB: 3, LineSwitch: 3, Count: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewArbiter(tt.lines, tt.bus, nil); !errors.Is(err, ErrInvalidBus) {
				t.Errorf("expected ErrInvalidBus, got %v", err)
			}
		})
	}
}

func TestSettleStartsFromEmptyFilter(t *testing.T) {
	const line = 4
	bus := gpio.NewFakeBus(map[int][]bool{line: {false, true, true, true}})
	a, err := NewArbiter(bus, testBus(1), nil)
	if err != nil {
		t.Fatalf("NewArbiter: %v", err)
	}
	if err := a.SetDebounceWidth(2); err != nil {
		t.Fatalf("SetDebounceWidth: %v", err)
	}

	level, err := a.debounce(line)
	if err != nil || !level {
		t.Fatalf("first settle: level=%v err=%v", level, err)
	}
	if got := bus.Reads(line); got != 3 {
		t.Errorf("first settle took %d reads, want 3", got)
	}

	// The previous run's samples must not count towards the next one.
	if _, err := a.debounce(line); err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if got := bus.Reads(line); got != 5 {
		t.Errorf("second settle took %d reads, want 2", got-3)
	}
}

func TestSetters(t *testing.T) {
	a, _, _ := newSimArbiter(t, 1)

	if a.DebounceWidth() != DefaultDebounceWidth {
		t.Errorf("default width: got %d", a.DebounceWidth())
	}
	if a.ActiveTimeout() != DefaultActiveTimeout {
		t.Errorf("default timeout: got %v", a.ActiveTimeout())
	}
	for _, w := range []int{0, 33} {
		if err := a.SetDebounceWidth(w); !errors.Is(err, ErrInvalidDebounceWidth) {
			t.Errorf("width %d: expected ErrInvalidDebounceWidth, got %v", w, err)
		}
	}
	if a.DebounceWidth() != DefaultDebounceWidth {
		t.Error("rejected width should not change the setting")
	}
	if err := a.SetSpinLimit(-1); !errors.Is(err, ErrInvalidSpinLimit) {
		t.Errorf("expected ErrInvalidSpinLimit, got %v", err)
	}
	if a.Count() != 1 {
		t.Errorf("Count: got %d", a.Count())
	}
	if a.Mode(7) != 0 {
		t.Error("unregistered mode should be 0")
	}
}

func TestProbe(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 2)
	mustRegister(t, a, 1, fourStep(testSelect[0], 100))
	mustRegister(t, a, 2, fourStep(testSelect[1], 200))
	sim.Set(testSelect[1], false, true)

	lv, err := a.Probe(2)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if lv.A || !lv.B || !lv.Switch {
		t.Errorf("unexpected levels: %+v", lv)
	}
	if len(sim.Selected()) != 0 {
		t.Errorf("probe left encoder selected: %v", sim.Selected())
	}

	// Probe does not touch decoder state: the next poll still sees the fall.
	if got := mustPoll(t, a); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}

	if _, err := a.Probe(3); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestUnregisteredSlotsSkipped(t *testing.T) {
	a, sim, _ := newSimArbiter(t, 3)
	mustRegister(t, a, 3, fourStep(testSelect[2], 300))

	if got := lastNonZero(t, turn(t, a, sim, testSelect[2], fourStepCW)); got != 300 {
		t.Errorf("expected 300, got %d", got)
	}
	if sim.Selections(testSelect[0]) != 0 || sim.Selections(testSelect[1]) != 0 {
		t.Error("unregistered encoders should never be selected")
	}
}
