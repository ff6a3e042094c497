package clickthrough

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rpoverlay/internal/osutils"
	"rpoverlay/internal/osutils/osutilstest"
)

const overlay osutils.HWND = 5

type pending struct {
	d         time.Duration
	fn        func()
	cancelled bool
}

type manualScheduler struct {
	queue []*pending
}

func (s *manualScheduler) After(d time.Duration, fn func()) func() {
	p := &pending{d: d, fn: fn}
	s.queue = append(s.queue, p)
	return func() { p.cancelled = true }
}

func (s *manualScheduler) fire() {
	queue := s.queue
	s.queue = nil
	for _, p := range queue {
		if !p.cancelled {
			p.fn()
		}
	}
}

type fixture struct {
	ctl     *Controller
	fake    *osutilstest.Fake
	surface *osutilstest.FakeSurface
	sched   *manualScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := osutilstest.NewFake()
	fake.AddWindow(overlay, osutilstest.FakeWindow{
		Title:   "RP Overlay",
		ExStyle: osutils.WS_EX_LAYERED | osutils.WS_EX_TOOLWINDOW | osutils.WS_EX_NOACTIVATE,
		Shown:   true,
	})
	surface := osutilstest.NewFakeSurface(overlay, osutils.Rect{})
	sched := &manualScheduler{}
	guard := NewStyleGuard(fake, overlay, zap.NewNop())
	ctl := New(guard, fake, surface, sched, zap.NewNop())
	ctl.Apply()
	return &fixture{ctl: ctl, fake: fake, surface: surface, sched: sched}
}

func (f *fixture) style() uint32 {
	w, _ := f.fake.Window(overlay)
	return w.ExStyle
}

func TestInitialStateIsInteractive(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, Interactive, f.ctl.State())
	assert.Zero(t, f.style()&osutils.WS_EX_TRANSPARENT)
	assert.True(t, f.surface.CursorVisible())
	assert.Equal(t, IndicatorInteractive, f.surface.Indicator())
}

func TestToggleAppliesStyleCursorAndIndicator(t *testing.T) {
	f := newFixture(t)
	var seen []State
	f.ctl.OnChange(func(s State) { seen = append(seen, s) })

	f.ctl.Toggle()
	assert.True(t, f.ctl.IsClickThrough())
	assert.NotZero(t, f.style()&osutils.WS_EX_TRANSPARENT)
	assert.NotZero(t, f.style()&osutils.WS_EX_NOACTIVATE, "other bits preserved")
	assert.False(t, f.surface.CursorVisible())
	assert.Equal(t, IndicatorClickThrough, f.surface.Indicator())

	f.ctl.SetClickThrough(false)
	assert.Zero(t, f.style()&osutils.WS_EX_TRANSPARENT)
	assert.Equal(t, []State{ClickThrough, Interactive}, seen)

	f.ctl.SetClickThrough(false)
	assert.Len(t, seen, 2, "no notification without a transition")
}

func TestPollTogglesOncePerPress(t *testing.T) {
	f := newFixture(t)
	f.fake.Press(osutils.VK_XBUTTON2)
	for i := 0; i < 10; i++ {
		f.ctl.Poll()
	}
	assert.Equal(t, ClickThrough, f.ctl.State())

	f.fake.Release(osutils.VK_XBUTTON2)
	f.ctl.Poll()
	assert.Equal(t, ClickThrough, f.ctl.State())

	f.fake.Press(osutils.VK_XBUTTON2)
	f.ctl.Poll()
	assert.Equal(t, Interactive, f.ctl.State())
}

func TestPollIgnoresOtherKeys(t *testing.T) {
	f := newFixture(t)
	f.ctl.SetBinding(osutils.VK_XBUTTON1)
	f.fake.Press(osutils.VK_XBUTTON2)
	f.ctl.Poll()
	assert.Equal(t, Interactive, f.ctl.State())

	f.fake.Press(osutils.VK_XBUTTON1)
	f.ctl.Poll()
	assert.Equal(t, ClickThrough, f.ctl.State())
}

func TestPressReleaseIsOneTransition(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("one press, one toggle", prop.ForAll(
		func(heldTicks, releasedTicks int) bool {
			f := newFixture(t)
			transitions := 0
			f.ctl.OnChange(func(State) { transitions++ })

			f.fake.Press(osutils.VK_XBUTTON2)
			for i := 0; i < heldTicks; i++ {
				f.ctl.Poll()
			}
			f.fake.Release(osutils.VK_XBUTTON2)
			for i := 0; i < releasedTicks; i++ {
				f.ctl.Poll()
			}
			return transitions == 1
		},
		gen.IntRange(1, 60),
		gen.IntRange(0, 60),
	))

	properties.TestingRun(t)
}

func TestPollReassertsClickThrough(t *testing.T) {
	f := newFixture(t)
	f.ctl.SetClickThrough(true)

	// Something outside the controller cleared the bit.
	require.NoError(t, f.fake.SetExStyle(overlay, f.style()&^osutils.WS_EX_TRANSPARENT))
	f.ctl.Poll()
	assert.NotZero(t, f.style()&osutils.WS_EX_TRANSPARENT)

	f.fake.ResetCalls()
	f.ctl.Poll()
	assert.Empty(t, f.fake.CallsWithPrefix("SetExStyle"), "no write when already set")
}

func TestStyleGuardRejectsReentrantMutation(t *testing.T) {
	f := newFixture(t)
	guard := f.ctl.guard

	var inner error
	err := guard.Update(func(s uint32) uint32 {
		inner = guard.Set(osutils.WS_EX_TOPMOST)
		return s | osutils.WS_EX_TRANSPARENT
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrReentrant)
	assert.NotZero(t, f.style()&osutils.WS_EX_TRANSPARENT)
	assert.Zero(t, f.style()&osutils.WS_EX_TOPMOST)

	require.NoError(t, guard.Set(osutils.WS_EX_TOPMOST))
	assert.True(t, guard.Has(osutils.WS_EX_TOPMOST))
}

func TestNoteFocusClearsNoActivate(t *testing.T) {
	f := newFixture(t)
	f.ctl.NoteFocusGained()
	assert.True(t, f.ctl.NoteHasFocus())
	assert.Zero(t, f.style()&osutils.WS_EX_NOACTIVATE)
	assert.Equal(t, overlay, f.fake.ForegroundWindow())

	f.ctl.NoteFocusLost()
	assert.Zero(t, f.style()&osutils.WS_EX_NOACTIVATE, "grace period")
	require.Len(t, f.sched.queue, 1)
	assert.Equal(t, NoteGrace, f.sched.queue[0].d)

	f.sched.fire()
	assert.NotZero(t, f.style()&osutils.WS_EX_NOACTIVATE)
}

func TestNoteRefocusCancelsGrace(t *testing.T) {
	f := newFixture(t)
	f.ctl.NoteFocusGained()
	f.ctl.NoteFocusLost()
	f.ctl.NoteFocusGained()

	f.sched.fire()
	assert.Zero(t, f.style()&osutils.WS_EX_NOACTIVATE)
}

func TestNoteEditingDoesNotFightClickThrough(t *testing.T) {
	f := newFixture(t)
	f.ctl.SetClickThrough(true)
	f.ctl.NoteFocusGained()
	f.ctl.NoteFocusLost()
	f.sched.fire()
	f.ctl.Poll()

	assert.Equal(t, uint32(osutils.WS_EX_TRANSPARENT|osutils.WS_EX_NOACTIVATE),
		f.style()&(osutils.WS_EX_TRANSPARENT|osutils.WS_EX_NOACTIVATE))
}
