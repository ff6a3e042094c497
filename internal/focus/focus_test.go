package focus

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rpoverlay/internal/input"
	"rpoverlay/internal/osutils"
	"rpoverlay/internal/osutils/osutilstest"
)

const (
	gameHWND    osutils.HWND = 10
	overlayHWND osutils.HWND = 20
	browserHWND osutils.HWND = 30
)

func newTestCoordinator() (*Coordinator, *osutilstest.Fake) {
	fake := osutilstest.NewFake()
	fake.AddWindow(browserHWND, osutilstest.FakeWindow{Title: "Wiki - Browser", Thread: 3, Process: 30, Shown: true})
	fake.AddWindow(gameHWND, osutilstest.FakeWindow{Title: "FiveM® by Cfx.re", Thread: 7, Process: 70, Shown: true})
	fake.SetForegroundDirect(browserHWND)
	return NewCoordinator(fake, Timing{Retries: 2}, zap.NewNop()), fake
}

func TestTitleContains(t *testing.T) {
	assert.True(t, GamePredicate("fivem - server"))
	assert.True(t, GamePredicate("Grand Theft Auto V"))
	assert.False(t, GamePredicate("Notepad"))
	assert.True(t, DebugPredicate("Namnlös - Anteckningar"))
	assert.True(t, DebugPredicate("Untitled - NOTEPAD"))
}

func TestFindWindowSkipsHidden(t *testing.T) {
	c, fake := newTestCoordinator()
	fake.AddWindow(40, osutilstest.FakeWindow{Title: "Notepad", Shown: false})
	_, ok := c.FindWindow(DebugPredicate)
	assert.False(t, ok)

	h, ok := c.FindWindow(GamePredicate)
	require.True(t, ok)
	assert.Equal(t, gameHWND, h)
}

func TestAcquireSequence(t *testing.T) {
	c, fake := newTestCoordinator()

	tr, err := c.Acquire(context.Background(), gameHWND)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"AttachThreadInput 1 7 true",
		"AllowSetForeground 70",
		"ShowWindow 10 9",
		"BringToTop 10",
		"SetForeground 10",
		"SetFocus 10",
	}, fake.Calls())
	assert.True(t, fake.Attached(1, 7))
	assert.Equal(t, browserHWND, c.Previous())

	tr.Release()
	tr.Release()
	assert.False(t, fake.Attached(1, 7))
	assert.Len(t, fake.CallsWithPrefix("AttachThreadInput 1 7 false"), 1)
}

func TestAcquireSameThreadSkipsAttach(t *testing.T) {
	c, fake := newTestCoordinator()
	fake.AddWindow(50, osutilstest.FakeWindow{Title: "own", Thread: 1, Process: 1, Shown: true})

	tr, err := c.Acquire(context.Background(), 50)
	require.NoError(t, err)
	tr.Release()
	assert.Empty(t, fake.CallsWithPrefix("AttachThreadInput"))
}

func TestAcquireRetriesForeground(t *testing.T) {
	c, fake := newTestCoordinator()
	fake.RefuseForeground(gameHWND, 1)

	tr, err := c.Acquire(context.Background(), gameHWND)
	require.NoError(t, err)
	defer tr.Release()
	assert.Len(t, fake.CallsWithPrefix("SetForeground 10"), 2)
}

func TestAcquireFailureDetaches(t *testing.T) {
	c, fake := newTestCoordinator()
	fake.RefuseForeground(gameHWND, 100)

	_, err := c.Acquire(context.Background(), gameHWND)
	assert.ErrorIs(t, err, ErrFocusFailed)
	assert.False(t, fake.Attached(1, 7))
	assert.Len(t, fake.CallsWithPrefix("SetForeground 10"), 3)
}

func TestAcquireCancelledDetaches(t *testing.T) {
	c, fake := newTestCoordinator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Acquire(ctx, gameHWND)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, fake.Attached(1, 7))
}

func TestDeliverNotFoundIsDistinct(t *testing.T) {
	c, fake := newTestCoordinator()
	called := false

	err := c.Deliver(context.Background(), DebugPredicate, func(context.Context, *Transfer) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrWindowNotFound)
	assert.NotErrorIs(t, err, ErrFocusFailed)
	assert.False(t, called)
	assert.Empty(t, fake.Calls())

	fake.RefuseForeground(gameHWND, 100)
	err = c.Deliver(context.Background(), GamePredicate, func(context.Context, *Transfer) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrFocusFailed)
	assert.NotErrorIs(t, err, ErrWindowNotFound)
	assert.False(t, called)
}

func TestDeliverDetachesAfterInput(t *testing.T) {
	c, fake := newTestCoordinator()
	boom := errors.New("typing failed")

	err := c.Deliver(context.Background(), GamePredicate, func(_ context.Context, tr *Transfer) error {
		assert.Equal(t, gameHWND, tr.Target())
		assert.True(t, fake.Attached(1, 7), "attached while delivering")
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, fake.Attached(1, 7))
}

func TestReassert(t *testing.T) {
	c, fake := newTestCoordinator()
	tr, err := c.Acquire(context.Background(), gameHWND)
	require.NoError(t, err)
	defer tr.Release()

	ok, err := tr.Reassert(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	fake.SetForegroundDirect(browserHWND)
	fake.ResetCalls()
	ok, err = tr.Reassert(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"SetForeground 10"}, fake.Calls())
}

func TestRememberAndRestorePrevious(t *testing.T) {
	c, fake := newTestCoordinator()
	assert.False(t, c.RestorePrevious())

	fake.SetForegroundDirect(overlayHWND)
	assert.Equal(t, osutils.HWND(0), c.RememberForeground(overlayHWND))

	fake.SetForegroundDirect(gameHWND)
	assert.Equal(t, gameHWND, c.RememberForeground(overlayHWND))

	fake.SetForegroundDirect(overlayHWND)
	assert.True(t, c.RestorePrevious())
	assert.Equal(t, gameHWND, fake.ForegroundWindow())
}

func TestDeliverKeepsOneOSThread(t *testing.T) {
	if osutilstest.OSThreadID() == 0 {
		t.Skip("OS thread ids are not available on this platform")
	}
	c, fake := newTestCoordinator()
	fake.UseThreadIDs(osutilstest.OSThreadID)
	step := time.Millisecond
	c = NewCoordinator(fake, Timing{Restore: step, Raise: step, Foreground: step, Focus: step, Retry: step, Retries: 1}, zap.NewNop())

	// Busy goroutines give the scheduler reasons to move a parked goroutine.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					runtime.Gosched()
				}
			}
		}()
	}

	err := c.Deliver(context.Background(), GamePredicate, func(ctx context.Context, tr *Transfer) error {
		for i := 0; i < 5; i++ {
			if err := fake.SendKey(0x54, false); err != nil {
				return err
			}
			if err := input.Sleep(ctx, step); err != nil {
				return err
			}
			if err := fake.SendKey(0x54, true); err != nil {
				return err
			}
		}
		return nil
	})
	close(stop)
	wg.Wait()
	require.NoError(t, err)

	attach := fake.Threads("AttachThreadInput")
	require.Len(t, attach, 2)
	owner := attach[0]
	assert.Equal(t, fmt.Sprintf("AttachThreadInput %d 7 true", owner), fake.CallsWithPrefix("AttachThreadInput")[0])

	var used []uint32
	for _, op := range []string{"AttachThreadInput", "SetForeground", "SetFocus", "SendKey"} {
		used = append(used, fake.Threads(op)...)
	}
	for _, tid := range used {
		assert.Equal(t, owner, tid)
	}
	assert.False(t, fake.Attached(owner, 7))
}
