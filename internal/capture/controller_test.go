package capture

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hara602/inputSentry/internal/eventbus"
	"github.com/Hara602/inputSentry/internal/inputdev/fakedev"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/registry"
)

const (
	kbd    = "/dev/input/event3"
	mouse  = "/dev/input/event5"
	pad    = "/dev/input/event7"
	screen = "/dev/input/event9"
	power  = "/dev/input/event0"
)

type whitelist map[string]bool

func (w whitelist) Excluded(path string) bool { return w[path] }

type sinkRecorder struct {
	mu   sync.Mutex
	keys []model.KeyEvent
}

func (s *sinkRecorder) Forward(ev model.KeyEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, ev)
}

func (s *sinkRecorder) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

type fixture struct {
	fake *fakedev.Backend
	reg  *registry.Registry
	bus  *eventbus.Bus
	sink *sinkRecorder
	c    *Controller
}

func newFixture(t *testing.T, tweak func(*Options)) *fixture {
	t.Helper()
	f := &fixture{fake: fakedev.New(), bus: eventbus.New(), sink: &sinkRecorder{}}
	f.fake.Add(fakedev.KeyboardInfo(kbd, "AT Translated Set 2 keyboard"))
	f.fake.Add(fakedev.MouseInfo(mouse, "Logitech USB Optical Mouse"))
	f.fake.Add(fakedev.TouchpadInfo(pad, "SYNA2B52:00 06CB:7E7E Touchpad"))
	f.fake.Add(fakedev.TouchscreenInfo(screen, "ELAN9008:00 04F3:2C82"))
	f.fake.Add(fakedev.PowerButtonInfo(power))
	f.reg = registry.New(f.fake)
	f.reg.Refresh()

	opts := Options{
		Backend:           f.fake,
		Devices:           f.reg,
		Bus:               f.bus,
		Sink:              f.sink,
		TouchscreenBypass: true,
	}
	if tweak != nil {
		tweak(&opts)
	}
	f.c = New(opts)
	t.Cleanup(func() {
		f.c.Close()
		f.bus.Close()
	})
	return f
}

// assertInvariant 锁定状态与真实独占句柄一致
func (f *fixture) assertInvariant(t *testing.T) {
	t.Helper()
	for _, d := range f.reg.List() {
		locked := f.c.IsLocked(d.Path)
		assert.Equal(t, locked, f.fake.Grabbed(d.Path), "grab state of %s", d.Path)
		if locked {
			assert.Equal(t, 1, f.fake.OpenNodes(d.Path), "handles of %s", d.Path)
		} else {
			assert.Equal(t, 0, f.fake.OpenNodes(d.Path), "handles of %s", d.Path)
		}
	}
}

func collect(t *testing.T, s *eventbus.Subscription, n int) []model.DeviceUpdate {
	t.Helper()
	var out []model.DeviceUpdate
	for len(out) < n {
		select {
		case ev := <-s.C:
			if u, ok := ev.Payload.(model.DeviceUpdate); ok {
				out = append(out, u)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d device updates, want %d", len(out), n)
		}
	}
	// 不应有多余事件
	select {
	case ev := <-s.C:
		t.Fatalf("unexpected extra event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	return out
}

func TestLockIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.bus.Subscribe()

	require.NoError(t, f.c.Lock(kbd))
	require.NoError(t, f.c.Lock(kbd))
	assert.True(t, f.c.IsLocked(kbd))
	assert.Equal(t, 1, f.fake.Opens(kbd))
	assert.Equal(t, 1, f.c.LockedCount())
	f.assertInvariant(t)

	assert.Equal(t, []model.DeviceUpdate{{Path: kbd, Locked: true}}, collect(t, sub, 1))
}

func TestUnlockIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.c.Unlock(kbd))

	require.NoError(t, f.c.Lock(kbd))
	require.NoError(t, f.c.Unlock(kbd))
	require.NoError(t, f.c.Unlock(kbd))
	assert.False(t, f.c.IsLocked(kbd))
	assert.Equal(t, 0, f.c.LockedCount())
	f.assertInvariant(t)
}

func TestLockAllRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.bus.Subscribe()

	res, err := f.c.LockAll(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Affected)
	assert.Equal(t, []string{kbd, mouse, pad}, f.c.LockedPaths())
	assert.False(t, f.fake.Grabbed(screen))
	assert.False(t, f.fake.Grabbed(power))
	f.assertInvariant(t)

	// 再次 LockAll 不产生变化
	res, err = f.c.LockAll(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Affected)

	res, err = f.c.UnlockAll()
	require.NoError(t, err)
	assert.Equal(t, 3, res.Affected)
	assert.Empty(t, f.c.LockedPaths())
	f.assertInvariant(t)

	// 同一发布者的事件按路径顺序到达
	assert.Equal(t, []model.DeviceUpdate{
		{Path: kbd, Locked: true},
		{Path: mouse, Locked: true},
		{Path: pad, Locked: true},
		{Path: kbd, Locked: false},
		{Path: mouse, Locked: false},
		{Path: pad, Locked: false},
	}, collect(t, sub, 6))
}

func TestLockAllExcludesTypesAndWhitelist(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Excluder = whitelist{pad: true} })

	res, err := f.c.LockAll([]model.DeviceType{model.Mouse, model.Touchscreen})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)
	assert.Equal(t, []string{kbd}, f.c.LockedPaths())
}

func TestLockByTypesTouchscreenPolicy(t *testing.T) {
	f := newFixture(t, nil)

	// bypass 开启时显式请求的触摸屏被拒绝, 并作为失败返回
	res, err := f.c.LockByTypes([]model.DeviceType{model.Touchscreen, model.Other})
	assert.ErrorIs(t, err, ErrTouchscreenBypass)
	assert.Equal(t, 0, res.Affected)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, screen, res.Failures[0].Path)
	assert.False(t, f.fake.Grabbed(screen))
	assert.False(t, f.fake.Grabbed(power))

	// 未请求触摸屏时 bypass 不产生失败
	res, err = f.c.LockByTypes([]model.DeviceType{model.Mouse})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	require.NoError(t, f.c.Unlock(mouse))

	f.c.SetTouchscreenBypass(false)
	res, err = f.c.LockByTypes([]model.DeviceType{model.Touchscreen})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)
	assert.True(t, f.fake.Grabbed(screen))

	// 叠加锁定, 不会释放之前锁定的设备
	_, err = f.c.LockByTypes([]model.DeviceType{model.Keyboard})
	require.NoError(t, err)
	assert.Equal(t, []string{kbd, screen}, f.c.LockedPaths())

	// LockAll 无论如何都不会碰触摸屏
	require.NoError(t, f.c.Unlock(screen))
	_, err = f.c.LockAll(nil)
	require.NoError(t, err)
	assert.False(t, f.fake.Grabbed(screen))
	f.assertInvariant(t)
}

func TestLockErrors(t *testing.T) {
	f := newFixture(t, nil)

	f.fake.GrabExternally(mouse, true)
	err := f.c.Lock(mouse)
	assert.ErrorIs(t, err, model.ErrAlreadyInUse)
	assert.False(t, f.c.IsLocked(mouse))
	assert.Equal(t, 0, f.fake.OpenNodes(mouse))

	f.fake.FailOpen(kbd, fmt.Errorf("open %s: %w", kbd, model.ErrPermissionDenied))
	assert.ErrorIs(t, f.c.Lock(kbd), model.ErrPermissionDenied)

	assert.ErrorIs(t, f.c.Lock("/dev/input/event42"), model.ErrNotFound)
	f.assertInvariant(t)
}

func TestLockAllAccumulatesFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.fake.GrabExternally(mouse, true)
	f.fake.FailOpen(pad, fmt.Errorf("open %s: %w", pad, model.ErrPermissionDenied))

	res, err := f.c.LockAll(nil)
	require.Error(t, err)
	assert.Equal(t, 1, res.Affected)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, mouse, res.Failures[0].Path)
	assert.True(t, errors.Is(res.Failures[0].Err, model.ErrAlreadyInUse))
	assert.Equal(t, pad, res.Failures[1].Path)
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
	assert.True(t, f.c.IsLocked(kbd))
}

func TestToggle(t *testing.T) {
	f := newFixture(t, nil)

	locked, err := f.c.Toggle(mouse)
	require.NoError(t, err)
	assert.True(t, locked)
	locked, err = f.c.Toggle(mouse)
	require.NoError(t, err)
	assert.False(t, locked)
	f.assertInvariant(t)
}

func TestConcurrentLockUnlock(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, nil)
		sub := f.bus.Subscribe()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _ = f.c.Lock(kbd) }()
		go func() { defer wg.Done(); _ = f.c.Unlock(kbd) }()
		wg.Wait()

		final := f.c.IsLocked(kbd)
		want := 1
		if !final {
			// 先锁后解: 两次有效变化
			want = 2
		}
		updates := collect(t, sub, want)
		assert.Equal(t, final, updates[len(updates)-1].Locked)
		assert.LessOrEqual(t, f.fake.Opens(kbd), 1)
		f.assertInvariant(t)
		sub.Close()
	}
}

func TestPumpForwardsKeys(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.c.Lock(kbd))

	f.fake.Key(kbd, evdev.KEY_UP, model.KeyDown)
	f.fake.Emit(kbd, evdev.EV_SYN, evdev.SYN_REPORT, 0)
	f.fake.Key(kbd, evdev.KEY_UP, model.KeyUp)

	assert.Eventually(t, func() bool { return f.sink.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	f.sink.mu.Lock()
	assert.Equal(t, evdev.EvCode(evdev.KEY_UP), f.sink.keys[0].Code)
	assert.Equal(t, kbd, f.sink.keys[0].Path)
	f.sink.mu.Unlock()
}

func TestLockedDeviceRemoved(t *testing.T) {
	goneCh := make(chan string, 1)
	f := newFixture(t, func(o *Options) { o.OnGone = func(p string) { goneCh <- p } })
	require.NoError(t, f.c.Lock(mouse))

	f.fake.Remove(mouse)
	select {
	case p := <-goneCh:
		assert.Equal(t, mouse, p)
	case <-time.After(2 * time.Second):
		t.Fatal("removal not reported")
	}

	f.c.Release(mouse)
	assert.False(t, f.c.IsLocked(mouse))
	assert.Equal(t, 0, f.c.LockedCount())
}

func TestTransitionHook(t *testing.T) {
	var mu sync.Mutex
	var totals []int
	f := newFixture(t, func(o *Options) {
		o.OnTransition = func(_ string, _ bool, total int) {
			mu.Lock()
			totals = append(totals, total)
			mu.Unlock()
		}
	})
	_, err := f.c.LockAll(nil)
	require.NoError(t, err)
	_, err = f.c.UnlockAll()
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 2, 1, 0}, totals)
}

func TestReleaseWakesBlockedPump(t *testing.T) {
	goneCh := make(chan string, 1)
	f := newFixture(t, func(o *Options) { o.OnGone = func(p string) { goneCh <- p } })
	_, err := f.c.LockAll(nil)
	require.NoError(t, err)
	require.NoError(t, f.c.Unlock(kbd))
	assert.Equal(t, 1, f.fake.Revokes(kbd))

	// Close 唤不醒阻塞的读取; 只有先 Revoke, Close 才能等到所有 pump 退出
	done := make(chan struct{})
	go func() {
		f.c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a pump")
	}
	for _, p := range []string{kbd, mouse, pad} {
		assert.Equal(t, 0, f.fake.OpenNodes(p))
	}

	// 主动释放不算设备消失
	select {
	case p := <-goneCh:
		t.Fatalf("released device reported gone: %s", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReadErrorReleasesDevice(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.bus.Subscribe()
	defer sub.Close()
	require.NoError(t, f.c.Lock(kbd))

	f.fake.FailRead(kbd, errors.New("read /dev/input/event3: input/output error"))
	assert.Eventually(t, func() bool { return !f.c.IsLocked(kbd) }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, f.fake.Grabbed(kbd))
	assert.Equal(t, 0, f.c.LockedCount())

	updates := collect(t, sub, 2)
	assert.False(t, updates[1].Locked)

	// 可以重新锁定
	require.NoError(t, f.c.Lock(kbd))
	f.assertInvariant(t)
}
