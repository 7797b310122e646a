package filewatch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, quiet time.Duration) *Watcher {
	t.Helper()
	w, err := New(t.TempDir(), quiet)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestNew_Validation(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		_, err := New(filepath.Join(t.TempDir(), "nope"), 0)
		assert.Error(t, err)
	})

	t.Run("root is a file", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "f.txt")
		require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
		_, err := New(f, 0)
		assert.Error(t, err)
	})

	t.Run("default quiet window", func(t *testing.T) {
		w := newTestWatcher(t, 0)
		assert.Equal(t, DefaultQuietWindow, w.quiet)
	})
}

func TestObserve_DebouncesBurstToSingleSignal(t *testing.T) {
	w := newTestWatcher(t, 100*time.Millisecond)

	var (
		mu       sync.Mutex
		fired    []Event
		firedAt  []time.Time
		notified = make(chan struct{}, 8)
	)
	w.Subscribe(func(ev Event) {
		mu.Lock()
		fired = append(fired, ev)
		firedAt = append(firedAt, time.Now())
		mu.Unlock()
		notified <- struct{}{}
	})

	start := time.Now()
	w.observe(Event{Path: "a.html", Type: ChangeModified, Time: start})
	time.Sleep(30 * time.Millisecond)
	w.observe(Event{Path: "b.html", Type: ChangeCreated, Time: time.Now()})
	time.Sleep(30 * time.Millisecond)
	last := Event{Path: "c.html", Type: ChangeDeleted, Time: time.Now()}
	w.observe(last)

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced signal never fired")
	}

	// The window restarts on every event, so nothing may follow.
	select {
	case <-notified:
		t.Fatal("burst produced more than one signal")
	case <-time.After(250 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 1)
	assert.Equal(t, last, fired[0], "only the last event's metadata survives")

	elapsed := firedAt[0].Sub(start)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond,
		"signal must wait out the quiet window after the last event")
}

// A timer can expire while observe is replacing it: Stop returns after
// the callback was already scheduled, and the stale callback then runs
// once observe releases the lock. It must not deliver the replacement
// event early, and the replacement timer must still deliver it exactly
// once.
func TestObserve_StaleExpiryDoesNotDeliverEarlyOrTwice(t *testing.T) {
	w := newTestWatcher(t, time.Hour)

	notified := make(chan Event, 4)
	w.Subscribe(func(ev Event) { notified <- ev })

	w.observe(Event{Path: "a.html", Type: ChangeModified})
	staleGen := w.gen
	w.observe(Event{Path: "b.html", Type: ChangeCreated})

	// The first timer's callback losing the race and running after the
	// replacement was armed.
	w.fire(staleGen)

	select {
	case ev := <-notified:
		t.Fatalf("stale expiry delivered %q before its quiet window elapsed", ev.Path)
	case <-time.After(100 * time.Millisecond):
	}

	// The replacement timer is still the live one and fires normally.
	w.fire(w.gen)

	select {
	case ev := <-notified:
		assert.Equal(t, "b.html", ev.Path)
	case <-time.After(time.Second):
		t.Fatal("live timer never delivered")
	}

	select {
	case ev := <-notified:
		t.Fatalf("event %q delivered twice", ev.Path)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestObserve_SeparateQuietPeriodsFireSeparately(t *testing.T) {
	w := newTestWatcher(t, 40*time.Millisecond)

	notified := make(chan Event, 4)
	w.Subscribe(func(ev Event) { notified <- ev })

	w.observe(Event{Path: "one.css", Type: ChangeModified})
	first := <-notified

	w.observe(Event{Path: "two.css", Type: ChangeModified})
	second := <-notified

	assert.Equal(t, "one.css", first.Path)
	assert.Equal(t, "two.css", second.Path)
}

func TestWatcher_DeliversFilesystemChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 50*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	notified := make(chan Event, 4)
	w.Subscribe(func(ev Event) { notified <- ev })
	w.Start()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "page.html"), []byte("<p>hi</p>"), 0o644))

	select {
	case ev := <-notified:
		assert.Equal(t, "page.html", filepath.Base(ev.Path))
	case <-time.After(3 * time.Second):
		t.Fatal("filesystem change never surfaced")
	}
}

func TestWatcher_IgnoredFilesProduceNoSignal(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 50*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	notified := make(chan Event, 4)
	w.Subscribe(func(ev Event) { notified <- ev })
	w.Start()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "debug.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "save.tmp"), []byte("x"), 0o644))

	select {
	case ev := <-notified:
		t.Fatalf("ignored file %q triggered a signal", ev.Path)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestStop_IsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	w.Start()

	require.NoError(t, w.Stop())
	assert.NotPanics(t, func() { _ = w.Stop() })
}

func TestStop_CancelsPendingTimer(t *testing.T) {
	w, err := New(t.TempDir(), 50*time.Millisecond)
	require.NoError(t, err)
	w.Start()

	notified := make(chan Event, 1)
	w.Subscribe(func(ev Event) { notified <- ev })

	w.observe(Event{Path: "x.html", Type: ChangeModified})
	require.NoError(t, w.Stop())

	select {
	case <-notified:
		t.Fatal("pending debounce fired after Stop")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	w := newTestWatcher(t, 20*time.Millisecond)

	notified := make(chan Event, 1)
	id := w.Subscribe(func(ev Event) { notified <- ev })
	w.Unsubscribe(id)
	w.Unsubscribe(id) // second removal is a no-op

	w.observe(Event{Path: "x.html", Type: ChangeModified})

	select {
	case <-notified:
		t.Fatal("unsubscribed handler was invoked")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestIgnored(t *testing.T) {
	ignored := []string{
		".hidden",
		"backup.html~",
		"scratch.tmp",
		"server.log",
		"node_modules/pkg/index.js",
		"vendor/lib/lib.go",
		"bower_components/x/y.js",
		".git/index",
		"sub/.svn/entries",
		".DS_Store",
		"Thumbs.db",
		"desktop.ini",
		"main.go.swp",
		"4913",
	}
	for _, p := range ignored {
		assert.True(t, Ignored(p), "%q should be ignored", p)
	}

	kept := []string{
		"index.html",
		"css/style.css",
		"app/main.js",
		"notes.txt",
		"tilde~file",
	}
	for _, p := range kept {
		assert.False(t, Ignored(p), "%q should not be ignored", p)
	}
}
