package sysfsreplay_test

import (
	"os"
	"path/filepath"
	"testing"

	"rootinit/sysfsreplay"
	"rootinit/uevent"

	"github.com/stretchr/testify/require"
)

// queueItem is either a queued event (ok=true) or an empty poll
// (ok=false), modeling one ReadTimeout call each.
type queueItem struct {
	ev uevent.UEvent
	ok bool
}

type fakeSource struct {
	queue []queueItem
	calls int
}

func (f *fakeSource) ReadTimeout(timeoutMs int) (uevent.UEvent, bool, error) {
	f.calls++
	if len(f.queue) == 0 {
		return uevent.UEvent{}, false, nil
	}
	item := f.queue[0]
	f.queue = f.queue[1:]
	return item.ev, item.ok, nil
}

func makeDeviceDir(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "uevent"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(path, "dev"), []byte("252:0\n"), 0o644))
}

func TestRegenerateUeventStopsOnPredicateMatch(t *testing.T) {
	// Built directly under os.TempDir() rather than t.TempDir() to keep
	// the tree shallow: with the default /tmp, "/" + "tmp" + base +
	// "vda" + "vdaN" is exactly 5 components, the depth bound. A TMPDIR
	// nested deeper than /tmp would push vdaN past the bound.
	base, err := os.MkdirTemp("", "sr")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(base) })

	vda := filepath.Join(base, "vda")
	vda1 := filepath.Join(vda, "vda1")
	vda6 := filepath.Join(vda, "vda6")
	makeDeviceDir(t, vda)
	makeDeviceDir(t, vda1)
	makeDeviceDir(t, vda6)

	src := &fakeSource{queue: []queueItem{
		{ev: uevent.UEvent{Action: uevent.ActionAdd, DevName: "vda"}, ok: true},
		{ok: false},
		{ev: uevent.UEvent{Action: uevent.ActionAdd, DevName: "vda1"}, ok: true},
		{ok: false},
		{ev: uevent.UEvent{Action: uevent.ActionAdd, DevName: "vda6"}, ok: true},
		{ok: false},
	}}

	var observed []string
	predicate := func(ev uevent.UEvent) sysfsreplay.Signal {
		observed = append(observed, ev.DevName)
		if ev.DevName == "vda6" {
			return sysfsreplay.Stop
		}
		return sysfsreplay.Continue
	}

	sig, err := sysfsreplay.RegenerateUeventForDir(vda, src, predicate)
	require.NoError(t, err)
	require.Equal(t, sysfsreplay.Stop, sig)
	require.Equal(t, []string{"vda", "vda1", "vda6"}, observed)
	require.Len(t, src.queue, 1, "traversal must stop as soon as vda6 is observed")
}

func TestRegenerateUeventDepthBound(t *testing.T) {
	root := t.TempDir()
	deep := root
	for i := 0; i < 8; i++ {
		deep = filepath.Join(deep, "d")
	}
	makeDeviceDir(t, deep)

	src := &fakeSource{}
	predicate := func(uevent.UEvent) sysfsreplay.Signal { return sysfsreplay.Continue }

	sig, err := sysfsreplay.RegenerateUeventForDir(deep, src, predicate)
	require.NoError(t, err)
	require.Equal(t, sysfsreplay.Continue, sig)
	require.Zero(t, src.calls, "depth-bounded directory must never be drained")
}

func TestRegenerateUeventSkipsNonDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	src := &fakeSource{}
	sig, err := sysfsreplay.RegenerateUeventForDir(file, src, func(uevent.UEvent) sysfsreplay.Signal { return sysfsreplay.Continue })
	require.NoError(t, err)
	require.Equal(t, sysfsreplay.Continue, sig)
}
