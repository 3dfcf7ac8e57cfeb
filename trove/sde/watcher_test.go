package sde

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceWatcher(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"SettledChangeTriggersRebuild", testWatcherSettledChange},
		{"UntrackedFilesAreIgnored", testWatcherIgnoresUntracked},
		{"BurstCollapsesToOneRebuild", testWatcherDebouncesBurst},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func testWatcherSettledChange(t *testing.T) {
	dir := t.TempDir()
	var rebuilds atomic.Int32

	w, err := newSourceWatcher(dir, 50*time.Millisecond, func() { rebuilds.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	writeFixtureFile(t, dir, "types.jsonl", []string{`{"_key": 1}`}, time.Now())

	require.Eventually(t, func() bool { return rebuilds.Load() == 1 },
		2*time.Second, 10*time.Millisecond, "A tracked file change should trigger one rebuild")
}

func testWatcherIgnoresUntracked(t *testing.T) {
	dir := t.TempDir()
	var rebuilds atomic.Int32

	w, err := newSourceWatcher(dir, 50*time.Millisecond, func() { rebuilds.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	writeFixtureFile(t, dir, "notes.txt", []string{"unrelated"}, time.Now())

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, rebuilds.Load(), "Untracked files should not trigger rebuilds")
}

func testWatcherDebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	var rebuilds atomic.Int32

	w, err := newSourceWatcher(dir, 100*time.Millisecond, func() { rebuilds.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	// A burst of writes inside the debounce window.
	for i := 0; i < 5; i++ {
		writeFixtureFile(t, dir, "types.jsonl", []string{`{"_key": 1}`, `{"_key": 2}`}, time.Now())
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return rebuilds.Load() >= 1 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), rebuilds.Load(), "The burst should settle into a single rebuild")
}
