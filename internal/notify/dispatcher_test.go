package notify_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/chatsync/internal/model"
	"github.com/nhle/chatsync/internal/notify"
)

func TestDispatcher_LastWriteWins(t *testing.T) {
	d := notify.New(time.Minute)
	defer d.Close()

	d.Info("first")
	d.Error("second")

	n, ok := d.Current()
	require.True(t, ok)
	assert.Equal(t, "second", n.Message)
	assert.Equal(t, model.SeverityError, n.Severity)
	assert.Equal(t, time.Minute, n.Lifetime)
}

func TestDispatcher_AutoDismiss(t *testing.T) {
	d := notify.New(time.Minute)
	defer d.Close()

	d.ShowFor("short", model.SeveritySuccess, 20*time.Millisecond)
	_, ok := d.Current()
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, visible := d.Current()
		return !visible
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_ReplacedTimerDoesNotDismissNewer(t *testing.T) {
	d := notify.New(time.Minute)
	defer d.Close()

	d.ShowFor("old", model.SeverityInfo, 20*time.Millisecond)
	d.ShowFor("new", model.SeverityInfo, time.Minute)

	time.Sleep(60 * time.Millisecond)
	n, ok := d.Current()
	require.True(t, ok)
	assert.Equal(t, "new", n.Message)
}

func TestDispatcher_DismissCancelsTimer(t *testing.T) {
	d := notify.New(time.Minute)
	defer d.Close()
	changes := d.Subscribe()

	d.ShowFor("bye", model.SeverityInfo, 30*time.Millisecond)
	d.Dismiss()
	_, ok := d.Current()
	assert.False(t, ok)

	shown := <-changes
	assert.True(t, shown.Visible)
	hidden := <-changes
	assert.False(t, hidden.Visible)
	assert.Equal(t, "bye", hidden.Notice.Message)

	time.Sleep(60 * time.Millisecond)
	select {
	case c := <-changes:
		t.Fatalf("unexpected change after dismiss: %+v", c)
	default:
	}
}

func TestDispatcher_CloseIgnoresLaterShows(t *testing.T) {
	var shown []string
	d := notify.New(0, notify.WithOnShow(func(n model.Notification) {
		shown = append(shown, n.Message)
	}))
	changes := d.Subscribe()

	d.Success("saved")
	d.Close()
	d.Error("late")

	_, ok := d.Current()
	assert.False(t, ok)
	assert.Equal(t, []string{"saved"}, shown)

	var got []notify.Change
	for c := range changes {
		got = append(got, c)
	}
	require.Len(t, got, 2)
	assert.Equal(t, notify.DefaultLifetime, got[0].Notice.Lifetime)
}
