package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/devscontext/internal/storage"
)

type fakeSource struct {
	stats storage.Stats
	items []storage.Summary
	err   error
}

func (f *fakeSource) Stats(context.Context) (storage.Stats, error) { return f.stats, f.err }

func (f *fakeSource) ListAll(context.Context) ([]storage.Summary, error) { return f.items, f.err }

func TestNewModel(t *testing.T) {
	src := &fakeSource{}
	model := NewModel(src, 5*time.Second)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.Same(t, src, model.source)
	assert.False(t, model.quitting)
}

func TestModel_Init(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_Update_RefreshKey(t *testing.T) {
	src := &fakeSource{stats: storage.Stats{Total: 2, Active: 1}}
	model := NewModel(src, 5*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	require.NotNil(t, cmd)

	msg, ok := cmd().(snapshotMsg)
	require.True(t, ok)
	assert.Equal(t, 2, msg.Stats.Total)
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)

	updatedModel, cmd := model.Update(tickMsg(time.Now()))

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_SnapshotMsg(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)
	fixed := time.Date(2026, 3, 2, 12, 34, 56, 0, time.UTC)
	model.now = func() time.Time { return fixed }

	for _, active := range []int{3, 4} {
		updated, cmd := model.Update(snapshotMsg{Stats: storage.Stats{Total: 5, Active: active, AvgQuality: 0.5}})
		assert.Nil(t, cmd)
		model = updated.(Model)
	}

	assert.Equal(t, 4, model.snapshot.Stats.Active)
	assert.Equal(t, []float64{3, 4}, model.snapshot.ActiveHistory)
	assert.Equal(t, []float64{50, 50}, model.snapshot.QualityHistory)
	assert.Equal(t, fixed, model.lastUpdate)
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)

	updatedModel, cmd := model.Update(errMsg(fmt.Errorf("database is locked")))

	m := updatedModel.(Model)
	require.Error(t, m.err)
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "database is locked")
	assert.Contains(t, m.View(), "Cannot read the context store")

	// a later snapshot clears the error
	updatedModel, _ = m.Update(snapshotMsg{})
	assert.NoError(t, updatedModel.(Model).err)
}

func TestFetchSnapshot_Error(t *testing.T) {
	msg := fetchSnapshot(&fakeSource{err: errors.New("boom")})()
	err, ok := msg.(errMsg)
	require.True(t, ok)
	assert.EqualError(t, err, "boom")
}

func TestModel_View_WithSnapshot(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	model := NewModel(&fakeSource{}, 5*time.Second)
	model.now = func() time.Time { return now }
	model.lastUpdate = time.Date(2026, 3, 2, 12, 34, 56, 0, time.UTC)

	items := make([]storage.Summary, 0, 10)
	for i := range 10 {
		items = append(items, storage.Summary{
			TaskID:       fmt.Sprintf("PROJ-%d", i+1),
			QualityScore: 0.9,
			ExpiresAt:    now.Add(time.Duration(i+1) * time.Hour),
			GapsCount:    1,
		})
	}
	items[9].ExpiresAt = now.Add(-10 * time.Minute)
	model.snapshot = Snapshot{
		Stats: storage.Stats{Total: 10, Active: 9, Expired: 1, AvgQuality: 0.9, Path: "/tmp/cache.db"},
		Items: items,
	}

	view := model.View()
	assert.Contains(t, view, "devscontext Monitor")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "/tmp/cache.db")
	assert.Contains(t, view, "STALE")
	assert.Contains(t, view, "90.0%")
	assert.Contains(t, view, "expired 10m ago")
	assert.Contains(t, view, "... and 2 more")
	assert.Contains(t, view, "[q]")
	// soonest expiry first, so the expired one leads
	assert.Less(t, strings.Index(view, "PROJ-10 "), strings.Index(view, "PROJ-1 "))
}

func TestModel_View_Empty(t *testing.T) {
	view := NewModel(&fakeSource{}, time.Second).View()
	assert.Contains(t, view, "EMPTY")
	assert.Contains(t, view, "No prebuilt contexts yet")
	assert.Contains(t, view, "no data")
	assert.Contains(t, view, "n/a")
}

func TestStatusBadge(t *testing.T) {
	tests := []struct {
		name  string
		stats storage.Stats
		want  string
	}{
		{"empty", storage.Stats{}, "EMPTY"},
		{"fresh", storage.Stats{Total: 2, Active: 2}, "FRESH"},
		{"stale", storage.Stats{Total: 2, Active: 1, Expired: 1}, "STALE"},
		{"expired", storage.Stats{Total: 2, Expired: 2}, "EXPIRED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, statusBadge(tt.stats), tt.want)
		})
	}
}

func TestAppendToHistory(t *testing.T) {
	var history []float64
	for i := range historySize + 5 {
		history = appendToHistory(history, float64(i))
	}
	assert.Len(t, history, historySize)
	assert.Equal(t, float64(5), history[0])
	assert.Equal(t, float64(historySize+4), history[historySize-1])
}

func TestSortedByExpiry_DoesNotMutate(t *testing.T) {
	now := time.Now()
	in := []storage.Summary{
		{TaskID: "B", ExpiresAt: now.Add(time.Hour)},
		{TaskID: "A", ExpiresAt: now},
	}
	out := sortedByExpiry(in)
	assert.Equal(t, "A", out[0].TaskID)
	assert.Equal(t, "B", in[0].TaskID)
}
