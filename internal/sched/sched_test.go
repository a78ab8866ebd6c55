package sched

import (
	"testing"

	"github.com/stretchr/testify/require"

	"exok/internal/defs"
	"exok/internal/envtab"
)

func TestPickRoundRobinsWithinAClass(t *testing.T) {
	tbl := envtab.NewTable(nil)
	var ids []defs.EnvId
	for i := 0; i < 3; i++ {
		id, _ := tbl.Alloc(0)
		tbl.Get(id.Index()).Status = defs.StatusRunnable
		ids = append(ids, id)
	}

	s := New()
	first, ok := s.Pick(tbl)
	require.True(t, ok)
	require.Equal(t, ids[0], first)
	s.SetCurrent(first)

	second, ok := s.Pick(tbl)
	require.True(t, ok)
	require.Equal(t, ids[1], second)
	s.SetCurrent(second)

	third, ok := s.Pick(tbl)
	require.True(t, ok)
	require.Equal(t, ids[2], third)
}

func TestPickPrefersHigherPriorityClass(t *testing.T) {
	tbl := envtab.NewTable(nil)
	lowID, _ := tbl.Alloc(0)
	tbl.Get(lowID.Index()).Status = defs.StatusRunnable
	tbl.Get(lowID.Index()).Priority = 0

	highID, _ := tbl.Alloc(0)
	tbl.Get(highID.Index()).Status = defs.StatusRunnable
	tbl.Get(highID.Index()).Priority = defs.N_PRIOS - 1

	s := New()
	id, ok := s.Pick(tbl)
	require.True(t, ok)
	require.Equal(t, highID, id)
}

func TestPickDoesNotStarveLowerClassWhenHigherIsIdle(t *testing.T) {
	tbl := envtab.NewTable(nil)
	lowID, _ := tbl.Alloc(0)
	tbl.Get(lowID.Index()).Status = defs.StatusRunnable
	tbl.Get(lowID.Index()).Priority = 0

	s := New()
	id, ok := s.Pick(tbl)
	require.True(t, ok)
	require.Equal(t, lowID, id)
}

func TestPickRerunsPreviousWhenNothingElseIsRunnable(t *testing.T) {
	tbl := envtab.NewTable(nil)
	id, _ := tbl.Alloc(0)
	tbl.Get(id.Index()).Status = defs.StatusRunnable

	s := New()
	s.SetCurrent(id)
	got, ok := s.Pick(tbl)
	require.True(t, ok)
	require.Equal(t, id, got)
}

func TestPickHaltsWhenNothingIsRunnable(t *testing.T) {
	tbl := envtab.NewTable(nil)
	id, _ := tbl.Alloc(0)
	tbl.Get(id.Index()).Status = defs.StatusNotRunnable

	s := New()
	_, ok := s.Pick(tbl)
	require.False(t, ok)
}
