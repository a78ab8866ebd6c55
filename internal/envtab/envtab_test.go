package envtab

import (
	"testing"

	"github.com/stretchr/testify/require"

	"exok/internal/defs"
)

func TestGenerationReuseYieldsDistinctId(t *testing.T) {
	tbl := NewTable(nil)

	var ids []defs.EnvId
	// Index 0 is permanently reserved (the id-0 sentinel), so only N_ENV-1
	// slots are actually allocatable.
	for i := 0; i < defs.N_ENV-1; i++ {
		id, err := tbl.Alloc(0)
		require.Equal(t, defs.Err_t(0), err)
		ids = append(ids, id)
	}
	_, err := tbl.Alloc(0)
	require.Equal(t, defs.NO_FREE_ENV, err)

	victim := ids[3]
	require.Equal(t, 4, victim.Index())
	env, _ := tbl.Envid2env(victim, victim, false)
	tbl.Destroy(env)

	newID, aerr := tbl.Alloc(0)
	require.Equal(t, defs.Err_t(0), aerr)
	require.Equal(t, 4, newID.Index())
	require.NotEqual(t, victim, newID)
	require.NotEqual(t, victim.Generation(), newID.Generation())
}

func TestAllocNeverReturnsTheZeroSentinelId(t *testing.T) {
	tbl := NewTable(nil)
	for i := 0; i < defs.N_ENV-1; i++ {
		id, err := tbl.Alloc(0)
		require.Equal(t, defs.Err_t(0), err)
		require.NotZero(t, id)
		require.NotEqual(t, 0, id.Index())
	}
}

func TestEnvid2envPermissionRule(t *testing.T) {
	tbl := NewTable(nil)
	parentID, _ := tbl.Alloc(0)
	childID, _ := tbl.Alloc(parentID)
	strangerID, _ := tbl.Alloc(0)

	// The target itself may always resolve itself.
	_, err := tbl.Envid2env(childID, childID, true)
	require.Equal(t, defs.Err_t(0), err)

	// The parent may resolve its child with permission required.
	_, err = tbl.Envid2env(childID, parentID, true)
	require.Equal(t, defs.Err_t(0), err)

	// An unrelated environment may not.
	_, err = tbl.Envid2env(childID, strangerID, true)
	require.Equal(t, defs.BAD_ENV, err)

	// Without requiring permission, anyone may resolve anyone live.
	_, err = tbl.Envid2env(childID, strangerID, false)
	require.Equal(t, defs.Err_t(0), err)
}

func TestEnvid2envRejectsFreedOrStaleGeneration(t *testing.T) {
	tbl := NewTable(nil)
	id, _ := tbl.Alloc(0)
	env, _ := tbl.Envid2env(id, id, false)
	tbl.Destroy(env)

	_, err := tbl.Envid2env(id, id, false)
	require.Equal(t, defs.BAD_ENV, err)
}

func TestEnvid2envZeroIsCurrentSentinel(t *testing.T) {
	tbl := NewTable(nil)
	id, _ := tbl.Alloc(0)

	env, err := tbl.Envid2env(0, id, false)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, id, env.ID)
}

func TestFindByType(t *testing.T) {
	tbl := NewTable(nil)
	id, _ := tbl.Alloc(0)
	tbl.Get(id.Index()).Type = defs.EnvTypeFS

	found, ok := tbl.FindByType(defs.EnvTypeFS)
	require.True(t, ok)
	require.Equal(t, id, found.ID)

	_, ok = tbl.FindByType(defs.EnvTypeNet)
	require.False(t, ok)
}
