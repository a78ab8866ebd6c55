package kernel

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"exok/internal/defs"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	k, err := New(64, 64, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	return k
}

func TestBootMakesRootRunnableAndCurrent(t *testing.T) {
	k := newTestKernel(t)
	id, err := k.Boot()
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, id, k.Sched.Current())

	env := k.Table.Get(id.Index())
	require.Equal(t, defs.StatusRunnable, env.Status)
	require.NotNil(t, env.Dir)
}

func TestSyscallKeepsCallerRunningWhenStillRunnable(t *testing.T) {
	k := newTestKernel(t)
	id, _ := k.Boot()

	rc, next := k.Syscall(id, defs.SYS_GETENVID, 0, 0, 0, 0, 0)
	require.Equal(t, int32(id), rc)
	require.Equal(t, id, next)
}

func TestSyscallYieldReschedulesToAnotherRunnable(t *testing.T) {
	k := newTestKernel(t)
	first, _ := k.Boot()

	secondID, aerr := k.Table.Alloc(0)
	require.Equal(t, defs.Err_t(0), aerr)
	second := k.Table.Get(secondID.Index())
	second.Status = defs.StatusRunnable
	second.Priority = defs.N_PRIOS - 1 // outranks first's default priority class

	_, next := k.Syscall(first, defs.SYS_YIELD, 0, 0, 0, 0, 0)
	require.Equal(t, secondID, next)
}

func TestSyscallHaltsWhenNothingRunnable(t *testing.T) {
	k := newTestKernel(t)
	first, _ := k.Boot()
	// Simulate first having already blocked in a receive: nothing else in
	// the table is runnable, so a yield from it must halt rather than
	// re-pick itself.
	k.Table.Get(first.Index()).Status = defs.StatusNotRunnable

	_, next := k.Syscall(first, defs.SYS_YIELD, 0, 0, 0, 0, 0)
	require.Equal(t, defs.EnvId(0), next)
}

func TestSyscallDestroyReschedulesAway(t *testing.T) {
	k := newTestKernel(t)
	first, _ := k.Boot()
	secondID, _ := k.Table.Alloc(0)
	second := k.Table.Get(secondID.Index())
	second.Status = defs.StatusRunnable

	rc, next := k.Syscall(first, defs.SYS_ENV_DESTROY, uint32(first), 0, 0, 0, 0)
	require.Equal(t, int32(0), rc)
	require.Equal(t, secondID, next)

	env := k.Table.Get(first.Index())
	require.Equal(t, defs.StatusFree, env.Status)
}
