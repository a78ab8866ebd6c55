package monitor

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"exok/internal/defs"
	"exok/internal/kernel"
)

func newMonitorKernel(t *testing.T) (*kernel.Kernel, defs.EnvId) {
	t.Helper()
	k, err := kernel.New(64, 64, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	id, berr := k.Boot()
	require.Equal(t, defs.Err_t(0), berr)
	return k, id
}

func TestPermStringBitOrder(t *testing.T) {
	// V G S D A C T U W P, left to right, per original_source/kern/monitor.c.
	all := defs.PTE_AVAIL | defs.PTE_G | defs.PTE_PS | defs.PTE_D | defs.PTE_A |
		defs.PTE_PCD | defs.PTE_PWT | defs.PTE_U | defs.PTE_W | defs.PTE_P
	require.Equal(t, "VGSDACTUWP", PermString(all))
	require.Equal(t, "----------", PermString(0))
	require.Equal(t, "--------WP", PermString(defs.PTE_W|defs.PTE_P))
	require.Equal(t, "-------U-P", PermString(defs.PTE_U|defs.PTE_P))
}

func TestShowMappingsReportsUnmappedAndMapped(t *testing.T) {
	k, self := newMonitorKernel(t)
	va := uint32(0x00400000)
	rc, _ := k.Syscall(self, defs.SYS_PAGE_ALLOC, uint32(self), va, uint32(defs.PTE_U|defs.PTE_W|defs.PTE_P), 0, 0)
	require.Equal(t, int32(0), rc)

	m := New(k)
	out := m.Run("mp 0x00800000")
	require.Contains(t, out, "[unmapped]")

	out = m.Run("mp 0x00400000")
	require.Contains(t, out, "perms")
	require.True(t, strings.Contains(out, "WP") || strings.Contains(out, "W-P"))
}

func TestClrPermClearsWritableAndUser(t *testing.T) {
	k, self := newMonitorKernel(t)
	va := uint32(0x00400000)
	rc, _ := k.Syscall(self, defs.SYS_PAGE_ALLOC, uint32(self), va, uint32(defs.PTE_U|defs.PTE_W|defs.PTE_P), 0, 0)
	require.Equal(t, int32(0), rc)

	m := New(k)
	m.Run("clrprm 0x00400000")

	env := k.Table.Get(self.Index())
	_, perm, ok := env.Dir.Lookup(va)
	require.True(t, ok)
	require.Zero(t, perm&defs.PTE_W)
	require.Zero(t, perm&defs.PTE_U)
}

func TestChPermTogglesBitsWithSign(t *testing.T) {
	k, self := newMonitorKernel(t)
	va := uint32(0x00400000)
	rc, _ := k.Syscall(self, defs.SYS_PAGE_ALLOC, uint32(self), va, uint32(defs.PTE_U|defs.PTE_P), 0, 0)
	require.Equal(t, int32(0), rc)

	m := New(k)
	m.Run("chprm 0x00400000 +W")
	env := k.Table.Get(self.Index())
	_, perm, _ := env.Dir.Lookup(va)
	require.NotZero(t, perm&defs.PTE_W)

	m.Run("chprm 0x00400000 -U")
	_, perm, _ = env.Dir.Lookup(va)
	require.Zero(t, perm&defs.PTE_U)
}

func TestContinueAndStepToggleTrapFlag(t *testing.T) {
	k, self := newMonitorKernel(t)
	m := New(k)

	m.Run("step")
	env := k.Table.Get(self.Index())
	require.True(t, env.TF.Trap)

	m.Run("continue")
	require.False(t, env.TF.Trap)

	m.Run("s")
	require.True(t, env.TF.Trap)

	m.Run("c")
	require.False(t, env.TF.Trap)
}

func TestUnknownCommandReported(t *testing.T) {
	k, _ := newMonitorKernel(t)
	m := New(k)
	out := m.Run("bogus")
	require.Contains(t, out, "unknown command")
}

func TestHelpListsCoreCommands(t *testing.T) {
	k, _ := newMonitorKernel(t)
	m := New(k)
	out := m.Run("help")
	for _, want := range []string{"help", "kerninfo", "bt", "mp"} {
		require.Contains(t, out, want)
	}
}
