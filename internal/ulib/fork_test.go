package ulib

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"exok/internal/defs"
	"exok/internal/kernel"
)

func newTestKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	k, err := kernel.New(256, 256, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	return k
}

func TestCOWForkPreservesAndPrivatizesOnWrite(t *testing.T) {
	k := newTestKernel(t)
	rootID, err := k.Boot()
	require.Equal(t, defs.Err_t(0), err)
	parent := &Env{K: k, Self: rootID}

	va := uint32(0x00400000)
	rc, _ := k.Syscall(rootID, defs.SYS_PAGE_ALLOC, uint32(rootID), va, uint32(defs.PTE_U|defs.PTE_W|defs.PTE_P), 0, 0)
	require.Equal(t, int32(0), rc)
	require.Equal(t, defs.Err_t(0), parent.WriteByte(va, 0xAB))

	childID, ferr := parent.Fork()
	require.Equal(t, defs.Err_t(0), ferr)
	child := &Env{K: k, Self: childID}

	parentPA, parentPerm, _ := parent.self().Dir.Lookup(va)
	childPA, childPerm, ok := child.self().Dir.Lookup(va)
	require.True(t, ok)
	require.Equal(t, parentPA, childPA, "both share the same physical frame immediately after fork")
	require.NotZero(t, parentPerm&defs.PTE_COW)
	require.NotZero(t, childPerm&defs.PTE_COW)

	require.Equal(t, defs.Err_t(0), child.WriteByte(va, 0xCD))

	parentByte, _ := parent.ReadByte(va)
	childByte, _ := child.ReadByte(va)
	require.Equal(t, byte(0xAB), parentByte, "parent's page is untouched by the child's write")
	require.Equal(t, byte(0xCD), childByte)

	newParentPA, _, _ := parent.self().Dir.Lookup(va)
	newChildPA, _, _ := child.self().Dir.Lookup(va)
	require.NotEqual(t, newParentPA, newChildPA, "the write must have privatized the child's page")
}

func TestForkShareBitIsInheritedVerbatim(t *testing.T) {
	k := newTestKernel(t)
	rootID, _ := k.Boot()
	parent := &Env{K: k, Self: rootID}

	va := uint32(0x00400000)
	perm := defs.PTE_U | defs.PTE_W | defs.PTE_P | defs.PTE_SHARE
	rc, _ := k.Syscall(rootID, defs.SYS_PAGE_ALLOC, uint32(rootID), va, uint32(perm), 0, 0)
	require.Equal(t, int32(0), rc)

	childID, ferr := parent.Fork()
	require.Equal(t, defs.Err_t(0), ferr)
	child := &Env{K: k, Self: childID}

	_, childPerm, ok := child.self().Dir.Lookup(va)
	require.True(t, ok)
	require.Equal(t, perm|defs.PTE_P, childPerm|defs.PTE_P)
	require.NotZero(t, childPerm&defs.PTE_W, "SHARE copies permission verbatim, including Writable")
}

func TestForkReadOnlyPageSharedVerbatim(t *testing.T) {
	k := newTestKernel(t)
	rootID, _ := k.Boot()
	parent := &Env{K: k, Self: rootID}

	va := uint32(0x00400000)
	perm := defs.PTE_U | defs.PTE_P
	rc, _ := k.Syscall(rootID, defs.SYS_PAGE_ALLOC, uint32(rootID), va, uint32(perm), 0, 0)
	require.Equal(t, int32(0), rc)

	childID, ferr := parent.Fork()
	require.Equal(t, defs.Err_t(0), ferr)
	child := &Env{K: k, Self: childID}

	parentPA, parentPerm, _ := parent.self().Dir.Lookup(va)
	childPA, childPerm, ok := child.self().Dir.Lookup(va)
	require.True(t, ok)
	require.Equal(t, parentPA, childPA)
	require.Zero(t, parentPerm&defs.PTE_COW, "read-only non-COW pages are never remarked COW")
	require.Zero(t, childPerm&defs.PTE_COW)
}

func TestForktreeProducesFifteenDistinctPaths(t *testing.T) {
	k := newTestKernel(t)
	rootID, err := k.Boot()
	require.Equal(t, defs.Err_t(0), err)
	root := &Env{K: k, Self: rootID}

	var paths []string
	var walk func(e *Env, path string)
	walk = func(e *Env, path string) {
		paths = append(paths, path)
		if len(path) >= 3 {
			return
		}
		for _, branch := range []byte{'0', '1'} {
			childID, ferr := e.Fork()
			require.Equal(t, defs.Err_t(0), ferr)
			walk(&Env{K: k, Self: childID}, path+string(branch))
		}
	}
	walk(root, "")

	require.Len(t, paths, 15)
	want := map[string]bool{
		"": true,
		"0": true, "1": true,
		"00": true, "01": true, "10": true, "11": true,
		"000": true, "001": true, "010": true, "011": true,
		"100": true, "101": true, "110": true, "111": true,
	}
	got := map[string]bool{}
	for _, p := range paths {
		got[p] = true
	}
	require.Equal(t, want, got)
}
