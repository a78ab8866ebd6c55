package ulib

import (
	"exok/internal/defs"
)

// IpcRecv issues the blocking-by-status-transition receive of §4.6. It
// always returns immediately in this simulator (there is no goroutine
// parked on a channel) — the "blocking" is the NOT_RUNNABLE status
// transition the syscall performs; the caller observes the delivered
// message later via Received, once a sender has run.
func (e *Env) IpcRecv(dstVA uint32) defs.Err_t {
	rc, _ := e.K.Syscall(e.Self, defs.SYS_IPC_RECV, dstVA, 0, 0, 0, 0)
	if rc < 0 {
		return defs.Err_t(-rc)
	}
	return 0
}

// Received reads this environment's own delivered-message fields directly
// — thisenv-style introspection (§9), not a syscall, since it is reading
// your own environment record.
func (e *Env) Received() (value uint32, from defs.EnvId, perm defs.Perm_t) {
	self := e.self()
	return self.IPC.Value, self.IPC.From, self.IPC.Perm
}

// IpcSend is the user-level retry wrapper of original_source/lib/ipc.c: it
// loops ipc_try_send plus yield until it stops seeing IPC_NOT_RECV,
// panicking on any other failure (SPEC_FULL supplemented feature 3). Per
// §5 there is no queue and no timeout, so maxRetries bounds what would
// otherwise be an unbounded retry loop against an uncooperative
// simulation driver.
func (e *Env) IpcSend(target defs.EnvId, value, srcVA uint32, perm defs.Perm_t, maxRetries int) {
	for i := 0; i < maxRetries; i++ {
		rc, _ := e.K.Syscall(e.Self, defs.SYS_IPC_TRY_SEND, uint32(target), value, srcVA, uint32(perm), 0)
		if rc == 0 {
			return
		}
		errc := defs.Err_t(-rc)
		if errc != defs.IPC_NOT_RECV {
			panic("ulib: ipc_send: " + errc.Error())
		}
		e.K.Syscall(e.Self, defs.SYS_YIELD, 0, 0, 0, 0, 0)
	}
	panic("ulib: ipc_send: retry limit exceeded")
}

// FindEnv performs the linear ipc_find_env scan (SPEC_FULL supplemented
// feature 2) for the first live environment of the given type.
func (e *Env) FindEnv(typ defs.EnvType) (defs.EnvId, bool) {
	found, ok := e.K.Table.FindByType(typ)
	if !ok {
		return 0, false
	}
	return found.ID, true
}
