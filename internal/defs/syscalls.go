package defs

// Syscall numbers, §4.4. Dispatched by an integer number plus up to five
// word-sized arguments; each returns a signed 32-bit value.
const (
	SYS_CPUTS int = iota + 1
	SYS_CGETC
	SYS_GETENVID
	SYS_ENV_DESTROY
	SYS_YIELD
	SYS_EXOFORK
	SYS_ENV_SET_STATUS
	SYS_ENV_SET_PGFAULT_UPCALL
	SYS_PAGE_ALLOC
	SYS_PAGE_MAP
	SYS_PAGE_UNMAP
	SYS_IPC_TRY_SEND
	SYS_IPC_RECV
	SYS_ENV_SET_TRAPFRAME
	SYS_SET_PRIORITY
)

// ALLOC_ZERO requests that page_alloc zero the returned frame.
const ALLOC_ZERO = 1
