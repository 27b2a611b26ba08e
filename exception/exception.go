package exception

import (
	"os"
	"runtime/debug"
	"sync"

	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/monitoring"
)

// SafeGo runs fn in a goroutine and swallows (but records) any panic.
func SafeGo(name string, fn func()) {
	go func() {
		defer recoverPanic(name, false)
		fn()
	}()
}

// SafeGoWG is SafeGo tied to a WaitGroup, used by the ingest worker pool.
func SafeGoWG(wg *sync.WaitGroup, name string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverPanic(name, false)
		fn()
	}()
}

// SafeGoWithPanic exits the process after logging a panic. Reserved for goroutines
// whose death would leave the store in an unknown state.
func SafeGoWithPanic(name string, fn func()) {
	go func() {
		defer recoverPanic(name, true)
		fn()
	}()
}

func recoverPanic(name string, exit bool) {
	if r := recover(); r != nil {
		monitoring.IncreasePanicCount()
		logx.Error("PANIC", "Panic in: ", name, " ", r, "\n", string(debug.Stack()))
		if exit {
			os.Exit(1)
		}
	}
}
