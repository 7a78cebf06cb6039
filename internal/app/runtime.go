package app

import (
	"os"
	"sync/atomic"
)

const testModeEnv = "FANFARE_TEST_MODE"

// testMode caches the flag: 0 unknown, 1 off, 2 on.
var testMode atomic.Int32

// InTestMode reports whether the binaries should skip runtime side effects.
func InTestMode() bool {
	if testMode.Load() == 0 {
		RefreshTestMode()
	}
	return testMode.Load() == 2
}

// RefreshTestMode re-reads FANFARE_TEST_MODE after environment changes.
func RefreshTestMode() {
	if os.Getenv(testModeEnv) == "1" {
		testMode.Store(2)
		return
	}
	testMode.Store(1)
}
