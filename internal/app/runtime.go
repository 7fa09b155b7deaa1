package app

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// TestModeEnv makes the binaries return from main before touching Postgres or Redis.
const TestModeEnv = "ARSTATEMENT_TEST_MODE"

var testMode atomic.Pointer[bool]

func readTestMode() bool {
	if strings.EqualFold(os.Getenv("APP_ENV"), "test") {
		return true
	}
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(TestModeEnv)))
	return err == nil && on
}

// InTestMode reports whether runtime side effects should be skipped. The environment
// is read once; RefreshTestMode re-reads it.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and returns the new flag.
func RefreshTestMode() bool {
	on := readTestMode()
	testMode.Store(&on)
	return on
}
