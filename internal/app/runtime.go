package app

import (
	"os"
	"strconv"
)

// TestModeEnv names the variable that stops binaries from starting
// listeners and workers when they are imported by tests.
const TestModeEnv = "STOCKLEDGER_TEST_MODE"

// InTestMode reports whether TestModeEnv holds a true boolean.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}
