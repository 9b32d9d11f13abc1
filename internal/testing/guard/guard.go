// Package guard forces test mode for packages that build the full
// application. Import it for side effects from _test.go files.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		setDefault("STOCKLEDGER_TEST_MODE", "1")
		setDefault("STORAGE_DRIVER", "memory")
		setDefault("REDIS_ENABLED", "false")
		setDefault("LOCK_DRIVER", "local")
	})
}

func setDefault(key, value string) {
	if os.Getenv(key) == "" {
		_ = os.Setenv(key, value)
	}
}
