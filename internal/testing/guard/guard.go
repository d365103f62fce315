// Package guard forces test mode when imported from a test binary.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("DUKAAN_TEST_MODE") == "" {
			_ = os.Setenv("DUKAAN_TEST_MODE", "1")
		}
	})
}
