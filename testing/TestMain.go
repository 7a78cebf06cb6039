// Package testing switches the binaries into test mode when imported for
// side effects from _test files.
package testing

import (
	"os"
	stdtesting "testing"

	_ "github.com/fanfare-hq/fanfare/internal/testing/guard"
)

func TestMain(m *stdtesting.M) {
	os.Exit(m.Run())
}
