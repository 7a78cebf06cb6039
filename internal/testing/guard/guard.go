// Package guard puts the binaries into test mode when imported for side
// effects. It also supplies throwaway secrets so LoadConfig succeeds under
// go test without a populated environment.
package guard

import "os"

// Env lists the variables set when they are missing.
var Env = map[string]string{
	"FANFARE_TEST_MODE": "1",
	"SESSION_SECRET":    "test-session-secret",
	"CSRF_SECRET":       "test-csrf-secret",
	"SESSION_TOKEN_KEY": "test-session-token-key",
}

func init() {
	for key, value := range Env {
		if _, ok := os.LookupEnv(key); !ok {
			_ = os.Setenv(key, value)
		}
	}
}
