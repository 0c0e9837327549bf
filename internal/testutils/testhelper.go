package testutils

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a discarded logger. Raise the
// level via Logger directly when a test needs execution traces.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Eventually polls cond every tick until it is true or the deadline
// passes. It reports the final outcome without failing the test.
func Eventually(cond func() bool, deadline, tick time.Duration) bool {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if cond() {
			return true
		}
		time.Sleep(tick)
	}
	return cond()
}
