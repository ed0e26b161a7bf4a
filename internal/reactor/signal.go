package reactor

import (
	"os"
	"syscall"
)

// signalsToIntercept lists the signals the reactor converts into shutdown
// events, per spec.md §2: SIGINT, SIGTERM, SIGQUIT.
func signalsToIntercept() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
}
