package daemon_test

import (
	"fmt"
	"strings"

	"github.com/mschirtzinger/autosync/internal/autosync/daemon"
)

// Example_parseMonitorLine demonstrates classifying dbus-monitor output.
func Example_parseMonitorLine() {
	lines := []string{
		"signal time=1 sender=:1.3 -> destination=(null destination) serial=4 path=/org/freedesktop/login1/session/_32; interface=org.freedesktop.login1.Session; member=Lock",
		`   string "IdleHint"`,
		`   string "LockedHint"`,
	}

	for _, line := range lines {
		if sig, ok := daemon.ParseMonitorLine(line); ok {
			fmt.Println(sig)
		}
	}
	// Output:
	// lock
	// locked-hint
}

// Example_scanSignals demonstrates reading a stream of monitor output.
func Example_scanSignals() {
	out := strings.Join([]string{
		"signal time=1 sender=:1.3 -> destination=(null destination) serial=4 path=/s; interface=org.freedesktop.login1.Session; member=Unlock",
		"method call time=2 sender=:1.9 -> destination=org.freedesktop.login1 serial=7 path=/; interface=org.freedesktop.DBus.Peer; member=Ping",
	}, "\n")

	_ = daemon.ScanSignals(strings.NewReader(out), func(sig daemon.Signal) {
		fmt.Println("received", sig)
	})
	// Output:
	// received unlock
}
