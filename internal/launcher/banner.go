package launcher

import (
	"fmt"
	"io"
	"strconv"

	"github.com/smazurov/frontman/internal/apps"
)

const rule = "------------------------------------------------------------"

// ListenURL returns where the server can be reached: the socket path, or an http URL that
// omits the default port.
func ListenURL(address string, port int, socket string) string {
	if socket != "" {
		return socket
	}
	if port == 80 {
		return "http://" + address + "/"
	}
	return "http://" + address + ":" + strconv.Itoa(port) + "/"
}

func writeAppTable(w io.Writer, targets []apps.Target) {
	fmt.Fprintln(w, " Host name                     Directory")
	fmt.Fprintln(w, rule)
	for _, t := range targets {
		name := "_"
		if len(t.ServerNames) > 0 {
			name = t.ServerNames[0]
		}
		fmt.Fprintf(w, " %-26s    %s\n", name, t.Root)
	}
}

func (l *Launcher) writeBanner(w io.Writer, pid int, targets []apps.Target) {
	s := l.settings
	fmt.Fprintln(w, "=============== frontman web server started ===============")
	fmt.Fprintf(w, "PID file: %s (pid %d)\n", l.loc.PIDFile, pid)
	fmt.Fprintf(w, "Log file: %s\n", l.loc.LogFile)
	fmt.Fprintf(w, "Environment: %s\n", s.Defaults.Environment)
	if len(targets) > 1 {
		fmt.Fprintln(w)
		if s.Socket != "" {
			fmt.Fprintln(w, "Serving these applications:")
		} else {
			fmt.Fprintf(w, "Serving these applications on %s port %d:\n", s.Address, s.Port)
		}
		writeAppTable(w, targets)
	} else {
		fmt.Fprintf(w, "Accessible via: %s\n", ListenURL(s.Address, s.Port, s.Socket))
	}
	fmt.Fprintln(w)
	if s.Daemonize {
		fmt.Fprintln(w, "Serving in the background as a daemon.")
	} else {
		fmt.Fprintln(w, "You can stop frontman by pressing Ctrl-C.")
	}
	fmt.Fprintln(w, "===========================================================")
}

func writeNowServing(w io.Writer, targets []apps.Target) {
	fmt.Fprintln(w, "Now serving these applications:")
	writeAppTable(w, targets)
	fmt.Fprintln(w, rule)
}
