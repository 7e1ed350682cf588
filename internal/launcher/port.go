package launcher

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// PrivilegedPortError is returned when the current user may not bind Port.
type PrivilegedPortError struct {
	Port int
	User string
}

func (e *PrivilegedPortError) Error() string {
	return fmt.Sprintf("only the 'root' user can listen on port %d; currently running as '%s'", e.Port, e.User)
}

// Suggestion tells the operator how to re-run with root privileges while keeping worker
// processes under their own account.
func (e *PrivilegedPortError) Suggestion(args []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Only the 'root' user can run frontman on port %d. You are\n", e.Port)
	fmt.Fprintf(&b, "currently running as '%s'. Please re-run frontman with root privileges with\n", e.User)
	b.WriteString("the following command:\n\n")
	fmt.Fprintf(&b, "  sudo frontman start %s --user=%s\n\n", strings.Join(args, " "), e.User)
	b.WriteString("Don't forget the '--user' part! That will make the web server drop root\n")
	fmt.Fprintf(&b, "privileges and switch to '%s' after it has obtained port %d.\n", e.User, e.Port)
	return b.String()
}

// CheckPort returns a *PrivilegedPortError if a non-root user tries to serve a port below 1024
// on a platform that forbids it. Other bind failures are left for the server to report.
func CheckPort(port int) error {
	if port >= 1024 || os.Geteuid() == 0 {
		return nil
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		if errors.Is(err, unix.EACCES) {
			return &PrivilegedPortError{Port: port, User: currentUser()}
		}
		return nil
	}
	_ = ln.Close()
	return nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return strconv.Itoa(os.Getuid())
}
