package process

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// TargetKind selects how the ping target is dialed.
type TargetKind string

// Ping target kinds.
const (
	TargetTCP  TargetKind = "tcp"
	TargetUnix TargetKind = "unix"
)

// PingTarget is the location the server is expected to accept connections on.
type PingTarget struct {
	Kind TargetKind
	Host string
	Port int
	Path string
}

// TCPTarget returns a TCP ping target.
func TCPTarget(host string, port int) PingTarget {
	return PingTarget{Kind: TargetTCP, Host: host, Port: port}
}

// UnixTarget returns a unix domain socket ping target.
func UnixTarget(path string) PingTarget {
	return PingTarget{Kind: TargetUnix, Path: path}
}

// Network returns the net.Dial network name.
func (t PingTarget) Network() string {
	return string(t.Kind)
}

// Address returns the net.Dial address.
func (t PingTarget) Address() string {
	if t.Kind == TargetUnix {
		return t.Path
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t PingTarget) String() string {
	return t.Network() + "://" + t.Address()
}

// Validate checks that exactly one kind of location is populated.
func (t PingTarget) Validate() error {
	switch t.Kind {
	case TargetTCP:
		if t.Path != "" {
			return fmt.Errorf("tcp ping target must not set a socket path")
		}
		if t.Host == "" {
			return fmt.Errorf("tcp ping target requires a host")
		}
		if t.Port <= 0 || t.Port > 65535 {
			return fmt.Errorf("tcp ping target port %d out of range", t.Port)
		}
	case TargetUnix:
		if t.Host != "" || t.Port != 0 {
			return fmt.Errorf("unix ping target must not set host or port")
		}
		if !filepath.IsAbs(t.Path) {
			return fmt.Errorf("unix ping target path %q must be absolute", t.Path)
		}
	default:
		return fmt.Errorf("unknown ping target kind %q", t.Kind)
	}
	return nil
}

// Probe makes one connection attempt to target and closes it immediately.
// It reports whether the connection could be opened; refusal is a normal false result.
func Probe(ctx context.Context, target PingTarget, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, target.Network(), target.Address())
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// isConnectionGone reports whether a dial error proves that nothing listens on the target.
func isConnectionGone(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED) ||
		errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.ENOENT) ||
		errors.Is(err, os.ErrNotExist)
}
