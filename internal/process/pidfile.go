package process

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Handle is the supervisor's view of the server process: the PID it claims in its PID file,
// whether that PID is alive, and signal delivery. The PID file is written by the server; the
// handle only reads it.
type Handle struct {
	path string
}

// NewHandle creates a handle for the given PID file.
func NewHandle(pidFile string) *Handle {
	return &Handle{path: pidFile}
}

// Path returns the PID file path.
func (h *Handle) Path() string {
	return h.path
}

// ReadPID reads the PID file. A missing file yields an error satisfying os.IsNotExist.
func (h *Handle) ReadPID() (int, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	return parsePID(data)
}

// Alive returns the PID from the PID file and whether that process exists.
func (h *Handle) Alive() (int, bool) {
	pid, err := h.ReadPID()
	if err != nil {
		return 0, false
	}
	return pid, IsAlive(pid)
}

// Signal delivers sig to the PID in the PID file and returns that PID.
func (h *Handle) Signal(sig unix.Signal) (int, error) {
	pid, err := h.ReadPID()
	if err != nil {
		return 0, err
	}
	return pid, SendSignal(pid, sig)
}

// parsePID accepts a decimal PID line or a raw native-endian 32/64-bit integer.
func parsePID(data []byte) (int, error) {
	text := strings.TrimSpace(string(data))
	if pid, err := strconv.Atoi(text); err == nil {
		if pid <= 0 {
			return 0, fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidPID, pid)
		}
		return pid, nil
	}

	var pid int
	switch len(data) {
	case 4:
		pid = int(int32(binary.NativeEndian.Uint32(data)))
	case 8:
		pid = int(int64(binary.NativeEndian.Uint64(data)))
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, text)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidPID, pid)
	}
	return pid, nil
}
