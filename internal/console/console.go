// Package console serializes operator-facing output shared by concurrently running loops.
package console

import (
	"fmt"
	"io"
	"sync"
)

// Console is a line-oriented writer guarded by a single lock.
// Every loop that prints holds a reference to the same Console.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// New creates a console writing to out.
func New(out io.Writer) *Console {
	return &Console{out: out}
}

// Println writes one line.
func (c *Console) Println(a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, a...)
}

// Printf writes formatted output.
func (c *Console) Printf(format string, a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, a...)
}

// Block holds the lock while fn writes several lines, so they are never interleaved with
// output from other loops.
func (c *Console) Block(fn func(w io.Writer)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.out)
}
