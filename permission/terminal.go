package permission

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/yllada/vpn-session/common"
)

// Terminal asks a y/N question on the controlling terminal.
//
// One reader goroutine serves every prompt. Keys typed while no question
// is pending are discarded, so a cancelled prompt never hands its late
// answer to the next one.
type Terminal struct {
	in  io.Reader
	out io.Writer
	// Question is printed before reading the answer.
	Question string

	once sync.Once
	keys chan byte

	mu      sync.Mutex
	waiting bool
	readErr error
}

// NewTerminal creates a terminal prompter reading from in.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:       in,
		out:      out,
		Question: "Allow the VPN engine to start? [y/N] ",
		keys:     make(chan byte, 1),
	}
}

// Required always reports true.
func (t *Terminal) Required() bool { return true }

// Prompt reads one key. Only y or Y grants. When in is a terminal it is
// switched to raw mode so no Enter is needed.
func (t *Terminal) Prompt(ctx context.Context) (bool, error) {
	if f, ok := t.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return false, fmt.Errorf("failed to set raw mode: %w", err)
		}
		defer term.Restore(int(f.Fd()), state)
	}

	t.setWaiting(true)
	defer t.setWaiting(false)
	t.once.Do(func() { go t.readKeys() })

	fmt.Fprint(t.out, t.Question)

	select {
	case <-ctx.Done():
		fmt.Fprint(t.out, "\r\n")
		return false, ctx.Err()
	case b, ok := <-t.keys:
		if !ok {
			fmt.Fprint(t.out, "\r\n")
			return false, t.err()
		}
		fmt.Fprintf(t.out, "%c\r\n", b)
		return b == 'y' || b == 'Y', nil
	}
}

// readKeys forwards keys to a waiting prompt until in fails.
func (t *Terminal) readKeys() {
	buf := make([]byte, 1)
	for {
		n, err := t.in.Read(buf)
		if n == 1 {
			t.deliver(buf[0])
		}
		if err != nil {
			t.mu.Lock()
			t.readErr = err
			t.mu.Unlock()
			close(t.keys)
			return
		}
	}
}

// deliver hands b to the waiting prompt, or drops it when none waits.
func (t *Terminal) deliver(b byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.waiting {
		common.LogDebug("Permission prompt: ignoring key typed with no question pending")
		return
	}
	select {
	case t.keys <- b:
	default:
		// An answer is already queued.
	}
}

// setWaiting marks whether a prompt is pending. Clearing it discards an
// answer nobody collected.
func (t *Terminal) setWaiting(waiting bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waiting = waiting
	if waiting {
		return
	}
	select {
	case <-t.keys:
	default:
	}
}

func (t *Terminal) err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readErr
}
