package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yllada/vpn-session/common"
	"github.com/yllada/vpn-session/session"
)

// Counters holds the byte counters of an OpenVPN status file.
type Counters struct {
	LinkRead  uint64
	LinkWrite uint64
	Updated   string
}

// ParseStatusFile reads the counters written by "openvpn --status".
// Only the link-level "TCP/UDP read bytes" and "TCP/UDP write bytes"
// entries are required.
func ParseStatusFile(r io.Reader) (Counters, error) {
	var (
		c               Counters
		haveIn, haveOut bool
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ",")
		if !ok {
			continue
		}
		switch key {
		case "Updated":
			c.Updated = value
		case "TCP/UDP read bytes":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Counters{}, fmt.Errorf("invalid read bytes %q: %w", value, err)
			}
			c.LinkRead, haveIn = n, true
		case "TCP/UDP write bytes":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Counters{}, fmt.Errorf("invalid write bytes %q: %w", value, err)
			}
			c.LinkWrite, haveOut = n, true
		}
	}
	if err := scanner.Err(); err != nil {
		return Counters{}, err
	}
	if !haveIn || !haveOut {
		return Counters{}, fmt.Errorf("status file has no link counters")
	}
	return c, nil
}

// telemetry turns successive counter samples into Status snapshots.
type telemetry struct {
	mu          sync.Mutex
	startedAt   time.Time
	connectedAt time.Time
	lastIn      uint64
	lastRecv    time.Time
}

func newTelemetry(now time.Time) *telemetry {
	return &telemetry{startedAt: now, lastRecv: now}
}

func (t *telemetry) markConnected(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectedAt.IsZero() {
		t.connectedAt = now
	}
}

// sample records counters taken at now and returns the snapshot.
// Duration counts from the first CONNECTED stage, or zero before it.
func (t *telemetry) sample(c Counters, now time.Time) session.Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c.LinkRead != t.lastIn {
		t.lastIn = c.LinkRead
		t.lastRecv = now
	}

	st := session.Status{
		LastPacketReceive: now.Sub(t.lastRecv).Truncate(time.Second),
		ByteIn:            c.LinkRead,
		ByteOut:           c.LinkWrite,
	}
	if !t.connectedAt.IsZero() {
		st.Duration = now.Sub(t.connectedAt).Truncate(time.Second)
	}
	return st
}

// runTelemetry polls the status file until ctx is cancelled.
func runTelemetry(ctx context.Context, path string, interval time.Duration, t *telemetry, emit func(session.Status)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c, err := readStatusFile(path)
			if err != nil {
				// The file appears only after OpenVPN's first status write.
				if !os.IsNotExist(err) {
					common.LogDebug("Telemetry: %v", err)
				}
				continue
			}
			emit(t.sample(c, now))
		}
	}
}

func readStatusFile(path string) (Counters, error) {
	f, err := os.Open(path)
	if err != nil {
		return Counters{}, err
	}
	defer f.Close()
	return ParseStatusFile(f)
}
