package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/yllada/vpn-session/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestStore_RecordsAttemptsInOrder(t *testing.T) {
	s := openTestStore(t)

	if err := s.BeginAttempt(1, "office"); err != nil {
		t.Fatal(err)
	}
	for _, st := range []session.Stage{session.StagePreparing, session.StageConnecting, session.StageDisconnected} {
		if err := s.RecordStage(1, st); err != nil {
			t.Fatalf("RecordStage(%s) error = %v", st, err)
		}
	}
	if err := s.RecordError(1, errors.New("engine rejected profile")); err != nil {
		t.Fatal(err)
	}

	if err := s.BeginAttempt(2, "home"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordStage(2, session.StagePreparing); err != nil {
		t.Fatal(err)
	}

	attempts, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("Recent() = %d attempts, want 2", len(attempts))
	}
	if attempts[0].Profile != "home" || attempts[1].Profile != "office" {
		t.Errorf("order = %s, %s; want newest first", attempts[0].Profile, attempts[1].Profile)
	}

	office := attempts[1]
	if office.Seq != 1 || office.LastStage != "disconnected" || office.Error != "engine rejected profile" {
		t.Errorf("office attempt = %+v", office)
	}
	if office.ID == "" || office.ID == attempts[0].ID {
		t.Errorf("attempt IDs not unique: %q %q", office.ID, attempts[0].ID)
	}

	events, err := s.Events(office.ID)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	want := []string{"preparing", "connecting", "disconnected"}
	if len(events) != len(want) {
		t.Fatalf("Events() = %v, want %v", events, want)
	}
	for i := range want {
		if events[i].Stage != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, events[i].Stage, want[i])
		}
		if i > 0 && !events[i].At.After(events[i-1].At) {
			t.Errorf("events[%d] not after previous", i)
		}
	}
}

func TestStore_IgnoresUnknownAttempts(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordStage(42, session.StageConnected); err != nil {
		t.Errorf("RecordStage(unknown) error = %v", err)
	}
	if err := s.RecordError(42, errors.New("x")); err != nil {
		t.Errorf("RecordError(unknown) error = %v", err)
	}
	attempts, err := s.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 0 {
		t.Errorf("Recent() = %v, want empty", attempts)
	}
}

func TestStore_SupersededAttemptIgnored(t *testing.T) {
	s := openTestStore(t)

	if err := s.BeginAttempt(1, "office"); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginAttempt(2, "home"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordStage(1, session.StageConnected); err != nil {
		t.Errorf("RecordStage(superseded) error = %v", err)
	}
	if err := s.RecordStage(2, session.StagePreparing); err != nil {
		t.Fatal(err)
	}

	attempts, err := s.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 2 {
		t.Fatalf("Recent() = %d attempts, want 2", len(attempts))
	}
	for _, a := range attempts {
		switch a.Seq {
		case 1:
			if a.LastStage != "idle" {
				t.Errorf("superseded attempt last stage = %q, want idle", a.LastStage)
			}
		case 2:
			if a.LastStage != "preparing" {
				t.Errorf("current attempt last stage = %q, want preparing", a.LastStage)
			}
		}
	}
}

func TestStore_LimitAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for i := uint64(1); i <= 5; i++ {
		if err := s.BeginAttempt(i, "office"); err != nil {
			t.Fatal(err)
		}
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	attempts, err := s.Recent(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 3 {
		t.Fatalf("Recent(3) = %d attempts", len(attempts))
	}
	if attempts[0].Seq != 5 {
		t.Errorf("newest seq = %d, want 5", attempts[0].Seq)
	}
}
