package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the latest telemetry snapshot reported by the engine.
// Each engine report replaces the whole snapshot.
type Status struct {
	Duration          time.Duration
	LastPacketReceive time.Duration
	ByteIn            uint64
	ByteOut           uint64
}

// IsZero reports whether no telemetry has been recorded.
func (s Status) IsZero() bool {
	return s == Status{}
}

// FormatDuration renders d as HH:MM:SS, the form used on the wire.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// ParseDuration reads the HH:MM:SS form. Plain seconds are accepted too.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	var secs int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		secs = secs*60 + n
	}
	return time.Duration(secs) * time.Second, nil
}

// Fields returns the four wire fields in order: duration,
// last_packet_receive, byte_in, byte_out.
func (s Status) Fields() [4]string {
	return [4]string{
		FormatDuration(s.Duration),
		strconv.FormatInt(int64(s.LastPacketReceive/time.Second), 10),
		strconv.FormatUint(s.ByteIn, 10),
		strconv.FormatUint(s.ByteOut, 10),
	}
}

// StatusFromFields parses the four wire fields produced by Fields.
func StatusFromFields(duration, lastPacket, byteIn, byteOut string) (Status, error) {
	var (
		st  Status
		err error
	)
	if st.Duration, err = ParseDuration(duration); err != nil {
		return Status{}, err
	}
	if lastPacket != "" {
		secs, err := strconv.ParseInt(lastPacket, 10, 64)
		if err != nil {
			return Status{}, fmt.Errorf("invalid last_packet_receive %q", lastPacket)
		}
		st.LastPacketReceive = time.Duration(secs) * time.Second
	}
	if byteIn != "" {
		if st.ByteIn, err = strconv.ParseUint(byteIn, 10, 64); err != nil {
			return Status{}, fmt.Errorf("invalid byte_in %q", byteIn)
		}
	}
	if byteOut != "" {
		if st.ByteOut, err = strconv.ParseUint(byteOut, 10, 64); err != nil {
			return Status{}, fmt.Errorf("invalid byte_out %q", byteOut)
		}
	}
	return st, nil
}

type statusJSON struct {
	Duration          string `json:"duration"`
	LastPacketReceive string `json:"last_packet_receive"`
	ByteIn            string `json:"byte_in"`
	ByteOut           string `json:"byte_out"`
}

// MarshalJSON encodes the snapshot with string fields.
func (s Status) MarshalJSON() ([]byte, error) {
	f := s.Fields()
	return json.Marshal(statusJSON{
		Duration:          f[0],
		LastPacketReceive: f[1],
		ByteIn:            f[2],
		ByteOut:           f[3],
	})
}

// UnmarshalJSON decodes the string-field form.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw statusJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := StatusFromFields(raw.Duration, raw.LastPacketReceive, raw.ByteIn, raw.ByteOut)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
