package artifact

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/callops/callsight/internal/storage"
)

// ErrNoMatch is returned when neither matching strategy resolves an artifact
// to a call record. Callers treat it as a non-fatal stage failure: the
// record may simply not have been scraped yet.
var ErrNoMatch = errors.New("no matching call record")

// Recording filenames embed a 10-digit phone number and a
// YYYY-M-D-H-M-S timestamp between underscores, e.g.
// "abc_9876543210_2024-5-1-14-30-5_rest".
var (
	phonePattern = regexp.MustCompile(`_(\d{10})_`)
	clockPattern = regexp.MustCompile(`_\d{4}-\d{1,2}-\d{1,2}-(\d{1,2})-(\d{1,2})-\d{1,2}_`)
)

// PhoneFromID extracts the 10-digit phone number embedded in an artifact ID.
func PhoneFromID(id string) (string, bool) {
	m := phonePattern.FindStringSubmatch(id)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ClockFromID extracts the call time embedded in an artifact ID, already in
// canonical form.
func ClockFromID(id string) (string, bool) {
	m := clockPattern.FindStringSubmatch(id)
	if m == nil {
		return "", false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil || hour > 23 {
		return "", false
	}
	minute, err := strconv.Atoi(m[2])
	if err != nil || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

// NormalizeClock converts a scraped or parsed time string to the canonical
// 24-hour zero-padded "HH:MM" form. Accepted inputs are "hh:mm AM",
// "hh:mm PM" (dashboard format) and bare "H:MM" / "HH:MM" 24-hour strings.
// Both the scrape-side writer and the matcher go through this one function;
// the two sides drifting apart is exactly the fragility being closed here.
func NormalizeClock(s string) (string, error) {
	s = strings.TrimSpace(s)
	parts := strings.Fields(s)

	var clock, meridiem string
	switch len(parts) {
	case 1:
		clock = parts[0]
	case 2:
		clock = parts[0]
		meridiem = strings.ToUpper(parts[1])
		if meridiem != "AM" && meridiem != "PM" {
			return "", fmt.Errorf("invalid meridiem %q", parts[1])
		}
	default:
		return "", fmt.Errorf("invalid time %q", s)
	}

	hm := strings.SplitN(clock, ":", 2)
	if len(hm) != 2 {
		return "", fmt.Errorf("invalid time %q", s)
	}
	hour, err := strconv.Atoi(hm[0])
	if err != nil {
		return "", fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(hm[1])
	if err != nil || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", s)
	}

	switch meridiem {
	case "AM":
		if hour < 1 || hour > 12 {
			return "", fmt.Errorf("invalid hour in %q", s)
		}
		if hour == 12 {
			hour = 0
		}
	case "PM":
		if hour < 1 || hour > 12 {
			return "", fmt.Errorf("invalid hour in %q", s)
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour > 23 {
			return "", fmt.Errorf("invalid hour in %q", s)
		}
	}

	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

// RecordResolver is the slice of the datastore the matcher needs.
type RecordResolver interface {
	CallRecordByFilename(filename string) (storage.CallRecord, error)
	CallRecordByPhoneTime(phone, callTime string) (storage.CallRecord, error)
}

// Matcher resolves an artifact to its logical call record. The primary key
// is the artifact filename; the fallback key is the (phone, time) pair
// parsed out of it. Two keys exist because the audio download and the
// dashboard scrape are independently timed, so a filename is not guaranteed
// to be linked to a record when either side is written.
type Matcher struct {
	records RecordResolver
}

// NewMatcher creates a Matcher over the given record store.
func NewMatcher(records RecordResolver) *Matcher {
	return &Matcher{records: records}
}

// Resolve returns the call record for artifactID, trying the filename first
// and the parsed (phone, time) pair second. Returns ErrNoMatch when neither
// strategy finds a record.
func (m *Matcher) Resolve(artifactID string) (storage.CallRecord, error) {
	rec, err := m.records.CallRecordByFilename(artifactID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.CallRecord{}, fmt.Errorf("matching by filename: %w", err)
	}

	phone, ok := PhoneFromID(artifactID)
	if !ok {
		return storage.CallRecord{}, ErrNoMatch
	}
	clock, ok := ClockFromID(artifactID)
	if !ok {
		return storage.CallRecord{}, ErrNoMatch
	}

	rec, err = m.records.CallRecordByPhoneTime(phone, clock)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.CallRecord{}, ErrNoMatch
	}
	if err != nil {
		return storage.CallRecord{}, fmt.Errorf("matching by phone/time: %w", err)
	}
	return rec, nil
}
