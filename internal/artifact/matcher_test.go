package artifact

import (
	"errors"
	"testing"

	"github.com/callops/callsight/internal/storage"
)

func TestPhoneFromID(t *testing.T) {
	tests := []struct {
		id    string
		want  string
		found bool
	}{
		{"abc_9876543210_2024-5-1-14-30-5_rest", "9876543210", true},
		{"rec_1234567890_2024-12-31-9-5-0_x", "1234567890", true},
		{"no_phone_here", "", false},
		{"short_12345_2024-5-1-14-30-5_x", "", false},
	}
	for _, tt := range tests {
		got, ok := PhoneFromID(tt.id)
		if ok != tt.found || got != tt.want {
			t.Errorf("PhoneFromID(%q) = %q, %v, want %q, %v", tt.id, got, ok, tt.want, tt.found)
		}
	}
}

func TestClockFromID(t *testing.T) {
	tests := []struct {
		id    string
		want  string
		found bool
	}{
		{"abc_9876543210_2024-5-1-14-30-5_rest", "14:30", true},
		{"rec_1234567890_2024-12-31-9-5-0_x", "09:05", true},
		{"rec_1234567890_2024-1-1-0-0-0_x", "00:00", true},
		{"rec_1234567890_2024-1-1-25-0-0_x", "", false},
		{"rec_1234567890_2024-1-1-12-61-0_x", "", false},
		{"no_timestamp", "", false},
	}
	for _, tt := range tests {
		got, ok := ClockFromID(tt.id)
		if ok != tt.found || got != tt.want {
			t.Errorf("ClockFromID(%q) = %q, %v, want %q, %v", tt.id, got, ok, tt.want, tt.found)
		}
	}
}

func TestNormalizeClock(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"2:30 PM", "14:30", false},
		{"12:15 PM", "12:15", false},
		{"12:05 AM", "00:05", false},
		{"11:59 pm", "23:59", false},
		{"9:05", "09:05", false},
		{"14:30", "14:30", false},
		{" 08:00 ", "08:00", false},
		{"25:00", "", true},
		{"13:00 PM", "", true},
		{"0:30 AM", "", true},
		{"12:60", "", true},
		{"2:30 XM", "", true},
		{"2-30", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeClock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// fakeResolver backs the matcher with in-memory records.
type fakeResolver struct {
	byFilename  map[string]storage.CallRecord
	byPhoneTime map[string]storage.CallRecord
	err         error
}

func (f *fakeResolver) CallRecordByFilename(filename string) (storage.CallRecord, error) {
	if f.err != nil {
		return storage.CallRecord{}, f.err
	}
	rec, ok := f.byFilename[filename]
	if !ok {
		return storage.CallRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (f *fakeResolver) CallRecordByPhoneTime(phone, callTime string) (storage.CallRecord, error) {
	rec, ok := f.byPhoneTime[phone+"|"+callTime]
	if !ok {
		return storage.CallRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func TestResolveByFilename(t *testing.T) {
	want := storage.CallRecord{ID: "r1", Filename: "abc_9876543210_2024-5-1-14-30-5_rest"}
	m := NewMatcher(&fakeResolver{
		byFilename: map[string]storage.CallRecord{want.Filename: want},
	})

	got, err := m.Resolve(want.Filename)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("Resolve() = %+v, want record %q", got, want.ID)
	}
}

func TestResolveFallsBackToPhoneTime(t *testing.T) {
	want := storage.CallRecord{ID: "r2", PhoneNumber: "9876543210", CallTime: "14:30"}
	m := NewMatcher(&fakeResolver{
		byPhoneTime: map[string]storage.CallRecord{"9876543210|14:30": want},
	})

	got, err := m.Resolve("abc_9876543210_2024-5-1-14-30-5_rest")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("Resolve() = %+v, want record %q", got, want.ID)
	}
}

func TestResolveNoMatch(t *testing.T) {
	m := NewMatcher(&fakeResolver{})

	tests := []string{
		"abc_9876543210_2024-5-1-14-30-5_rest", // parseable but no record
		"unparseable_name",                     // neither key available
	}
	for _, id := range tests {
		_, err := m.Resolve(id)
		if !errors.Is(err, ErrNoMatch) {
			t.Errorf("Resolve(%q) error = %v, want ErrNoMatch", id, err)
		}
	}
}

func TestResolvePropagatesStoreError(t *testing.T) {
	boom := errors.New("db locked")
	m := NewMatcher(&fakeResolver{err: boom})

	_, err := m.Resolve("abc_9876543210_2024-5-1-14-30-5_rest")
	if !errors.Is(err, boom) {
		t.Errorf("Resolve() error = %v, want wrapped store error", err)
	}
	if errors.Is(err, ErrNoMatch) {
		t.Error("store errors must not be reported as ErrNoMatch")
	}
}
