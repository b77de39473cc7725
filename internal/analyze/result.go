package analyze

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoJSON is returned when the LLM response contains no parseable JSON
// object. The record is skipped, never coerced.
var ErrNoJSON = errors.New("no valid JSON object in response")

// Entities are the structured facts pulled out of one call.
type Entities struct {
	Name           string `json:"name"`
	Location       string `json:"location"`
	PhoneNumber    string `json:"phone_number"`
	Age            string `json:"age"`
	DOB            string `json:"dob"`
	RescheduleTime string `json:"call_reschedule_time"`
}

// Result is the full analysis of one transcript.
type Result struct {
	Summary          string   `json:"summary"`
	Entities         Entities `json:"entities"`
	Sentiment        string   `json:"sentiment"`         // positive | neutral | negative
	CustomerInterest string   `json:"customer_interest"` // Interested | Not sure | Not Interested
}

// ExtractJSON returns the first balanced {...} span in s. The scan is
// string- and escape-aware, so braces inside JSON strings don't unbalance
// it. Models wrap their JSON in prose and code fences; the span is the part
// that matters.
func ExtractJSON(s string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		case '"':
			if start >= 0 {
				inString = true
			}
		}
	}
	return "", ErrNoJSON
}

// ParseResult extracts and decodes the analysis JSON embedded in a free-text
// LLM response.
func ParseResult(content string) (Result, error) {
	span, err := ExtractJSON(content)
	if err != nil {
		return Result{}, err
	}
	var r Result
	if err := json.Unmarshal([]byte(span), &r); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	return r, nil
}
