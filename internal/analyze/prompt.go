package analyze

import "fmt"

// The prompt is fixed: downstream parsing and the datastore schema depend on
// exactly these keys.
const promptTemplate = `Perform the following analysis on the given transcription text:
- Summarize the text content in a clear and concise manner.
- Extract entities (name, location, phone number, age, and date of birth).
- Extract any mention of a reschedule time (such as "tomorrow at 7", "next Tuesday", "after 9:30", etc.).
- Analyze the sentiment (positive, neutral, or negative).
- Identify the customer interest (Interested, Not sure, or Not Interested).

Provide your response in valid JSON format without extra text.
Example:
{
    "summary": "...",
    "entities": {
        "name": "...",
        "location": "...",
        "phone_number": "...",
        "age": "...",
        "dob": "...",
        "call_reschedule_time": "..."
    },
    "sentiment": "...",
    "customer_interest": "..."
}

Text:
%s`

// BuildPrompt wraps a transcript in the fixed analysis prompt.
func BuildPrompt(transcript string) string {
	return fmt.Sprintf(promptTemplate, transcript)
}
