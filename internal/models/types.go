package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringArray is an ordered list of strings stored as a JSON array column.
type StringArray []string

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into StringArray", value)
	}

	if len(raw) == 0 {
		*s = StringArray{}
		return nil
	}

	var arr []string
	if err := json.Unmarshal(raw, &arr); err != nil {
		return fmt.Errorf("failed to decode StringArray: %w", err)
	}
	*s = arr
	return nil
}

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Voiceover is the narration of a scene together with its neighbours, which
// voice providers use to keep intonation continuous across scene cuts.
type Voiceover struct {
	Text         string `json:"text"`
	PreviousText string `json:"previous_text"`
	NextText     string `json:"next_text"`
}

// Scan implements the sql.Scanner interface
func (v *Voiceover) Scan(value interface{}) error {
	var raw []byte
	switch val := value.(type) {
	case nil:
		*v = Voiceover{}
		return nil
	case string:
		raw = []byte(val)
	case []byte:
		raw = val
	default:
		return fmt.Errorf("cannot scan %T into Voiceover", value)
	}
	if len(raw) == 0 {
		*v = Voiceover{}
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Value implements the driver.Valuer interface
func (v Voiceover) Value() (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// WordTiming is one spoken word with its provider-reported window in seconds.
type WordTiming struct {
	Word      string  `json:"word"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// AssetMetadata is the decoded form of Asset.Metadata.
type AssetMetadata struct {
	WordAlignment []WordTiming `json:"word_alignment,omitempty"`
}
