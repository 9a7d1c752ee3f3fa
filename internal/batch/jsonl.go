package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Request is one line of a batch input file.
type Request struct {
	CustomID string
	Body     interface{}
}

type requestLine struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     interface{} `json:"body"`
}

// BuildJSONL renders requests into the provider's batch input format.
func BuildJSONL(requests []Request, endpoint string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range requests {
		if err := enc.Encode(requestLine{
			CustomID: r.CustomID,
			Method:   "POST",
			URL:      endpoint,
			Body:     r.Body,
		}); err != nil {
			return nil, fmt.Errorf("failed to encode request %s: %w", r.CustomID, err)
		}
	}
	return buf.Bytes(), nil
}

type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ResultResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

// Result is one line of a batch output or error file.
type Result struct {
	CustomID string          `json:"custom_id"`
	Response *ResultResponse `json:"response"`
	Error    *ResultError    `json:"error"`
}

// ErrorMessage returns the most specific error text of the line.
func (r Result) ErrorMessage() string {
	if r.Error != nil && r.Error.Message != "" {
		return r.Error.Message
	}
	if r.Response != nil && len(r.Response.Body) > 0 {
		var body struct {
			Error *ResultError `json:"error"`
		}
		if err := json.Unmarshal(r.Response.Body, &body); err == nil && body.Error != nil && body.Error.Message != "" {
			return body.Error.Message
		}
	}
	return "Unspecified batch error"
}

// ParseJSONL decodes a JSONL file, skipping blank and malformed lines.
func ParseJSONL(data []byte, logger *zap.Logger) []Result {
	var results []Result
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r Result
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			if logger != nil {
				logger.Warn("Invalid JSON line in batch output", zap.String("line", line), zap.Error(err))
			}
			continue
		}
		results = append(results, r)
	}
	return results
}
