// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DegradedThreshold is the number of consecutive undecodable lines
// after which the decoder reports a degraded protocol.
const DegradedThreshold = 10

// ErrProtocolDegraded reports that DegradedThreshold consecutive lines
// failed to decode. The stream keeps flowing -- every line still passes
// through as an opaque record -- but the subprocess is probably not
// speaking stream-json anymore. Testable with errors.Is.
var ErrProtocolDegraded = errors.New("too many consecutive undecodable lines")

// Usage is the token accounting fragment carried by usage-bearing
// records. All fields are non-negative. Cache-creation tokens count as
// input; cache-read tokens are tracked separately and excluded from
// session totals.
type Usage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// IsZero reports whether every field is zero. A result record with
// empty text and zero usage is the compaction signal.
func (usage *Usage) IsZero() bool {
	return usage.InputTokens == 0 && usage.OutputTokens == 0 &&
		usage.CacheCreationTokens == 0 && usage.CacheReadTokens == 0
}

// ToolCall is a tool invocation extracted from a message content block.
type ToolCall struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Message is the extracted view of a user or assistant record's nested
// message object.
type Message struct {
	Role      string
	Text      string
	ToolCalls []ToolCall
}

// Result is the extracted view of a result record.
type Result struct {
	Subtype     string
	Text        string
	IsError     bool
	NumTurns    int64
	CostUSD     float64
	DurationMS  int64
	DenialCount int
}

// Init is the extracted view of an init record (either the bare
// {"type":"init"} form or {"type":"system","subtype":"init"}).
type Init struct {
	SessionID      string
	Model          string
	WorkingDir     string
	Tools          []string
	PermissionMode string
}

// CompactBoundary is the metadata of an upstream compaction marker
// ({"type":"system","subtype":"compact_boundary"}). This is the CLI
// announcing its own compaction; it is distinct from the inferred
// zero-usage result signal that drives the wrapper's ledger reset.
type CompactBoundary struct {
	Trigger   string `json:"trigger"`
	PreTokens int64  `json:"pre_tokens"`
}

// Record is one decoded line of subprocess output. Opaque records
// carry the verbatim line text and nothing else; decoded records carry
// the discriminant, extracted typed views, and the full original
// object for faithful re-emission.
type Record struct {
	// Opaque is true when the line was not a JSON object. Line holds
	// the original text.
	Opaque bool
	Line   string

	Type      string
	Subtype   string
	SessionID string

	// Usage is set when the record carries token accounting, either
	// top-level (result records) or nested under message (assistant
	// and user records).
	Usage *Usage

	Result          *Result
	Message         *Message
	Init            *Init
	CompactBoundary *CompactBoundary

	// fields is the full decoded object. Mutations (result rewrite,
	// augmentation) write through here so re-emission preserves every
	// field the wrapper did not touch.
	fields map[string]json.RawMessage
}

// IsInit reports whether the record is an init record in either wire
// form.
func (record *Record) IsInit() bool {
	return record.Type == "init" || (record.Type == "system" && record.Subtype == "init")
}

// IsCompactionSignal reports whether the record matches the inferred
// compaction predicate: a result with empty text and all usage fields
// zero or absent. Detection is best-effort -- a legitimately empty,
// zero-token turn is indistinguishable on the wire.
func (record *Record) IsCompactionSignal() bool {
	if record.Type != "result" || record.Result == nil {
		return false
	}
	if record.Result.Text != "" || record.Result.IsError {
		return false
	}
	return record.Usage == nil || record.Usage.IsZero()
}

// SetResultText overwrites the record's result text, both in the
// extracted view and in the re-emitted object.
func (record *Record) SetResultText(text string) {
	if record.Result == nil {
		record.Result = &Result{}
	}
	record.Result.Text = text
	record.set("result", text)
}

// Attach adds (or replaces) a top-level field on the re-emitted
// object. The augmenter uses this to add the derived-state snapshot;
// the compaction handler uses it for {saved_tokens, summary}.
func (record *Record) Attach(key string, value any) error {
	if record.Opaque {
		return fmt.Errorf("cannot attach %q to an opaque record", key)
	}
	return record.set(key, value)
}

func (record *Record) set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling field %q: %w", key, err)
	}
	if record.fields == nil {
		record.fields = make(map[string]json.RawMessage)
	}
	record.fields[key] = data
	return nil
}

// Encode renders the record for the outgoing feed: the original text
// for opaque records, one compact JSON object otherwise.
func (record *Record) Encode() ([]byte, error) {
	if record.Opaque {
		return []byte(record.Line), nil
	}
	data, err := json.Marshal(record.fields)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return data, nil
}

// Decoder parses lines into records and tracks consecutive decode
// failures. Not safe for concurrent use.
type Decoder struct {
	consecutiveFailures int
}

// NewDecoder returns a fresh decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode parses one line. Parse failure is not an error: the line
// comes back as an opaque record. The returned error is non-nil
// exactly once per degradation episode -- when the consecutive-failure
// count reaches DegradedThreshold -- and wraps ErrProtocolDegraded.
// The record is valid either way.
func (decoder *Decoder) Decode(line string) (*Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil || fields == nil {
		decoder.consecutiveFailures++
		record := &Record{Opaque: true, Line: line}
		if decoder.consecutiveFailures == DegradedThreshold {
			return record, fmt.Errorf("%d consecutive failures: %w",
				decoder.consecutiveFailures, ErrProtocolDegraded)
		}
		return record, nil
	}
	decoder.consecutiveFailures = 0

	record := &Record{Line: line, fields: fields}
	record.Type = stringField(fields, "type")
	record.Subtype = stringField(fields, "subtype")
	record.SessionID = stringField(fields, "session_id")

	if raw, ok := fields["usage"]; ok {
		var usage Usage
		if json.Unmarshal(raw, &usage) == nil {
			record.Usage = &usage
		}
	}

	switch {
	case record.Type == "result":
		record.Result = decodeResult(fields)
	case record.Type == "user" || record.Type == "assistant":
		record.Message = decodeMessage(fields, record)
	case record.IsInit():
		record.Init = decodeInit(fields, record)
	case record.Type == "system" && record.Subtype == "compact_boundary":
		var boundary CompactBoundary
		if raw, ok := fields["compact_metadata"]; ok {
			json.Unmarshal(raw, &boundary)
		}
		record.CompactBoundary = &boundary
	}

	return record, nil
}

// ConsecutiveFailures returns the current run of undecodable lines.
func (decoder *Decoder) ConsecutiveFailures() int {
	return decoder.consecutiveFailures
}

func decodeResult(fields map[string]json.RawMessage) *Result {
	result := &Result{
		Subtype: stringField(fields, "subtype"),
		Text:    stringField(fields, "result"),
	}
	json.Unmarshal(fields["is_error"], &result.IsError)
	json.Unmarshal(fields["num_turns"], &result.NumTurns)
	json.Unmarshal(fields["total_cost_usd"], &result.CostUSD)
	json.Unmarshal(fields["duration_ms"], &result.DurationMS)
	if raw, ok := fields["permission_denials"]; ok {
		var denials []json.RawMessage
		if json.Unmarshal(raw, &denials) == nil {
			result.DenialCount = len(denials)
		}
	}
	return result
}

// decodeMessage extracts role, text, tool calls, and nested usage from
// a user or assistant record. Content is either a plain string or an
// array of typed blocks; tool_use blocks become tool calls regardless
// of role.
func decodeMessage(fields map[string]json.RawMessage, record *Record) *Message {
	message := &Message{Role: record.Type}

	raw, ok := fields["message"]
	if !ok {
		return message
	}
	var nested struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
		Usage   *Usage          `json:"usage"`
	}
	if json.Unmarshal(raw, &nested) != nil {
		return message
	}
	if nested.Role != "" {
		message.Role = nested.Role
	}
	if nested.Usage != nil && record.Usage == nil {
		record.Usage = nested.Usage
	}

	var text string
	if json.Unmarshal(nested.Content, &text) == nil {
		message.Text = text
		return message
	}

	var blocks []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	}
	if json.Unmarshal(nested.Content, &blocks) != nil {
		return message
	}
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if message.Text != "" {
				message.Text += "\n"
			}
			message.Text += block.Text
		case "tool_use":
			message.ToolCalls = append(message.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	return message
}

func decodeInit(fields map[string]json.RawMessage, record *Record) *Init {
	initInfo := &Init{
		SessionID:      record.SessionID,
		Model:          stringField(fields, "model"),
		WorkingDir:     stringField(fields, "cwd"),
		PermissionMode: stringField(fields, "permissionMode"),
	}
	json.Unmarshal(fields["tools"], &initInfo.Tools)

	// The bare init form nests its payload under "data".
	if raw, ok := fields["data"]; ok {
		var data map[string]json.RawMessage
		if json.Unmarshal(raw, &data) == nil {
			if id := stringField(data, "session_id"); id != "" {
				initInfo.SessionID = id
			}
			if model := stringField(data, "model"); model != "" {
				initInfo.Model = model
			}
		}
	}
	if initInfo.SessionID != "" {
		record.SessionID = initInfo.SessionID
	}
	return initInfo
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var value string
	if json.Unmarshal(raw, &value) != nil {
		return ""
	}
	return value
}
