// Package trace defines the trace events emitted by agents while they work
// on a query, and the stream abstraction used to consume them.
package trace

import (
	"encoding/json"
	"fmt"
)

// Event names emitted by the built-in agents. Remote agents may emit other
// names; those decode to RawData.
const (
	EventStart     = "on_chain_start"
	EventChunk     = "on_chat_model_stream"
	EventToolStart = "on_tool_start"
	EventToolEnd   = "on_tool_end"
	EventEnd       = "on_chain_end"
	EventError     = "error"
)

// Event is one unit of progress emitted by an agent. Its payload type is
// determined by Name.
//
// Raw holds the payload bytes exactly as a remote producer sent them. When
// set, it is what the event encodes to; Data is only a typed view of it.
type Event struct {
	Name  string
	Data  Payload
	Raw   json.RawMessage
	RunID string
	Seq   int
}

// Payload is the event-specific data carried by an Event. The concrete type
// is one of StartData, ChunkData, ToolStartData, ToolEndData, EndData,
// ErrorData or RawData.
type Payload interface {
	payload()
}

// StartData is carried by the first event of a run and echoes the input.
type StartData struct {
	Input InputEnvelope `json:"input"`
}

// InputEnvelope wraps the original query text.
type InputEnvelope struct {
	Input string `json:"input"`
}

// ChunkData is a piece of streamed model output.
type ChunkData struct {
	Chunk string `json:"chunk"`
}

// ToolStartData records a tool invocation.
type ToolStartData struct {
	Name  string `json:"name"`
	Input any    `json:"input,omitempty"`
}

// ToolEndData records a tool result.
type ToolEndData struct {
	Name   string `json:"name"`
	Output any    `json:"output,omitempty"`
}

// EndData is carried by the last event of a run and holds the final answer.
type EndData struct {
	Output string `json:"output"`
}

// ErrorData is a terminal failure entry.
type ErrorData struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// RawData is an opaque payload for event names this package does not model,
// or for known names whose payload did not match the expected shape.
type RawData json.RawMessage

func (StartData) payload()     {}
func (ChunkData) payload()     {}
func (ToolStartData) payload() {}
func (ToolEndData) payload()   {}
func (EndData) payload()       {}
func (ErrorData) payload()     {}
func (RawData) payload()       {}

// MarshalJSON emits the raw bytes unchanged.
func (r RawData) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return []byte(r), nil
}

// Start builds the opening event of a run.
func Start(input string) Event {
	return Event{Name: EventStart, Data: StartData{Input: InputEnvelope{Input: input}}}
}

// Chunk builds a streamed-output event.
func Chunk(text string) Event {
	return Event{Name: EventChunk, Data: ChunkData{Chunk: text}}
}

// ToolStart builds a tool-invocation event.
func ToolStart(name string, input any) Event {
	return Event{Name: EventToolStart, Data: ToolStartData{Name: name, Input: input}}
}

// ToolEnd builds a tool-result event.
func ToolEnd(name string, output any) Event {
	return Event{Name: EventToolEnd, Data: ToolEndData{Name: name, Output: output}}
}

// End builds the closing event of a run.
func End(output string) Event {
	return Event{Name: EventEnd, Data: EndData{Output: output}}
}

// Failure builds a terminal error event for the given stage.
func Failure(stage string, err error) Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Event{Name: EventError, Data: ErrorData{Stage: stage, Message: msg}}
}

// wireEvent is the JSON form of an Event.
type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	RunID string          `json:"run_id,omitempty"`
	Seq   int             `json:"seq,omitempty"`
}

// DataJSON returns the encoded payload: Raw when present, else Data.
func (e Event) DataJSON() (json.RawMessage, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	if e.Data == nil {
		return json.RawMessage("null"), nil
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("trace: marshal %s data: %w", e.Name, err)
	}
	return b, nil
}

// MarshalJSON encodes the event as {"event", "data", "run_id", "seq"}.
func (e Event) MarshalJSON() ([]byte, error) {
	data, err := e.DataJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Event: e.Name, Data: data, RunID: e.RunID, Seq: e.Seq})
}

// UnmarshalJSON decodes the wire form, selecting the payload type by name.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("trace: decode event: %w", err)
	}
	if w.Event == "" {
		return fmt.Errorf("trace: decode event: missing event name")
	}
	e.Name = w.Event
	e.RunID = w.RunID
	e.Seq = w.Seq
	d := Decode(w.Event, w.Data)
	e.Data, e.Raw = d.Data, d.Raw
	return nil
}

// Decode builds an event from a name and payload bytes received from
// outside. The bytes are kept verbatim in Raw.
func Decode(name string, raw json.RawMessage) Event {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	raw = append(json.RawMessage(nil), raw...)
	return Event{Name: name, Data: DecodePayload(name, raw), Raw: raw}
}

// DecodePayload decodes raw into the payload type registered for name.
// Unknown names, and payloads that do not fit the expected shape, are kept
// verbatim as RawData.
func DecodePayload(name string, raw json.RawMessage) Payload {
	var (
		p   Payload
		err error
	)
	switch name {
	case EventStart:
		var d StartData
		err = json.Unmarshal(raw, &d)
		p = d
	case EventChunk:
		var d ChunkData
		err = json.Unmarshal(raw, &d)
		p = d
	case EventToolStart:
		var d ToolStartData
		err = json.Unmarshal(raw, &d)
		p = d
	case EventToolEnd:
		var d ToolEndData
		err = json.Unmarshal(raw, &d)
		p = d
	case EventEnd:
		var d EndData
		err = json.Unmarshal(raw, &d)
		p = d
	case EventError:
		var d ErrorData
		err = json.Unmarshal(raw, &d)
		p = d
	default:
		return RawData(append([]byte(nil), raw...))
	}
	if err != nil {
		return RawData(append([]byte(nil), raw...))
	}
	return p
}
