package trace

import (
	"github.com/tidwall/gjson"
)

// Question returns the original input echoed by the first event. It is only
// reported once the list holds more than one event.
//
// The echo is a convention of the built-in agents (and of LangChain-style
// remote agents): the first event carries data.input.input. Streams that do
// not follow it yield ok=false.
func Question(events []Event) (string, bool) {
	if len(events) <= 1 {
		return "", false
	}
	switch d := events[0].Data.(type) {
	case StartData:
		return d.Input.Input, true
	case RawData:
		v := gjson.GetBytes(d, "input.input")
		if v.Exists() {
			return v.String(), true
		}
	}
	return "", false
}

// Result returns the final answer carried by the last event. It is only
// reported after the run completed (loading is false) and the list holds
// more than one event.
//
// Like Question this relies on agent convention: the last event carries
// data.output. A run that ended in an ErrorData entry has no result.
func Result(events []Event, loading bool) (string, bool) {
	if loading || len(events) <= 1 {
		return "", false
	}
	switch d := events[len(events)-1].Data.(type) {
	case EndData:
		return d.Output, true
	case RawData:
		v := gjson.GetBytes(d, "output")
		if !v.Exists() {
			return "", false
		}
		if v.Type == gjson.String {
			return v.String(), true
		}
		return v.Raw, true
	}
	return "", false
}

// Failed returns the terminal error entry of a run, if the last event is one.
func Failed(events []Event) (ErrorData, bool) {
	if len(events) == 0 {
		return ErrorData{}, false
	}
	d, ok := events[len(events)-1].Data.(ErrorData)
	return d, ok
}
