package fdv2proto

import (
	"bytes"
	"strings"
)

// SSEEvent is one dispatched server-sent event.
type SSEEvent struct {
	ID   string
	Name string
	Data string
}

// SSEParser is an incremental parser for a text/event-stream body. Feed it
// raw chunks as they arrive from the socket; it buffers partial lines
// across calls and returns events as the terminating blank lines come in.
// It handles the subset of the SSE spec the flag delivery service emits:
// id, event and data fields, comment lines, multi-line data concatenation,
// and both LF and CRLF line endings.
type SSEParser struct {
	partial   []byte
	id        string
	name      string
	dataLines []string
}

// Feed consumes a chunk of stream bytes and returns the events completed
// by it, in order. A nil or empty chunk returns no events.
func (p *SSEParser) Feed(chunk []byte) []SSEEvent {
	if len(chunk) == 0 {
		return nil
	}
	buf := chunk
	if len(p.partial) > 0 {
		buf = append(p.partial, chunk...)
		p.partial = nil
	}

	var events []SSEEvent
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(string(buf[:idx]), "\r")
		buf = buf[idx+1:]
		if ev, ok := p.processLine(line); ok {
			events = append(events, ev)
		}
	}
	if len(buf) > 0 {
		p.partial = append([]byte(nil), buf...)
	}
	return events
}

func (p *SSEParser) processLine(line string) (SSEEvent, bool) {
	switch {
	case line == "":
		return p.dispatch()
	case strings.HasPrefix(line, ":"):
		// Comment, typically a keep-alive. Ignored.
		return SSEEvent{}, false
	default:
		field, value := splitField(line)
		switch field {
		case "id":
			p.id = value
		case "event":
			p.name = value
		case "data":
			p.dataLines = append(p.dataLines, value)
		}
		return SSEEvent{}, false
	}
}

// dispatch flushes the accumulated event, if any, on a blank line.
func (p *SSEParser) dispatch() (SSEEvent, bool) {
	if p.name == "" && len(p.dataLines) == 0 {
		return SSEEvent{}, false
	}
	ev := SSEEvent{
		ID:   p.id,
		Name: p.name,
		Data: strings.Join(p.dataLines, "\n"),
	}
	p.name = ""
	p.dataLines = nil
	return ev, true
}

// splitField divides "field: value" at the first colon, dropping the
// single optional space after it. A line without a colon is a field with
// an empty value.
func splitField(line string) (string, string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	value := line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return line[:idx], value
}
