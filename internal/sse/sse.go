package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultMaxEvents = 1000
	DefaultTimeout   = 30 * time.Second
)

var ErrNoBody = errors.New("sse: response has no readable body")

// Event is one decoded frame. Data holds the JSON-decoded payload when the
// payload parses as JSON, otherwise the raw string.
type Event struct {
	Event string
	Data  interface{}
	ID    string
}

type CollectOptions struct {
	MaxEvents int
	Timeout   time.Duration
}

// frameParser implements the relaxed framing the tpmjs streaming endpoints
// use: a frame is complete as soon as an event name and a data payload have
// both been seen. There is no blank-line terminator, no retry handling and
// no comment parsing. Do not tighten this to spec-compliant SSE framing;
// the paired server does not emit events any other way.
type frameParser struct {
	event  string
	id     string
	events []Event
}

func (p *frameParser) feedLine(line string) {
	line = strings.TrimSuffix(line, "\r")
	switch {
	case strings.HasPrefix(line, "event: "):
		p.event = line[len("event: "):]
	case strings.HasPrefix(line, "data: "):
		if p.event == "" {
			return
		}
		payload := line[len("data: "):]
		p.events = append(p.events, Event{
			Event: p.event,
			Data:  decodePayload(payload),
			ID:    p.id,
		})
		p.event = ""
		p.id = ""
	case strings.HasPrefix(line, "id: "):
		p.id = line[len("id: "):]
	}
}

func decodePayload(payload string) interface{} {
	var decoded interface{}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return payload
	}
	return decoded
}

// Collect drains a streaming response body into an ordered event list. It
// stops at stream end, after MaxEvents events, or when Timeout elapses,
// whichever happens first. The body is always closed, which also releases
// the underlying connection after a timeout.
func Collect(resp *http.Response, opts CollectOptions) ([]Event, error) {
	if resp == nil || resp.Body == nil {
		return nil, ErrNoBody
	}
	defer resp.Body.Close()

	maxEvents := opts.MaxEvents
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	type readResult struct {
		events []Event
		err    error
	}
	done := make(chan readResult, 1)
	go func() {
		events, err := readEvents(resp.Body, maxEvents)
		done <- readResult{events: events, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.events, res.err
	case <-timer.C:
		return nil, fmt.Errorf("sse: timed out after %s waiting for stream events", timeout)
	}
}

func readEvents(body io.Reader, maxEvents int) ([]Event, error) {
	var parser frameParser
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for scanner.Scan() {
		parser.feedLine(scanner.Text())
		if len(parser.events) >= maxEvents {
			return parser.events[:maxEvents], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return parser.events, nil
}

// Parse applies the same framing to an already-buffered body. For any text,
// Parse and Collect over that text produce identical events regardless of
// how the stream was chunked.
func Parse(text string) []Event {
	var parser frameParser
	for _, line := range strings.Split(text, "\n") {
		parser.feedLine(line)
	}
	return parser.events
}

func FindEvent(events []Event, name string) *Event {
	for i := range events {
		if events[i].Event == name {
			return &events[i]
		}
	}
	return nil
}

func FilterEvents(events []Event, name string) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

// ExtractChunkText concatenates the text fields of chunk events, which is
// how streamed conversation replies are reassembled.
func ExtractChunkText(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Event != "chunk" {
			continue
		}
		payload, ok := ev.Data.(map[string]interface{})
		if !ok {
			continue
		}
		text, ok := payload["text"].(string)
		if !ok {
			continue
		}
		b.WriteString(text)
	}
	return b.String()
}

// WaitForEvent collects the stream and returns the first event with the
// given name, failing when the stream finishes without producing it.
func WaitForEvent(resp *http.Response, name string, opts CollectOptions) (Event, error) {
	events, err := Collect(resp, opts)
	if err != nil {
		return Event{}, err
	}
	if ev := FindEvent(events, name); ev != nil {
		return *ev, nil
	}
	return Event{}, fmt.Errorf("sse: event %q not received (stream ended after %d events)", name, len(events))
}
