package analysis

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Backend event names.
const (
	EventWorkflowStarted  = "workflow_started"
	EventNodeStarted      = "node_started"
	EventWorkflowFinished = "workflow_finished"
	EventError            = "error"
)

// Envelope is the JSON document carried by one server-sent event.
type Envelope struct {
	Event   string `json:"event"`
	Message string `json:"message"`
	Data    struct {
		Title   string `json:"title"`
		Outputs struct {
			Res json.RawMessage `json:"res"`
		} `json:"outputs"`
	} `json:"data"`
}

func (e Envelope) known() bool {
	switch e.Event {
	case EventWorkflowStarted, EventNodeStarted, EventWorkflowFinished, EventError:
		return true
	}
	return false
}

// Decoder turns a text/event-stream body into envelopes. It accumulates
// "data:" lines until the buffer holds a complete JSON document or a blank
// line ends the event. Comments, event/id fields, keep-alives, undecodable
// payloads and unknown events are skipped.
type Decoder struct {
	r   *bufio.Reader
	buf bytes.Buffer
	eof bool
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next recognized envelope, or io.EOF once the stream ends.
func (d *Decoder) Next() (Envelope, error) {
	for {
		if d.eof {
			if env, ok := d.flush(); ok {
				return env, nil
			}
			return Envelope{}, io.EOF
		}

		line, err := d.r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Envelope{}, err
			}
			d.eof = true
			if line == "" {
				continue
			}
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if env, ok := d.flush(); ok {
				return env, nil
			}
			continue
		}
		payload, isData := strings.CutPrefix(line, "data:")
		if !isData {
			continue
		}
		payload = strings.TrimPrefix(payload, " ")

		// A self-contained payload starts a new event and drops any stale
		// partial that never completed.
		if d.buf.Len() > 0 && strings.HasPrefix(payload, "{") && json.Valid([]byte(payload)) {
			d.buf.Reset()
		}
		if d.buf.Len() > 0 {
			d.buf.WriteByte('\n')
		}
		d.buf.WriteString(payload)

		if json.Valid(d.buf.Bytes()) {
			if env, ok := d.flush(); ok {
				return env, nil
			}
		}
	}
}

// flush decodes and clears the buffered payload.
func (d *Decoder) flush() (Envelope, bool) {
	if d.buf.Len() == 0 {
		return Envelope{}, false
	}
	defer d.buf.Reset()

	var env Envelope
	if err := json.Unmarshal(d.buf.Bytes(), &env); err != nil {
		return Envelope{}, false
	}
	if !env.known() {
		return Envelope{}, false
	}
	return env, true
}
