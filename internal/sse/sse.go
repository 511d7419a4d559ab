// Package sse implements the Server-Sent Events wire framing used between
// the gateway and upstream providers, and between the gateway and its
// callers. The decoder turns a byte stream into events; the encoder frames
// logical output lines back into `text/event-stream` blocks.
package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

// Done is the sentinel payload that terminates OpenAI-dialect streams.
const Done = "[DONE]"

// KeepAlive is the comment block emitted while an upstream stays silent.
const KeepAlive = ":\n\n"

// ErrInvalidUTF8 is returned when an upstream emits bytes that are not
// valid UTF-8. The stream is unusable past this point.
var ErrInvalidUTF8 = errors.New("sse: invalid utf-8 in event stream")

// Event is one decoded server-sent event. Name is empty unless the block
// carried an `event:` directive. Data joins all `data:` lines with "\n".
type Event struct {
	Name string
	Data string
}

// Decoder reads SSE blocks from an upstream body. A block ends at a blank
// line ("\n\n" or "\r\n\r\n" in the raw stream). Blocks without data lines
// are skipped. At EOF any residual data lines are flushed as a final event.
type Decoder struct {
	r   *bufio.Reader
	err error

	// Current block under assembly.
	name string
	data []string
}

// NewDecoder wraps r for event decoding.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event. It returns io.EOF when the stream is
// exhausted and ErrInvalidUTF8 on malformed input.
func (d *Decoder) Next() (Event, error) {
	if d.err != nil {
		return Event{}, d.err
	}
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && err != io.EOF {
			d.err = err
			return Event{}, err
		}

		atEOF := err == io.EOF
		if !atEOF {
			line = strings.TrimSuffix(line, "\n")
		}
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if atEOF {
				d.err = io.EOF
				if ev, ok := d.flush(); ok {
					return ev, nil
				}
				return Event{}, io.EOF
			}
			// Blank line terminates the block.
			if ev, ok := d.flush(); ok {
				return ev, nil
			}
			continue
		}

		if !utf8.ValidString(line) {
			d.err = ErrInvalidUTF8
			return Event{}, ErrInvalidUTF8
		}
		d.consumeLine(line)

		if atEOF {
			d.err = io.EOF
			if ev, ok := d.flush(); ok {
				return ev, nil
			}
			return Event{}, io.EOF
		}
	}
}

// consumeLine folds one field line into the block under assembly.
// Comments, `id:` and `retry:` fields are discarded.
func (d *Decoder) consumeLine(line string) {
	switch {
	case strings.HasPrefix(line, ":"):
	case strings.HasPrefix(line, "event:"):
		d.name = trimFieldValue(line[len("event:"):])
	case strings.HasPrefix(line, "data:"):
		d.data = append(d.data, trimFieldValue(line[len("data:"):]))
	}
}

func (d *Decoder) flush() (Event, bool) {
	if len(d.data) == 0 {
		d.name = ""
		return Event{}, false
	}
	ev := Event{Name: d.name, Data: strings.Join(d.data, "\n")}
	d.name = ""
	d.data = nil
	return ev, true
}

// trimFieldValue removes exactly one leading space after the field colon.
func trimFieldValue(v string) string {
	if strings.HasPrefix(v, " ") {
		return v[1:]
	}
	return v
}

// EncodeItem frames one logical output item as an SSE block. Items may span
// multiple lines; each line is classified independently: `event:` lines pass
// through as directives, `data:` lines are re-framed, anything else becomes a
// data line. Empty items produce no output; the Done sentinel is framed as
// `data: [DONE]`.
func EncodeItem(item string) []byte {
	if item == "" {
		return nil
	}
	if item == Done {
		return []byte("data: " + Done + "\n\n")
	}

	var b strings.Builder
	for _, line := range strings.Split(item, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "event: "):
			b.WriteString(line)
			b.WriteByte('\n')
		case strings.HasPrefix(line, "data: "):
			b.WriteString("data: ")
			b.WriteString(line[len("data: "):])
			b.WriteByte('\n')
		default:
			b.WriteString("data: ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	if b.Len() == 0 {
		return nil
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// FormatEvent renders a composite "event + data" item suitable for callers
// that require named events (the Anthropic dialect preserves event names).
func FormatEvent(name, data string) string {
	if name == "" {
		return data
	}
	return "event: " + name + "\ndata: " + data
}
