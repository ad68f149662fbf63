// ABOUTME: Incremental SSE decoder for response bodies
// ABOUTME: Yields one Frame per blank-line-terminated event block

package sse

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

const maxLineSize = 1024 * 1024

// Frame is one decoded event. Event is empty for unlabeled frames.
type Frame struct {
	Event string
	Data  string
}

// Decoder reads frames from an event stream.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(scanLines)
	return &Decoder{scanner: scanner}
}

// Next returns the next frame. It returns io.EOF when the stream ends; a
// block not terminated by a blank line before EOF is discarded.
func (d *Decoder) Next() (Frame, error) {
	var (
		event     string
		dataLines []string
		hasData   bool
	)

	for d.scanner.Scan() {
		line := d.scanner.Text()

		if line == "" {
			if !hasData && event == "" {
				continue
			}
			return Frame{Event: event, Data: strings.Join(dataLines, "\n")}, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			event = value
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		}
	}

	if err := d.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("reading event stream: %w", err)
	}
	return Frame{}, io.EOF
}

// scanLines splits on LF, CRLF or a bare CR. A CR at the end of the buffer
// waits for more input so a following LF is not read as an empty line.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
