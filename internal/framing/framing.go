// Package framing reads newline-delimited JSON frames from a byte
// stream. Malformed frames get one repair attempt before being
// dropped; the cursor always advances past a processed frame, so a bad
// peer can corrupt single messages but never desynchronize the stream.
package framing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/wrenfield/klaviyo-mcp/internal/jsonrepair"
)

// readChunkSize is how much we ask the reader for at a time.
const readChunkSize = 32 * 1024

// Consumer receives one syntactically valid JSON document per frame,
// in stream order. The bytes are only valid for the duration of the
// call.
type Consumer func(json.RawMessage)

// ErrorHandler receives frame faults the decoder does not recover
// from on its own. The stream keeps running after the handler returns.
type ErrorHandler func(error)

// Decoder splits an io.Reader into newline-terminated JSON frames and
// hands them to a consumer. It wraps the reader rather than replacing
// its internals, so any io.Reader works.
type Decoder struct {
	r       io.Reader
	consume Consumer
	onError ErrorHandler
	logger  *slog.Logger
	buf     []byte
}

// NewDecoder creates a decoder delivering frames to consume. Faults
// outside the recoverable parse class are logged unless an explicit
// handler is set.
func NewDecoder(r io.Reader, consume Consumer, logger *slog.Logger) *Decoder {
	d := &Decoder{
		r:       r,
		consume: consume,
		logger:  logger,
	}
	d.onError = func(err error) {
		logger.Error("frame fault", "error", err)
	}
	return d
}

// SetErrorHandler replaces the default fault handler.
func (d *Decoder) SetErrorHandler(fn ErrorHandler) {
	if fn != nil {
		d.onError = fn
	}
}

// readChunk is the outcome of a single read from the stream.
type readChunk struct {
	data []byte
	err  error
}

// Run reads and delivers frames until the stream ends or ctx is
// canceled. EOF is a clean shutdown and returns nil; other read errors
// are returned after any buffered partial frame is discarded.
func (d *Decoder) Run(ctx context.Context) error {
	chunks := make(chan readChunk)
	go func() {
		defer close(chunks)
		for {
			buf := make([]byte, readChunkSize)
			n, err := d.r.Read(buf)
			select {
			case chunks <- readChunk{data: buf[:n], err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch, ok := <-chunks:
			if !ok {
				return nil
			}
			if len(ch.data) > 0 {
				d.buf = append(d.buf, ch.data...)
				d.drain()
			}
			if ch.err != nil {
				return d.finish(ch.err)
			}
		}
	}
}

// finish handles the terminal read error. A partial frame left in the
// buffer can never complete, so it is discarded rather than held.
func (d *Decoder) finish(err error) error {
	if len(d.buf) > 0 {
		d.logger.Warn("discarding incomplete frame at stream end",
			"buffered_bytes", len(d.buf))
		d.buf = nil
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// drain processes every complete frame in the buffer, then compacts
// the remainder to the front. Each iteration consumes at least one
// newline, so the loop always terminates.
func (d *Decoder) drain() {
	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], '\n')
		if i < 0 {
			break
		}
		frame := d.buf[start : start+i]
		start += i + 1
		d.handleFrame(frame)
	}
	if start > 0 {
		d.buf = append(d.buf[:0], d.buf[start:]...)
	}
}

// handleFrame parses one frame, attempting textual repair when the
// direct parse fails with a recognized parse fault.
func (d *Decoder) handleFrame(frame []byte) {
	line := bytes.TrimSpace(frame)
	if len(line) == 0 {
		return
	}

	var probe any
	err := json.Unmarshal(line, &probe)
	if err == nil {
		d.consume(json.RawMessage(line))
		return
	}
	if !isParseFault(err) {
		d.onError(fmt.Errorf("frame decode: %w", err))
		return
	}

	repaired := jsonrepair.Repair(string(line))
	if json.Valid([]byte(repaired)) {
		d.logger.Warn("repaired malformed frame",
			"original_bytes", len(line),
			"repaired_bytes", len(repaired))
		d.consume(json.RawMessage(repaired))
		return
	}

	d.logger.Warn("dropping unrecoverable frame", "bytes", len(line))
}

// isParseFault reports whether err belongs to the JSON parse fault
// class the repair path handles. Anything else escalates.
func isParseFault(err error) bool {
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syn) || errors.As(err, &typ)
}
