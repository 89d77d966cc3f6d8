package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Wire protocol between the pool and a worker: newline-delimited JSON frames
// over the worker's stdin/stdout. The worker announces itself with a single
// Hello frame, then answers each Request with exactly one Response. Closing
// stdin tells the worker to exit its serve loop.

// Hello is the worker's startup announcement.
type Hello struct {
	Ready     bool   `json:"ready"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	PID       int    `json:"pid"`
}

// Request asks a worker to embed a batch of texts.
type Request struct {
	ID    int64    `json:"id"`
	Texts []string `json:"texts"`
}

// Response carries the vectors for a request, or an error message.
type Response struct {
	ID        int64       `json:"id"`
	Vectors   [][]float32 `json:"vectors,omitempty"`
	Dimension int         `json:"dimension"`
	Error     string      `json:"error,omitempty"`
}

// Encoder writes protocol frames as newline-delimited JSON.
type Encoder struct {
	w  *bufio.Writer
	je *json.Encoder
}

// NewEncoder wraps w in a buffered frame encoder.
func NewEncoder(w io.Writer) *Encoder {
	bw := bufio.NewWriter(w)
	return &Encoder{w: bw, je: json.NewEncoder(bw)}
}

// Encode writes one frame and flushes it.
func (e *Encoder) Encode(v any) error {
	if err := e.je.Encode(v); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return e.w.Flush()
}

// Decoder reads protocol frames.
type Decoder struct {
	jd *json.Decoder
}

// NewDecoder wraps r in a frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{jd: json.NewDecoder(bufio.NewReader(r))}
}

// Decode reads the next frame into v. Returns io.EOF when the peer has
// closed the stream.
func (d *Decoder) Decode(v any) error {
	return d.jd.Decode(v)
}
