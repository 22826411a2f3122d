// Package capture records the frames a session receives to a file of CBOR
// records, one per frame, and reads them back.
package capture

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/carterjones/wsauth"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Record is one captured frame. Integer keys keep the file compact.
type Record struct {
	Time time.Time `cbor:"1,keyasint"`
	Type int       `cbor:"2,keyasint"`
	Data []byte    `cbor:"3,keyasint"`
}

// Recorder appends frames to a capture file.
// It is safe for concurrent use.
type Recorder struct {
	file    afero.File
	encoder *cbor.Encoder
	now     func() time.Time
	mu      sync.Mutex
	closed  bool
	err     error
}

// NewRecorder opens path on fs for appending, creating it with permissions
// 0644 if needed.
func NewRecorder(fs afero.Fs, path string) (*Recorder, error) {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open capture file failed")
	}

	return &Recorder{
		file:    f,
		encoder: newEncoder(f),
		now:     time.Now,
	}, nil
}

// Record appends f to the file. Frames recorded after Close are dropped.
func (r *Recorder) Record(f wsauth.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	// The session reuses the frame's buffer once the handler returns.
	data := append([]byte(nil), f.Data...)

	err := r.encoder.Encode(Record{Time: r.now(), Type: f.Type, Data: data})
	if err != nil && r.err == nil {
		r.err = errors.Wrap(err, "encode capture record failed")
	}
	return err
}

// Handler wraps next so that every frame is recorded before next sees it.
// Encoding errors do not interrupt the session; they are reported by Close.
func (r *Recorder) Handler(next wsauth.MessageHandler) wsauth.MessageHandler {
	return func(f wsauth.Frame) {
		_ = r.Record(f)
		if next != nil {
			next(f)
		}
	}
}

// Close closes the file and returns the first encoding error, if any.
// It is safe to call Close multiple times.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.file.Close(); err != nil {
		return errors.Wrap(err, "close capture file failed")
	}
	return r.err
}

// ReadAll decodes every record in the capture file at path.
func ReadAll(fs afero.Fs, path string) ([]Record, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open capture file failed")
	}
	defer f.Close()

	var records []Record
	dec := newDecoder(f)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return records, errors.Wrap(err, "decode capture record failed")
		}
		records = append(records, rec)
	}
}
