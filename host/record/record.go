// Package record stores pulse reports in a CBOR file so a session can be
// replayed or analyzed later.
package record

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"rangefinder/protocol"
)

// Entry is one recorded pulse report. Integer keys keep entries compact.
type Entry struct {
	Session    string    `cbor:"1,keyasint"`
	Received   time.Time `cbor:"2,keyasint"`
	OID        uint8     `cbor:"3,keyasint"`
	Cycle      uint32    `cbor:"4,keyasint"`
	Clock      uint32    `cbor:"5,keyasint"`
	DurationUS int32     `cbor:"6,keyasint"`
}

// Report returns the entry as a pulse report
func (e Entry) Report() protocol.PulseReport {
	return protocol.PulseReport{
		OID:        e.OID,
		Cycle:      e.Cycle,
		Clock:      e.Clock,
		DurationUS: e.DurationUS,
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR decoder mode: %v", err))
	}
}

// Recorder appends entries to a stream. Safe for concurrent use.
type Recorder struct {
	session string
	closer  io.Closer
	now     func() time.Time

	mu      sync.Mutex
	encoder *cbor.Encoder
	closed  bool
}

// NewRecorder records to w under a fresh session ID
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{
		session: uuid.New().String(),
		encoder: encMode.NewEncoder(w),
		now:     time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// Create opens path for appending, creating it with 0644 if needed
func Create(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open record file %s: %w", path, err)
	}
	return NewRecorder(f), nil
}

// Session returns the ID stamped on every entry of this recorder
func (r *Recorder) Session() string {
	return r.session
}

// Record appends one pulse report, stamped with the receive time
func (r *Recorder) Record(report protocol.PulseReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return os.ErrClosed
	}
	return r.encoder.Encode(Entry{
		Session:    r.session,
		Received:   r.now(),
		OID:        report.OID,
		Cycle:      report.Cycle,
		Clock:      report.Clock,
		DurationUS: report.DurationUS,
	})
}

// Close closes the underlying stream if it is closable.
// Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// ReadAll decodes every entry from r
func ReadAll(r io.Reader) ([]Entry, error) {
	dec := decMode.NewDecoder(r)
	var entries []Entry
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return entries, fmt.Errorf("failed to decode entry %d: %w", len(entries), err)
		}
		entries = append(entries, e)
	}
}

// ReadFile decodes every entry of a record file
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll(f)
}
