package monitor

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"rangefinder/protocol"
)

// readChunk is the largest slice handed to the frame decoder at once
const readChunk = 256

// Stats counts what the monitor has seen on the stream
type Stats struct {
	Frames       uint32 // Valid message blocks
	Reports      uint32 // pulse_report messages
	Timeouts     uint32 // pulse_report messages carrying the timeout sentinel
	Traces       uint32 // trace messages
	Lost         uint32 // Frames skipped according to the sequence numbers
	DecodeErrors uint32 // Framing plus payload decode errors
}

// Monitor reads frames from the firmware and dispatches their messages
type Monitor struct {
	port    io.Reader
	decoder *protocol.FrameDecoder

	// Callbacks, set before Run
	OnPulse func(protocol.PulseReport)
	OnTrace func(string)

	mu          sync.Mutex
	stats       Stats
	payloadErrs uint32
	nextSeq     int // -1 until the first frame

	running  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// New creates a monitor reading from port
func New(port io.Reader) *Monitor {
	return &Monitor{
		port:     port,
		decoder:  protocol.NewFrameDecoder(4 * readChunk),
		nextSeq:  -1,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Process feeds received bytes to the decoder and dispatches every
// complete message. Callbacks run on the calling goroutine.
func (m *Monitor) Process(data []byte) {
	for len(data) > 0 {
		n := len(data)
		if n > readChunk {
			n = readChunk
		}
		m.decoder.Write(data[:n])
		data = data[n:]
		m.drain()
	}
}

func (m *Monitor) drain() {
	for {
		msg, ok := m.decoder.Next()
		if !ok {
			return
		}
		m.countFrame(msg.Sequence)

		err := protocol.DecodeMessages(msg.Payload, protocol.MessageHandler{
			OnPulse: m.handlePulse,
			OnTrace: m.handleTrace,
		})
		if err != nil {
			m.mu.Lock()
			m.payloadErrs++
			m.mu.Unlock()
		}
	}
}

func (m *Monitor) countFrame(seq uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Frames++
	if m.nextSeq >= 0 && int(seq) != m.nextSeq {
		m.stats.Lost += uint32((int(seq) - m.nextSeq) & protocol.MessageSeqMask)
	}
	m.nextSeq = int(seq+1) & protocol.MessageSeqMask
}

func (m *Monitor) handlePulse(r protocol.PulseReport) {
	m.mu.Lock()
	m.stats.Reports++
	if r.TimedOut() {
		m.stats.Timeouts++
	}
	m.mu.Unlock()

	if m.OnPulse != nil {
		m.OnPulse(r)
	}
}

func (m *Monitor) handleTrace(text string) {
	m.mu.Lock()
	m.stats.Traces++
	m.mu.Unlock()

	if m.OnTrace != nil {
		m.OnTrace(text)
	}
}

// Stats returns a snapshot of the counters
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	s.DecodeErrors = m.decoder.Errors() + m.payloadErrs
	return s
}

// Run reads from the port until Stop is called or the port reports
// io.EOF. Other read errors are retried.
func (m *Monitor) Run() {
	m.running.Store(true)
	defer close(m.doneChan)

	buffer := make([]byte, readChunk)
	for {
		select {
		case <-m.stopChan:
			return
		default:
		}

		n, err := m.port.Read(buffer)
		if n > 0 {
			m.Process(buffer[:n])
		}
		if err != nil {
			if err == io.EOF {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// Stop ends Run and waits for it to return. The port is not closed;
// a blocking Read must be unblocked by the caller closing it.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	if m.running.Load() {
		<-m.doneChan
	}
}

// Done is closed when Run returns
func (m *Monitor) Done() <-chan struct{} {
	return m.doneChan
}
