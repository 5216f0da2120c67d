// ABOUTME: Streaming reader for the binary v8 heap image format
// ABOUTME: Emits records through callbacks with progress reporting and error recovery

package v8image

import (
	"bufio"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/prateek/heapgrok/memimage"
)

// Header opens every image
const Header = "v8 heap image 1\n"

// Record tags
const (
	tagEOF     = 0
	tagParams  = 1
	tagSegment = 2
	tagRoot    = 3
	tagFrame   = 4
)

const (
	maxString  = 1 << 20
	maxSegment = 1 << 30
)

// ErrBadHeader is returned when the input does not start with Header
var ErrBadHeader = errors.New("not a v8 heap image")

// StreamCallbacks receive parsed records. A non-nil error from a record
// callback stops the parse and is returned unchanged.
type StreamCallbacks struct {
	OnParams  func(params memimage.Params) error
	OnSegment func(addr memimage.Address, data []byte) error
	OnRoot    func(desc string, word uint64) error
	OnFrame   func(frame memimage.Frame) error

	// OnProgress is called periodically and once at the end
	OnProgress func(bytesRead int64, records int64, elapsed time.Duration)

	// OnError is called for malformed records. Returning an error stops
	// the parse.
	OnError func(err error, canRecover bool) error
}

type callbackError struct{ err error }

func (e *callbackError) Error() string { return e.err.Error() }

// countingReader counts consumed bytes
type countingReader struct {
	r *bufio.Reader
	n *atomic.Uint64
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(uint64(n))
	return n, err
}

func (c countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n.Inc()
	}
	return b, err
}

// peek returns up to n unread bytes without consuming them
func (c countingReader) peek(n int) ([]byte, error) {
	return c.r.Peek(n)
}

// StreamingParser reads an image record by record without holding it in
// memory
type StreamingParser struct {
	r         countingReader
	callbacks StreamCallbacks
	progress  atomic.Uint64
	records   atomic.Int64
	startTime time.Time
	interval  time.Duration

	maxErrors   int
	errorCount  int
	skipOnError bool
}

// NewStreamingParser creates a parser over r
func NewStreamingParser(r io.Reader, callbacks StreamCallbacks) *StreamingParser {
	p := &StreamingParser{
		callbacks:   callbacks,
		interval:    100 * time.Millisecond,
		maxErrors:   100,
		skipOnError: true,
		startTime:   time.Now(),
	}
	p.r = countingReader{r: bufio.NewReaderSize(r, 1<<20), n: &p.progress}
	return p
}

// SetErrorRecovery configures how malformed records are handled. With
// skipOnError the parser resynchronises on the next plausible record tag,
// up to maxErrors times.
func (p *StreamingParser) SetErrorRecovery(maxErrors int, skipOnError bool) {
	p.maxErrors = maxErrors
	p.skipOnError = skipOnError
}

// SetProgressInterval sets how often OnProgress is called
func (p *StreamingParser) SetProgressInterval(d time.Duration) {
	if d > 0 {
		p.interval = d
	}
}

// Errors returns the number of malformed records seen
func (p *StreamingParser) Errors() int { return p.errorCount }

func (p *StreamingParser) reportProgress() {
	if p.callbacks.OnProgress != nil {
		p.callbacks.OnProgress(int64(p.progress.Load()), p.records.Load(), time.Since(p.startTime))
	}
}

// Parse reads the whole stream
func (p *StreamingParser) Parse() error {
	header := make([]byte, len(Header))
	if _, err := io.ReadFull(p.r, header); err != nil {
		return errors.Wrap(ErrBadHeader, err.Error())
	}
	if string(header) != Header {
		return errors.Wrapf(ErrBadHeader, "header %q", header)
	}

	stop := p.startProgress()
	err := p.readRecords()
	stop()
	if err == nil {
		p.reportProgress()
	}
	return err
}

// startProgress reports progress on a ticker until the returned func is
// called
func (p *StreamingParser) startProgress() func() {
	if p.callbacks.OnProgress == nil {
		return func() {}
	}
	p.reportProgress()
	ticker := time.NewTicker(p.interval)
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-ticker.C:
				p.reportProgress()
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
		<-exited
	}
}

func (p *StreamingParser) readRecords() error {
	for {
		tag, err := binary.ReadUvarint(p.r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if !p.handleError(errors.Wrap(err, "reading tag")) {
				return err
			}
			continue
		}
		p.records.Inc()

		var name string
		switch tag {
		case tagEOF:
			return nil
		case tagParams:
			// params are needed to interpret everything else
			if err := p.parseParams(); err != nil {
				return unwrapCallback(errors.Wrap(err, "parsing params"))
			}
			continue
		case tagSegment:
			name, err = "segment", p.parseSegment()
		case tagRoot:
			name, err = "root", p.parseRoot()
		case tagFrame:
			name, err = "frame", p.parseFrame()
		default:
			name, err = "record", errors.Errorf("unknown tag %d", tag)
		}
		if err == nil {
			continue
		}
		var cb *callbackError
		if errors.As(err, &cb) {
			return cb.err
		}
		err = errors.Wrapf(err, "parsing %s", name)
		if !p.handleError(err) {
			return err
		}
	}
}

func unwrapCallback(err error) error {
	var cb *callbackError
	if errors.As(err, &cb) {
		return cb.err
	}
	return err
}

// handleError reports a malformed record and says whether to carry on
func (p *StreamingParser) handleError(err error) bool {
	p.errorCount++
	if p.callbacks.OnError != nil {
		if stop := p.callbacks.OnError(err, p.skipOnError); stop != nil {
			return false
		}
	}
	if !p.skipOnError || p.errorCount > p.maxErrors {
		return false
	}
	p.seekToNextRecord()
	return true
}

// seekToNextRecord skips bytes until one that could start a record. The
// candidate tag byte is left unread.
func (p *StreamingParser) seekToNextRecord() {
	for i := 0; i < 1<<16; i++ {
		peek, err := p.r.peek(2)
		if len(peek) == 0 {
			return
		}
		// only the EOF tag may be the last byte of the input
		if b := peek[0]; b <= tagFrame && (err == nil || b == tagEOF) {
			return
		}
		if _, err := p.r.ReadByte(); err != nil {
			return
		}
	}
}

func (p *StreamingParser) readVarint() (uint64, error) {
	v, err := binary.ReadUvarint(p.r)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return v, err
}

func (p *StreamingParser) readBytes(limit uint64) ([]byte, error) {
	n, err := p.readVarint()
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, errors.Errorf("length %d exceeds %d", n, limit)
	}
	if n > 1<<16 {
		// grow with the input rather than trusting the length prefix
		data, err := io.ReadAll(io.LimitReader(p.r, int64(n)))
		if err == nil && uint64(len(data)) < n {
			err = io.ErrUnexpectedEOF
		}
		return data, err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(p.r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}

func (p *StreamingParser) readString() (string, error) {
	b, err := p.readBytes(maxString)
	return string(b), err
}

func callback(err error) error {
	if err != nil {
		return &callbackError{err: err}
	}
	return nil
}

func (p *StreamingParser) parseParams() error {
	var params memimage.Params
	bigEndian, err := p.readVarint()
	if err != nil {
		return err
	}
	params.BigEndian = bigEndian != 0
	if params.WordSize, err = p.readVarint(); err != nil {
		return err
	}
	if params.PageSize, err = p.readVarint(); err != nil {
		return err
	}
	if params.Arch, err = p.readString(); err != nil {
		return errors.Wrap(err, "reading arch")
	}
	if params.Engine, err = p.readString(); err != nil {
		return errors.Wrap(err, "reading engine version")
	}
	if p.callbacks.OnParams != nil {
		return callback(p.callbacks.OnParams(params))
	}
	return nil
}

func (p *StreamingParser) parseSegment() error {
	addr, err := p.readVarint()
	if err != nil {
		return err
	}
	data, err := p.readBytes(maxSegment)
	if err != nil {
		return err
	}
	if p.callbacks.OnSegment != nil {
		return callback(p.callbacks.OnSegment(memimage.Address(addr), data))
	}
	return nil
}

func (p *StreamingParser) parseRoot() error {
	desc, err := p.readString()
	if err != nil {
		return err
	}
	word, err := p.readVarint()
	if err != nil {
		return err
	}
	if p.callbacks.OnRoot != nil {
		return callback(p.callbacks.OnRoot(desc, word))
	}
	return nil
}

func (p *StreamingParser) parseFrame() error {
	var f memimage.Frame
	var fp, pc uint64
	var err error
	if f.Marker, err = p.readVarint(); err != nil {
		return err
	}
	if fp, err = p.readVarint(); err != nil {
		return err
	}
	if pc, err = p.readVarint(); err != nil {
		return err
	}
	f.FP, f.PC = memimage.Address(fp), memimage.Address(pc)
	if p.callbacks.OnFrame != nil {
		return callback(p.callbacks.OnFrame(f))
	}
	return nil
}
