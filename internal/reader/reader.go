// Package reader is the request surface for meter readings. It serializes
// reads, runs the driver and decoder, reports the result and hands it to
// any registered recorders.
package reader

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/meterlink/internal/decode"
	"github.com/shaunagostinho/meterlink/internal/meter"
	"github.com/shaunagostinho/meterlink/internal/report"
)

// ErrBusy is returned by TryReadMeter while another read is in progress.
var ErrBusy = errors.New("reader: a meter read is already in progress")

// Driver is the part of meter.Driver the reader needs.
type Driver interface {
	Read(d meter.Dialect) (meter.RawRecord, error)
}

// Recorder receives every finished read, successful or not.
type Recorder interface {
	Record(res *Result)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(res *Result)

func (f RecorderFunc) Record(res *Result) { f(res) }

// Request describes one reading.
type Request struct {
	Dialect meter.Dialect
	// Parse decodes the raw record; otherwise only the hex dump is reported.
	Parse bool
	// Sink, if set, receives this read's report lines in addition to the
	// reader's default sink.
	Sink report.Sink
}

// Result is the outcome of one reading.
type Result struct {
	ID        string
	Dialect   meter.Dialect
	StartedAt time.Time
	Duration  time.Duration
	Raw       meter.RawRecord
	Parsed    *decode.ParsedRecord // nil unless requested and decoded
	Err       error
}

// OK reports whether the read and, if requested, the decode succeeded.
func (r *Result) OK() bool { return r.Err == nil }

// Reader runs one meter read at a time.
type Reader struct {
	mu        sync.Mutex
	driver    Driver
	sink      report.Sink
	formatter report.Formatter
	log       *logrus.Entry

	recMu     sync.RWMutex
	recorders []Recorder
}

// New creates a reader. A nil sink discards report lines.
func New(driver Driver, sink report.Sink, formatter report.Formatter) *Reader {
	if sink == nil {
		sink = report.Discard
	}
	return &Reader{
		driver:    driver,
		sink:      sink,
		formatter: formatter,
		log:       logrus.WithField("component", "reader"),
	}
}

// AddRecorder registers rec to receive every result.
func (r *Reader) AddRecorder(rec Recorder) {
	r.recMu.Lock()
	defer r.recMu.Unlock()
	r.recorders = append(r.recorders, rec)
}

// ReadMeter performs one reading, waiting for any read in progress.
func (r *Reader) ReadMeter(req Request) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(req)
}

// TryReadMeter performs one reading, or fails with ErrBusy if a read is
// already running.
func (r *Reader) TryReadMeter(req Request) (*Result, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()
	return r.read(req)
}

// Exclusive runs fn while holding the read lock, so transport housekeeping
// such as the IRDA init sequence never interleaves with a reading.
func (r *Reader) Exclusive(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn()
}

func (r *Reader) read(req Request) (*Result, error) {
	res := &Result{
		ID:        uuid.NewString(),
		Dialect:   req.Dialect,
		StartedAt: time.Now(),
	}
	sink := report.Multi(r.sink, req.Sink)
	log := r.log.WithFields(logrus.Fields{"id": res.ID, "dialect": req.Dialect})

	raw, err := r.driver.Read(req.Dialect)
	res.Raw = raw
	if err != nil {
		res.Err = err
	} else if req.Parse {
		p, perr := decode.Parse(raw)
		if perr != nil {
			res.Err = fmt.Errorf("reader: %w", perr)
		} else {
			res.Parsed = &p
		}
	}
	res.Duration = time.Since(res.StartedAt)

	r.emit(sink, res)
	if res.Err != nil {
		log.WithError(res.Err).Warn("reading failed")
	} else {
		log.WithFields(logrus.Fields{"bytes": raw.Len(), "elapsed": res.Duration.Round(time.Millisecond)}).Info("reading complete")
	}

	r.recMu.RLock()
	recs := append([]Recorder(nil), r.recorders...)
	r.recMu.RUnlock()
	for _, rec := range recs {
		rec.Record(res)
	}
	return res, res.Err
}

func (r *Reader) emit(s report.Sink, res *Result) {
	if res.Err != nil {
		report.Failure(s, res.Dialect, res.Err)
		if res.Raw.Len() > 0 {
			r.formatter.Raw(s, res.Raw)
		}
		return
	}
	if res.Parsed != nil {
		r.formatter.Parsed(s, res.Parsed, &res.Raw)
	} else {
		r.formatter.Raw(s, res.Raw)
	}
	report.Trailer(s, res.Dialect)
}
