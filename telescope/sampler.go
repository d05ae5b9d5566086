package telescope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tarm/serial"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dialer opens a connection to the telescope.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// TCPDialer connects to a telescope control server.
func TCPDialer(addr string, timeout time.Duration) Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		dialer := &net.Dialer{
			Timeout: timeout,
		}
		return dialer.DialContext(ctx, "tcp", addr)
	}
}

// SerialDialer connects to a mount on a serial port.
func SerialDialer(port string, baud int, timeout time.Duration) Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		c := &serial.Config{Name: port, Baud: baud, ReadTimeout: timeout}
		return serial.OpenPort(c)
	}
}

// Sample is the last known telescope pointing.
type Sample struct {
	// Dec is in degrees and RA in hours; NaN when unavailable.
	Dec      float64
	RA       float64
	PierSide PierSide

	// Consecutive failed reads of each value.
	DecErrs, RAErrs, PierErrs int
	// Errors counts every failed read.
	Errors int
	// Updated is the time of the last successful read.
	Updated time.Time
}

// Config configures a Sampler.
type Config struct {
	Dial Dialer
	// Interval between reads. Each read fetches one of declination, right
	// ascension and pier side in turn.
	Interval time.Duration
	// Timeout bounds every query.
	Timeout time.Duration
	// Longitude of the site in degrees, east positive.
	Longitude float64
	Tables    *Tables
	Clock     clock.Clock
}

// Sampler polls the telescope and derives the dome azimuth it requires.
type Sampler struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu     sync.Mutex
	sample Sample
	next   int
}

const (
	readDec = iota
	readRA
	readPier
	numReads
)

func NewSampler(cfg Config, logger *zap.SugaredLogger) *Sampler {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Interval == 0 {
		cfg.Interval = 300 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	return &Sampler{
		cfg:    cfg,
		logger: logger,
		sample: Sample{Dec: math.NaN(), RA: math.NaN()},
	}
}

// Run polls the telescope, reconnecting as needed, until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	for {
		conn, err := s.cfg.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warnf("opening telescope: %v", err)
			s.failAll()
		} else {
			s.logger.Info("opened telescope")
			if err := s.watch(ctx, NewClient(conn, s.cfg.Timeout)); err != nil && ctx.Err() == nil {
				s.logger.Warnf("reading telescope: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-s.cfg.Clock.After(1 * time.Second):
		}
	}
}

func (s *Sampler) watch(ctx context.Context, c *Client) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Wait for context to be canceled, then close connection.
		<-ctx.Done()
		return c.Close()
	})
	g.Go(func() error {
		t := s.cfg.Clock.Ticker(s.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			if err := s.pollOnce(c); err != nil {
				return err
			}
		}
	})
	return g.Wait()
}

// pollOnce performs the next read of the rotation. Malformed replies count as
// failed reads; I/O errors are also returned so the connection is reopened.
func (s *Sampler) pollOnce(c *Client) error {
	s.mu.Lock()
	which := s.next
	s.next = (s.next + 1) % numReads
	s.mu.Unlock()

	var err error
	switch which {
	case readDec:
		var v float64
		if v, err = c.Declination(); err == nil {
			s.record(which, func(smp *Sample) { smp.Dec = v })
		}
	case readRA:
		var v float64
		if v, err = c.RightAscension(); err == nil {
			s.record(which, func(smp *Sample) { smp.RA = v })
		}
	case readPier:
		var v PierSide
		if v, err = c.PierSide(); err == nil {
			s.record(which, func(smp *Sample) { smp.PierSide = v })
		}
	}
	if err == nil {
		return nil
	}
	s.fail(which)
	if isIOError(err) {
		return err
	}
	s.logger.Debugf("telescope read %d: %v", which, err)
	return nil
}

func isIOError(err error) bool {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe), errors.Is(err, io.ErrNoProgress):
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

func (s *Sampler) record(which int, apply func(*Sample)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply(&s.sample)
	*s.errs(which) = 0
	s.sample.Updated = s.cfg.Clock.Now()
}

func (s *Sampler) errs(which int) *int {
	switch which {
	case readDec:
		return &s.sample.DecErrs
	case readRA:
		return &s.sample.RAErrs
	}
	return &s.sample.PierErrs
}

// fail records a failed read. The previous value survives one failure; the
// second consecutive failure invalidates it.
func (s *Sampler) fail(which int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample.Errors++
	n := s.errs(which)
	*n++
	if *n < 2 {
		return
	}
	switch which {
	case readDec:
		s.sample.Dec = math.NaN()
	case readRA:
		s.sample.RA = math.NaN()
	case readPier:
		s.sample.PierSide = PierUnknown
	}
}

func (s *Sampler) failAll() {
	for i := 0; i < numReads; i++ {
		s.fail(i)
	}
}

// Sample returns a copy of the current sample.
func (s *Sampler) Sample() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sample
}

// Azimuth returns the dome azimuth in degrees required by the current
// telescope pointing, or -1 when it cannot be determined.
func (s *Sampler) Azimuth() float64 {
	smp := s.Sample()
	if math.IsNaN(smp.Dec) || math.IsNaN(smp.RA) || s.cfg.Tables == nil {
		return -1
	}
	tab := s.cfg.Tables.For(smp.PierSide)
	if tab == nil {
		return -1
	}
	lst := LocalSiderealTime(s.cfg.Clock.Now(), s.cfg.Longitude)
	az, ok := tab.Interpolate(HourAngle(lst, smp.RA), smp.Dec)
	if !ok {
		return -1
	}
	return az
}

func formatOrUnknown(v float64, signed bool, sep string) string {
	if math.IsNaN(v) {
		return "unknown"
	}
	return FormatSexagesimal(v, signed, sep)
}

// String renders the sample for logs.
func (smp Sample) String() string {
	return fmt.Sprintf("dec=%s ra=%s pier=%s errors=%d",
		formatOrUnknown(smp.Dec, true, "*"), formatOrUnknown(smp.RA, false, ":"),
		smp.PierSide, smp.Errors)
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// MarshalJSON encodes unavailable values as null.
func (smp Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Dec, RA                   *float64
		PierSide                  PierSide
		DecErrs, RAErrs, PierErrs int
		Errors                    int
		Updated                   time.Time
	}{
		nullable(smp.Dec), nullable(smp.RA), smp.PierSide,
		smp.DecErrs, smp.RAErrs, smp.PierErrs, smp.Errors, smp.Updated,
	})
}
