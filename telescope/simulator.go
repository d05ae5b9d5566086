package telescope

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Simulator is a mount answering the LX200 pointing queries from fixed,
// settable coordinates.
type Simulator struct {
	logger *zap.SugaredLogger

	mu       sync.Mutex
	dec, ra  float64
	pier     PierSide
	mute     int
	garbage  int
	commands []string
}

func NewSimulator(logger *zap.SugaredLogger) *Simulator {
	return &Simulator{logger: logger, pier: PierWest}
}

// Dial returns a Dialer connecting to the simulator through an in-memory pipe.
// Every dial starts a new session.
func (s *Simulator) Dial() Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		a, b := net.Pipe()
		go s.serve(ctx, a)
		return b, nil
	}
}

// Point sets the coordinates reported to clients.
func (s *Simulator) Point(dec, ra float64, pier PierSide) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dec, s.ra, s.pier = dec, ra, pier
}

// Mute makes the simulator ignore the next n commands.
func (s *Simulator) Mute(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mute = n
}

// Garble makes the simulator answer the next n commands with junk.
func (s *Simulator) Garble(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.garbage = n
}

// Commands returns the commands received so far.
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func scanHash(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '#'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (s *Simulator) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Split(scanHash)
	for scanner.Scan() {
		cmd := strings.TrimPrefix(strings.TrimSpace(scanner.Text()), ":")
		reply, ok := s.answer(cmd)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(conn, "%s#", reply); err != nil {
			return
		}
	}
}

func (s *Simulator) answer(cmd string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	if s.mute > 0 {
		s.mute--
		return "", false
	}
	if s.garbage > 0 {
		s.garbage--
		return "??", true
	}
	switch cmd {
	case "GD":
		return FormatSexagesimal(s.dec, true, "*"), true
	case "GR":
		return FormatSexagesimal(s.ra, false, ":"), true
	case "pS":
		return string(s.pier), true
	}
	if s.logger != nil {
		s.logger.Debugf("telescope simulator: unknown command %q", cmd)
	}
	return "0", true
}
