// Package telescope follows a telescope's pointing and turns it into the dome
// azimuth the slit must face.
package telescope

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Protocol docs at https://www.meade.com/support/LX200CommandSet.pdf

// PierSide is which side of the mount the tube is on.
type PierSide byte

const (
	PierUnknown PierSide = 0
	PierEast    PierSide = 'E'
	PierWest    PierSide = 'W'
)

func (p PierSide) String() string {
	switch p {
	case PierEast:
		return "East"
	case PierWest:
		return "West"
	}
	return "Unknown"
}

func (p PierSide) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Client speaks the LX200 command set. Every command and reply ends in '#'.
type Client struct {
	conn    io.ReadWriteCloser
	r       *bufio.Reader
	timeout time.Duration
}

func NewClient(conn io.ReadWriteCloser, timeout time.Duration) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn), timeout: timeout}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Query sends cmd and returns the reply without its terminator.
func (c *Client) Query(cmd string) (string, error) {
	if d, ok := c.conn.(deadliner); ok && c.timeout > 0 {
		if err := d.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return "", err
		}
	}
	if _, err := io.WriteString(c.conn, cmd); err != nil {
		return "", err
	}
	reply, err := c.r.ReadString('#')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.TrimSuffix(reply, "#")), nil
}

// Declination returns the telescope declination in degrees.
func (c *Client) Declination() (float64, error) {
	reply, err := c.Query(":GD#")
	if err != nil {
		return 0, err
	}
	return ParseSexagesimal(reply)
}

// RightAscension returns the telescope right ascension in hours.
func (c *Client) RightAscension() (float64, error) {
	reply, err := c.Query(":GR#")
	if err != nil {
		return 0, err
	}
	return ParseSexagesimal(reply)
}

// PierSide returns the side of pier reported by the mount.
func (c *Client) PierSide() (PierSide, error) {
	reply, err := c.Query(":pS#")
	if err != nil {
		return PierUnknown, err
	}
	return ParsePierSide(reply)
}

// ParsePierSide accepts "E", "W", "East" or "West" in any case.
func ParsePierSide(s string) (PierSide, error) {
	if s == "" {
		return PierUnknown, errors.New("empty pier side")
	}
	switch strings.ToUpper(s)[0] {
	case 'E':
		return PierEast, nil
	case 'W':
		return PierWest, nil
	}
	return PierUnknown, fmt.Errorf("unknown pier side %q", s)
}

// ParseSexagesimal parses values such as "+45*30'15", "-05*12", "12:34:56",
// "12:34.5" and "+45ß30:15". Any non-digit character separates fields.
func ParseSexagesimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty sexagesimal value")
	}
	sign := 1.0
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '.'
	})
	if len(fields) == 0 || len(fields) > 3 {
		return 0, fmt.Errorf("malformed sexagesimal value %q", s)
	}
	var v float64
	scale := 1.0
	for _, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed sexagesimal value %q: %w", s, err)
		}
		v += x / scale
		scale *= 60
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("malformed sexagesimal value %q", s)
	}
	return sign * v, nil
}

// FormatSexagesimal renders v as sDD*MM:SS with the given separator after
// the first field. It is the inverse of ParseSexagesimal for whole seconds.
func FormatSexagesimal(v float64, signed bool, sep string) string {
	sign := "+"
	if v < 0 {
		sign = "-"
		v = -v
	}
	total := int(math.Round(v * 3600))
	out := fmt.Sprintf("%02d%s%02d:%02d", total/3600, sep, (total/60)%60, total%60)
	if signed {
		out = sign + out
	}
	return out
}
