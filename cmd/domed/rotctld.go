package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/w1xm/dome_interface/alpaca"
)

// rotctld speaks the hamlib rotctld protocol, presenting the dome as an
// azimuth-only rotator.
type rotctld struct {
	dome   alpaca.Dome
	logger *zap.SugaredLogger
}

func (s *rotctld) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		s.logger.Info("shutdown; closing rotctld socket")
		ln.Close()
	}()
	for ctx.Err() == nil {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warnf("failed to accept: %v", err)
			}
			continue
		}
		go s.handle(ctx, conn)
	}
	return nil
}

const rotctldCaps = `Model name: Dome
Mfg name: W1XM
Rot type: Az
Min Azimuth: -180.00
Max Azimuth: 180.00
Min Elevation: 0.00
Max Elevation: 0.00
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Park: Y
Can Reset: N
Can Move: Y
Can get Info: Y
`

// hamlib return codes.
const (
	rigOK     = 0
	rigEInval = -1
	rigEIO    = -6
)

func (s *rotctld) handle(ctx context.Context, conn io.ReadWriteCloser) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by command name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Fields(cmd)
			cmd = parts[0][2:]
			args = parts[1:]
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else if cmd[0] == '\\' {
			parts := strings.Fields(cmd)
			cmd = parts[0][1:]
			args = parts[1:]
		} else {
			// Space after command is optional.
			args = strings.Fields(cmd[1:])
			cmd = cmd[:1]
		}
		s.logger.Debugf("rotctld command: %q args: %#v", cmd, args)
		rprt := rigEInval
		run := func(err error) {
			rprt = rigOK
			if err != nil {
				s.logger.Infof("rotctld %s: %v", cmd, err)
				rprt = rigEIO
			}
		}
		switch cmd {
		case "1", "dump_caps":
			io.WriteString(conn, rotctldCaps)
			rprt = rigOK
		case "_", "get_info":
			fmt.Fprintf(conn, "%s\n", "W1XM dome")
			rprt = rigOK
		case "S", "stop":
			extended = true // always print RPRT
			run(s.dome.Stop(ctx))
		case "K", "park":
			extended = true
			run(s.dome.Park(ctx))
		case "P", "set_pos":
			extended = true
			if len(args) < 1 {
				break
			}
			az, err := strconv.ParseFloat(args[0], 64)
			if err != nil || az < -180 || az > 360 {
				break
			}
			if az < 0 {
				az += 360
			}
			run(s.dome.SlewToAzimuth(ctx, az))
		case "M", "move":
			extended = true
			if len(args) < 1 {
				break
			}
			// Speed is ignored; the dome has one.
			switch args[0] {
			case "8": // Left
				run(s.dome.StartLeft(ctx))
			case "16": // Right
				run(s.dome.StartRight(ctx))
			}
		case "p", "get_pos":
			st := s.dome.Status()
			az := st.Azimuth
			if az > 180 {
				az -= 360
			}
			az = math.Round(az*1e6) / 1e6
			if extended {
				fmt.Fprintf(conn, "Azimuth: %.6f\nElevation: %.6f\n", az, 0.0)
			} else {
				fmt.Fprintf(conn, "%.6f\n%.6f\n", az, 0.0)
			}
			rprt = rigOK
		}
		if extended || rprt != rigOK {
			fmt.Fprintf(conn, "RPRT %d\n", rprt)
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Infof("reading rotctld: %v", err)
	}
}
