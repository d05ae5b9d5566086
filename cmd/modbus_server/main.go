// Command modbus_server exposes a serial Modbus board to a remote domed. Point
// the board url at http://host:port/api/send.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goburrow/modbus"
	"github.com/gorilla/mux"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/w1xm/dome_interface/internal/logging"
	"github.com/w1xm/dome_interface/internal/modbushttp"
)

// sender forwards one raw Modbus frame.
type sender interface {
	Send(aduRequest []byte) (aduResponse []byte, err error)
}

type Server struct {
	handler  sender
	password string
	logger   *zap.SugaredLogger
}

func newRTUHandler(port string, baud int, slaveID byte) *modbus.RTUClientHandler {
	handler := modbus.NewRTUClientHandler(port)
	handler.BaudRate = baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 1 * time.Second
	handler.SlaveId = slaveID
	return handler
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/send", s.SendHandler).Methods(http.MethodPost)
	return r
}

func (s *Server) SendHandler(w http.ResponseWriter, r *http.Request) {
	if s.password != "" {
		_, pass, ok := r.BasicAuth()
		if !ok || pass != s.password {
			http.Error(w, "wrong password", http.StatusUnauthorized)
			return
		}
	}
	err := func() error {
		aduRequest, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		aduResponse, err := s.handler.Send(aduRequest)
		var errString string
		if err != nil {
			errString = err.Error()
		}
		body, err := json.Marshal(&modbushttp.SendResponse{
			ADUResponse: aduResponse,
			Error:       errString,
		})
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		_, err = w.Write(body)
		return err
	}()
	if err != nil {
		s.logger.Errorf("SendHandler: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func main() {
	app := &cli.App{
		Name:  "modbus_server",
		Usage: "HTTP bridge to a serial Modbus board",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:8502", Usage: "address to listen on"},
			&cli.StringFlag{Name: "password", Usage: "password to require on remote connections"},
			&cli.StringFlag{Name: "serial", Required: true, Usage: "board serial port name"},
			&cli.IntFlag{Name: "baud", Value: 9600, Usage: "board baud rate"},
			&cli.IntFlag{Name: "slave_id", Value: 1, Usage: "board Modbus slave ID"},
			&cli.BoolFlag{Name: "debug", Usage: "log at debug level"},
		},
		Action: func(c *cli.Context) error {
			logger, err := logging.New("modbus_server", c.Bool("debug"))
			if err != nil {
				return err
			}
			defer logger.Sync()
			handler := newRTUHandler(c.String("serial"), c.Int("baud"), byte(c.Int("slave_id")))
			defer handler.Close()
			s := &Server{handler: handler, password: c.String("password"), logger: logger}
			srv := &http.Server{
				Handler:      s.Handler(),
				Addr:         c.String("addr"),
				ReadTimeout:  60 * time.Second,
				WriteTimeout: 60 * time.Second,
			}
			logger.Infof("Listening on %v", srv.Addr)
			return srv.ListenAndServe()
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
