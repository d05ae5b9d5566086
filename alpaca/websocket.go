package alpaca

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/w1xm/dome_interface/dome"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Command is a request received on the status socket.
type Command struct {
	Command string  `json:"command"`
	Azimuth float64 `json:"azimuth"`
	Slaved  bool    `json:"slaved"`
}

func (s *Server) runCommand(ctx context.Context, msg Command) error {
	switch msg.Command {
	case "stop":
		return s.dome.Stop(ctx)
	case "slewtoazimuth":
		return s.dome.SlewToAzimuth(ctx, msg.Azimuth)
	case "openshutter":
		return s.dome.OpenShutter(ctx)
	case "closeshutter":
		return s.dome.CloseShutter(ctx)
	case "setslave":
		return s.dome.SetSlave(ctx, msg.Slaved)
	}
	return errorf(ActionNotImplemented, "unknown command %q", msg.Command)
}

// StatusSocketHandler streams every status change as JSON and accepts
// commands on the same connection.
func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("upgrading status socket: %v", err)
		return
	}
	defer conn.Close()

	go func() {
		defer func() {
			cancel()
			// Wake the writer so it sees the cancellation.
			s.statusMu.Lock()
			s.statusCond.Broadcast()
			s.statusMu.Unlock()
		}()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := s.runCommand(ctx, msg); err != nil {
				s.logger.Infof("status socket command %q: %v", msg.Command, err)
			}
		}
	}()

	send := func(status dome.Status) bool {
		data, err := json.Marshal(status)
		if err != nil {
			s.logger.Errorf("encoding status: %v", err)
			return false
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debugf("writing status: %v", err)
			return false
		}
		return true
	}

	s.statusMu.RLock()
	status, seq := s.status, s.statusSeq
	s.statusMu.RUnlock()
	if !send(status) {
		return
	}
	for {
		s.statusMu.RLock()
		for seq == s.statusSeq && ctx.Err() == nil {
			s.statusCond.Wait()
		}
		status, seq = s.status, s.statusSeq
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
		if !send(status) {
			return
		}
	}
}

// StatusCallback publishes a dome status to the status sockets.
func (s *Server) StatusCallback(status dome.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.statusSeq++
	s.statusCond.Broadcast()
}
