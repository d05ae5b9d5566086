// Package alpaca serves a dome and its relays as ASCOM Alpaca Dome and Switch
// devices.
//
// Protocol docs at https://ascom-standards.org/api/
package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/w1xm/dome_interface/calib"
	"github.com/w1xm/dome_interface/dio"
	"github.com/w1xm/dome_interface/dome"
)

// Dome is the command surface of a dome controller.
type Dome interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected() bool
	Status() dome.Status
	ExtStatus() dome.ExtStatus
	Params() calib.Params
	CanSlave() bool

	StartLeft(ctx context.Context) error
	StartRight(ctx context.Context) error
	Stop(ctx context.Context) error
	StepLeft(ctx context.Context, d time.Duration) error
	StepRight(ctx context.Context, d time.Duration) error
	SlewToAzimuth(ctx context.Context, deg float64) error
	SyncToAzimuth(ctx context.Context, deg float64) error
	Park(ctx context.Context) error
	SetPark(ctx context.Context) error
	FindHome(ctx context.Context) error
	SetSlave(ctx context.Context, on bool) error
	OpenShutter(ctx context.Context) error
	CloseShutter(ctx context.Context) error
	AbortShutter(ctx context.Context) error

	Switch(ctx context.Context, i int, on bool) error
	PulseSwitch(ctx context.Context, i int, d time.Duration) error
	SwitchState(i int) (bool, error)
}

type Config struct {
	// Name is the server and device name.
	Name     string
	Location string
	Version  string
	// SwitchNames name the relays. Unnamed relays are called "Relay N".
	SwitchNames [dio.Relays]string
	// StopServer is run after answering a stop_server action.
	StopServer func()
}

// Server answers Alpaca requests for one Dome and one Switch device.
type Server struct {
	dome   Dome
	cfg    Config
	logger *zap.SugaredLogger
	table  map[route]handler
	txn    atomic.Uint32

	mu          sync.Mutex
	switchNames [dio.Relays]string

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     dome.Status
	statusSeq  uint64
}

func NewServer(d Dome, cfg Config, logger *zap.SugaredLogger) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = "W1XM Dome"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0"
	}
	table := dispatchTable()
	if err := checkTable(table); err != nil {
		return nil, err
	}
	s := &Server{
		dome:   d,
		cfg:    cfg,
		logger: logger,
		table:  table,
	}
	for i, name := range cfg.SwitchNames {
		if name == "" {
			name = fmt.Sprintf("Relay %d", i)
		}
		s.switchNames[i] = name
	}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s, nil
}

// Response is the Alpaca reply envelope.
type Response struct {
	Value               interface{} `json:",omitempty"`
	ClientID            uint32
	ClientTransactionID uint32
	ServerTransactionID uint32
	ErrorNumber         ErrorCode
	ErrorMessage        string
}

// request is a decoded device call.
type request struct {
	ctx    context.Context
	device DeviceType
	member Member
	params map[string]string

	clientID            uint32
	clientTransactionID uint32
}

type handler func(s *Server, r *request) (interface{}, error)

// Handler returns the HTTP handler for the Alpaca API, the management API, the
// setup pages and the websocket status stream.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/{device}/{index}/{member}", s.deviceHandler).Methods(http.MethodGet, http.MethodPut)
	r.HandleFunc("/api/ws", s.StatusSocketHandler)
	r.HandleFunc("/management/apiversions", s.managementHandler(s.apiVersions)).Methods(http.MethodGet)
	r.HandleFunc("/management/v1/description", s.managementHandler(s.description)).Methods(http.MethodGet)
	r.HandleFunc("/management/v1/configureddevices", s.managementHandler(s.configuredDevices)).Methods(http.MethodGet)
	r.PathPrefix("/setup").HandlerFunc(s.setupHandler)
	return recoverHandler(s.logger, r)
}

// recoverHandler turns a panicking request into a 500 carrying the panic.
func recoverHandler(logger *zap.SugaredLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				logger.Errorf("panic serving %s %s: %v\n%s", r.Method, r.URL.Path, p, debug.Stack())
				http.Error(w, fmt.Sprint(p), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// readParams returns the request parameters keyed by lower case name, from
// the query string for GET and the form body for PUT.
func readParams(r *http.Request) (map[string]string, error) {
	values := r.URL.Query()
	if r.Method == http.MethodPut {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		values = r.PostForm
	}
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[strings.ToLower(k)] = v[0]
		}
	}
	return params, nil
}

func parseUint32(s string) uint32 {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func (s *Server) deviceHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	device, ok := ParseDeviceType(vars["device"])
	if !ok {
		http.Error(w, fmt.Sprintf("unsupported device type %q", vars["device"]), http.StatusBadRequest)
		return
	}
	if index, err := strconv.Atoi(vars["index"]); err != nil || index != 0 {
		http.Error(w, fmt.Sprintf("device number %q not found", vars["index"]), http.StatusBadRequest)
		return
	}
	params, err := readParams(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("reading parameters: %v", err), http.StatusBadRequest)
		return
	}
	req := &request{
		ctx:                 r.Context(),
		device:              device,
		params:              params,
		clientID:            parseUint32(params["clientid"]),
		clientTransactionID: parseUint32(params["clienttransactionid"]),
	}

	var value interface{}
	member, ok := ParseMember(vars["member"])
	h := s.table[route{device, r.Method, member}]
	if !ok || h == nil {
		err = errorf(InvalidOperation, "%s %v/%s is not a valid member", r.Method, device, vars["member"])
	} else {
		req.member = member
		value, err = h(s, req)
	}
	if err != nil {
		s.logger.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	s.reply(w, req.clientID, req.clientTransactionID, value, err)
}

func (s *Server) reply(w http.ResponseWriter, clientID, clientTransactionID uint32, value interface{}, err error) {
	resp := Response{
		ClientID:            clientID,
		ClientTransactionID: clientTransactionID,
		ServerTransactionID: s.txn.Inc(),
	}
	if err != nil {
		ae := toError(err)
		resp.ErrorNumber = ae.Code
		resp.ErrorMessage = ae.Message
	} else {
		resp.Value = value
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Errorf("encoding response: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) setupHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s has no setup page; edit the server configuration and calibration files instead.\n", s.cfg.Name)
}
