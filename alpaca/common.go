package alpaca

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/w1xm/dome_interface/calib"
)

// interfaceVersions are the ASCOM interface versions implemented.
var interfaceVersions = map[DeviceType]int{
	DomeDevice:   3,
	SwitchDevice: 3,
}

// StateProperty is one entry of DeviceState.
type StateProperty struct {
	Name  string
	Value interface{}
}

func (s *Server) deviceDescription(d DeviceType) string {
	switch d {
	case DomeDevice:
		return s.cfg.Name + " rotation and shutter"
	case SwitchDevice:
		return s.cfg.Name + " auxiliary relays"
	}
	return s.cfg.Name
}

var commonGets = map[Member]handler{
	MemberConnected: func(s *Server, r *request) (interface{}, error) {
		return s.dome.Connected(), nil
	},
	MemberConnecting: constant(false),
	MemberDescription: func(s *Server, r *request) (interface{}, error) {
		return s.deviceDescription(r.device), nil
	},
	MemberDriverInfo: func(s *Server, r *request) (interface{}, error) {
		return fmt.Sprintf("%s Alpaca driver for the W1XM dome", s.cfg.Name), nil
	},
	MemberDriverVersion: func(s *Server, r *request) (interface{}, error) {
		return s.cfg.Version, nil
	},
	MemberInterfaceVersion: func(s *Server, r *request) (interface{}, error) {
		return interfaceVersions[r.device], nil
	},
	MemberName: func(s *Server, r *request) (interface{}, error) {
		return fmt.Sprintf("%s %v", s.cfg.Name, r.device), nil
	},
	MemberSupportedActions: func(s *Server, r *request) (interface{}, error) {
		return actionNames(), nil
	},
	MemberDeviceState: func(s *Server, r *request) (interface{}, error) {
		st, err := s.connectedStatus(r)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		if r.device == SwitchDevice {
			var props []StateProperty
			for i, on := range st.Switches {
				v := 0.0
				if on {
					v = 1
				}
				props = append(props,
					StateProperty{fmt.Sprintf("GetSwitch%d", i), on},
					StateProperty{fmt.Sprintf("GetSwitchValue%d", i), v})
			}
			return append(props, StateProperty{"TimeStamp", now}), nil
		}
		return []StateProperty{
			{"AtHome", st.AtHome},
			{"AtPark", st.AtPark},
			{"Azimuth", st.Azimuth},
			{"ShutterStatus", int(st.Shutter)},
			{"Slewing", st.Slewing()},
			{"TimeStamp", now},
		}, nil
	},
}

var commonPuts = map[Member]handler{
	MemberAction: func(s *Server, r *request) (interface{}, error) {
		name, err := r.param("Action")
		if err != nil {
			return nil, err
		}
		params := r.params["parameters"]
		a, ok := actions[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, errorf(ActionNotImplemented, "action %q is not supported", name)
		}
		return a(s, r, params)
	},
	MemberCommandBlind:  unimplemented("CommandBlind"),
	MemberCommandBool:   unimplemented("CommandBool"),
	MemberCommandString: unimplemented("CommandString"),
	MemberConnected: func(s *Server, r *request) (interface{}, error) {
		on, err := r.bool("Connected")
		if err != nil {
			return nil, err
		}
		if on {
			return nil, s.dome.Connect(r.ctx)
		}
		return nil, s.dome.Disconnect(r.ctx)
	},
	MemberConnect: func(s *Server, r *request) (interface{}, error) {
		return nil, s.dome.Connect(r.ctx)
	},
	MemberDisconnect: func(s *Server, r *request) (interface{}, error) {
		return nil, s.dome.Disconnect(r.ctx)
	},
}

// dispatchTable builds the handler table for every device.
func dispatchTable() map[route]handler {
	table := make(map[route]handler)
	add := func(dev DeviceType, method string, handlers map[Member]handler) {
		for m, h := range handlers {
			table[route{dev, method, m}] = h
		}
	}
	for _, dev := range deviceTypes {
		add(dev, http.MethodGet, commonGets)
		add(dev, http.MethodPut, commonPuts)
	}
	add(DomeDevice, http.MethodGet, domeGets)
	add(DomeDevice, http.MethodPut, domePuts)
	add(SwitchDevice, http.MethodGet, switchGets)
	add(SwitchDevice, http.MethodPut, switchPuts)
	return table
}

// action is a vendor extension run through the Action member. Its result is
// always a string.
type action func(s *Server, r *request, params string) (interface{}, error)

func jsonString(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func parseSeconds(params string) (time.Duration, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(params), 64)
	if err != nil || v <= 0 {
		return 0, errorf(InvalidValue, "duration %q must be a positive number of seconds", params)
	}
	return calib.Seconds(v), nil
}

var actions = map[string]action{
	"stop_server": func(s *Server, r *request, params string) (interface{}, error) {
		if s.cfg.StopServer == nil {
			return nil, errorf(InvalidOperation, "stop_server is not available")
		}
		// Answer before the server goes away.
		go s.cfg.StopServer()
		return "stopping", nil
	},
	"get_params": func(s *Server, r *request, params string) (interface{}, error) {
		return jsonString(s.dome.Params())
	},
	"get_tel": func(s *Server, r *request, params string) (interface{}, error) {
		ext := s.dome.ExtStatus()
		if ext.Telescope == nil {
			return nil, errorf(ValueNotSet, "no telescope configured")
		}
		return jsonString(struct {
			Sample interface{}
			DomeAz float64
		}{ext.Telescope, ext.TelescopeAz})
	},
	"get_ext_status": func(s *Server, r *request, params string) (interface{}, error) {
		return jsonString(s.dome.ExtStatus())
	},
	"start_left": func(s *Server, r *request, params string) (interface{}, error) {
		return "", s.dome.StartLeft(r.ctx)
	},
	"start_right": func(s *Server, r *request, params string) (interface{}, error) {
		return "", s.dome.StartRight(r.ctx)
	},
	"step_left": func(s *Server, r *request, params string) (interface{}, error) {
		d, err := parseSeconds(params)
		if err != nil {
			return nil, err
		}
		return "", s.dome.StepLeft(r.ctx, d)
	},
	"step_right": func(s *Server, r *request, params string) (interface{}, error) {
		d, err := parseSeconds(params)
		if err != nil {
			return nil, err
		}
		return "", s.dome.StepRight(r.ctx, d)
	},
	// pulse_switch takes "id,seconds".
	"pulse_switch": func(s *Server, r *request, params string) (interface{}, error) {
		fields := strings.FieldsFunc(params, func(r rune) bool { return r == ',' || r == ' ' })
		if len(fields) != 2 {
			return nil, errorf(InvalidValue, "pulse_switch wants \"id,seconds\", got %q", params)
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errorf(InvalidValue, "switch id %q is not an integer", fields[0])
		}
		d, err := parseSeconds(fields[1])
		if err != nil {
			return nil, err
		}
		return "", s.dome.PulseSwitch(r.ctx, id, d)
	},
}

func actionNames() []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
