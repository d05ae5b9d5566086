package alpaca

import (
	"strings"

	"github.com/w1xm/dome_interface/dio"
)

// switchHandler wraps a member taking the Id parameter.
func switchHandler(f func(s *Server, r *request, id int) (interface{}, error)) handler {
	return func(s *Server, r *request) (interface{}, error) {
		id, err := r.switchID()
		if err != nil {
			return nil, err
		}
		return f(s, r, id)
	}
}

func (s *Server) switchState(r *request, id int) (bool, error) {
	if !s.dome.Connected() {
		return false, errorf(NotConnected, "%s: dome not connected", r.member)
	}
	return s.dome.SwitchState(id)
}

func (s *Server) switchName(id int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switchNames[id]
}

var switchGets = map[Member]handler{
	MemberMaxSwitch: constant(dio.Relays),
	MemberCanWrite: switchHandler(func(s *Server, r *request, id int) (interface{}, error) {
		return true, nil
	}),
	MemberGetSwitch: switchHandler(func(s *Server, r *request, id int) (interface{}, error) {
		return s.switchState(r, id)
	}),
	MemberGetSwitchValue: switchHandler(func(s *Server, r *request, id int) (interface{}, error) {
		on, err := s.switchState(r, id)
		if err != nil {
			return nil, err
		}
		if on {
			return 1.0, nil
		}
		return 0.0, nil
	}),
	MemberGetSwitchName: switchHandler(func(s *Server, r *request, id int) (interface{}, error) {
		return s.switchName(id), nil
	}),
	MemberGetSwitchDescription: switchHandler(func(s *Server, r *request, id int) (interface{}, error) {
		return s.switchName(id) + " relay output", nil
	}),
	MemberMinSwitchValue: switchHandler(func(s *Server, r *request, id int) (interface{}, error) {
		return 0.0, nil
	}),
	MemberMaxSwitchValue: switchHandler(func(s *Server, r *request, id int) (interface{}, error) {
		return 1.0, nil
	}),
	MemberSwitchStep: switchHandler(func(s *Server, r *request, id int) (interface{}, error) {
		return 1.0, nil
	}),
}

var switchPuts = map[Member]handler{
	MemberSetSwitch: switchHandler(func(s *Server, r *request, id int) (interface{}, error) {
		on, err := r.bool("State")
		if err != nil {
			return nil, err
		}
		return nil, s.dome.Switch(r.ctx, id, on)
	}),
	MemberSetSwitchValue: switchHandler(func(s *Server, r *request, id int) (interface{}, error) {
		v, err := r.float("Value")
		if err != nil {
			return nil, err
		}
		if v != 0 && v != 1 {
			return nil, errorf(InvalidValue, "%s: Value %v must be 0 or 1", r.member, v)
		}
		return nil, s.dome.Switch(r.ctx, id, v == 1)
	}),
	MemberSetSwitchName: switchHandler(func(s *Server, r *request, id int) (interface{}, error) {
		name, err := r.param("Name")
		if err != nil {
			return nil, err
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errorf(InvalidValue, "%s: Name is empty", r.member)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.switchNames[id] = name
		return nil, nil
	}),
}
