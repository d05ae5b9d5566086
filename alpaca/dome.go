package alpaca

import (
	"github.com/w1xm/dome_interface/dome"
)

func constant(v interface{}) handler {
	return func(*Server, *request) (interface{}, error) {
		return v, nil
	}
}

func unimplemented(what string) handler {
	return func(*Server, *request) (interface{}, error) {
		return nil, notImplemented(what)
	}
}

// connectedStatus returns the dome status, failing when disconnected.
func (s *Server) connectedStatus(r *request) (dome.Status, error) {
	st := s.dome.Status()
	if !st.Connected {
		return st, errorf(NotConnected, "%s: dome not connected", r.member)
	}
	return st, nil
}

func statusField(f func(dome.Status) interface{}) handler {
	return func(s *Server, r *request) (interface{}, error) {
		st, err := s.connectedStatus(r)
		if err != nil {
			return nil, err
		}
		return f(st), nil
	}
}

var domeGets = map[Member]handler{
	MemberAltitude:       unimplemented("Altitude"),
	MemberAtHome:         statusField(func(st dome.Status) interface{} { return st.AtHome }),
	MemberAtPark:         statusField(func(st dome.Status) interface{} { return st.AtPark }),
	MemberAzimuth:        statusField(func(st dome.Status) interface{} { return st.Azimuth }),
	MemberCanFindHome:    constant(true),
	MemberCanPark:        constant(true),
	MemberCanSetAltitude: constant(false),
	MemberCanSetAzimuth:  constant(true),
	MemberCanSetPark:     constant(true),
	MemberCanSetShutter: func(s *Server, r *request) (interface{}, error) {
		return s.dome.Params().ShutTime > 0, nil
	},
	MemberCanSlave: func(s *Server, r *request) (interface{}, error) {
		return s.dome.CanSlave(), nil
	},
	MemberCanSyncAzimuth: constant(true),
	MemberShutterStatus:  statusField(func(st dome.Status) interface{} { return int(st.Shutter) }),
	MemberSlaved:         statusField(func(st dome.Status) interface{} { return st.Slaved }),
	MemberSlewing:        statusField(func(st dome.Status) interface{} { return st.Slewing() }),
}

var domePuts = map[Member]handler{
	MemberAbortSlew: func(s *Server, r *request) (interface{}, error) {
		if err := s.dome.Stop(r.ctx); err != nil {
			return nil, err
		}
		switch s.dome.Status().Shutter {
		case dome.ShutterOpening, dome.ShutterClosing:
			return nil, s.dome.AbortShutter(r.ctx)
		}
		return nil, nil
	},
	MemberCloseShutter: func(s *Server, r *request) (interface{}, error) {
		return nil, s.dome.CloseShutter(r.ctx)
	},
	MemberOpenShutter: func(s *Server, r *request) (interface{}, error) {
		return nil, s.dome.OpenShutter(r.ctx)
	},
	MemberFindHome: func(s *Server, r *request) (interface{}, error) {
		return nil, s.dome.FindHome(r.ctx)
	},
	MemberPark: func(s *Server, r *request) (interface{}, error) {
		return nil, s.dome.Park(r.ctx)
	},
	MemberSetPark: func(s *Server, r *request) (interface{}, error) {
		return nil, s.dome.SetPark(r.ctx)
	},
	MemberSlaved: func(s *Server, r *request) (interface{}, error) {
		on, err := r.bool("Slaved")
		if err != nil {
			return nil, err
		}
		return nil, s.dome.SetSlave(r.ctx, on)
	},
	MemberSlewToAltitude: unimplemented("SlewToAltitude"),
	MemberSlewToAzimuth: func(s *Server, r *request) (interface{}, error) {
		az, err := r.float("Azimuth")
		if err != nil {
			return nil, err
		}
		return nil, s.dome.SlewToAzimuth(r.ctx, az)
	},
	MemberSyncToAzimuth: func(s *Server, r *request) (interface{}, error) {
		az, err := r.float("Azimuth")
		if err != nil {
			return nil, err
		}
		return nil, s.dome.SyncToAzimuth(r.ctx, az)
	},
}
