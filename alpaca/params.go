package alpaca

import (
	"math"
	"strconv"
	"strings"

	"github.com/w1xm/dome_interface/dio"
)

func (r *request) param(name string) (string, error) {
	v, ok := r.params[strings.ToLower(name)]
	if !ok {
		return "", errorf(InvalidValue, "%s: parameter %s not set", r.member, name)
	}
	return v, nil
}

func (r *request) float(name string) (float64, error) {
	s, err := r.param(name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errorf(InvalidValue, "%s: %s=%q is not a number", r.member, name, s)
	}
	return v, nil
}

func (r *request) bool(name string) (bool, error) {
	s, err := r.param(name)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, errorf(InvalidValue, "%s: %s=%q is not true or false", r.member, name, s)
}

func (r *request) int(name string) (int, error) {
	s, err := r.param(name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errorf(InvalidValue, "%s: %s=%q is not an integer", r.member, name, s)
	}
	return v, nil
}

// switchID reads the Id parameter of Switch members.
func (r *request) switchID() (int, error) {
	id, err := r.int("Id")
	if err != nil {
		return 0, err
	}
	if id < 0 || id >= dio.Relays {
		return 0, errorf(InvalidValue, "%s: Id %d out of range [0, %d]", r.member, id, dio.Relays-1)
	}
	return id, nil
}
