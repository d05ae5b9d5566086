package main

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/w1xm/dome_interface/dome"
)

func TestFlattenStatus(t *testing.T) {
	st := dome.Status{Connected: true, Azimuth: 12.5, Target: -1, MovStat: dome.Aiming}
	st.Switches[2] = true
	data, err := json.Marshal(st)
	require.NoError(t, err)
	var status interface{}
	require.NoError(t, json.Unmarshal(data, &status))

	fields := make(map[string]interface{})
	flattenStatus(fields, status, "")

	want := map[string]interface{}{
		"Connected":  true,
		"Closed":     false,
		"Azimuth":    12.5,
		"Target":     -1.0,
		"MovStat":    "AIMING",
		"Direct":     "IDLE",
		"Slaved":     false,
		"Homing":     false,
		"AtHome":     false,
		"AtPark":     false,
		"ParkAz":     0.0,
		"Shutter":    "OPEN",
		"Switches.0": false,
		"Switches.1": false,
		"Switches.2": true,
		"Switches.3": false,
		"Fault":      "",
	}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("fields (-want +got):\n%s", diff)
	}
}
