package alpaca

import (
	"fmt"
	"net/http"
	"strings"
)

// DeviceType is an Alpaca device type served here.
type DeviceType int

const (
	DomeDevice DeviceType = iota
	SwitchDevice
)

var deviceTypes = []DeviceType{DomeDevice, SwitchDevice}

func (d DeviceType) String() string {
	switch d {
	case DomeDevice:
		return "Dome"
	case SwitchDevice:
		return "Switch"
	}
	return "Unknown"
}

// ParseDeviceType accepts a device type name in any case.
func ParseDeviceType(s string) (DeviceType, bool) {
	for _, d := range deviceTypes {
		if strings.EqualFold(s, d.String()) {
			return d, true
		}
	}
	return 0, false
}

// Member is an Alpaca device property or method.
type Member int

const (
	MemberUnknown Member = iota

	MemberAction
	MemberCommandBlind
	MemberCommandBool
	MemberCommandString
	MemberConnected
	MemberConnecting
	MemberConnect
	MemberDisconnect
	MemberDescription
	MemberDriverInfo
	MemberDriverVersion
	MemberInterfaceVersion
	MemberName
	MemberSupportedActions
	MemberDeviceState

	MemberAltitude
	MemberAtHome
	MemberAtPark
	MemberAzimuth
	MemberCanFindHome
	MemberCanPark
	MemberCanSetAltitude
	MemberCanSetAzimuth
	MemberCanSetPark
	MemberCanSetShutter
	MemberCanSlave
	MemberCanSyncAzimuth
	MemberShutterStatus
	MemberSlaved
	MemberSlewing
	MemberAbortSlew
	MemberCloseShutter
	MemberFindHome
	MemberOpenShutter
	MemberPark
	MemberSetPark
	MemberSlewToAltitude
	MemberSlewToAzimuth
	MemberSyncToAzimuth

	MemberMaxSwitch
	MemberCanWrite
	MemberGetSwitch
	MemberGetSwitchDescription
	MemberGetSwitchName
	MemberGetSwitchValue
	MemberMinSwitchValue
	MemberMaxSwitchValue
	MemberSwitchStep
	MemberSetSwitch
	MemberSetSwitchName
	MemberSetSwitchValue

	numMembers
)

// memberNames are the lower case names used in URLs.
var memberNames = [numMembers]string{
	MemberUnknown: "",

	MemberAction:           "action",
	MemberCommandBlind:     "commandblind",
	MemberCommandBool:      "commandbool",
	MemberCommandString:    "commandstring",
	MemberConnected:        "connected",
	MemberConnecting:       "connecting",
	MemberConnect:          "connect",
	MemberDisconnect:       "disconnect",
	MemberDescription:      "description",
	MemberDriverInfo:       "driverinfo",
	MemberDriverVersion:    "driverversion",
	MemberInterfaceVersion: "interfaceversion",
	MemberName:             "name",
	MemberSupportedActions: "supportedactions",
	MemberDeviceState:      "devicestate",

	MemberAltitude:       "altitude",
	MemberAtHome:         "athome",
	MemberAtPark:         "atpark",
	MemberAzimuth:        "azimuth",
	MemberCanFindHome:    "canfindhome",
	MemberCanPark:        "canpark",
	MemberCanSetAltitude: "cansetaltitude",
	MemberCanSetAzimuth:  "cansetazimuth",
	MemberCanSetPark:     "cansetpark",
	MemberCanSetShutter:  "cansetshutter",
	MemberCanSlave:       "canslave",
	MemberCanSyncAzimuth: "cansyncazimuth",
	MemberShutterStatus:  "shutterstatus",
	MemberSlaved:         "slaved",
	MemberSlewing:        "slewing",
	MemberAbortSlew:      "abortslew",
	MemberCloseShutter:   "closeshutter",
	MemberFindHome:       "findhome",
	MemberOpenShutter:    "openshutter",
	MemberPark:           "park",
	MemberSetPark:        "setpark",
	MemberSlewToAltitude: "slewtoaltitude",
	MemberSlewToAzimuth:  "slewtoazimuth",
	MemberSyncToAzimuth:  "synctoazimuth",

	MemberMaxSwitch:            "maxswitch",
	MemberCanWrite:             "canwrite",
	MemberGetSwitch:            "getswitch",
	MemberGetSwitchDescription: "getswitchdescription",
	MemberGetSwitchName:        "getswitchname",
	MemberGetSwitchValue:       "getswitchvalue",
	MemberMinSwitchValue:       "minswitchvalue",
	MemberMaxSwitchValue:       "maxswitchvalue",
	MemberSwitchStep:           "switchstep",
	MemberSetSwitch:            "setswitch",
	MemberSetSwitchName:        "setswitchname",
	MemberSetSwitchValue:       "setswitchvalue",
}

var membersByName = func() map[string]Member {
	m := make(map[string]Member, numMembers)
	for i, name := range memberNames {
		if name != "" {
			m[name] = Member(i)
		}
	}
	return m
}()

func (m Member) String() string {
	if m <= MemberUnknown || m >= numMembers {
		return fmt.Sprintf("Member(%d)", int(m))
	}
	return memberNames[m]
}

// ParseMember accepts a member name in any case.
func ParseMember(s string) (Member, bool) {
	m, ok := membersByName[strings.ToLower(s)]
	return m, ok
}

var commonRequired = map[string][]Member{
	http.MethodGet: {
		MemberConnected, MemberConnecting, MemberDescription, MemberDriverInfo,
		MemberDriverVersion, MemberInterfaceVersion, MemberName,
		MemberSupportedActions, MemberDeviceState,
	},
	http.MethodPut: {
		MemberAction, MemberCommandBlind, MemberCommandBool, MemberCommandString,
		MemberConnected, MemberConnect, MemberDisconnect,
	},
}

// required lists the members each device must serve, besides commonRequired.
var required = map[DeviceType]map[string][]Member{
	DomeDevice: {
		http.MethodGet: {
			MemberAltitude, MemberAtHome, MemberAtPark, MemberAzimuth,
			MemberCanFindHome, MemberCanPark, MemberCanSetAltitude,
			MemberCanSetAzimuth, MemberCanSetPark, MemberCanSetShutter,
			MemberCanSlave, MemberCanSyncAzimuth, MemberShutterStatus,
			MemberSlaved, MemberSlewing,
		},
		http.MethodPut: {
			MemberAbortSlew, MemberCloseShutter, MemberFindHome,
			MemberOpenShutter, MemberPark, MemberSetPark, MemberSlaved,
			MemberSlewToAltitude, MemberSlewToAzimuth, MemberSyncToAzimuth,
		},
	},
	SwitchDevice: {
		http.MethodGet: {
			MemberMaxSwitch, MemberCanWrite, MemberGetSwitch,
			MemberGetSwitchDescription, MemberGetSwitchName,
			MemberGetSwitchValue, MemberMinSwitchValue, MemberMaxSwitchValue,
			MemberSwitchStep,
		},
		http.MethodPut: {
			MemberSetSwitch, MemberSetSwitchName, MemberSetSwitchValue,
		},
	},
}

// route identifies a handler.
type route struct {
	device DeviceType
	method string
	member Member
}

// checkTable reports the first required member without a handler.
func checkTable(table map[route]handler) error {
	for _, dev := range deviceTypes {
		for _, lists := range []map[string][]Member{commonRequired, required[dev]} {
			for method, members := range lists {
				for _, m := range members {
					if table[route{dev, method, m}] == nil {
						return fmt.Errorf("alpaca: no handler for %s %v %v", method, dev, m)
					}
				}
			}
		}
	}
	return nil
}
