package alpaca

import (
	"fmt"
	"net/http"
)

// ServerDescription answers /management/v1/description.
type ServerDescription struct {
	ServerName          string
	Manufacturer        string
	ManufacturerVersion string
	Location            string
}

// DeviceInfo is one entry of /management/v1/configureddevices.
type DeviceInfo struct {
	DeviceName   string
	DeviceType   string
	DeviceNumber int
	UniqueID     string
}

func (s *Server) managementHandler(f func() interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := readParams(r)
		if err != nil {
			http.Error(w, fmt.Sprintf("reading parameters: %v", err), http.StatusBadRequest)
			return
		}
		s.reply(w, parseUint32(params["clientid"]), parseUint32(params["clienttransactionid"]), f(), nil)
	}
}

func (s *Server) apiVersions() interface{} {
	return []int{1}
}

func (s *Server) description() interface{} {
	return ServerDescription{
		ServerName:          s.cfg.Name,
		Manufacturer:        "W1XM",
		ManufacturerVersion: s.cfg.Version,
		Location:            s.cfg.Location,
	}
}

func (s *Server) configuredDevices() interface{} {
	var devices []DeviceInfo
	for _, d := range deviceTypes {
		devices = append(devices, DeviceInfo{
			DeviceName:   fmt.Sprintf("%s %v", s.cfg.Name, d),
			DeviceType:   d.String(),
			DeviceNumber: 0,
			UniqueID:     fmt.Sprintf("w1xm-dome-%s-0", d),
		})
	}
	return devices
}
