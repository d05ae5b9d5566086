package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"

	"go.uber.org/zap"
)

// DiscoveryPort is the standard Alpaca discovery port.
const DiscoveryPort = 32227

var discoveryMessage = []byte("alpacadiscovery1")

// ServeDiscovery answers Alpaca discovery broadcasts on pc with the HTTP port
// of the API, until ctx is done. It closes pc.
func ServeDiscovery(ctx context.Context, pc net.PacketConn, port int, logger *zap.SugaredLogger) error {
	reply, err := json.Marshal(struct{ AlpacaPort int }{port})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		pc.Close()
	}()
	buf := make([]byte, 1024)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !bytes.HasPrefix(buf[:n], discoveryMessage) {
			continue
		}
		logger.Debugf("discovery request from %v", addr)
		if _, err := pc.WriteTo(reply, addr); err != nil {
			logger.Warnf("answering discovery from %v: %v", addr, err)
		}
	}
}
