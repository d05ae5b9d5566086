// Package modbus keeps a goburrow/modbus connection to a digital I/O board open
// and runs a poll function against it while connected.
package modbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/w1xm/dome_interface/internal/modbushttp"
)

// ErrNotConnected is returned by calls made while the board link is down.
var ErrNotConnected = errors.New("modbus: not connected")

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type Client struct {
	// Port and BaudRate create a local serial connection
	Port string
	// BaudRate defaults to 19200
	BaudRate int
	// Address creates a Modbus TCP connection
	Address string
	// URL creates a connection through cmd/modbus_server
	URL      string
	Password string
	SlaveId  byte
	Timeout  time.Duration

	// Poll is called every PollInterval while the connection is up. An error
	// drops the connection and starts a reconnect.
	Poll         func(modbus.Client) error
	PollInterval time.Duration

	Logger *zap.SugaredLogger

	handler modbusHandler

	mu        sync.Mutex
	client    modbus.Client
	connected bool
}

func (c *Client) name() string {
	switch {
	case c.URL != "":
		return c.URL
	case c.Address != "":
		return c.Address
	}
	return c.Port
}

// Connect builds the transport and starts the reconnect loop. It returns
// immediately; calls fail with ErrNotConnected until the link is up.
func (c *Client) Connect(ctx context.Context) error {
	if c.Timeout == 0 {
		c.Timeout = time.Second
	}
	if c.BaudRate == 0 {
		c.BaudRate = 19200
	}
	if c.PollInterval == 0 {
		c.PollInterval = 20 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	switch {
	case c.URL != "":
		c.handler = modbushttp.NewClient(c.URL, c.Password, c.SlaveId, c.Timeout)
	case c.Address != "":
		handler := modbus.NewTCPClientHandler(c.Address)
		handler.Timeout = c.Timeout
		handler.SlaveId = c.SlaveId
		c.handler = handler
	case c.Port != "":
		handler := modbus.NewRTUClientHandler(c.Port)
		handler.BaudRate = c.BaudRate
		handler.DataBits = 8
		handler.Parity = "N"
		handler.StopBits = 1
		handler.Timeout = c.Timeout
		handler.SlaveId = c.SlaveId
		c.handler = handler
	default:
		return errors.New("modbus: no port, address or url configured")
	}
	c.client = modbus.NewClient(c.handler)
	go c.reconnectLoop(ctx)
	return nil
}

func (c *Client) reconnectLoop(ctx context.Context) {
	port := c.name()
	for {
		if err := c.handler.Connect(); err != nil {
			c.Logger.Warnf("opening %q: %v", port, err)
		} else {
			c.Logger.Infof("opened %q", port)
			c.setConnected(true)
			if err := c.watch(ctx); err != nil && ctx.Err() == nil {
				c.Logger.Warnf("watching %q: %v", port, err)
			}
			c.setConnected(false)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) watch(ctx context.Context) error {
	defer c.handler.Close()
	t := time.NewTicker(c.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if c.Poll == nil {
			continue
		}
		if err := c.Do(c.Poll); err != nil {
			return err
		}
	}
}

// Do runs f with exclusive use of the connection.
func (c *Client) Do(f func(modbus.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	return f(c.client)
}

// WriteCoil sets a single coil on or off.
func WriteCoil(client modbus.Client, coil int, value bool) error {
	var v uint16
	if value {
		v = 0xFF00
	}
	_, err := client.WriteSingleCoil(uint16(coil), v)
	return err
}

func BytesToBits(bs []byte) []bool {
	var out []bool
	for _, b := range bs {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i)&1) == 1)
		}
	}
	return out
}
