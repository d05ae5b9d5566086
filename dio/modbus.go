package dio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	mb "github.com/w1xm/dome_interface/internal/modbus"
)

const (
	modbusInputs   = 8
	modbusCounters = 1
	// maxStaleness is how old the cached inputs may be before reads fail.
	maxStaleness = 1 * time.Second
)

// ErrStale is returned when the board has not been polled recently.
var ErrStale = errors.New("dio: board inputs are stale")

// ModbusBoard drives a relay/counter board over Modbus.
//
// Coils 0-7 are the outputs, discrete input 0 is the home switch, counter n
// is held in input registers 2n (high word) and 2n+1 (low word), and writing 1
// to holding register n resets counter n.
//
// Inputs and counters are polled continuously so that reads never wait on
// the bus.
type ModbusBoard struct {
	client *mb.Client

	mu       sync.Mutex
	inputs   []bool
	counters [modbusCounters]int
	polled   time.Time
	now      func() time.Time
}

func ConnectModbus(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*ModbusBoard, error) {
	b := &ModbusBoard{now: time.Now}
	b.client = &mb.Client{
		Port:     cfg.Port,
		BaudRate: cfg.Baud,
		Address:  cfg.Address,
		URL:      cfg.URL,
		Password: cfg.Password,
		SlaveId:  cfg.SlaveID,
		Timeout:  cfg.Timeout,
		Poll:     b.pollOnce,
		Logger:   logger,
	}
	return b, b.client.Connect(ctx)
}

func (b *ModbusBoard) pollOnce(client modbus.Client) error {
	inputs, err := client.ReadDiscreteInputs(0, modbusInputs)
	if err != nil {
		return err
	}
	regs, err := client.ReadInputRegisters(0, 2*modbusCounters)
	if err != nil {
		return err
	}
	if len(regs) < 4*modbusCounters {
		return fmt.Errorf("dio: short counter read (%d bytes)", len(regs))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputs = mb.BytesToBits(inputs)
	for i := range b.counters {
		b.counters[i] = int(binary.BigEndian.Uint32(regs[4*i:]))
	}
	b.polled = b.now()
	return nil
}

func (b *ModbusBoard) fresh() error {
	if b.now().Sub(b.polled) > maxStaleness {
		return ErrStale
	}
	return nil
}

func (b *ModbusBoard) write(n int, value bool) error {
	if err := checkOutput(n); err != nil {
		return err
	}
	return b.client.Do(func(client modbus.Client) error {
		return mb.WriteCoil(client, n, value)
	})
}

func (b *ModbusBoard) SetDigitalChannel(n int) error {
	return b.write(n, true)
}

func (b *ModbusBoard) ClearDigitalChannel(n int) error {
	return b.write(n, false)
}

func (b *ModbusBoard) ClearAllDigital() error {
	return b.client.Do(func(client modbus.Client) error {
		_, err := client.WriteMultipleCoils(0, Outputs, make([]byte, (Outputs+7)/8))
		return err
	})
}

func (b *ModbusBoard) ReadDigitalChannel(n int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fresh(); err != nil {
		return false, err
	}
	if n < 0 || n >= len(b.inputs) {
		return false, fmt.Errorf("dio: input channel %d out of range", n)
	}
	return b.inputs[n], nil
}

func (b *ModbusBoard) ReadCounter(id int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fresh(); err != nil {
		return 0, err
	}
	if id < 0 || id >= len(b.counters) {
		return 0, fmt.Errorf("dio: counter %d out of range", id)
	}
	return b.counters[id], nil
}

func (b *ModbusBoard) ResetCounter(id int) error {
	if id < 0 || id >= modbusCounters {
		return fmt.Errorf("dio: counter %d out of range", id)
	}
	err := b.client.Do(func(client modbus.Client) error {
		_, err := client.WriteSingleRegister(uint16(id), 1)
		return err
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.counters[id] = 0
	b.mu.Unlock()
	return nil
}
