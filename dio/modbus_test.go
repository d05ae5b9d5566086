package dio

import (
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient answers the reads the board poller makes. Any other call panics
// through the nil embedded interface.
type fakeClient struct {
	modbus.Client
	inputs []byte
	regs   []byte
}

func (f *fakeClient) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	return f.inputs, nil
}

func (f *fakeClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return f.regs, nil
}

func TestModbusBoardPoll(t *testing.T) {
	now := time.Unix(1000, 0)
	b := &ModbusBoard{now: func() time.Time { return now }}

	_, err := b.ReadCounter(Encoder)
	assert.ErrorIs(t, err, ErrStale)

	require.NoError(t, b.pollOnce(&fakeClient{
		inputs: []byte{0x01},
		regs:   []byte{0x00, 0x01, 0x00, 0x10},
	}))

	n, err := b.ReadCounter(Encoder)
	require.NoError(t, err)
	assert.Equal(t, 0x10010, n)

	home, err := b.ReadDigitalChannel(HomeSwitch)
	require.NoError(t, err)
	assert.True(t, home)

	now = now.Add(2 * time.Second)
	_, err = b.ReadDigitalChannel(HomeSwitch)
	assert.ErrorIs(t, err, ErrStale)
}

func TestModbusBoardShortRead(t *testing.T) {
	b := &ModbusBoard{now: time.Now}
	err := b.pollOnce(&fakeClient{inputs: []byte{0}, regs: []byte{0, 1}})
	assert.Error(t, err)
}
