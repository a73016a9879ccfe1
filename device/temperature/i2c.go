package temperature

import (
	"fmt"

	"thermal_governor/device/i2c"
)

const (
	ADDR_TEMP_SENSOR = 0x48
	REG_TEMP         = 0x00
)

// I2CSensor reads a TMP75-style sensor: register 0 holds the whole degrees
// as a signed byte followed by the fraction in 1/256 steps.
type I2CSensor struct {
	conn i2c.Conn
	bus  int
	addr uint16
}

func NewI2CSensor(conn i2c.Conn, bus int, addr uint16) *I2CSensor {
	return &I2CSensor{conn: conn, bus: bus, addr: addr}
}

func OpenI2CSensor(transport string, bus int, addr uint16) (*I2CSensor, error) {
	if addr == 0 {
		addr = ADDR_TEMP_SENSOR
	}
	conn, err := i2c.Open(transport, bus, addr)
	if err != nil {
		return nil, err
	}
	return NewI2CSensor(conn, bus, addr), nil
}

func (my *I2CSensor) Name() string {
	return fmt.Sprintf("i2c-%d@0x%02x", my.bus, my.addr)
}

// Read drops the fractional byte; the sign lives in the first byte so the
// whole part is already the floor of the reading.
func (my *I2CSensor) Read() (int64, error) {
	var temp [2]byte
	if err := i2c.ReadReg(my.conn, REG_TEMP, temp[:]); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrSensorRead, my.Name(), err)
	}
	return int64(int8(temp[0])), nil
}

func (my *I2CSensor) Close() error {
	return my.conn.Close()
}
