package i2c

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	TransportDevfs  = "devfs"
	TransportPeriph = "periph"
)

const (
	i2c_SLAVE = 0x0703
)

// Conn represents an active connection to an I2C device.
type Conn interface {
	// Tx first writes w (if not nil), then reads len(r)
	// bytes from device into r (if not nil) in a single
	// I2C transaction.
	Tx(w, r []byte) error

	// Close closes the connection.
	Close() error
}

// Open connects to addr on /dev/i2c-<bus> using the named transport.
func Open(transport string, bus int, addr uint16) (Conn, error) {
	switch transport {
	case TransportDevfs, "":
		return OpenDevfs(bus, addr)
	case TransportPeriph:
		return OpenPeriph(bus, addr)
	default:
		return nil, fmt.Errorf("unknown i2c transport %q", transport)
	}
}

// devfsConn talks to the device node directly after selecting the slave
// address with ioctl.
type devfsConn struct {
	f *os.File
}

func OpenDevfs(bus int, addr uint16) (Conn, error) {
	dev := fmt.Sprintf("/dev/i2c-%d", bus)
	f, err := os.OpenFile(dev, os.O_RDWR, os.ModeDevice)
	if err != nil {
		return nil, err
	}

	if err := unix.IoctlSetInt(int(f.Fd()), i2c_SLAVE, int(addr)); err != nil {
		f.Close()
		return nil, fmt.Errorf("error opening the address (%v) on the bus (%v): %w", addr, dev, err)
	}
	return &devfsConn{f: f}, nil
}

func (c *devfsConn) Tx(w, r []byte) error {
	if w != nil {
		if _, err := c.f.Write(w); err != nil {
			return err
		}
	}
	if r != nil {
		if _, err := io.ReadFull(c.f, r); err != nil {
			return err
		}
	}
	return nil
}

func (c *devfsConn) Close() error {
	return c.f.Close()
}

var hostInitOnce sync.Once
var hostInitErr error

// periphConn goes through the periph.io host drivers.
type periphConn struct {
	mu  sync.Mutex
	bus i2c.BusCloser
	dev *i2c.Dev
}

func OpenPeriph(bus int, addr uint16) (Conn, error) {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	if hostInitErr != nil {
		return nil, hostInitErr
	}

	b, err := i2creg.Open(fmt.Sprintf("/dev/i2c-%d", bus))
	if err != nil {
		return nil, err
	}
	return &periphConn{bus: b, dev: &i2c.Dev{Addr: addr, Bus: b}}, nil
}

func (c *periphConn) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev.Tx(w, r)
}

func (c *periphConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bus.Close()
}

// ReadReg reads len(buf) bytes starting at register reg.
func ReadReg(c Conn, reg byte, buf []byte) error {
	return c.Tx([]byte{reg}, buf)
}
