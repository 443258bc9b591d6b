//go:build linux

package adapter

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const devPortPath = "/dev/port"

// DevPort accesses I/O ports through /dev/port. It needs CAP_SYS_RAWIO.
type DevPort struct {
	fd int
}

func OpenDevPort() (*DevPort, error) {
	fd, err := unix.Open(devPortPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", devPortPath, err)
	}
	return &DevPort{fd: fd}, nil
}

func (d *DevPort) Out(addr uint16, value byte) error {
	n, err := unix.Pwrite(d.fd, []byte{value}, int64(addr))
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("short port write at 0x%03x", addr)
	}
	return nil
}

func (d *DevPort) In(addr uint16) (byte, error) {
	buf := []byte{0}
	n, err := unix.Pread(d.fd, buf, int64(addr))
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, fmt.Errorf("short port read at 0x%03x", addr)
	}
	return buf[0], nil
}

func (d *DevPort) Close() error {
	return unix.Close(d.fd)
}
