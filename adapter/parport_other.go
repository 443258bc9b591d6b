//go:build !linux

package adapter

type DevPort struct{}

func OpenDevPort() (*DevPort, error) {
	return nil, ErrUnsupportedPlatform
}

func (d *DevPort) Out(uint16, byte) error {
	return ErrUnsupportedPlatform
}

func (d *DevPort) In(uint16) (byte, error) {
	return 0, ErrUnsupportedPlatform
}

func (d *DevPort) Close() error {
	return nil
}
