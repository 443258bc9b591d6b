package tonerchip

import (
	"fmt"
)

var ErrNoResponse = fmt.Errorf("no response from device")
var ErrWriteNotReady = fmt.Errorf("device write cycle not completed")
var ErrResolution = fmt.Errorf("timer resolution too low for bus timing")
var ErrAddressRange = fmt.Errorf("memory offset out of range")

// LineDriver gives access to the two bus output lines (clock, data) and the
// input line the device pulls low to acknowledge.
//
// SetLines must reach the pins before it returns. Implementations writing the
// lines one by one lower the clock before touching data and set data before
// raising the clock.
type LineDriver interface {
	SetLines(clock, data bool)
	AckLine() bool
	// Err returns the first hardware error seen by SetLines or AckLine.
	Err() error
}

// PortBinder selects the register block backing the logical lines.
type PortBinder interface {
	Bind(base uint16) error
}

// PartialTransferError reports a multi-byte transfer that stopped early.
// Transfers are not atomic: bytes before Transferred may already be on the device.
type PartialTransferError struct {
	Op          string
	Offset      uint16
	Requested   int
	Transferred int
}

func (e *PartialTransferError) Error() string {
	return fmt.Sprintf("%s at 0x%03X: transferred %d of %d bytes", e.Op, e.Offset, e.Transferred, e.Requested)
}
