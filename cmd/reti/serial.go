package main

import (
	"io"

	serial "github.com/daedaluz/goserial"
)

// openSerial opens a host serial device for the UART passthrough described
// in SPEC_FULL.md §4.4.
func openSerial(name string) (io.ReadWriter, error) {
	return serial.Open(name, nil)
}
