package serial

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/bigbag/blisp-flasher/internal/isp"
	"github.com/bigbag/blisp-flasher/internal/protocol"
)

// USB IDs the BL ROM enumerates with in USB ISP mode.
const (
	ISPVendorID  = "FFFF"
	ISPProductID = "FFFF"
)

// pollInterval bounds a single blocking read so deadlines are honoured.
const pollInterval = 50 * time.Millisecond

// Port wraps a serial port as an isp.Transport.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
	usb      bool
}

var _ isp.Transport = (*Port)(nil)

// PortInfo describes an enumerated serial port.
type PortInfo struct {
	Name  string
	IsUSB bool
	VID   string
	PID   string
}

// IsISP reports whether the port is a BL chip in USB ISP mode.
func (p PortInfo) IsISP() bool {
	return p.IsUSB && strings.EqualFold(p.VID, ISPVendorID) && strings.EqualFold(p.PID, ISPProductID)
}

// Open opens portName at baudRate, 8N1 without flow control. An empty
// portName picks the first USB ISP port when usbDiscovery is allowed.
func Open(portName string, baudRate int, usbDiscovery bool) (*Port, error) {
	usb := false
	if portName == "" {
		if !usbDiscovery {
			return nil, protocol.NewError(protocol.KindDeviceNotFound, "open",
				fmt.Errorf("no port given and chip has no USB ISP"))
		}
		info, err := FindISPPort()
		if err != nil {
			return nil, err
		}
		portName = info.Name
		usb = true
	} else {
		usb = isUSBCDC(portName)
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, protocol.NewError(protocol.KindCantOpenDevice, "open",
			fmt.Errorf("failed to open port %s: %w", portName, err))
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
		usb:      usb,
	}, nil
}

// isUSBCDC reports whether portName enumerates with the ISP product ID.
func isUSBCDC(portName string) bool {
	ports, err := ListPorts()
	if err != nil {
		return false
	}
	for _, p := range ports {
		if p.Name == portName {
			return p.IsUSB && strings.EqualFold(p.PID, ISPProductID)
		}
	}
	return false
}

// FindISPPort returns the first port with the BL USB ISP IDs.
func FindISPPort() (PortInfo, error) {
	ports, err := ListPorts()
	if err != nil {
		return PortInfo{}, protocol.NewError(protocol.KindDeviceNotFound, "find port", err)
	}
	for _, p := range ports {
		if p.IsISP() {
			return p, nil
		}
	}
	return PortInfo{}, protocol.NewError(protocol.KindDeviceNotFound, "find port",
		fmt.Errorf("no port with VID:PID %s:%s", ISPVendorID, ISPProductID))
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read fills buf or stops at timeout. Zero timeout blocks until full.
func (p *Port) Read(buf []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	total := 0
	for total < len(buf) {
		wait := pollInterval
		if timeout > 0 {
			left := time.Until(deadline)
			if left <= 0 {
				break
			}
			wait = min(wait, left)
		}
		if err := p.port.SetReadTimeout(wait); err != nil {
			return total, err
		}
		n, err := p.port.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Flush discards any buffered input.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// Drain waits until all written data has been transmitted.
func (p *Port) Drain() error {
	return p.port.Drain()
}

// SetResetLines drives RTS and DTR.
func (p *Port) SetResetLines(rts, dtr bool) error {
	if err := p.port.SetRTS(rts); err != nil {
		return err
	}
	return p.port.SetDTR(dtr)
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// IsUSB reports whether the port is the chip's USB-CDC ISP interface.
func (p *Port) IsUSB() bool {
	return p.usb
}

// ListPorts returns the available serial ports with their USB IDs.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:  d.Name,
			IsUSB: d.IsUSB,
			VID:   d.VID,
			PID:   d.PID,
		})
	}
	return ports, nil
}
