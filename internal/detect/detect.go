package detect

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bigbag/blisp-flasher/internal/chip"
	"github.com/bigbag/blisp-flasher/internal/isp"
	"github.com/bigbag/blisp-flasher/internal/serial"
)

// Result represents a detected BL device.
type Result struct {
	Port       string
	Chip       chip.Family
	RomVersion string
	ChipID     string
	InLoader   bool
}

// Opener opens the transport for a port name; serial.Open in production.
type Opener func(portName string, baudRate int, usbDiscovery bool) (isp.Transport, bool, error)

// SerialOpener opens real serial ports.
func SerialOpener(portName string, baudRate int, usbDiscovery bool) (isp.Transport, bool, error) {
	port, err := serial.Open(portName, baudRate, usbDiscovery)
	if err != nil {
		return nil, false, err
	}
	return port, port.IsUSB(), nil
}

// Detector handshakes with a port and reads the chip identity.
type Detector struct {
	Profile  chip.Profile
	BaudRate int
	Open     Opener
	Logger   *logrus.Logger
}

// New creates a Detector for the given chip using real serial ports.
func New(profile chip.Profile, baudRate int) *Detector {
	return &Detector{
		Profile:  profile,
		BaudRate: baudRate,
		Open:     SerialOpener,
		Logger:   logrus.StandardLogger(),
	}
}

// DetectOnPort identifies the device on portName. An empty name uses USB
// discovery when the chip supports it.
func (d *Detector) DetectOnPort(portName string) (*Result, error) {
	port, usb, err := d.Open(portName, d.BaudRate, d.Profile.USBDiscovery)
	if err != nil {
		return nil, err
	}

	sess := isp.NewSession(port, d.Profile,
		isp.WithBaudRate(d.BaudRate),
		isp.WithUSB(usb),
		isp.WithLogger(d.Logger))
	defer sess.Close()

	if err := sess.Handshake(false); err != nil {
		return nil, fmt.Errorf("failed to handshake: %w", err)
	}

	info, err := sess.GetBootInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get boot info: %w", err)
	}

	name := portName
	if p, ok := port.(*serial.Port); ok {
		name = p.PortName()
	}
	return &Result{
		Port:       name,
		Chip:       d.Profile.Family,
		RomVersion: info.RomVersionString(),
		ChipID:     info.ChipIDString(),
		InLoader:   info.InLoader(),
	}, nil
}

// ListDevices returns every serial port, USB ISP ports first.
func ListDevices() ([]serial.PortInfo, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	out := make([]serial.PortInfo, 0, len(ports))
	for _, p := range ports {
		if p.IsISP() {
			out = append(out, p)
		}
	}
	for _, p := range ports {
		if !p.IsISP() {
			out = append(out, p)
		}
	}
	return out, nil
}
