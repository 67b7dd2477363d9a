package serial

import "testing"

func TestPortInfo_IsISP(t *testing.T) {
	tests := []struct {
		info     PortInfo
		expected bool
	}{
		{PortInfo{Name: "/dev/ttyACM0", IsUSB: true, VID: "FFFF", PID: "FFFF"}, true},
		{PortInfo{Name: "/dev/ttyACM0", IsUSB: true, VID: "ffff", PID: "ffff"}, true},
		{PortInfo{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1A86", PID: "7523"}, false},
		{PortInfo{Name: "/dev/ttyACM1", IsUSB: true, VID: "FFFF", PID: "0001"}, false},
		{PortInfo{Name: "/dev/ttyS0", IsUSB: false}, false},
	}

	for _, tc := range tests {
		if got := tc.info.IsISP(); got != tc.expected {
			t.Errorf("IsISP(%+v) = %v, want %v", tc.info, got, tc.expected)
		}
	}
}
