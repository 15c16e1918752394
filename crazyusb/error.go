package crazyusb

import "fmt"

type crazyusbError uint8

func (e crazyusbError) Error() string {
	return fmt.Sprintf("crazyusb: %s", crazyusbErrorString[e])
}

const (
	ErrorDeviceNotFound crazyusbError = iota
	ErrorMultipleDevicesFound
	ErrorWriteLength
	ErrorLinkClosed
)

var crazyusbErrorString = map[crazyusbError]string{
	ErrorDeviceNotFound:       "no Crazyflie on USB",
	ErrorMultipleDevicesFound: "more than one Crazyflie on USB, select by serial",
	ErrorWriteLength:          "short USB write",
	ErrorLinkClosed:           "link closed",
}
