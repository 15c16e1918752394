package crazyusb

import (
	"context"
	"errors"
	"time"

	"github.com/google/gousb"
)

// Crazyflie 2.x USB identity
const (
	crazyflieVendor  gousb.ID = 0x0483
	crazyflieProduct gousb.ID = 0x5740
)

const readTimeout = 20 * time.Millisecond

// usbDevice wraps the raw libusb handles for one Crazyflie on USB. CRTP
// over USB is a vendor protocol on interface 0: one bulk OUT endpoint, one
// bulk IN endpoint, and a vendor control request that switches the
// firmware's USB stack into CRTP mode.
type usbDevice struct {
	context *gousb.Context
	device  *gousb.Device
	intf    *gousb.Interface
	done    func()
	dataOut *gousb.OutEndpoint
	dataIn  *gousb.InEndpoint
}

func isCrazyflie(desc *gousb.DeviceDesc) bool {
	return desc.Vendor == crazyflieVendor && desc.Product == crazyflieProduct
}

// CountConnectedCrazyflies reports how many Crazyflies are on the bus
// without opening any of them.
func CountConnectedCrazyflies() int {
	ctx := gousb.NewContext()
	defer ctx.Close()

	count := 0
	devs, _ := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if isCrazyflie(desc) {
			count++
		}
		return false
	})
	for _, dev := range devs {
		dev.Close()
	}
	return count
}

// WaitForCrazyflie blocks until at least one Crazyflie appears on the bus.
func WaitForCrazyflie() {
	for CountConnectedCrazyflies() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
}

// WaitForCrazyflieDisconnect blocks until the bus is free of Crazyflies,
// used after a reboot command to wait out the re-enumeration.
func WaitForCrazyflieDisconnect() {
	for CountConnectedCrazyflies() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
}

func openUsbDevice() (*usbDevice, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(isCrazyflie)
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, err
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, ErrorDeviceNotFound
	}
	if len(devs) > 1 {
		for _, dev := range devs {
			dev.Close()
		}
		ctx.Close()
		return nil, ErrorMultipleDevicesFound
	}
	dev := devs[0]

	closeAll := func() {
		dev.Close()
		ctx.Close()
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		closeAll()
		return nil, err
	}
	dataOut, err := intf.OutEndpoint(1)
	if err != nil {
		done()
		closeAll()
		return nil, err
	}
	dataIn, err := intf.InEndpoint(1)
	if err != nil {
		done()
		closeAll()
		return nil, err
	}

	u := &usbDevice{
		context: ctx,
		device:  dev,
		intf:    intf,
		done:    done,
		dataOut: dataOut,
		dataIn:  dataIn,
	}

	// a disable first flushes anything a crashed client left in CRTP mode
	if err := u.disableCRTP(); err != nil {
		u.Close()
		return nil, err
	}
	if err := u.enableCRTP(); err != nil {
		u.Close()
		return nil, err
	}
	return u, nil
}

func (u *usbDevice) enableCRTP() error {
	_, err := u.device.Control(gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice, 0x01, 0x01, 1, nil)
	return err
}

func (u *usbDevice) disableCRTP() error {
	_, err := u.device.Control(gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice, 0x01, 0x01, 0, nil)
	return err
}

func (u *usbDevice) Close() {
	u.disableCRTP()
	u.done()
	u.device.Close()
	u.context.Close()
}

func (u *usbDevice) SendPacket(data []byte) error {
	n, err := u.dataOut.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return ErrorWriteLength
	}
	return nil
}

// ReadResponse returns the next inbound frame, or (nil, nil) when the
// firmware had nothing to send within the poll window.
func (u *usbDevice) ReadResponse() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	resp := make([]byte, 40)
	n, err := u.dataIn.ReadContext(ctx, resp)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gousb.TransferTimedOut) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp[:n], nil
}
