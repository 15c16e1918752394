package crazyflie

import (
	"encoding/binary"
	"math"

	"github.com/bitcraze/crazyflie-go/crtp"
)

const (
	setpointChannel     crtp.Channel = 0
	setpointMetaChannel crtp.Channel = 1

	setpointTypeStop          byte = 0
	setpointTypePosition      byte = 7
	setpointTypeVelocityWorld byte = 8
	setpointTypeZDistance     byte = 9
	setpointTypeHover         byte = 10

	cmdNotifySetpointStop byte = 0
)

// Commander sends flight setpoints. Setpoints are fire-and-forget: the
// firmware never acknowledges them, it simply times out into a safe stop
// when they cease, so every method here returns as soon as the packet is
// queued.
type Commander struct {
	d *dispatcher
}

func newCommander(d *dispatcher) *Commander {
	return &Commander{d: d}
}

// SendSetpoint sends a legacy roll/pitch/yaw/thrust setpoint. Angles in
// degrees, yaw rate in degrees per second, thrust as a raw 16-bit motor
// value. The pitch sign is flipped on the wire, a firmware convention that
// predates the generic setpoints.
func (c *Commander) SendSetpoint(roll, pitch, yawrate float32, thrust uint16) error {
	payload := make([]byte, 14)
	binary.LittleEndian.PutUint32(payload[0:], math.Float32bits(roll))
	binary.LittleEndian.PutUint32(payload[4:], math.Float32bits(-pitch))
	binary.LittleEndian.PutUint32(payload[8:], math.Float32bits(yawrate))
	binary.LittleEndian.PutUint16(payload[12:], thrust)
	return c.d.send(crtp.MustPacket(crtp.PortSetpoint, setpointChannel, payload))
}

// SendStop cuts the motors immediately.
func (c *Commander) SendStop() error {
	return c.sendGeneric(setpointTypeStop)
}

// SendPositionSetpoint commands an absolute position in meters with a yaw
// in degrees. Requires a position estimate on board.
func (c *Commander) SendPositionSetpoint(x, y, z, yaw float32) error {
	return c.sendGeneric(setpointTypePosition, x, y, z, yaw)
}

// SendVelocityWorldSetpoint commands a velocity in the world frame, meters
// per second, with a yaw rate in degrees per second.
func (c *Commander) SendVelocityWorldSetpoint(vx, vy, vz, yawrate float32) error {
	return c.sendGeneric(setpointTypeVelocityWorld, vx, vy, vz, yawrate)
}

// SendZDistanceSetpoint commands roll/pitch angles with an absolute height
// in meters, for flying on a height sensor.
func (c *Commander) SendZDistanceSetpoint(roll, pitch, yawrate, zDistance float32) error {
	return c.sendGeneric(setpointTypeZDistance, roll, pitch, yawrate, zDistance)
}

// SendHoverSetpoint commands body-frame velocities with an absolute height
// in meters, the usual mode for assisted flight.
func (c *Commander) SendHoverSetpoint(vx, vy, yawrate, zDistance float32) error {
	return c.sendGeneric(setpointTypeHover, vx, vy, yawrate, zDistance)
}

// SendGenericSetpoint sends a raw generic setpoint for types this library
// has no dedicated method for. The payload layout is the caller's problem.
func (c *Commander) SendGenericSetpoint(setpointType byte, payload []byte) error {
	pk, err := crtp.NewPacket(crtp.PortGeneric, setpointChannel, append([]byte{setpointType}, payload...))
	if err != nil {
		return err
	}
	return c.d.send(pk)
}

// NotifySetpointsStop tells the firmware to hold off its setpoint timeout
// for the given number of milliseconds, for planned gaps in the stream.
func (c *Commander) NotifySetpointsStop(remainValidMillis uint32) error {
	payload := make([]byte, 5)
	payload[0] = cmdNotifySetpointStop
	binary.LittleEndian.PutUint32(payload[1:], remainValidMillis)
	return c.d.send(crtp.MustPacket(crtp.PortGeneric, setpointMetaChannel, payload))
}

// SendExternalPosition feeds an externally measured position (meters) into
// the onboard estimator.
func (c *Commander) SendExternalPosition(x, y, z float32) error {
	payload := make([]byte, 12)
	binary.LittleEndian.PutUint32(payload[0:], math.Float32bits(x))
	binary.LittleEndian.PutUint32(payload[4:], math.Float32bits(y))
	binary.LittleEndian.PutUint32(payload[8:], math.Float32bits(z))
	return c.d.send(crtp.MustPacket(crtp.PortPosition, 0, payload))
}

func (c *Commander) sendGeneric(setpointType byte, fields ...float32) error {
	payload := make([]byte, 1+4*len(fields))
	payload[0] = setpointType
	for i, f := range fields {
		binary.LittleEndian.PutUint32(payload[1+4*i:], math.Float32bits(f))
	}
	return c.d.send(crtp.MustPacket(crtp.PortGeneric, setpointChannel, payload))
}
