package messages

import "rovernet/internal/message"

// Message types of the rover network. TypeNone is never sent.
const (
	TypeStatus message.Type = iota + 1
	TypeArm
	TypeDriveVelocity
	TypeDriveHalt
	TypeDriveMode
	TypeLog
	TypeCameraQuality
	TypeCameraSwitch
	TypeString
	TypeRTT
	TypeSensorUpdate

	// TypeCount bounds the registry.
	TypeCount
)

var typeNames = [...]string{
	message.TypeNone:  "none",
	TypeStatus:        "status",
	TypeArm:           "arm",
	TypeDriveVelocity: "drive_velocity",
	TypeDriveHalt:     "drive_halt",
	TypeDriveMode:     "drive_mode",
	TypeLog:           "log",
	TypeCameraQuality: "camera_quality",
	TypeCameraSwitch:  "camera_switch",
	TypeString:        "string",
	TypeRTT:           "rtt",
	TypeSensorUpdate:  "sensor_update",
}

// TypeName names a message type for logs.
func TypeName(t message.Type) string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// NewRegistry returns a registry sized for the rover catalogue.
func NewRegistry() *message.Registry {
	return message.NewRegistry(int(TypeCount))
}

// FixStatus is the GPS fix state.
type FixStatus uint8

const (
	FixNone FixStatus = iota
	FixStabilizing
	FixFixed
)

// Status is broadcast by the rover every periodic interval.
//
//go:generate codable
type Status struct {
	FixStatus      FixStatus
	Latitude       float32
	Longitude      float32
	TicksPerSecond float32
	UptimeMs       uint32
}

func (Status) MessageType() message.Type { return TypeStatus }

// Joint selects an arm joint.
type Joint int16

const (
	JointBaseRotate Joint = iota
	JointBaseShoulder
	JointElbow
	JointWrist
	JointGripperRotate
	JointGripperFingers
)

// Movement is the direction a joint turns.
type Movement int16

const (
	MovementStop Movement = iota
	MovementClock
	MovementCounter
)

//go:generate codable
type Arm struct {
	Joint    Joint
	Movement Movement
}

func (Arm) MessageType() message.Type { return TypeArm }

// Velocity drives the rover. Speed and Angle are normalized to [-1, 1].
//
//go:generate codable
type Velocity struct {
	Speed float32
	Angle float32
}

func (Velocity) MessageType() message.Type { return TypeDriveVelocity }

//go:generate codable
type Halt struct {
	Halt bool
}

func (Halt) MessageType() message.Type { return TypeDriveHalt }

// Mode is the drive steering mode.
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeTurnInPlace
	ModeCrab
)

//go:generate codable
type DriveMode struct {
	Mode Mode
}

func (DriveMode) MessageType() message.Type { return TypeDriveMode }

// CameraQuality changes the encoder settings of one stream.
//
//go:generate codable
type CameraQuality struct {
	Stream      uint8
	JPEGQuality uint8
	Greyscale   bool
}

func (CameraQuality) MessageType() message.Type { return TypeCameraQuality }

// CameraSwitch turns one stream on or off.
//
//go:generate codable
type CameraSwitch struct {
	Stream  uint8
	Enabled bool
}

func (CameraSwitch) MessageType() message.Type { return TypeCameraSwitch }

// RTT is a round trip probe. The server replies to the sender's address on
// ReplyPort; a reply carries ReplyPort 0.
//
//go:generate codable
type RTT struct {
	ID           uint32
	ReplyPort    uint16
	SentUnixNano int64
}

func (RTT) MessageType() message.Type { return TypeRTT }

// SensorUpdate carries one reading forwarded from the CAN bus.
//
//go:generate codable
type SensorUpdate struct {
	Sensor      uint8
	Value       float32
	TimestampMs uint32
}

func (SensorUpdate) MessageType() message.Type { return TypeSensorUpdate }
