// Package device implements the Feldbus generic device-info protocol
// every slave speaks (spec §4.6): basic/extended info, packet
// statistics, uptime, and static-storage paging.
//
// Grounded on pkg/service/nrf_commands.go's "build payload, call
// transport, decode" helper shape and pkg/ble/types.go's
// constants-as-opcode-table style.
package device

// Opcode bytes for the device-info command family (spec §4.6). Every
// sub-opcode is prefixed with InfoFamily.
const (
	InfoFamily byte = 0x00

	// opBasicInfo's request is the bare single-byte InfoFamily frame
	// (no sub-opcode byte); every other request below appends a
	// sub-opcode byte after InfoFamily, including opNameLegacy whose
	// sub-opcode happens to also be 0x00.
	opBasicInfo       byte = 0x00
	opUptime          byte = 0x01
	opVersionLegacy   byte = 0x02
	opNameLegacy      byte = 0x00
	opStatistics      byte = 0x07
	opUUIDLegacy      byte = 0x09
	opExtendedInfo    byte = 0x0A
	opStorageCapacity byte = 0x0B
	opStorageRead     byte = 0x0C
	opStorageWrite    byte = 0x0D
)

// storageStatus classifies the single status byte every storage reply
// carries.
type storageStatus byte

const (
	storageOK          storageStatus = 0
	storageAddressSize storageStatus = 1
)

// DeviceInfo is the basic info packet (spec §3).
type DeviceInfo struct {
	ProtocolID          byte
	TypeID              byte
	CRCKind             uint8 // 3 bits
	StatisticsAvailable bool
	ExtendedFormat      bool // packet_format_flag: false=legacy, true=extended
	UptimeFrequency     uint16

	// Legacy-only fields.
	BufferSize     uint16
	NameLength     uint8
	VersionLength  uint8

	// Extended-only fields.
	ExtendedInfoLength uint16
	UUID               uint32
}

// ExtendedInfo is populated at most once on demand (spec §3).
type ExtendedInfo struct {
	DeviceName string
	Version    string
	BufferSize uint16
}

// PacketStatistics is the slave's own view of traffic on this link
// (spec §3).
type PacketStatistics struct {
	Correct        uint32
	BufferOverflow uint32
	Lost           uint32
	ChecksumError  uint32
}

// StateKind is the sum type spec.md's design notes ask for in place of
// a nullable Info field.
type StateKind int

const (
	Uninitialized StateKind = iota
	BasicKnown
	ExtendedKnown
)

func (k StateKind) String() string {
	switch k {
	case Uninitialized:
		return "Uninitialized"
	case BasicKnown:
		return "BasicKnown"
	case ExtendedKnown:
		return "ExtendedKnown"
	default:
		return "Unknown"
	}
}
