package hal

import "tinygo.org/x/bluetooth"

// Sentinels for GATT handles that have not been resolved yet.
const (
	NoConnection     uint8  = 0xFF
	NoHandle         uint16 = 0xFFFF
	NoServiceHandle  uint32 = 0xFFFFFFFF
	NoAdvertisingSet uint8  = 0xFF
)

// CharProps are GATT characteristic properties.
type CharProps uint8

const (
	CharRead CharProps = 1 << iota
	CharWrite
	CharNotify
)

// BLEStack is the radio stack's command surface. Commands return once
// accepted; results arrive later as BLEEvents. Implementations must not
// deliver events synchronously from inside a command.
type BLEStack interface {
	// Local GATT database.
	AddService(uuid bluetooth.UUID) (uint16, error)
	AddCharacteristic(service uint16, uuid bluetooth.UUID, props CharProps, maxLen int, value []byte) (uint16, error)
	WriteAttribute(handle uint16, value []byte) error
	Commit() error

	StartAdvertising() error
	StopAdvertising() error
	StartScanning() error
	StopScanning() error

	Connect(addr bluetooth.MAC, addrType uint8) error
	CloseConnection(conn uint8) error

	DiscoverServices(conn uint8, uuid bluetooth.UUID) error
	DiscoverCharacteristics(conn uint8, service uint32, uuid bluetooth.UUID) error
	WriteCharacteristic(conn uint8, char uint16, data []byte) error
}

// BLEEventKind is the closed set of stack events the core reacts to.
type BLEEventKind uint8

const (
	BLEUnknown BLEEventKind = iota
	BLEBoot
	BLEConnectionOpened
	BLEConnectionClosed
	BLEScanReport
	BLEServiceDiscovered
	BLECharacteristicDiscovered
	BLEProcedureCompleted
	BLEAttributeWritten
)

var bleKindNames = [...]string{"unknown", "boot", "connection_opened", "connection_closed",
	"scan_report", "service_discovered", "characteristic_discovered", "procedure_completed", "attribute_written"}

func (k BLEEventKind) String() string {
	if int(k) < len(bleKindNames) {
		return bleKindNames[k]
	}
	return "unknown"
}

// BLEEvent is a fixed-shape stack event; which fields are meaningful
// depends on Kind.
type BLEEvent struct {
	Kind           BLEEventKind
	Connection     uint8
	Address        bluetooth.MAC
	AddressType    uint8
	Data           []byte // advertisement payload or written value
	Service        uint32
	Characteristic uint16
	Attribute      uint16
	Result         uint16 // procedure result, 0 on success
}
