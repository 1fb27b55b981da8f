package ezble

import (
	"bytes"

	"tinygo.org/x/bluetooth"

	"periphcore/hal"
)

var (
	ServiceUUID            = mustParse("de8a5aac-a99b-c315-0c80-60d4cbb5beef")
	DataCharacteristicUUID = mustParse("5b026510-4088-c297-46d8-be6c7367beef")

	GenericAccessUUID = bluetooth.New16BitUUID(0x1800)
	DeviceNameUUID    = bluetooth.New16BitUUID(0x2A00)
)

const (
	MaxNameLen = 128

	adCompleteLocalName = 0x09
)

func mustParse(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// localDB holds the handles of our own GATT database.
type localDB struct {
	ready     bool
	gaService uint16
	nameChar  uint16
	service   uint16
	dataChar  uint16
}

func (db *localDB) build(stack hal.BLEStack, name string) error {
	var err error
	if db.gaService, err = stack.AddService(GenericAccessUUID); err != nil {
		return err
	}
	if db.nameChar, err = stack.AddCharacteristic(db.gaService, DeviceNameUUID, hal.CharRead, MaxNameLen, []byte(name)); err != nil {
		return err
	}
	if db.service, err = stack.AddService(ServiceUUID); err != nil {
		return err
	}
	if db.dataChar, err = stack.AddCharacteristic(db.service, DataCharacteristicUUID, hal.CharRead|hal.CharWrite, MTU, []byte{0}); err != nil {
		return err
	}
	if err = stack.Commit(); err != nil {
		return err
	}
	db.ready = true
	return nil
}

// completeLocalName reports whether adv carries a Complete Local Name
// AD structure equal to name.
func completeLocalName(adv []byte, name string) bool {
	for i := 0; i+1 < len(adv); {
		l := int(adv[i])
		if l == 0 || i+1+l > len(adv) {
			return false
		}
		if adv[i+1] == adCompleteLocalName && bytes.Equal(adv[i+2:i+1+l], []byte(name)) {
			return true
		}
		i += l + 1
	}
	return false
}
