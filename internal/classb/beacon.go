package classb

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
)

// Beacon errors.
var (
	ErrBeaconSize = errors.New("classb: invalid beacon size")
	ErrBeaconCRC  = errors.New("classb: beacon crc error")
)

const (
	beaconTimeSize   = 4
	beaconCRCSize    = 2
	beaconGwSpecSize = 7
)

// crc16 implements the CRC-CCITT (polynom 0x1021, initial value 0) used by
// the beacon frame.
func crc16(b []byte) uint16 {
	const polynom = 0x1021
	var crc uint16

	for _, v := range b {
		crc ^= uint16(v) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ polynom
			} else {
				crc <<= 1
			}
		}
	}

	return crc
}

// ParseBeacon decodes the given beacon frame. The gateway specific part is
// only set when its CRC is valid.
func ParseBeacon(b []byte, p band.BeaconParams) (models.BeaconInfo, error) {
	var info models.BeaconInfo

	if len(b) != p.Size {
		return info, ErrBeaconSize
	}

	timeEnd := p.RFU1Size + beaconTimeSize
	crc0 := binary.LittleEndian.Uint16(b[timeEnd : timeEnd+beaconCRCSize])
	if crc16(b[:timeEnd]) != crc0 {
		return info, ErrBeaconCRC
	}
	info.Time = time.Duration(binary.LittleEndian.Uint32(b[p.RFU1Size:timeEnd])) * time.Second

	gwStart := timeEnd + beaconCRCSize
	gwEnd := gwStart + beaconGwSpecSize + p.RFU2Size
	crc1 := binary.LittleEndian.Uint16(b[gwEnd : gwEnd+beaconCRCSize])
	if crc16(b[gwStart:gwEnd]) != crc1 {
		log.WithField("beacon_time", info.Time).Warning("classb: beacon gateway specific part crc error")
		return info, nil
	}

	info.InfoDesc = b[gwStart]
	copy(info.Info[:], b[gwStart+1:gwStart+beaconGwSpecSize])

	return info, nil
}

// EncodeBeacon encodes the given beacon, this is the network side of
// ParseBeacon.
func EncodeBeacon(info models.BeaconInfo, p band.BeaconParams) []byte {
	b := make([]byte, p.Size)

	timeEnd := p.RFU1Size + beaconTimeSize
	binary.LittleEndian.PutUint32(b[p.RFU1Size:timeEnd], uint32(info.Time/time.Second))
	binary.LittleEndian.PutUint16(b[timeEnd:timeEnd+beaconCRCSize], crc16(b[:timeEnd]))

	gwStart := timeEnd + beaconCRCSize
	gwEnd := gwStart + beaconGwSpecSize + p.RFU2Size
	b[gwStart] = info.InfoDesc
	copy(b[gwStart+1:gwStart+beaconGwSpecSize], info.Info[:])
	binary.LittleEndian.PutUint16(b[gwEnd:gwEnd+beaconCRCSize], crc16(b[gwStart:gwEnd]))

	return b
}
