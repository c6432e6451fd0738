// Package codec implements the LoRaWAN frame serializer and parser used by
// the end-device MAC layer.
package codec

import (
	"encoding"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

// Codec errors.
var (
	ErrBufferSize = errors.New("codec: buffer too small")
	ErrSize       = errors.New("codec: invalid frame size")
	ErrFOptsLen   = errors.New("codec: fopts exceeds 15 bytes")
	ErrMType      = errors.New("codec: unexpected message type")
	ErrFPort      = errors.New("codec: fport 0 must not be used with fopts")
)

// Frame size constants.
const (
	MICSize           = 4
	MaxFOptsLen       = 15
	FHDRMinSize       = 7
	JoinRequestSize   = 23
	RejoinType02Size  = 19
	RejoinType1Size   = 24
	JoinAcceptMinSize = 17
	JoinAcceptMaxSize = 33
	CFListSize        = 16
	DataFrameMinSize  = 1 + FHDRMinSize + MICSize
)

// MHDR holds the MAC header byte.
// Bits 7..5 hold the message type, bits 1..0 the major version.
type MHDR byte

// NewMHDR returns a MHDR for the given message type and major version.
func NewMHDR(mType lorawan.MType, major lorawan.Major) MHDR {
	return MHDR(byte(mType)<<5 | byte(major)&0x03)
}

// MType returns the message type.
func (h MHDR) MType() lorawan.MType {
	return lorawan.MType(byte(h) >> 5)
}

// Major returns the major version.
func (h MHDR) Major() lorawan.Major {
	return lorawan.Major(byte(h) & 0x03)
}

// FCtrl holds the frame-control byte.
//
//	bit 7   ADR
//	bit 6   ADRACKReq (uplink) / RFU (downlink)
//	bit 5   ACK
//	bit 4   FPending (downlink) / ClassB (uplink)
//	bit 3-0 FOptsLen
type FCtrl byte

const (
	fCtrlADR       = 1 << 7
	fCtrlADRACKReq = 1 << 6
	fCtrlACK       = 1 << 5
	fCtrlFPending  = 1 << 4
)

func (f FCtrl) bit(mask byte) bool {
	return byte(f)&mask != 0
}

func (f *FCtrl) setBit(mask byte, v bool) {
	if v {
		*f = FCtrl(byte(*f) | mask)
	} else {
		*f = FCtrl(byte(*f) &^ mask)
	}
}

// ADR returns the ADR bit.
func (f FCtrl) ADR() bool { return f.bit(fCtrlADR) }

// ADRACKReq returns the ADRACKReq bit.
func (f FCtrl) ADRACKReq() bool { return f.bit(fCtrlADRACKReq) }

// ACK returns the ACK bit.
func (f FCtrl) ACK() bool { return f.bit(fCtrlACK) }

// FPending returns the FPending bit. For uplink frames this bit is the
// ClassB bit.
func (f FCtrl) FPending() bool { return f.bit(fCtrlFPending) }

// ClassB returns the ClassB bit of an uplink frame.
func (f FCtrl) ClassB() bool { return f.bit(fCtrlFPending) }

// FOptsLen returns the FOpts length.
func (f FCtrl) FOptsLen() uint8 { return uint8(f) & 0x0f }

// SetADR sets the ADR bit.
func (f *FCtrl) SetADR(v bool) { f.setBit(fCtrlADR, v) }

// SetADRACKReq sets the ADRACKReq bit.
func (f *FCtrl) SetADRACKReq(v bool) { f.setBit(fCtrlADRACKReq, v) }

// SetACK sets the ACK bit.
func (f *FCtrl) SetACK(v bool) { f.setBit(fCtrlACK, v) }

// SetFPending sets the FPending bit.
func (f *FCtrl) SetFPending(v bool) { f.setBit(fCtrlFPending, v) }

// SetClassB sets the ClassB bit.
func (f *FCtrl) SetClassB(v bool) { f.setBit(fCtrlFPending, v) }

// SetFOptsLen sets the FOpts length.
func (f *FCtrl) SetFOptsLen(l uint8) {
	*f = FCtrl(byte(*f)&0xf0 | l&0x0f)
}

// DLSettings holds the downlink settings byte of a join-accept.
//
//	bit 7   OptNeg
//	bit 6-4 RX1DRoffset
//	bit 3-0 RX2DataRate
type DLSettings byte

// OptNeg returns the OptNeg bit (LoRaWAN 1.1 server).
func (d DLSettings) OptNeg() bool { return byte(d)&0x80 != 0 }

// RX1DROffset returns the RX1 data-rate offset.
func (d DLSettings) RX1DROffset() uint8 { return (byte(d) >> 4) & 0x07 }

// RX2DataRate returns the RX2 data-rate.
func (d DLSettings) RX2DataRate() uint8 { return byte(d) & 0x0f }

// NewDLSettings returns DLSettings for the given values.
func NewDLSettings(optNeg bool, rx1DROffset, rx2DR uint8) DLSettings {
	var b byte
	if optNeg {
		b |= 0x80
	}
	b |= (rx1DROffset & 0x07) << 4
	b |= rx2DR & 0x0f
	return DLSettings(b)
}

// serialize writes the MHDR, the marshaled payload and the MIC to buf.
func serialize(buf []byte, mhdr MHDR, pl encoding.BinaryMarshaler, mic uint32) (int, error) {
	b, err := pl.MarshalBinary()
	if err != nil {
		return 0, errors.Wrap(err, "codec: marshal payload error")
	}

	size := 1 + len(b) + MICSize
	if len(buf) < size {
		return 0, ErrBufferSize
	}

	buf[0] = byte(mhdr)
	copy(buf[1:], b)
	putMIC(buf[1+len(b):size], mic)

	return size, nil
}

func putMIC(b []byte, mic uint32) {
	binary.LittleEndian.PutUint32(b, mic)
}

func getMIC(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}
