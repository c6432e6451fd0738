package codec

import (
	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

// FHDR holds the frame header.
type FHDR struct {
	DevAddr lorawan.DevAddr
	FCtrl   FCtrl
	FCnt    uint16
	FOpts   []byte
}

// DataFrame implements the (un)confirmed data up / down message.
type DataFrame struct {
	MHDR       MHDR
	FHDR       FHDR
	FPort      *uint8
	FRMPayload []byte
	MIC        uint32
}

// Size returns the serialized size.
func (d DataFrame) Size() int {
	size := 1 + FHDRMinSize + len(d.FHDR.FOpts) + MICSize
	if d.FPort != nil {
		size += 1 + len(d.FRMPayload)
	}
	return size
}

// SerializeTo writes the data frame to buf. The FOptsLen bits of FCtrl are
// set from the FOpts length.
func (d DataFrame) SerializeTo(buf []byte) (int, error) {
	if len(d.FHDR.FOpts) > MaxFOptsLen {
		return 0, ErrFOptsLen
	}
	if d.FPort != nil && *d.FPort == 0 && len(d.FHDR.FOpts) != 0 {
		return 0, ErrFPort
	}

	size := d.Size()
	if len(buf) < size {
		return 0, ErrBufferSize
	}

	pl := lorawan.MACPayload{
		FHDR: lorawan.FHDR{
			DevAddr: d.FHDR.DevAddr,
			FCtrl: lorawan.FCtrl{
				ADR:       d.FHDR.FCtrl.ADR(),
				ADRACKReq: d.FHDR.FCtrl.ADRACKReq(),
				ACK:       d.FHDR.FCtrl.ACK(),
				FPending:  d.FHDR.FCtrl.FPending(),
			},
			FCnt: uint32(d.FHDR.FCnt),
		},
		FPort: d.FPort,
	}
	if len(d.FHDR.FOpts) != 0 {
		pl.FHDR.FOpts = []lorawan.Payload{&lorawan.DataPayload{Bytes: d.FHDR.FOpts}}
	}
	if d.FPort != nil && len(d.FRMPayload) != 0 {
		pl.FRMPayload = []lorawan.Payload{&lorawan.DataPayload{Bytes: d.FRMPayload}}
	}

	return serialize(buf, d.MHDR, pl, d.MIC)
}

// MarshalBinary marshals the data frame.
func (d DataFrame) MarshalBinary() ([]byte, error) {
	b := make([]byte, d.Size())
	_, err := d.SerializeTo(b)
	return b, err
}

// UnmarshalBinary decodes the data frame. On ErrFPort the frame header is
// decoded, the FRMPayload might not be.
func (d *DataFrame) UnmarshalBinary(b []byte) error {
	if len(b) < DataFrameMinSize {
		return ErrSize
	}

	d.MHDR = MHDR(b[0])
	switch d.MHDR.MType() {
	case lorawan.UnconfirmedDataUp, lorawan.UnconfirmedDataDown, lorawan.ConfirmedDataUp, lorawan.ConfirmedDataDown:
	default:
		return ErrMType
	}

	end := len(b) - MICSize
	if 1+FHDRMinSize+int(FCtrl(b[5]).FOptsLen()) > end {
		return ErrSize
	}

	var pl lorawan.MACPayload
	err := pl.UnmarshalBinary(d.IsUplink(), b[1:end])
	port0 := pl.FPort != nil && *pl.FPort == 0
	if err != nil && !port0 {
		return errors.Wrap(err, "codec: unmarshal mac-payload error")
	}

	d.FHDR.DevAddr = pl.FHDR.DevAddr
	d.FHDR.FCnt = uint16(pl.FHDR.FCnt)
	d.FHDR.FOpts = dataPayloadBytes(pl.FHDR.FOpts)
	d.FHDR.FCtrl = 0
	d.FHDR.FCtrl.SetADR(pl.FHDR.FCtrl.ADR)
	d.FHDR.FCtrl.SetADRACKReq(pl.FHDR.FCtrl.ADRACKReq)
	d.FHDR.FCtrl.SetACK(pl.FHDR.FCtrl.ACK)
	d.FHDR.FCtrl.SetFPending(pl.FHDR.FCtrl.FPending)
	d.FHDR.FCtrl.SetFOptsLen(uint8(len(d.FHDR.FOpts)))
	d.FPort = pl.FPort
	d.FRMPayload = dataPayloadBytes(pl.FRMPayload)

	d.MIC = getMIC(b[end:])

	if port0 && len(d.FHDR.FOpts) != 0 {
		return ErrFPort
	}
	return nil
}

// IsUplink returns true when the frame is an uplink frame.
func (d DataFrame) IsUplink() bool {
	t := d.MHDR.MType()
	return t == lorawan.UnconfirmedDataUp || t == lorawan.ConfirmedDataUp
}

// ParseMHDR returns the MHDR of the given raw frame.
func ParseMHDR(b []byte) (MHDR, error) {
	if len(b) == 0 {
		return 0, ErrSize
	}
	return MHDR(b[0]), nil
}

// dataPayloadBytes returns a copy of the raw bytes of the given (not yet
// decoded) payloads.
func dataPayloadBytes(pls []lorawan.Payload) []byte {
	var out []byte
	for _, pl := range pls {
		if dp, ok := pl.(*lorawan.DataPayload); ok {
			out = append(out, dp.Bytes...)
		}
	}
	return out
}
