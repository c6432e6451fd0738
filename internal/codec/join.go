package codec

import (
	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

// JoinRequest implements the join-request message.
type JoinRequest struct {
	MHDR     MHDR
	JoinEUI  lorawan.EUI64
	DevEUI   lorawan.EUI64
	DevNonce uint16
	MIC      uint32
}

// Size returns the serialized size.
func (j JoinRequest) Size() int {
	return JoinRequestSize
}

// SerializeTo writes the join-request to buf and returns the written size.
func (j JoinRequest) SerializeTo(buf []byte) (int, error) {
	if len(buf) < JoinRequestSize {
		return 0, ErrBufferSize
	}

	pl := lorawan.JoinRequestPayload{
		JoinEUI:  j.JoinEUI,
		DevEUI:   j.DevEUI,
		DevNonce: lorawan.DevNonce(j.DevNonce),
	}
	return serialize(buf, j.MHDR, pl, j.MIC)
}

// MarshalBinary marshals the join-request.
func (j JoinRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, j.Size())
	_, err := j.SerializeTo(b)
	return b, err
}

// UnmarshalBinary decodes the join-request.
func (j *JoinRequest) UnmarshalBinary(b []byte) error {
	if len(b) != JoinRequestSize {
		return ErrSize
	}

	j.MHDR = MHDR(b[0])
	if j.MHDR.MType() != lorawan.JoinRequest {
		return ErrMType
	}

	var pl lorawan.JoinRequestPayload
	if err := pl.UnmarshalBinary(true, b[1:len(b)-MICSize]); err != nil {
		return errors.Wrap(err, "codec: unmarshal join-request error")
	}
	j.JoinEUI = pl.JoinEUI
	j.DevEUI = pl.DevEUI
	j.DevNonce = uint16(pl.DevNonce)
	j.MIC = getMIC(b[len(b)-MICSize:])

	return nil
}

// Rejoin types.
const (
	RejoinReqType0 = uint8(lorawan.RejoinRequestType0)
	RejoinReqType1 = uint8(lorawan.RejoinRequestType1)
	RejoinReqType2 = uint8(lorawan.RejoinRequestType2)
)

// RejoinType02 implements the rejoin-request type 0 and 2 messages.
type RejoinType02 struct {
	MHDR       MHDR
	RejoinType uint8
	NetID      lorawan.NetID
	DevEUI     lorawan.EUI64
	RJcount0   uint16
	MIC        uint32
}

// Size returns the serialized size.
func (r RejoinType02) Size() int {
	return RejoinType02Size
}

// SerializeTo writes the rejoin-request to buf.
func (r RejoinType02) SerializeTo(buf []byte) (int, error) {
	if len(buf) < RejoinType02Size {
		return 0, ErrBufferSize
	}

	pl := lorawan.RejoinRequestType02Payload{
		RejoinType: lorawan.JoinType(r.RejoinType),
		NetID:      r.NetID,
		DevEUI:     r.DevEUI,
		RJCount0:   r.RJcount0,
	}
	return serialize(buf, r.MHDR, pl, r.MIC)
}

// MarshalBinary marshals the rejoin-request.
func (r RejoinType02) MarshalBinary() ([]byte, error) {
	b := make([]byte, r.Size())
	_, err := r.SerializeTo(b)
	return b, err
}

// UnmarshalBinary decodes the rejoin-request.
func (r *RejoinType02) UnmarshalBinary(b []byte) error {
	if len(b) != RejoinType02Size {
		return ErrSize
	}

	r.MHDR = MHDR(b[0])
	if r.MHDR.MType() != lorawan.RejoinRequest {
		return ErrMType
	}

	var pl lorawan.RejoinRequestType02Payload
	if err := pl.UnmarshalBinary(true, b[1:len(b)-MICSize]); err != nil {
		return errors.Wrap(err, "codec: unmarshal rejoin-request error")
	}
	r.RejoinType = uint8(pl.RejoinType)
	r.NetID = pl.NetID
	r.DevEUI = pl.DevEUI
	r.RJcount0 = pl.RJCount0
	r.MIC = getMIC(b[len(b)-MICSize:])

	return nil
}

// RejoinType1 implements the rejoin-request type 1 message.
type RejoinType1 struct {
	MHDR     MHDR
	JoinEUI  lorawan.EUI64
	DevEUI   lorawan.EUI64
	RJcount1 uint16
	MIC      uint32
}

// Size returns the serialized size.
func (r RejoinType1) Size() int {
	return RejoinType1Size
}

// SerializeTo writes the rejoin-request to buf.
func (r RejoinType1) SerializeTo(buf []byte) (int, error) {
	if len(buf) < RejoinType1Size {
		return 0, ErrBufferSize
	}

	pl := lorawan.RejoinRequestType1Payload{
		RejoinType: lorawan.RejoinRequestType1,
		JoinEUI:    r.JoinEUI,
		DevEUI:     r.DevEUI,
		RJCount1:   r.RJcount1,
	}
	return serialize(buf, r.MHDR, pl, r.MIC)
}

// MarshalBinary marshals the rejoin-request.
func (r RejoinType1) MarshalBinary() ([]byte, error) {
	b := make([]byte, r.Size())
	_, err := r.SerializeTo(b)
	return b, err
}

// UnmarshalBinary decodes the rejoin-request.
func (r *RejoinType1) UnmarshalBinary(b []byte) error {
	if len(b) != RejoinType1Size {
		return ErrSize
	}

	var pl lorawan.RejoinRequestType1Payload
	if err := pl.UnmarshalBinary(true, b[1:len(b)-MICSize]); err != nil {
		return errors.Wrap(err, "codec: unmarshal rejoin-request error")
	}
	if pl.RejoinType != lorawan.RejoinRequestType1 {
		return ErrMType
	}

	r.MHDR = MHDR(b[0])
	r.JoinEUI = pl.JoinEUI
	r.DevEUI = pl.DevEUI
	r.RJcount1 = pl.RJCount1
	r.MIC = getMIC(b[len(b)-MICSize:])

	return nil
}

// JoinAccept implements the (decrypted) join-accept message. The CFList is
// kept as raw bytes, its layout depends on the region.
type JoinAccept struct {
	MHDR       MHDR
	JoinNonce  uint32
	NetID      lorawan.NetID
	DevAddr    lorawan.DevAddr
	DLSettings DLSettings
	RxDelay    uint8
	CFList     []byte
	MIC        uint32
}

// Size returns the serialized size.
func (j JoinAccept) Size() int {
	if len(j.CFList) != 0 {
		return JoinAcceptMaxSize
	}
	return JoinAcceptMinSize
}

// SerializeTo writes the join-accept to buf.
func (j JoinAccept) SerializeTo(buf []byte) (int, error) {
	if len(j.CFList) != 0 && len(j.CFList) != CFListSize {
		return 0, ErrSize
	}

	size := j.Size()
	if len(buf) < size {
		return 0, ErrBufferSize
	}

	pl := lorawan.JoinAcceptPayload{
		JoinNonce: lorawan.JoinNonce(j.JoinNonce),
		HomeNetID: j.NetID,
		DevAddr:   j.DevAddr,
		DLSettings: lorawan.DLSettings{
			OptNeg:      j.DLSettings.OptNeg(),
			RX2DataRate: j.DLSettings.RX2DataRate(),
			RX1DROffset: j.DLSettings.RX1DROffset(),
		},
		RXDelay: j.RxDelay,
	}
	b, err := pl.MarshalBinary()
	if err != nil {
		return 0, errors.Wrap(err, "codec: marshal join-accept error")
	}

	buf[0] = byte(j.MHDR)
	i := 1 + copy(buf[1:], b)
	i += copy(buf[i:], j.CFList)
	putMIC(buf[i:i+MICSize], j.MIC)

	return size, nil
}

// MarshalBinary marshals the join-accept.
func (j JoinAccept) MarshalBinary() ([]byte, error) {
	b := make([]byte, j.Size())
	_, err := j.SerializeTo(b)
	return b, err
}

// UnmarshalBinary decodes the join-accept. The given bytes must be the
// decrypted join-accept.
func (j *JoinAccept) UnmarshalBinary(b []byte) error {
	if len(b) != JoinAcceptMinSize && len(b) != JoinAcceptMaxSize {
		return ErrSize
	}

	j.MHDR = MHDR(b[0])
	if j.MHDR.MType() != lorawan.JoinAccept {
		return ErrMType
	}

	var pl lorawan.JoinAcceptPayload
	if err := pl.UnmarshalBinary(false, b[1:JoinAcceptMinSize-MICSize]); err != nil {
		return errors.Wrap(err, "codec: unmarshal join-accept error")
	}
	j.JoinNonce = uint32(pl.JoinNonce)
	j.NetID = pl.HomeNetID
	j.DevAddr = pl.DevAddr
	j.DLSettings = NewDLSettings(pl.DLSettings.OptNeg, pl.DLSettings.RX1DROffset, pl.DLSettings.RX2DataRate)
	j.RxDelay = pl.RXDelay
	j.CFList = nil
	if len(b) == JoinAcceptMaxSize {
		j.CFList = make([]byte, CFListSize)
		copy(j.CFList, b[JoinAcceptMinSize-MICSize:len(b)-MICSize])
	}
	j.MIC = getMIC(b[len(b)-MICSize:])

	return nil
}
