// Package security implements the LoRaWAN end-device security engine:
// message integrity codes, payload and FOpts encryption, key derivation and
// frame-counter management. All AES operations are delegated to the
// secure-element.
package security

import (
	"encoding/binary"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/codec"
	se "github.com/brocaar/chirpstack-device-mac/internal/secureelement"
	"github.com/brocaar/lorawan"
)

// Security errors.
var (
	ErrNPE                     = errors.New("security: nil pointer")
	ErrBufSize                 = errors.New("security: buffer size error")
	ErrSecureElement           = errors.New("security: secure-element function failed")
	ErrMICFail                 = errors.New("security: mic check failed")
	ErrFCntDuplicated          = errors.New("security: frame-counter duplicated")
	ErrFCntSmallerThanExpected = errors.New("security: frame-counter smaller than expected")
	ErrMaxGapExceeded          = errors.New("security: maximum frame-counter gap exceeded")
	ErrAddressFail             = errors.New("security: address mismatch")
	ErrJoinNonce               = errors.New("security: join-nonce is not greater than the previous one")
	ErrFCntID                  = errors.New("security: invalid frame-counter identifier")
	ErrAddrID                  = errors.New("security: invalid address identifier")
	ErrInvalidKeyID            = errors.New("security: invalid key identifier")
	ErrInvalidVersion          = errors.New("security: invalid lorawan version")
	ErrParam                   = errors.New("security: invalid parameter")
)

// Direction of the frame.
const (
	Uplink   byte = 0
	Downlink byte = 1
)

// JoinReqType identifies the request to which a join-accept is the answer.
type JoinReqType byte

// Join-request types.
const (
	JoinReqRejoinType0 JoinReqType = 0x00
	JoinReqRejoinType1 JoinReqType = 0x01
	JoinReqRejoinType2 JoinReqType = 0x02
	JoinReq            JoinReqType = 0xff
)

type keyAddr struct {
	appSKey se.KeyID
	nwkSKey se.KeyID
}

var keyAddrList = map[AddrID]keyAddr{
	Multicast0Addr: {appSKey: se.McAppSKey0, nwkSKey: se.McNwkSKey0},
	Multicast1Addr: {appSKey: se.McAppSKey1, nwkSKey: se.McNwkSKey1},
	Multicast2Addr: {appSKey: se.McAppSKey2, nwkSKey: se.McNwkSKey2},
	Multicast3Addr: {appSKey: se.McAppSKey3, nwkSKey: se.McNwkSKey3},
	UnicastDevAddr: {appSKey: se.AppSKey, nwkSKey: se.SNwkSIntKey},
}

// Engine implements the security engine. It is not safe for concurrent use.
type Engine struct {
	se  se.SecureElement
	ctx *Context
}

// New creates a new security engine. When ctx is nil, a fresh context is
// allocated.
func New(s se.SecureElement, ctx *Context) (*Engine, error) {
	if s == nil {
		return nil, ErrNPE
	}
	if ctx == nil {
		c := NewContext()
		ctx = &c
	}

	return &Engine{
		se:  s,
		ctx: ctx,
	}, nil
}

// Context returns the security context.
func (e *Engine) Context() *Context {
	return e.ctx
}

// SecureElement returns the secure-element.
func (e *Engine) SecureElement() se.SecureElement {
	return e.se
}

// SetLrWanVersion sets the LoRaWAN version (used for ABP).
func (e *Engine) SetLrWanVersion(v Version) error {
	if v.Major != 1 || v.Minor > 1 {
		return ErrInvalidVersion
	}
	e.ctx.LrWanVersion = v
	return nil
}

// SetKey stores the given key in the secure-element. Setting the NwkKey
// derives the JSIntKey and JSEncKey, setting the AppKey derives the
// McRootKey and McKEKey.
func (e *Engine) SetKey(id se.KeyID, key lorawan.AES128Key) error {
	if err := e.se.SetKey(id, key); err != nil {
		return errors.Wrap(ErrSecureElement, err.Error())
	}

	switch id {
	case se.NwkKey:
		devEUI := e.se.GetDevEUI()
		if err := e.DeriveLifetimeKey(se.JSIntKey, devEUI); err != nil {
			return err
		}
		if err := e.DeriveLifetimeKey(se.JSEncKey, devEUI); err != nil {
			return err
		}
	case se.AppKey:
		if err := e.DeriveLifetimeKey(se.McRootKey, lorawan.EUI64{}); err != nil {
			return err
		}
		if err := e.DeriveLifetimeKey(se.McKEKey, lorawan.EUI64{}); err != nil {
			return err
		}
	}

	return nil
}

// GetFCntUp returns the frame-counter for the next uplink.
func (e *Engine) GetFCntUp() uint32 {
	return e.ctx.FCntList.FCntUp + 1
}

// GetFCntDown reconstructs the 32 bit downlink frame-counter from the 16 bit
// frame value.
func (e *Engine) GetFCntDown(id FCntID, maxFCntGap uint16, frameFCnt uint16) (uint32, error) {
	lastDown, err := e.ctx.lastFCntDown(id)
	if err != nil {
		return 0, err
	}

	var currentDown uint32
	if lastDown == FCntDownInitialValue {
		currentDown = uint32(frameFCnt)
	} else {
		diff := int64(frameFCnt) - int64(lastDown&0x0000ffff)
		switch {
		case diff > 0:
			currentDown = lastDown + uint32(diff)
		case diff == 0:
			return lastDown, ErrFCntDuplicated
		default:
			currentDown = (lastDown & 0xffff0000) + 0x10000 + uint32(frameFCnt)
		}
	}

	// The maximum gap is only checked for LoRaWAN 1.0.x devices.
	if !e.ctx.LrWanVersion.Is11() && lastDown != FCntDownInitialValue {
		if int64(currentDown)-int64(lastDown) >= int64(maxFCntGap) {
			return currentDown, ErrMaxGapExceeded
		}
	}

	return currentDown, nil
}

func (e *Engine) checkFCntDown(id FCntID, currentDown uint32) bool {
	lastDown, err := e.ctx.lastFCntDown(id)
	if err != nil {
		return false
	}
	return currentDown > lastDown || lastDown == FCntDownInitialValue
}

func (e *Engine) updateFCntDown(id FCntID, currentDown uint32) error {
	if err := e.ctx.setFCntDown(id, currentDown); err != nil {
		return err
	}
	switch id {
	case NFCntDown, AFCntDown, FCntDown:
		e.ctx.LastDownFCnt = currentDown
	}
	return nil
}

// SetMulticastReference sets the address of the given multicast slot.
func (e *Engine) SetMulticastReference(id AddrID, addr lorawan.DevAddr) error {
	if id < Multicast0Addr || id > Multicast3Addr {
		return ErrAddrID
	}
	e.ctx.McAddr[id] = addr
	return nil
}

// ResetMulticastFCnt restores the initial value of the multicast downlink
// counter of the given slot.
func (e *Engine) ResetMulticastFCnt(id AddrID) error {
	if id < Multicast0Addr || id > Multicast3Addr {
		return ErrAddrID
	}
	e.ctx.FCntList.McFCntDown[id] = FCntDownInitialValue
	return nil
}

// cmacB0 computes the CMAC over B0 || msg.
func (e *Engine) cmacB0(msg []byte, key se.KeyID, isAck bool, dir byte, addr lorawan.DevAddr, fCnt uint32) (uint32, error) {
	if len(msg) > 256-16 {
		return 0, ErrBufSize
	}

	var b0 [16]byte
	b0[0] = 0x49
	if isAck {
		// ConfFCnt contains the frame-counter modulo 2^16 of the confirmed
		// frame being acknowledged.
		binary.LittleEndian.PutUint16(b0[1:3], uint16(e.ctx.FCntList.FCntUp%65536))
	}
	b0[5] = dir
	putDevAddr(b0[6:10], addr)
	binary.LittleEndian.PutUint32(b0[10:14], fCnt)
	b0[15] = byte(len(msg))

	mic, err := e.se.ComputeAesCmac(b0[:], msg, key)
	if err != nil {
		return 0, errors.Wrap(ErrSecureElement, err.Error())
	}
	return mic, nil
}

// cmacB1 computes the LoRaWAN 1.1 uplink CMAC over B1 || msg.
func (e *Engine) cmacB1(msg []byte, key se.KeyID, isAck bool, txDr, txCh uint8, addr lorawan.DevAddr, fCntUp uint32) (uint32, error) {
	if len(msg) > 256-16 {
		return 0, ErrBufSize
	}

	var b1 [16]byte
	b1[0] = 0x49
	if isAck {
		binary.LittleEndian.PutUint16(b1[1:3], uint16(e.ctx.LastDownFCnt%65536))
	}
	b1[3] = txDr
	b1[4] = txCh
	b1[5] = Uplink
	putDevAddr(b1[6:10], addr)
	binary.LittleEndian.PutUint32(b1[10:14], fCntUp)
	b1[15] = byte(len(msg))

	mic, err := e.se.ComputeAesCmac(b1[:], msg, key)
	if err != nil {
		return 0, errors.Wrap(ErrSecureElement, err.Error())
	}
	return mic, nil
}

// payloadEncrypt encrypts or decrypts (the operation is symmetric) the
// FRMPayload.
func (e *Engine) payloadEncrypt(buf []byte, key se.KeyID, addr lorawan.DevAddr, dir byte, fCnt uint32) error {
	if len(buf) == 0 {
		return nil
	}

	var aBlock [16]byte
	aBlock[0] = 0x01
	aBlock[5] = dir
	putDevAddr(aBlock[6:10], addr)
	binary.LittleEndian.PutUint32(aBlock[10:14], fCnt)

	ctr := byte(1)
	for i := 0; i < len(buf); i += 16 {
		aBlock[15] = ctr
		sBlock, err := e.se.AesEncrypt(aBlock[:], key)
		if err != nil {
			return errors.Wrap(ErrSecureElement, err.Error())
		}
		for j := 0; j < 16 && i+j < len(buf); j++ {
			buf[i+j] ^= sBlock[j]
		}
		ctr++
	}

	return nil
}

// fOptsEncrypt encrypts or decrypts the LoRaWAN 1.1 FOpts field.
func (e *Engine) fOptsEncrypt(buf []byte, addr lorawan.DevAddr, dir byte, id FCntID, fCnt uint32) error {
	if len(buf) == 0 {
		return nil
	}
	if len(buf) > codec.MaxFOptsLen {
		return ErrBufSize
	}

	var aBlock [16]byte
	aBlock[0] = 0x01

	// The FCnt identifier is part of the A block since LoRaWAN 1.1.1.
	if e.ctx.LrWanVersion.Value() > 0x01010000 {
		switch id {
		case FCntUp, NFCntDown:
			aBlock[4] = 0x01
		case AFCntDown:
			aBlock[4] = 0x02
		default:
			return ErrFCntID
		}
	}

	aBlock[5] = dir
	putDevAddr(aBlock[6:10], addr)
	binary.LittleEndian.PutUint32(aBlock[10:14], fCnt)
	aBlock[15] = 0x01

	sBlock, err := e.se.AesEncrypt(aBlock[:], se.NwkSEncKey)
	if err != nil {
		return errors.Wrap(ErrSecureElement, err.Error())
	}
	for i := range buf {
		buf[i] ^= sBlock[i]
	}

	return nil
}

// SecureMessage encrypts the payload (and the FOpts for LoRaWAN 1.1) of the
// given uplink frame and sets its MIC. The returned bytes are the
// serialized frame. The payload is only encrypted when the frame-counter is
// greater than the last used one, a retransmission only updates the MIC.
func (e *Engine) SecureMessage(fCntUp uint32, txDr, txCh uint8, frame *codec.DataFrame) ([]byte, error) {
	if frame == nil {
		return nil, ErrNPE
	}
	if fCntUp < e.ctx.FCntList.FCntUp {
		return nil, ErrFCntSmallerThanExpected
	}

	payloadKey := se.AppSKey
	if frame.FPort != nil && *frame.FPort == 0 {
		payloadKey = se.NwkSEncKey
	}

	if fCntUp > e.ctx.FCntList.FCntUp {
		if err := e.payloadEncrypt(frame.FRMPayload, payloadKey, frame.FHDR.DevAddr, Uplink, fCntUp); err != nil {
			return nil, err
		}
		if e.ctx.LrWanVersion.Is11() {
			if err := e.fOptsEncrypt(frame.FHDR.FOpts, frame.FHDR.DevAddr, Uplink, FCntUp, fCntUp); err != nil {
				return nil, err
			}
		}
	}
	e.ctx.FCntList.FCntUp = fCntUp

	frame.FHDR.FCnt = uint16(fCntUp)
	b, err := frame.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "serialize error")
	}
	msg := b[:len(b)-codec.MICSize]

	if e.ctx.LrWanVersion.Is11() {
		isAck := frame.FHDR.FCtrl.ACK()
		cmacS, err := e.cmacB1(msg, se.SNwkSIntKey, isAck, txDr, txCh, frame.FHDR.DevAddr, fCntUp)
		if err != nil {
			return nil, err
		}
		cmacF, err := e.cmacB0(msg, se.FNwkSIntKey, false, Uplink, frame.FHDR.DevAddr, fCntUp)
		if err != nil {
			return nil, err
		}
		frame.MIC = (cmacF&0x0000ffff)<<16 | cmacS&0x0000ffff
	} else {
		frame.MIC, err = e.cmacB0(msg, se.FNwkSIntKey, false, Uplink, frame.FHDR.DevAddr, fCntUp)
		if err != nil {
			return nil, err
		}
	}

	binary.LittleEndian.PutUint32(b[len(b)-codec.MICSize:], frame.MIC)
	return b, nil
}

// UnsecureMessage verifies the MIC of the given downlink, decrypts the
// payload (and FOpts for LoRaWAN 1.1) and commits the frame-counter. No
// state is updated when any of the steps fails.
func (e *Engine) UnsecureMessage(addrID AddrID, addr lorawan.DevAddr, fCntID FCntID, fCntDown uint32, raw []byte, frame *codec.DataFrame) error {
	if frame == nil || raw == nil {
		return ErrNPE
	}
	if len(raw) < codec.DataFrameMinSize {
		return ErrBufSize
	}
	if !e.checkFCntDown(fCntID, fCntDown) {
		return ErrFCntSmallerThanExpected
	}

	if err := frame.UnmarshalBinary(raw); err != nil {
		return errors.Wrap(err, "parse error")
	}

	keys, ok := keyAddrList[addrID]
	if !ok {
		return ErrAddrID
	}
	if addr != frame.FHDR.DevAddr {
		return ErrAddressFail
	}

	isAck := frame.FHDR.FCtrl.ACK()
	if !e.ctx.LrWanVersion.Is11() {
		isAck = false
	}

	mic, err := e.cmacB0(raw[:len(raw)-codec.MICSize], keys.nwkSKey, isAck, Downlink, addr, fCntDown)
	if err != nil {
		return err
	}
	if mic != frame.MIC {
		return ErrMICFail
	}

	payloadKey := keys.appSKey
	if frame.FPort != nil && *frame.FPort == 0 {
		payloadKey = se.NwkSEncKey
	}
	if err := e.payloadEncrypt(frame.FRMPayload, payloadKey, addr, Downlink, fCntDown); err != nil {
		return err
	}

	if e.ctx.LrWanVersion.Is11() && addrID == UnicastDevAddr {
		if err := e.fOptsEncrypt(frame.FHDR.FOpts, addr, Downlink, fCntID, fCntDown); err != nil {
			return err
		}
	}

	if err := e.updateFCntDown(fCntID, fCntDown); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"dev_addr":  addr,
		"fcnt_down": fCntDown,
		"fcnt_id":   fCntID,
	}).Debug("security: downlink unsecured")

	return nil
}

func putDevAddr(b []byte, a lorawan.DevAddr) {
	for i := 0; i < 4; i++ {
		b[i] = a[3-i]
	}
}

func putEUI(b []byte, eui lorawan.EUI64) {
	for i := 0; i < 8; i++ {
		b[i] = eui[7-i]
	}
}
