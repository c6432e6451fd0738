package security

import (
	"encoding/binary"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/codec"
	se "github.com/brocaar/chirpstack-device-mac/internal/secureelement"
	"github.com/brocaar/lorawan"
)

// PrepareJoinRequest increments the DevNonce and sets it in the given
// join-request.
func (e *Engine) PrepareJoinRequest(jr *codec.JoinRequest) error {
	if jr == nil {
		return ErrNPE
	}

	e.ctx.DevNonce++
	jr.DevNonce = e.ctx.DevNonce

	return nil
}

// SecureJoinRequest computes the MIC of the join-request and returns the
// serialized frame.
func (e *Engine) SecureJoinRequest(jr *codec.JoinRequest) ([]byte, error) {
	if jr == nil {
		return nil, ErrNPE
	}

	b, err := jr.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "serialize error")
	}

	jr.MIC, err = e.se.ComputeAesCmac(nil, b[:len(b)-codec.MICSize], se.NwkKey)
	if err != nil {
		return nil, errors.Wrap(ErrSecureElement, err.Error())
	}
	binary.LittleEndian.PutUint32(b[len(b)-codec.MICSize:], jr.MIC)

	return b, nil
}

// PrepareRejoinType1 sets the RJcount1 of the given rejoin-request.
func (e *Engine) PrepareRejoinType1(r *codec.RejoinType1) error {
	if r == nil {
		return ErrNPE
	}
	r.RJcount1 = e.ctx.RJcount1
	return nil
}

// PrepareRejoinType02 sets the RJcount0 of the given rejoin-request.
func (e *Engine) PrepareRejoinType02(r *codec.RejoinType02) error {
	if r == nil {
		return ErrNPE
	}
	r.RJcount0 = e.ctx.RJcount0
	return nil
}

// SecureRejoinType1 computes the MIC (JSIntKey) of the type 1 rejoin-request
// and increments RJcount1.
func (e *Engine) SecureRejoinType1(r *codec.RejoinType1) ([]byte, error) {
	if r == nil {
		return nil, ErrNPE
	}

	b, err := r.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "serialize error")
	}

	r.MIC, err = e.se.ComputeAesCmac(nil, b[:len(b)-codec.MICSize], se.JSIntKey)
	if err != nil {
		return nil, errors.Wrap(ErrSecureElement, err.Error())
	}
	binary.LittleEndian.PutUint32(b[len(b)-codec.MICSize:], r.MIC)
	e.ctx.RJcount1++

	return b, nil
}

// SecureRejoinType02 computes the MIC (SNwkSIntKey) of the type 0 or 2
// rejoin-request and increments RJcount0.
func (e *Engine) SecureRejoinType02(r *codec.RejoinType02) ([]byte, error) {
	if r == nil {
		return nil, ErrNPE
	}

	b, err := r.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "serialize error")
	}

	r.MIC, err = e.se.ComputeAesCmac(nil, b[:len(b)-codec.MICSize], se.SNwkSIntKey)
	if err != nil {
		return nil, errors.Wrap(ErrSecureElement, err.Error())
	}
	binary.LittleEndian.PutUint32(b[len(b)-codec.MICSize:], r.MIC)
	e.ctx.RJcount0++

	return b, nil
}

// HandleJoinAccept decrypts and verifies the given join-accept, derives the
// session keys and resets the frame-counters.
func (e *Engine) HandleJoinAccept(reqType JoinReqType, joinEUI lorawan.EUI64, raw []byte) (codec.JoinAccept, error) {
	var ja codec.JoinAccept

	if raw == nil {
		return ja, ErrNPE
	}
	if len(raw) != codec.JoinAcceptMinSize && len(raw) != codec.JoinAcceptMaxSize {
		return ja, ErrBufSize
	}

	encKey := se.NwkKey
	if reqType != JoinReq {
		encKey = se.JSEncKey
	}

	// The join-accept is decrypted with an AES encrypt operation.
	dec, err := e.se.AesEncrypt(raw[1:], encKey)
	if err != nil {
		return ja, errors.Wrap(ErrSecureElement, err.Error())
	}
	b := make([]byte, len(raw))
	b[0] = raw[0]
	copy(b[1:], dec)

	if err := ja.UnmarshalBinary(b); err != nil {
		return ja, errors.Wrap(err, "parse error")
	}

	if ja.DLSettings.OptNeg() {
		// LoRaWAN 1.1 server
		var devNonce uint16
		switch reqType {
		case JoinReq:
			devNonce = e.ctx.DevNonce
		case JoinReqRejoinType1:
			devNonce = e.ctx.RJcount1
		default:
			devNonce = e.ctx.RJcount0
		}

		micBuf := make([]byte, 0, 11+len(b)-codec.MICSize)
		micBuf = append(micBuf, byte(reqType))
		var eui [8]byte
		putEUI(eui[:], joinEUI)
		micBuf = append(micBuf, eui[:]...)
		micBuf = append(micBuf, byte(devNonce), byte(devNonce>>8))
		micBuf = append(micBuf, b[:len(b)-codec.MICSize]...)

		if err := e.se.VerifyAesCmac(micBuf, ja.MIC, se.JSIntKey); err != nil {
			if errors.Cause(err) == se.ErrFailCMAC {
				return ja, ErrMICFail
			}
			return ja, errors.Wrap(ErrSecureElement, err.Error())
		}

		if ja.JoinNonce <= e.ctx.JoinNonce && e.ctx.JoinNonce != 0 {
			return ja, ErrJoinNonce
		}
		e.ctx.JoinNonce = ja.JoinNonce

		for _, id := range []se.KeyID{se.FNwkSIntKey, se.SNwkSIntKey, se.NwkSEncKey, se.AppSKey} {
			if err := e.DeriveSessionKey11(id, ja.JoinNonce, joinEUI, devNonce); err != nil {
				return ja, err
			}
		}
		e.ctx.LrWanVersion = LoRaWAN1_1_1
	} else {
		// LoRaWAN 1.0.x server
		if err := e.se.VerifyAesCmac(b[:len(b)-codec.MICSize], ja.MIC, se.NwkKey); err != nil {
			if errors.Cause(err) == se.ErrFailCMAC {
				return ja, ErrMICFail
			}
			return ja, errors.Wrap(ErrSecureElement, err.Error())
		}
		e.ctx.JoinNonce = ja.JoinNonce

		for _, id := range []se.KeyID{se.FNwkSIntKey, se.SNwkSIntKey, se.NwkSEncKey, se.AppSKey} {
			if err := e.DeriveSessionKey10(id, ja.JoinNonce, ja.NetID, e.ctx.DevNonce); err != nil {
				return ja, err
			}
		}
		e.ctx.LrWanVersion = LoRaWAN1_0_4
	}

	e.ctx.resetFCnts()

	log.WithFields(log.Fields{
		"dev_addr":   ja.DevAddr,
		"net_id":     ja.NetID,
		"join_nonce": ja.JoinNonce,
		"version":    e.ctx.LrWanVersion,
	}).Info("security: join-accept handled")

	return ja, nil
}

// DeriveSessionKey10 derives a LoRaWAN 1.0.x session key from the NwkKey.
func (e *Engine) DeriveSessionKey10(id se.KeyID, joinNonce uint32, netID lorawan.NetID, devNonce uint16) error {
	var compBase [16]byte

	switch id {
	case se.FNwkSIntKey, se.SNwkSIntKey, se.NwkSEncKey:
		compBase[0] = 0x01
	case se.AppSKey:
		compBase[0] = 0x02
	default:
		return ErrInvalidKeyID
	}

	putUint24(compBase[1:4], joinNonce)
	compBase[4] = netID[2]
	compBase[5] = netID[1]
	compBase[6] = netID[0]
	binary.LittleEndian.PutUint16(compBase[7:9], devNonce)

	if err := e.se.DeriveAndStoreKey(compBase[:], se.NwkKey, id); err != nil {
		return errors.Wrap(ErrSecureElement, err.Error())
	}
	return nil
}

// DeriveSessionKey11 derives a LoRaWAN 1.1 session key. The network keys are
// derived from the NwkKey, the AppSKey from the AppKey.
func (e *Engine) DeriveSessionKey11(id se.KeyID, joinNonce uint32, joinEUI lorawan.EUI64, devNonce uint16) error {
	var compBase [16]byte
	rootKey := se.NwkKey

	switch id {
	case se.FNwkSIntKey:
		compBase[0] = 0x01
	case se.AppSKey:
		compBase[0] = 0x02
		rootKey = se.AppKey
	case se.SNwkSIntKey:
		compBase[0] = 0x03
	case se.NwkSEncKey:
		compBase[0] = 0x04
	default:
		return ErrInvalidKeyID
	}

	putUint24(compBase[1:4], joinNonce)
	putEUI(compBase[4:12], joinEUI)
	binary.LittleEndian.PutUint16(compBase[12:14], devNonce)

	if err := e.se.DeriveAndStoreKey(compBase[:], rootKey, id); err != nil {
		return errors.Wrap(ErrSecureElement, err.Error())
	}
	return nil
}

// DeriveLifetimeKey derives the JSIntKey, JSEncKey, McRootKey or McKEKey.
func (e *Engine) DeriveLifetimeKey(id se.KeyID, devEUI lorawan.EUI64) error {
	var compBase [16]byte
	rootKey := se.NwkKey

	switch id {
	case se.JSIntKey:
		compBase[0] = 0x06
		putEUI(compBase[1:9], devEUI)
	case se.JSEncKey:
		compBase[0] = 0x05
		putEUI(compBase[1:9], devEUI)
	case se.McRootKey:
		if e.ctx.LrWanVersion.Is11() {
			compBase[0] = 0x20
		}
		rootKey = se.AppKey
	case se.McKEKey:
		rootKey = se.McRootKey
	default:
		return ErrInvalidKeyID
	}

	if err := e.se.DeriveAndStoreKey(compBase[:], rootKey, id); err != nil {
		return errors.Wrap(ErrSecureElement, err.Error())
	}
	return nil
}

// DeriveMcKEKey derives the multicast key-encryption key from the McRootKey.
func (e *Engine) DeriveMcKEKey() error {
	return e.DeriveLifetimeKey(se.McKEKey, lorawan.EUI64{})
}

// DeriveMcSessionKeyPair derives the McAppSKey and McNwkSKey of the given
// multicast slot from its McKey.
func (e *Engine) DeriveMcSessionKeyPair(id AddrID, addr lorawan.DevAddr) error {
	if id < Multicast0Addr || id > Multicast3Addr {
		return ErrAddrID
	}

	mcKey, err := se.McKeyForAddrID(int(id))
	if err != nil {
		return ErrInvalidKeyID
	}
	appSKey, nwkSKey, err := se.McSessionKeysForAddrID(int(id))
	if err != nil {
		return ErrInvalidKeyID
	}

	var compBase [16]byte
	putDevAddr(compBase[1:5], addr)

	compBase[0] = 0x01
	if err := e.se.DeriveAndStoreKey(compBase[:], mcKey, appSKey); err != nil {
		return errors.Wrap(ErrSecureElement, err.Error())
	}

	compBase[0] = 0x02
	if err := e.se.DeriveAndStoreKey(compBase[:], mcKey, nwkSKey); err != nil {
		return errors.Wrap(ErrSecureElement, err.Error())
	}

	return e.SetMulticastReference(id, addr)
}

// ResetRJcount0 resets the type 0/2 rejoin counter (on RekeyConf).
func (e *Engine) ResetRJcount0() {
	e.ctx.RJcount0 = 0
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}
