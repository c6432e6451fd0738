package secureelement

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"io"
	"sync"

	keywrap "github.com/NickBall/go-aes-key-wrap"
	"github.com/jacobsa/crypto/cmac"
	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

type keySlot struct {
	Set bool
	Key lorawan.AES128Key
}

// SoftSE implements a software secure-element.
type SoftSE struct {
	mu      sync.RWMutex
	keys    [NumberOfKeys]keySlot
	devEUI  lorawan.EUI64
	joinEUI lorawan.EUI64
	pin     [4]byte
	rand    io.Reader
}

// NewSoftSE creates a new software secure-element. When r is nil,
// crypto/rand is used as random source.
func NewSoftSE(r io.Reader) *SoftSE {
	if r == nil {
		r = rand.Reader
	}

	se := SoftSE{
		rand: r,
	}

	// The ping-slot randomization key is the all-zero key.
	se.keys[SlotRandZeroKey] = keySlot{Set: true}

	return &se
}

func validKeyID(id KeyID) bool {
	return id >= 0 && id < NumberOfKeys
}

// SetKey stores the given key.
func (s *SoftSE) SetKey(id KeyID, key lorawan.AES128Key) error {
	if !validKeyID(id) {
		return ErrInvalidKeyID
	}

	if id.IsMcKey() {
		dec, err := s.AesEncrypt(key[:], McKEKey)
		if err != nil {
			return errors.Wrap(err, "decrypt mc key error")
		}
		copy(key[:], dec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[id] = keySlot{Set: true, Key: key}
	return nil
}

func (s *SoftSE) getKey(id KeyID) (lorawan.AES128Key, error) {
	if !validKeyID(id) {
		return lorawan.AES128Key{}, ErrInvalidKeyID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	slot := s.keys[id]
	if !slot.Set {
		return lorawan.AES128Key{}, errors.Wrap(ErrNoKey, id.String())
	}
	return slot.Key, nil
}

// ComputeAesCmac computes the AES-CMAC of prefix || buffer.
func (s *SoftSE) ComputeAesCmac(prefix, buffer []byte, id KeyID) (uint32, error) {
	if buffer == nil {
		return 0, ErrNPE
	}

	key, err := s.getKey(id)
	if err != nil {
		return 0, err
	}

	hash, err := cmac.New(key[:])
	if err != nil {
		return 0, errors.Wrap(err, "new cmac error")
	}

	if len(prefix) != 0 {
		if _, err = hash.Write(prefix); err != nil {
			return 0, errors.Wrap(err, "cmac write error")
		}
	}
	if _, err = hash.Write(buffer); err != nil {
		return 0, errors.Wrap(err, "cmac write error")
	}

	hb := hash.Sum([]byte{})
	if len(hb) < 4 {
		return 0, ErrFailCMAC
	}

	return binary.LittleEndian.Uint32(hb[0:4]), nil
}

// VerifyAesCmac verifies the AES-CMAC of the given buffer.
func (s *SoftSE) VerifyAesCmac(buffer []byte, expected uint32, id KeyID) error {
	mic, err := s.ComputeAesCmac(nil, buffer, id)
	if err != nil {
		return err
	}

	var a, b [4]byte
	binary.LittleEndian.PutUint32(a[:], mic)
	binary.LittleEndian.PutUint32(b[:], expected)
	if subtle.ConstantTimeCompare(a[:], b[:]) != 1 {
		return ErrFailCMAC
	}
	return nil
}

// AesEncrypt encrypts the given buffer using AES-ECB.
func (s *SoftSE) AesEncrypt(buffer []byte, id KeyID) ([]byte, error) {
	if buffer == nil {
		return nil, ErrNPE
	}
	if len(buffer)%aes.BlockSize != 0 {
		return nil, ErrBufSize
	}

	key, err := s.getKey(id)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(ErrFailEncrypt, err.Error())
	}

	out := make([]byte, len(buffer))
	for i := 0; i < len(buffer); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], buffer[i:i+aes.BlockSize])
	}

	return out, nil
}

// DeriveAndStoreKey derives the target key from the root key.
func (s *SoftSE) DeriveAndStoreKey(input []byte, rootID, targetID KeyID) error {
	if input == nil {
		return ErrNPE
	}
	if len(input) != aes.BlockSize {
		return ErrBufSize
	}
	if !validKeyID(targetID) {
		return ErrInvalidKeyID
	}

	// The McKEKey may only be derived from the McRootKey.
	if targetID == McKEKey && rootID != McRootKey {
		return ErrInvalidKeyID
	}

	out, err := s.AesEncrypt(input, rootID)
	if err != nil {
		return err
	}

	var key lorawan.AES128Key
	copy(key[:], out)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[targetID] = keySlot{Set: true, Key: key}
	return nil
}

// RandomNumber returns a random number.
func (s *SoftSE) RandomNumber() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(s.rand, b[:]); err != nil {
		return 0, errors.Wrap(err, "read random error")
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// SetDevEUI sets the DevEUI.
func (s *SoftSE) SetDevEUI(eui lorawan.EUI64) {
	s.mu.Lock()
	s.devEUI = eui
	s.mu.Unlock()
}

// GetDevEUI returns the DevEUI.
func (s *SoftSE) GetDevEUI() lorawan.EUI64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devEUI
}

// SetJoinEUI sets the JoinEUI.
func (s *SoftSE) SetJoinEUI(eui lorawan.EUI64) {
	s.mu.Lock()
	s.joinEUI = eui
	s.mu.Unlock()
}

// GetJoinEUI returns the JoinEUI.
func (s *SoftSE) GetJoinEUI() lorawan.EUI64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joinEUI
}

// SetPin sets the pin.
func (s *SoftSE) SetPin(pin [4]byte) {
	s.mu.Lock()
	s.pin = pin
	s.mu.Unlock()
}

// GetPin returns the pin.
func (s *SoftSE) GetPin() [4]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pin
}

// Export returns the key store wrapped (RFC 3394) with the given KEK.
// The first byte of every 24 byte record is the slot state.
func (s *SoftSE) Export(kek lorawan.AES128Key) ([]byte, error) {
	block, err := aes.NewCipher(kek[:])
	if err != nil {
		return nil, errors.Wrap(err, "new cipher error")
	}

	s.mu.RLock()
	plain := make([]byte, 0, int(NumberOfKeys)*24)
	for _, slot := range s.keys {
		rec := make([]byte, 8, 24)
		if slot.Set {
			rec[0] = 1
		}
		rec = append(rec, slot.Key[:]...)
		plain = append(plain, rec...)
	}
	s.mu.RUnlock()

	b, err := keywrap.Wrap(block, plain)
	if err != nil {
		return nil, errors.Wrap(err, "wrap key store error")
	}
	return b, nil
}

// Import restores a key store created by Export.
func (s *SoftSE) Import(kek lorawan.AES128Key, b []byte) error {
	block, err := aes.NewCipher(kek[:])
	if err != nil {
		return errors.Wrap(err, "new cipher error")
	}

	plain, err := keywrap.Unwrap(block, b)
	if err != nil {
		return errors.Wrap(err, "unwrap key store error")
	}
	if len(plain) != int(NumberOfKeys)*24 {
		return ErrBufSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.keys {
		rec := plain[i*24 : (i+1)*24]
		s.keys[i].Set = rec[0] == 1
		copy(s.keys[i].Key[:], rec[8:])
	}

	return nil
}
