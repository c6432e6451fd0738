// Package secureelement defines the secure-element interface and a software
// implementation of it. Key material stored in a secure-element is only
// referenced by key identifier.
package secureelement

import (
	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

// Secure-element errors.
var (
	ErrNPE          = errors.New("secureelement: nil pointer")
	ErrInvalidKeyID = errors.New("secureelement: invalid key identifier")
	ErrBufSize      = errors.New("secureelement: invalid buffer size")
	ErrFailCMAC     = errors.New("secureelement: cmac verification failed")
	ErrFailEncrypt  = errors.New("secureelement: encryption failed")
	ErrNoKey        = errors.New("secureelement: key not set")
)

// KeyID identifies a key slot.
type KeyID int

// Key identifiers.
const (
	AppKey KeyID = iota
	NwkKey
	JSIntKey
	JSEncKey
	FNwkSIntKey
	SNwkSIntKey
	NwkSEncKey
	AppSKey
	McRootKey
	McKEKey
	McKey0
	McKey1
	McKey2
	McKey3
	McAppSKey0
	McNwkSKey0
	McAppSKey1
	McNwkSKey1
	McAppSKey2
	McNwkSKey2
	McAppSKey3
	McNwkSKey3
	SlotRandZeroKey
	NumberOfKeys
)

var keyNames = map[KeyID]string{
	AppKey:          "AppKey",
	NwkKey:          "NwkKey",
	JSIntKey:        "JSIntKey",
	JSEncKey:        "JSEncKey",
	FNwkSIntKey:     "FNwkSIntKey",
	SNwkSIntKey:     "SNwkSIntKey",
	NwkSEncKey:      "NwkSEncKey",
	AppSKey:         "AppSKey",
	McRootKey:       "McRootKey",
	McKEKey:         "McKEKey",
	McKey0:          "McKey0",
	McKey1:          "McKey1",
	McKey2:          "McKey2",
	McKey3:          "McKey3",
	McAppSKey0:      "McAppSKey0",
	McNwkSKey0:      "McNwkSKey0",
	McAppSKey1:      "McAppSKey1",
	McNwkSKey1:      "McNwkSKey1",
	McAppSKey2:      "McAppSKey2",
	McNwkSKey2:      "McNwkSKey2",
	McAppSKey3:      "McAppSKey3",
	McNwkSKey3:      "McNwkSKey3",
	SlotRandZeroKey: "SlotRandZeroKey",
}

func (k KeyID) String() string {
	if s, ok := keyNames[k]; ok {
		return s
	}
	return "Unknown"
}

// IsMcKey returns true when the key is a multicast key which is stored
// encrypted by the McKEKey.
func (k KeyID) IsMcKey() bool {
	return k >= McKey0 && k <= McKey3
}

// McKeyForAddrID returns the McKey slot for the given multicast index.
func McKeyForAddrID(i int) (KeyID, error) {
	if i < 0 || i > 3 {
		return 0, ErrInvalidKeyID
	}
	return McKey0 + KeyID(i), nil
}

// McSessionKeysForAddrID returns the McAppSKey and McNwkSKey slots for the
// given multicast index.
func McSessionKeysForAddrID(i int) (KeyID, KeyID, error) {
	if i < 0 || i > 3 {
		return 0, 0, ErrInvalidKeyID
	}
	app := McAppSKey0 + KeyID(i*2)
	return app, app + 1, nil
}

// SecureElement defines the interface of the secure-element.
type SecureElement interface {
	// SetKey stores the given key. McKeyX keys must be given encrypted by the
	// McKEKey.
	SetKey(id KeyID, key lorawan.AES128Key) error

	// ComputeAesCmac computes the AES-CMAC over prefix || buffer and returns
	// the first four bytes as little-endian uint32. The prefix may be nil.
	ComputeAesCmac(prefix, buffer []byte, id KeyID) (uint32, error)

	// VerifyAesCmac verifies the given CMAC.
	VerifyAesCmac(buffer []byte, expected uint32, id KeyID) error

	// AesEncrypt encrypts the buffer using AES-ECB. The buffer size must be
	// a multiple of 16.
	AesEncrypt(buffer []byte, id KeyID) ([]byte, error)

	// DeriveAndStoreKey encrypts the 16 byte input with the root key and
	// stores the result under the target key.
	DeriveAndStoreKey(input []byte, rootID, targetID KeyID) error

	// RandomNumber returns a random number.
	RandomNumber() (uint32, error)

	SetDevEUI(lorawan.EUI64)
	GetDevEUI() lorawan.EUI64
	SetJoinEUI(lorawan.EUI64)
	GetJoinEUI() lorawan.EUI64
	SetPin([4]byte)
	GetPin() [4]byte
}
