// Package radio defines the transceiver interface consumed by the MAC layer.
// Implementations must only signal completion through the Events callbacks;
// the callbacks may be invoked from any goroutine.
package radio

import (
	"time"

	"github.com/pkg/errors"
)

// ErrBusy is returned by Send when the radio is not idle.
var ErrBusy = errors.New("radio: busy")

// Modulation defines the modulation type.
type Modulation int

// Modulations.
const (
	ModemLoRa Modulation = iota
	ModemFSK
)

func (m Modulation) String() string {
	if m == ModemFSK {
		return "FSK"
	}
	return "LORA"
}

// State defines the radio state.
type State int

// Radio states.
const (
	StateIdle State = iota
	StateRxRunning
	StateTxRunning
	StateCAD
)

// TxConfig holds the transmit configuration.
type TxConfig struct {
	Modulation   Modulation
	Power        int8 // dBm
	Fdev         uint32
	Bandwidth    int // kHz
	SpreadFactor int
	Bitrate      int // FSK only
	CodeRate     int // 1 = 4/5 ... 4 = 4/8
	PreambleLen  uint16
	FixLen       bool
	CRCOn        bool
	FreqHopOn    bool
	IQInverted   bool
	Timeout      time.Duration
}

// RxConfig holds the receive configuration.
type RxConfig struct {
	Modulation   Modulation
	Bandwidth    int // kHz
	SpreadFactor int
	Bitrate      int // FSK only
	CodeRate     int
	BandwidthAfc int
	PreambleLen  uint16
	SymbTimeout  uint16
	FixLen       bool
	PayloadLen   uint8
	CRCOn        bool
	IQInverted   bool
	RxContinuous bool
}

// Events holds the completion callbacks.
type Events struct {
	TxDone    func()
	TxTimeout func()
	RxDone    func(payload []byte, rssi int16, snr int8)
	RxTimeout func()
	RxError   func()
}

// Radio defines the transceiver driver.
type Radio interface {
	// Init registers the completion callbacks.
	Init(events *Events)

	// Status returns the current radio state.
	Status() State

	// SetChannel sets the frequency.
	SetChannel(freq uint32)

	// SetPublicNetwork sets the LoRa sync-word.
	SetPublicNetwork(enable bool)

	// SetTxConfig sets the transmit configuration.
	SetTxConfig(c TxConfig)

	// SetRxConfig sets the receive configuration.
	SetRxConfig(c RxConfig)

	// Send transmits the given payload.
	Send(b []byte) error

	// Receive opens the receiver. A zero timeout means continuous receive.
	Receive(timeout time.Duration)

	// Sleep puts the radio in sleep mode.
	Sleep()

	// Standby puts the radio in standby mode.
	Standby()

	// Random returns a random number generated by the radio.
	Random() uint32

	// TimeOnAir returns the time on air of a packet of the given length.
	TimeOnAir(c TxConfig, pktLen int) time.Duration

	// CheckFrequency returns true when the frequency is supported by the
	// hardware.
	CheckFrequency(freq uint32) bool

	// SetTxContinuousWave starts a continuous wave transmission.
	SetTxContinuousWave(freq uint32, power int8, timeout time.Duration)
}
