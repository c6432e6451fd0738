// Package sim implements a simulated radio. It records the transmitted
// frames and receive windows, the completion events are injected by the
// caller.
package sim

import (
	"sync"
	"time"

	"github.com/brocaar/chirpstack-device-mac/internal/radio"
)

// TxFrame holds a transmitted frame.
type TxFrame struct {
	Frequency uint32
	Config    radio.TxConfig
	Payload   []byte
}

// RxWindow holds an opened receive window.
type RxWindow struct {
	Frequency uint32
	Config    radio.RxConfig
	Timeout   time.Duration
}

// Radio implements radio.Radio.
type Radio struct {
	sync.Mutex

	// RandomValue is returned by Random. The default of 1000 gives a
	// zero jitter for random delays within the MAC.
	RandomValue uint32

	// Unsupported frequencies for CheckFrequency.
	Unsupported map[uint32]bool

	events   *radio.Events
	state    radio.State
	freq     uint32
	txConfig radio.TxConfig
	rxConfig radio.RxConfig
	public   bool
	sent     []TxFrame
	receives []RxWindow
	cw       []TxFrame
}

// New returns a new simulated radio.
func New() *Radio {
	return &Radio{
		RandomValue: 1000,
		Unsupported: make(map[uint32]bool),
	}
}

// Init registers the completion callbacks.
func (r *Radio) Init(events *radio.Events) {
	r.Lock()
	defer r.Unlock()
	r.events = events
}

// Status returns the radio state.
func (r *Radio) Status() radio.State {
	r.Lock()
	defer r.Unlock()
	return r.state
}

// SetChannel sets the frequency.
func (r *Radio) SetChannel(freq uint32) {
	r.Lock()
	defer r.Unlock()
	r.freq = freq
}

// SetPublicNetwork sets the sync-word.
func (r *Radio) SetPublicNetwork(enable bool) {
	r.Lock()
	defer r.Unlock()
	r.public = enable
}

// PublicNetwork returns the sync-word setting.
func (r *Radio) PublicNetwork() bool {
	r.Lock()
	defer r.Unlock()
	return r.public
}

// SetTxConfig sets the transmit configuration.
func (r *Radio) SetTxConfig(c radio.TxConfig) {
	r.Lock()
	defer r.Unlock()
	r.txConfig = c
}

// SetRxConfig sets the receive configuration.
func (r *Radio) SetRxConfig(c radio.RxConfig) {
	r.Lock()
	defer r.Unlock()
	r.rxConfig = c
}

// Send records the frame.
func (r *Radio) Send(b []byte) error {
	r.Lock()
	defer r.Unlock()

	if r.state == radio.StateTxRunning {
		return radio.ErrBusy
	}

	r.state = radio.StateTxRunning
	r.sent = append(r.sent, TxFrame{
		Frequency: r.freq,
		Config:    r.txConfig,
		Payload:   append([]byte(nil), b...),
	})
	return nil
}

// Receive records the receive window.
func (r *Radio) Receive(timeout time.Duration) {
	r.Lock()
	defer r.Unlock()

	r.state = radio.StateRxRunning
	r.receives = append(r.receives, RxWindow{
		Frequency: r.freq,
		Config:    r.rxConfig,
		Timeout:   timeout,
	})
}

// Sleep sets the radio idle.
func (r *Radio) Sleep() {
	r.Lock()
	defer r.Unlock()
	r.state = radio.StateIdle
}

// Standby sets the radio idle.
func (r *Radio) Standby() {
	r.Sleep()
}

// Random returns RandomValue.
func (r *Radio) Random() uint32 {
	r.Lock()
	defer r.Unlock()
	return r.RandomValue
}

// TimeOnAir returns the time on air of the packet.
func (r *Radio) TimeOnAir(c radio.TxConfig, pktLen int) time.Duration {
	return radio.TimeOnAir(c, pktLen)
}

// CheckFrequency returns false for the frequencies in Unsupported.
func (r *Radio) CheckFrequency(freq uint32) bool {
	r.Lock()
	defer r.Unlock()
	return !r.Unsupported[freq]
}

// SetTxContinuousWave records the continuous wave as a frame without payload.
func (r *Radio) SetTxContinuousWave(freq uint32, power int8, timeout time.Duration) {
	r.Lock()
	defer r.Unlock()

	r.state = radio.StateTxRunning
	r.cw = append(r.cw, TxFrame{
		Frequency: freq,
		Config:    radio.TxConfig{Power: power, Timeout: timeout},
	})
}

// Sent returns the transmitted frames.
func (r *Radio) Sent() []TxFrame {
	r.Lock()
	defer r.Unlock()
	return append([]TxFrame(nil), r.sent...)
}

// LastSent returns the last transmitted frame.
func (r *Radio) LastSent() (TxFrame, bool) {
	r.Lock()
	defer r.Unlock()
	if len(r.sent) == 0 {
		return TxFrame{}, false
	}
	return r.sent[len(r.sent)-1], true
}

// Receives returns the opened receive windows.
func (r *Radio) Receives() []RxWindow {
	r.Lock()
	defer r.Unlock()
	return append([]RxWindow(nil), r.receives...)
}

// ContinuousWaves returns the continuous wave transmissions.
func (r *Radio) ContinuousWaves() []TxFrame {
	r.Lock()
	defer r.Unlock()
	return append([]TxFrame(nil), r.cw...)
}

// Reset clears the recorded frames and windows.
func (r *Radio) Reset() {
	r.Lock()
	defer r.Unlock()
	r.sent = nil
	r.receives = nil
	r.cw = nil
}

func (r *Radio) finish() *radio.Events {
	r.Lock()
	defer r.Unlock()
	r.state = radio.StateIdle
	if r.events == nil {
		return &radio.Events{}
	}
	return r.events
}

// TxDone signals the end of the transmission.
func (r *Radio) TxDone() {
	if ev := r.finish(); ev.TxDone != nil {
		ev.TxDone()
	}
}

// TxTimeout signals a transmission timeout.
func (r *Radio) TxTimeout() {
	if ev := r.finish(); ev.TxTimeout != nil {
		ev.TxTimeout()
	}
}

// RxDone signals a received frame.
func (r *Radio) RxDone(payload []byte, rssi int16, snr int8) {
	if ev := r.finish(); ev.RxDone != nil {
		ev.RxDone(payload, rssi, snr)
	}
}

// RxTimeout signals a receive timeout.
func (r *Radio) RxTimeout() {
	if ev := r.finish(); ev.RxTimeout != nil {
		ev.RxTimeout()
	}
}

// RxError signals a receive error.
func (r *Radio) RxError() {
	if ev := r.finish(); ev.RxError != nil {
		ev.RxError()
	}
}
