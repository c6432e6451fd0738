// Package gateway implements a radio on top of a LoRa gateway bridge
// backend. The device acts as a virtual gateway: transmitted frames are
// published as uplink frames and the downlink commands of the network server
// are delivered to the receive window they were scheduled for.
package gateway

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-api/go/v3/common"
	"github.com/brocaar/chirpstack-api/go/v3/gw"
	"github.com/brocaar/chirpstack-device-mac/internal/radio"
	"github.com/brocaar/lorawan"
)

// Backend is the interface of a gateway backend. A gateway backend is
// responsible for the communication with the network server.
type Backend interface {
	SendUplinkFrame(gw.UplinkFrame) error     // publish the given uplink frame
	SendDownlinkTXAck(gw.DownlinkTXAck) error // publish the given downlink acknowledgement
	DownlinkFrameChan() chan gw.DownlinkFrame // channel containing the received downlink frames
	Close() error                             // close the gateway backend
}

// Config holds the virtual gateway configuration.
type Config struct {
	GatewayID lorawan.EUI64

	// Link quality reported in the uplink meta-data and for the received
	// downlinks.
	RSSI int16
	SNR  int8

	// DownlinkTTL is the time a downlink is kept when no matching receive
	// window is opened.
	DownlinkTTL time.Duration
}

type pendingDownlink struct {
	frame      gw.DownlinkFrame
	receivedAt time.Time
}

// Radio implements radio.Radio.
type Radio struct {
	sync.Mutex

	backend Backend
	config  Config
	events  *radio.Events
	start   time.Time
	wg      sync.WaitGroup

	state    radio.State
	freq     uint32
	txConfig radio.TxConfig
	rxConfig radio.RxConfig
	public   bool

	txTimer *time.Timer
	rxTimer *time.Timer
	rxFreq  uint32
	rxSeq   uint64
	pending []pendingDownlink
}

// New creates a new Radio and starts consuming the downlink frames of the
// given backend.
func New(b Backend, c Config) *Radio {
	if c.DownlinkTTL == 0 {
		c.DownlinkTTL = 5 * time.Second
	}

	r := Radio{
		backend: b,
		config:  c,
		start:   time.Now(),
		events:  &radio.Events{},
	}

	r.wg.Add(1)
	go r.downlinkLoop()

	return &r
}

// Close closes the backend and waits for the downlink loop to return.
func (r *Radio) Close() error {
	if err := r.backend.Close(); err != nil {
		return errors.Wrap(err, "close backend error")
	}
	r.wg.Wait()
	return nil
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

// SetPublicNetwork sets the sync-word. The bridge forwards every frame, the
// setting is not sent to the network server.
func (r *Radio) SetPublicNetwork(enable bool) {
	r.Lock()
	defer r.Unlock()
	r.public = enable
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

// Send publishes the payload as uplink frame. TxDone is signaled after the
// time on air of the frame.
func (r *Radio) Send(b []byte) error {
	r.Lock()
	if r.state == radio.StateTxRunning {
		r.Unlock()
		return radio.ErrBusy
	}
	r.stopRx()
	r.state = radio.StateTxRunning
	freq := r.freq
	c := r.txConfig
	r.Unlock()

	up, err := r.uplinkFrame(freq, c, b)
	if err == nil {
		err = r.backend.SendUplinkFrame(up)
	}
	if err != nil {
		r.Lock()
		r.state = radio.StateIdle
		r.Unlock()
		return errors.Wrap(err, "send uplink frame error")
	}

	uplinkCounter().Inc()
	log.WithFields(log.Fields{
		"gateway_id": r.config.GatewayID,
		"frequency":  freq,
		"sf":         c.SpreadFactor,
		"bw":         c.Bandwidth,
	}).Info("gateway: uplink frame sent")

	toa := radio.TimeOnAir(c, len(b))

	r.Lock()
	r.txTimer = time.AfterFunc(toa, r.txDone)
	r.Unlock()

	return nil
}

func (r *Radio) txDone() {
	r.Lock()
	if r.state != radio.StateTxRunning {
		r.Unlock()
		return
	}
	r.state = radio.StateIdle
	ev := r.events
	r.Unlock()

	if ev.TxDone != nil {
		ev.TxDone()
	}
}

// Receive opens a receive window on the current channel. A downlink with a
// matching frequency and data-rate is delivered immediately.
func (r *Radio) Receive(timeout time.Duration) {
	r.Lock()
	r.stopRx()
	r.state = radio.StateRxRunning
	r.rxFreq = r.freq
	r.rxSeq++
	seq := r.rxSeq

	if timeout > 0 && !r.rxConfig.RxContinuous {
		r.rxTimer = time.AfterFunc(timeout, func() { r.rxTimeout(seq) })
	}

	r.expire(time.Now())
	for i := range r.pending {
		if item := r.match(r.pending[i].frame); item != -1 {
			df := r.pending[i].frame
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			r.deliver(df, item)
			return
		}
	}
	r.Unlock()
}

func (r *Radio) rxTimeout(seq uint64) {
	r.Lock()
	if r.state != radio.StateRxRunning || seq != r.rxSeq {
		r.Unlock()
		return
	}
	r.state = radio.StateIdle
	ev := r.events
	r.Unlock()

	if ev.RxTimeout != nil {
		ev.RxTimeout()
	}
}

// Sleep closes the receive window and cancels a pending transmission.
func (r *Radio) Sleep() {
	r.Lock()
	defer r.Unlock()

	r.stopRx()
	if r.txTimer != nil {
		r.txTimer.Stop()
	}
	r.state = radio.StateIdle
}

// Standby is the same as Sleep.
func (r *Radio) Standby() {
	r.Sleep()
}

// Random returns a random number.
func (r *Radio) Random() uint32 {
	u, err := uuid.NewV4()
	if err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(u[:4])
}

// TimeOnAir returns the time on air of the packet.
func (r *Radio) TimeOnAir(c radio.TxConfig, pktLen int) time.Duration {
	return radio.TimeOnAir(c, pktLen)
}

// CheckFrequency returns true, the frequency plan is validated by the network
// server.
func (r *Radio) CheckFrequency(freq uint32) bool {
	return true
}

// SetTxContinuousWave keeps the radio busy for the given timeout, a virtual
// gateway can not transmit a continuous wave.
func (r *Radio) SetTxContinuousWave(freq uint32, power int8, timeout time.Duration) {
	r.Lock()
	r.stopRx()
	r.state = radio.StateTxRunning
	r.txTimer = time.AfterFunc(timeout, r.txDone)
	r.Unlock()

	log.WithFields(log.Fields{
		"frequency": freq,
		"power":     power,
		"timeout":   timeout,
	}).Info("gateway: continuous wave started")
}

// stopRx must be called with the lock held.
func (r *Radio) stopRx() {
	if r.rxTimer != nil {
		r.rxTimer.Stop()
		r.rxTimer = nil
	}
	if r.state == radio.StateRxRunning {
		r.state = radio.StateIdle
	}
}

func (r *Radio) downlinkLoop() {
	defer r.wg.Done()

	for df := range r.backend.DownlinkFrameChan() {
		downlinkCounter().Inc()

		r.Lock()
		r.expire(time.Now())
		if item := r.match(df); item != -1 {
			r.deliver(df, item)
			continue
		}
		r.pending = append(r.pending, pendingDownlink{
			frame:      df,
			receivedAt: time.Now(),
		})
		r.Unlock()
	}
}

// match returns the index of the first item matching the opened receive
// window, or -1. It must be called with the lock held.
func (r *Radio) match(df gw.DownlinkFrame) int {
	if r.state != radio.StateRxRunning {
		return -1
	}

	for i, item := range df.GetItems() {
		txInfo := item.GetTxInfo()
		if txInfo == nil || txInfo.GetFrequency() != r.rxFreq {
			continue
		}

		switch txInfo.GetModulation() {
		case common.Modulation_LORA:
			modInfo := txInfo.GetLoraModulationInfo()
			if modInfo == nil || r.rxConfig.Modulation != radio.ModemLoRa {
				continue
			}
			if int(modInfo.GetSpreadingFactor()) == r.rxConfig.SpreadFactor && int(modInfo.GetBandwidth()) == r.rxConfig.Bandwidth {
				return i
			}
		case common.Modulation_FSK:
			if r.rxConfig.Modulation == radio.ModemFSK {
				return i
			}
		}
	}

	return -1
}

// deliver signals the received item and acknowledges the downlink. It must be
// called with the lock held and releases it.
func (r *Radio) deliver(df gw.DownlinkFrame, item int) {
	if r.rxTimer != nil {
		r.rxTimer.Stop()
		r.rxTimer = nil
	}
	if !r.rxConfig.RxContinuous {
		r.state = radio.StateIdle
	}
	ev := r.events
	payload := df.Items[item].GetPhyPayload()
	r.Unlock()

	downID, _ := uuid.FromBytes(df.GetDownlinkId())
	log.WithFields(log.Fields{
		"gateway_id":  r.config.GatewayID,
		"downlink_id": downID,
		"item":        item,
	}).Info("gateway: downlink frame received")

	r.sendAck(df, item, gw.TxAckStatus_OK)

	if ev.RxDone != nil {
		ev.RxDone(payload, r.config.RSSI, r.config.SNR)
	}
}

// expire drops and acknowledges the downlinks older than the TTL. It must be
// called with the lock held.
func (r *Radio) expire(now time.Time) {
	var keep []pendingDownlink
	for _, p := range r.pending {
		if now.Sub(p.receivedAt) < r.config.DownlinkTTL {
			keep = append(keep, p)
			continue
		}
		downlinkExpiredCounter().Inc()
		go r.sendAck(p.frame, -1, gw.TxAckStatus_TOO_LATE)
	}
	r.pending = keep
}

// sendAck acknowledges the downlink frame. The given item gets the status,
// the other items are ignored. A negative item applies the status to all.
func (r *Radio) sendAck(df gw.DownlinkFrame, item int, status gw.TxAckStatus) {
	ack := gw.DownlinkTXAck{
		GatewayId:  r.config.GatewayID[:],
		Token:      df.GetToken(),
		DownlinkId: df.GetDownlinkId(),
	}
	for i := range df.GetItems() {
		s := gw.TxAckStatus_IGNORED
		if item < 0 || i == item {
			s = status
		}
		ack.Items = append(ack.Items, &gw.DownlinkTXAckItem{Status: s})
	}
	if status != gw.TxAckStatus_OK {
		ack.Error = status.String()
	}

	if err := r.backend.SendDownlinkTXAck(ack); err != nil {
		log.WithError(err).WithField("gateway_id", r.config.GatewayID).Error("gateway: send downlink tx ack error")
	}
}

func (r *Radio) uplinkFrame(freq uint32, c radio.TxConfig, b []byte) (gw.UplinkFrame, error) {
	uplinkID, err := uuid.NewV4()
	if err != nil {
		return gw.UplinkFrame{}, errors.Wrap(err, "new uuid error")
	}

	// the context holds the concentrator counter in microseconds, it is
	// returned by the network server in the downlink tx-info.
	tmst := make([]byte, 4)
	binary.BigEndian.PutUint32(tmst, uint32(time.Since(r.start)/time.Microsecond))

	txInfo := gw.UplinkTXInfo{
		Frequency: freq,
	}

	switch c.Modulation {
	case radio.ModemLoRa:
		txInfo.Modulation = common.Modulation_LORA
		txInfo.ModulationInfo = &gw.UplinkTXInfo_LoraModulationInfo{
			LoraModulationInfo: &gw.LoRaModulationInfo{
				Bandwidth:       uint32(c.Bandwidth),
				SpreadingFactor: uint32(c.SpreadFactor),
				CodeRate:        codeRate(c.CodeRate),
			},
		}
	case radio.ModemFSK:
		txInfo.Modulation = common.Modulation_FSK
		txInfo.ModulationInfo = &gw.UplinkTXInfo_FskModulationInfo{
			FskModulationInfo: &gw.FSKModulationInfo{
				FrequencyDeviation: c.Fdev,
				Datarate:           uint32(c.Bitrate),
			},
		}
	default:
		return gw.UplinkFrame{}, fmt.Errorf("unknown modulation: %s", c.Modulation)
	}

	return gw.UplinkFrame{
		PhyPayload: b,
		TxInfo:     &txInfo,
		RxInfo: &gw.UplinkRXInfo{
			GatewayId: r.config.GatewayID[:],
			Rssi:      int32(r.config.RSSI),
			LoraSnr:   float64(r.config.SNR),
			Context:   tmst,
			UplinkId:  uplinkID.Bytes(),
		},
	}, nil
}

func codeRate(cr int) string {
	if cr < 1 || cr > 4 {
		cr = 1
	}
	return fmt.Sprintf("4/%d", cr+4)
}
