// Package mac implements the LoRaWAN end-device MAC layer. It exposes the
// data service (MCPS), the management service (MLME) and the information
// base (MIB) to the upper layer and drives the radio, the receive windows,
// the retransmissions and the class B and class C operation.
//
// The MAC is not safe for concurrent use. The radio and timer callbacks only
// record their event and call Callbacks.Notify, after which the upper layer
// must call Process from the goroutine owning the MAC. The confirms and
// indications are delivered from within Process.
package mac

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/adr"
	madr "github.com/brocaar/chirpstack-device-mac/internal/adr"
	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/classb"
	"github.com/brocaar/chirpstack-device-mac/internal/codec"
	"github.com/brocaar/chirpstack-device-mac/internal/confirmqueue"
	"github.com/brocaar/chirpstack-device-mac/internal/gps"
	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/chirpstack-device-mac/internal/maccommand"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
	"github.com/brocaar/chirpstack-device-mac/internal/radio"
	"github.com/brocaar/chirpstack-device-mac/internal/secureelement"
	"github.com/brocaar/chirpstack-device-mac/internal/security"
	"github.com/brocaar/chirpstack-device-mac/internal/timer"
)

const stateIdle uint32 = 0

// MAC states. Multiple bits can be set at the same time.
const (
	stateTxRunning uint32 = 1 << iota
	stateTxDelayed
	stateAckReq
	stateAckRetry
	stateRxAbort
	stateTxConfig
)

// events set by the radio and timer callbacks
const (
	eventTxDone uint32 = 1 << iota
	eventRxDone
	eventTxTimeout
	eventRxError
	eventRxTimeout
	eventRxWindow1
	eventRxWindow2
	eventRetransmit
	eventTxDelayed
	eventForceRejoin
	eventRejoin0
)

// maxAckRetries caps the number of transmissions of a confirmed uplink.
const maxAckRetries = 8

// Callbacks holds the upper layer callbacks.
type Callbacks struct {
	McpsConfirm    func(models.McpsConfirm)
	McpsIndication func(models.McpsIndication)
	MlmeConfirm    func(models.MlmeConfirm)
	MlmeIndication func(models.MlmeIndication)

	// Notify is called, possibly from another goroutine, when Process must
	// be called.
	Notify func()
}

// Config holds the MAC configuration.
type Config struct {
	Region        band.Region
	Radio         radio.Radio
	SecureElement secureelement.SecureElement
	Clock         timer.Clock
	Callbacks     Callbacks

	// ADR defaults to the "default" handler.
	ADR adr.Handler

	// Context restores a previously persisted state.
	Context *Context

	// Battery returns the battery level reported in DevStatusAns.
	Battery func() uint8

	// ComplianceTest enables the use of FPort 224.
	ComplianceTest bool
}

type txKind int

const (
	txData txKind = iota
	txJoin
	txProprietary
)

type joinRequest struct {
	mlme     models.MlmeType
	reqType  security.JoinReqType
	internal bool
	accepted bool
}

type forceRejoin struct {
	params maccommand.ForceRejoinParams
	sent   uint8
}

// MAC implements the LoRaWAN end-device MAC layer.
type MAC struct {
	region         band.Region
	radio          radio.Radio
	clock          timer.Clock
	crypto         *security.Engine
	adr            adr.Handler
	cb             Callbacks
	battery        func() uint8
	complianceTest bool

	ctx    Context
	gps    gps.Clock
	sched  *classb.Scheduler
	buffer maccommand.Buffer
	queue  confirmqueue.Queue
	dev    *device

	state  uint32
	events uint32

	rxBeacon bool

	rxMu      sync.Mutex
	rxPayload []byte
	rxRSSI    int16
	rxSNR     int8

	rx1Timer         timer.Timer
	rx2Timer         timer.Timer
	retransmitTimer  timer.Timer
	txDelayedTimer   timer.Timer
	forceRejoinTimer timer.Timer
	rejoin0Timer     timer.Timer

	// current exchange
	exchange          context.Context
	kind              txKind
	txFrame           codec.DataFrame
	txBuf             []byte
	txFCnt            uint32
	txCmdsSize        int
	channel           int
	txToa             time.Duration
	txDoneAt          time.Time
	rx1Params         band.RxWindowParams
	rx2Params         band.RxWindowParams
	rx1Delay          time.Duration
	rx2Delay          time.Duration
	rxSlot            models.RxSlot
	rxDatarate        uint8
	rxDoneAt          time.Time
	cmdSNR            int8
	nodeAckRequested  bool
	nbTransCounter    uint8
	ackRetries        uint8
	ackRetriesCounter uint8
	retransmitPending bool
	rxWindowsClosed   bool
	downlinkReceived  bool
	txTimedOut        bool
	joinReq           *joinRequest
	dutyCycleWait     time.Duration
	forceRejoin       *forceRejoin
	rejoin0Due        bool
	macDone           bool

	mcpsConfirm        models.McpsConfirm
	mcpsConfirmPending bool
	mcpsInd            models.McpsIndication
	mcpsIndPending     bool
	mlmeConfirm        models.MlmeConfirm
	mlmeInds           []models.MlmeIndication
}

// New creates a new MAC layer.
func New(c Config) (*MAC, error) {
	if c.Region == nil || c.Radio == nil || c.SecureElement == nil {
		return nil, models.StatusParameterInvalid
	}
	if c.Clock == nil {
		c.Clock = timer.Real{}
	}
	if c.ADR == nil {
		h, err := madr.GetHandler("default")
		if err != nil {
			return nil, errors.Wrap(err, "get adr handler error")
		}
		c.ADR = h
	}

	m := MAC{
		region:         c.Region,
		radio:          c.Radio,
		clock:          c.Clock,
		adr:            c.ADR,
		cb:             c.Callbacks,
		battery:        c.Battery,
		complianceTest: c.ComplianceTest,
		rxSlot:         models.RxSlotNone,
		exchange:       context.Background(),
	}
	m.dev = &device{m: &m}

	if c.Context != nil {
		m.ctx = *c.Context
		if err := m.region.SetState(m.ctx.Region); err != nil {
			return nil, errors.Wrap(err, "restore region state error")
		}
		if err := m.buffer.SetCommands(m.ctx.MacCommands); err != nil {
			return nil, errors.Wrap(err, "restore mac-commands error")
		}
	} else {
		m.ctx = NewContext(m.region, m.clock.Now())
	}

	var err error
	m.crypto, err = security.New(c.SecureElement, &m.ctx.Security)
	if err != nil {
		return nil, errors.Wrap(err, "new security engine error")
	}

	m.rx1Timer = m.clock.NewTimer(func() { m.signal(eventRxWindow1) })
	m.rx2Timer = m.clock.NewTimer(func() { m.signal(eventRxWindow2) })
	m.retransmitTimer = m.clock.NewTimer(func() { m.signal(eventRetransmit) })
	m.txDelayedTimer = m.clock.NewTimer(func() { m.signal(eventTxDelayed) })
	m.forceRejoinTimer = m.clock.NewTimer(func() { m.signal(eventForceRejoin) })
	m.rejoin0Timer = m.clock.NewTimer(func() { m.signal(eventRejoin0) })

	m.sched = classb.New(classb.Config{
		Clock:     m.clock,
		GPS:       &m.gps,
		Region:    m.region,
		Encrypter: c.SecureElement,
		Host:      m.dev,
		Params:    classb.DefaultParams(),
	})
	if c.Context != nil {
		m.sched.SetContext(m.ctx.ClassB)
	}

	m.radio.Init(&radio.Events{
		TxDone:    func() { m.signal(eventTxDone) },
		TxTimeout: func() { m.signal(eventTxTimeout) },
		RxDone:    m.onRxDone,
		RxTimeout: func() { m.signal(eventRxTimeout) },
		RxError:   func() { m.signal(eventRxError) },
	})
	m.radio.SetPublicNetwork(m.ctx.PublicNetwork)
	m.radio.Sleep()

	if m.ctx.DeviceClass == models.ClassC && m.joined() {
		m.openRxC()
	}

	log.WithFields(log.Fields{
		"region":     m.region.Name(),
		"class":      m.ctx.DeviceClass,
		"activation": m.ctx.Activation,
		"dev_addr":   m.ctx.DevAddr,
	}).Info("mac: initialized")

	return &m, nil
}

// Context returns a snapshot of the persistable state.
func (m *MAC) Context() Context {
	c := m.ctx
	c.Region = m.region.State()
	c.MacCommands = m.buffer.Commands()
	c.ClassB = m.sched.Context()
	c.Security = *m.crypto.Context()
	return c
}

// IsBusy returns true while a transmission or its receive windows are
// pending.
func (m *MAC) IsBusy() bool {
	return m.state != stateIdle
}

// DutyCycleWaitTime returns the time to wait after a request was rejected
// with StatusDutyCycleRestricted.
func (m *MAC) DutyCycleWaitTime() time.Duration {
	return m.dutyCycleWait
}

func (m *MAC) joined() bool {
	return m.ctx.Activation != models.ActivationNone
}

func (m *MAC) signal(ev uint32) {
	for {
		old := atomic.LoadUint32(&m.events)
		if atomic.CompareAndSwapUint32(&m.events, old, old|ev) {
			break
		}
	}
	if m.cb.Notify != nil {
		m.cb.Notify()
	}
}

func (m *MAC) onRxDone(payload []byte, rssi int16, snr int8) {
	b := make([]byte, len(payload))
	copy(b, payload)

	m.rxMu.Lock()
	m.rxPayload = b
	m.rxRSSI = rssi
	m.rxSNR = snr
	m.rxMu.Unlock()

	m.signal(eventRxDone)
}

// Process handles the pending radio and timer events and delivers the
// resulting confirms and indications.
func (m *MAC) Process() {
	ev := atomic.SwapUint32(&m.events, 0)

	if ev&eventTxDone != 0 {
		m.handleTxDone()
	}
	if ev&eventRxDone != 0 {
		m.handleRxDone()
	}
	if ev&eventTxTimeout != 0 {
		m.handleTxTimeout()
	}
	if ev&eventRxError != 0 {
		m.handleRxClosed(true)
	}
	if ev&eventRxTimeout != 0 {
		m.handleRxClosed(false)
	}
	if ev&eventRxWindow1 != 0 {
		m.openRxWindow1()
	}
	if ev&eventRxWindow2 != 0 {
		m.openRxWindow2()
	}
	if ev&eventTxDelayed != 0 {
		m.handleTxDelayed()
	}

	m.sched.Process()

	if m.macDone {
		m.macDone = false
		m.processDone()
	}

	if ev&eventRetransmit != 0 {
		m.retransmitPending = true
	}
	if m.retransmitPending {
		m.handleRetransmit()
	}
	if ev&eventForceRejoin != 0 {
		m.handleForceRejoin()
	}
	if ev&eventRejoin0 != 0 {
		m.rejoin0Due = true
		m.startRejoin0Timer()
	}
	if m.rejoin0Due && !m.IsBusy() && m.joined() {
		m.rejoin0Due = false
		if err := m.sendJoin(models.MlmeRejoin0, m.ctx.Params.ChannelsDatarate, true, true); err != nil {
			log.WithError(err).Warning("mac: send rejoin-request type 0 error")
		}
	}

	m.handleIndications()
}

func (m *MAC) handleIndications() {
	if m.mcpsConfirmPending && m.state&(stateTxRunning|stateTxDelayed) == 0 {
		m.mcpsConfirmPending = false
		if m.cb.McpsConfirm != nil {
			m.cb.McpsConfirm(m.mcpsConfirm)
		}
	}

	m.queue.HandleCallbacks(func(e confirmqueue.Entry) {
		c := m.mlmeConfirm
		c.Type = e.Request
		c.Status = e.Status
		if m.cb.MlmeConfirm != nil {
			m.cb.MlmeConfirm(c)
		}
	})

	if m.mcpsIndPending {
		m.mcpsIndPending = false
		if m.cb.McpsIndication != nil {
			m.cb.McpsIndication(m.mcpsInd)
		}
	}

	inds := m.mlmeInds
	m.mlmeInds = nil
	for _, ind := range inds {
		if m.cb.MlmeIndication != nil {
			m.cb.MlmeIndication(ind)
		}
	}
}

func (m *MAC) indicate(t models.MlmeType, status models.EventInfoStatus) {
	for _, ind := range m.mlmeInds {
		if ind.Type == t {
			return
		}
	}
	m.mlmeInds = append(m.mlmeInds, models.MlmeIndication{Type: t, Status: status})
}

// randomDuration returns a random duration in [-d, d] with millisecond
// resolution.
func (m *MAC) randomDuration(d time.Duration) time.Duration {
	ms := int64(d / time.Millisecond)
	if ms <= 0 {
		return 0
	}
	v := int64(m.radio.Random()%uint32(2*ms+1)) - ms
	return time.Duration(v) * time.Millisecond
}

func (m *MAC) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(m.radio.Random() % uint32(n))
}

func (m *MAC) logFields() log.Fields {
	return log.Fields{
		"dev_addr": m.ctx.DevAddr,
		"ctx_id":   m.exchange.Value(logging.ContextIDKey),
	}
}

// newExchange assigns a new log correlation id to the following exchange.
func (m *MAC) newExchange() {
	ctx, err := logging.NewContext(context.Background())
	if err != nil {
		log.WithError(err).Error("mac: new exchange context error")
		ctx = context.Background()
	}
	m.exchange = ctx
}
