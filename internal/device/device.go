// Package device implements the end-device application: it activates the
// MAC, sends the periodic uplink and persists the device context.
package device

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	madr "github.com/brocaar/chirpstack-device-mac/internal/adr"
	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/config"
	"github.com/brocaar/chirpstack-device-mac/internal/mac"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
	"github.com/brocaar/chirpstack-device-mac/internal/radio"
	"github.com/brocaar/chirpstack-device-mac/internal/secureelement"
	"github.com/brocaar/chirpstack-device-mac/internal/security"
	"github.com/brocaar/chirpstack-device-mac/internal/storage"
	"github.com/brocaar/chirpstack-device-mac/internal/timer"
	"github.com/brocaar/lorawan"
)

const (
	defaultUplinkInterval    = time.Minute
	defaultJoinRetryInterval = 10 * time.Second
	busyRetryInterval        = time.Second
)

// Store persists the device state.
type Store interface {
	GetDeviceContext(ctx context.Context, devEUI lorawan.EUI64) (storage.DeviceContext, error)
	SaveDeviceContext(ctx context.Context, dc storage.DeviceContext) error
	AddDevNonce(ctx context.Context, devEUI lorawan.EUI64, devNonce uint16) error
	GetLastDevNonce(ctx context.Context, devEUI lorawan.EUI64) (uint16, error)
}

// Device drives the MAC layer of a single end-device.
type Device struct {
	devEUI lorawan.EUI64
	kek    lorawan.AES128Key
	store  Store
	se     *secureelement.SoftSE
	mac    *mac.MAC

	activation     models.Activation
	class          models.DeviceClass
	lrWanVersion   security.Version
	abp            abpSession
	uplinkInterval time.Duration
	joinRetry      time.Duration
	fPort          uint8
	payload        []byte
	confirmed      bool
	retries        uint8
	datarate       uint8
	pingSlotPeriod uint8

	uplinkTimer timer.Timer
	joinTimer   timer.Timer
	uplinkDue   uint32
	joinDue     uint32

	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
}

type abpSession struct {
	devAddr     lorawan.DevAddr
	netID       lorawan.NetID
	appSKey     lorawan.AES128Key
	nwkSEncKey  lorawan.AES128Key
	sNwkSIntKey lorawan.AES128Key
	fNwkSIntKey lorawan.AES128Key
}

// New creates the device, restoring the persisted context when it exists.
func New(c config.Config, r radio.Radio, clock timer.Clock, store Store) (*Device, error) {
	var err error

	d := Device{
		devEUI:         c.Device.DevEUI,
		kek:            c.Device.KEK,
		store:          store,
		se:             secureelement.NewSoftSE(rand.Reader),
		uplinkInterval: c.MAC.UplinkInterval,
		joinRetry:      c.MAC.JoinRetryInterval,
		fPort:          c.MAC.FPort,
		confirmed:      c.MAC.Confirmed,
		retries:        c.MAC.Retries,
		datarate:       c.MAC.Datarate,
		pingSlotPeriod: c.MAC.PingSlotPeriodicity,
		notify:         make(chan struct{}, 1),
		stop:           make(chan struct{}),
		abp: abpSession{
			devAddr:     c.Device.DevAddr,
			netID:       c.Device.NetID,
			appSKey:     c.Device.AppSKey,
			nwkSEncKey:  c.Device.NwkSEncKey,
			sNwkSIntKey: c.Device.SNwkSIntKey,
			fNwkSIntKey: c.Device.FNwkSIntKey,
		},
	}

	if d.uplinkInterval == 0 {
		d.uplinkInterval = defaultUplinkInterval
	}
	if d.joinRetry == 0 {
		d.joinRetry = defaultJoinRetryInterval
	}
	if d.fPort == 0 {
		d.fPort = 1
	}

	if d.activation, err = parseActivation(c.Device.Activation); err != nil {
		return nil, err
	}
	if d.class, err = parseClass(c.Device.Class); err != nil {
		return nil, err
	}
	if d.lrWanVersion, err = parseVersion(c.Device.LoRaWANVersion); err != nil {
		return nil, err
	}
	if d.payload, err = hex.DecodeString(c.MAC.Payload); err != nil {
		return nil, errors.Wrap(err, "decode payload error")
	}

	region, err := band.New(c.Region.Name, c.Region.RepeaterCompatible, c.Region.DwellTime400ms)
	if err != nil {
		return nil, errors.Wrap(err, "new region error")
	}

	handlerID := c.ADR.Handler
	if handlerID == "" {
		handlerID = "default"
	}
	adrHandler, err := madr.GetHandler(handlerID)
	if err != nil {
		return nil, errors.Wrapf(err, "get adr handler %s error", handlerID)
	}

	macCtx, restored, err := d.restore(c, region, clock.Now())
	if err != nil {
		return nil, err
	}

	d.se.SetDevEUI(c.Device.DevEUI)
	d.se.SetJoinEUI(c.Device.JoinEUI)

	d.mac, err = mac.New(mac.Config{
		Region:        region,
		Radio:         r,
		SecureElement: d.se,
		Clock:         clock,
		ADR:           adrHandler,
		Context:       macCtx,
		Battery:       func() uint8 { return 0 },
		Callbacks: mac.Callbacks{
			McpsConfirm:    d.mcpsConfirm,
			McpsIndication: d.mcpsIndication,
			MlmeConfirm:    d.mlmeConfirm,
			MlmeIndication: d.mlmeIndication,
			Notify:         d.signal,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "new mac error")
	}

	d.uplinkTimer = clock.NewTimer(func() {
		atomic.StoreUint32(&d.uplinkDue, 1)
		d.signal()
	})
	d.joinTimer = clock.NewTimer(func() {
		atomic.StoreUint32(&d.joinDue, 1)
		d.signal()
	})

	log.WithFields(log.Fields{
		"dev_eui":    d.devEUI,
		"activation": d.activation,
		"class":      d.class,
		"restored":   restored,
	}).Info("device: created")

	return &d, nil
}

// restore returns the persisted MAC context and imports the persisted key
// store. When nothing was persisted, the root keys are loaded from the
// configuration and a fresh context is returned.
func (d *Device) restore(c config.Config, region band.Region, now time.Time) (*mac.Context, bool, error) {
	ctx := context.Background()

	dc, err := d.store.GetDeviceContext(ctx, d.devEUI)
	if err == nil && len(dc.KeyStore) != 0 {
		if err := d.se.Import(d.kek, dc.KeyStore); err != nil {
			return nil, false, errors.Wrap(err, "import key store error")
		}
		return &dc.MAC, true, nil
	}
	if err != nil && errors.Cause(err) != storage.ErrDoesNotExist {
		return nil, false, errors.Wrap(err, "get device context error")
	}

	nwkKey := c.Device.NwkKey
	if nwkKey == (lorawan.AES128Key{}) {
		nwkKey = c.Device.AppKey
	}
	if err := d.se.SetKey(secureelement.AppKey, c.Device.AppKey); err != nil {
		return nil, false, errors.Wrap(err, "set app_key error")
	}
	if err := d.se.SetKey(secureelement.NwkKey, nwkKey); err != nil {
		return nil, false, errors.Wrap(err, "set nwk_key error")
	}

	mc := mac.NewContext(region, now)
	mc.AdrEnabled = c.MAC.ADR
	mc.PublicNetwork = c.MAC.PublicNetwork
	mc.DutyCycleOn = c.MAC.DutyCycle
	if c.MAC.SystemMaxRxError != 0 {
		mc.Params.SystemMaxRxError = c.MAC.SystemMaxRxError
	}
	if c.MAC.MinRxSymbols != 0 {
		mc.Params.MinRxSymbols = c.MAC.MinRxSymbols
	}
	mc.DefaultParams.SystemMaxRxError = mc.Params.SystemMaxRxError
	mc.DefaultParams.MinRxSymbols = mc.Params.MinRxSymbols

	// never re-use a DevNonce of an earlier session
	devNonce, err := d.store.GetLastDevNonce(ctx, d.devEUI)
	if err != nil && errors.Cause(err) != storage.ErrDoesNotExist {
		return nil, false, errors.Wrap(err, "get last dev-nonce error")
	}
	if devNonce > mc.Security.DevNonce {
		mc.Security.DevNonce = devNonce
	}

	return &mc, false, nil
}

// MAC returns the MAC layer. It must only be used from the goroutine
// driving the device, or before Start.
func (d *Device) MAC() *mac.MAC {
	return d.mac
}

// Start activates the device and starts the processing loop.
func (d *Device) Start() error {
	if err := d.activate(); err != nil {
		return err
	}

	d.wg.Add(1)
	go d.loop()

	return nil
}

// Stop stops the processing loop and saves the device context.
func (d *Device) Stop() error {
	close(d.stop)
	d.wg.Wait()

	d.uplinkTimer.Stop()
	d.joinTimer.Stop()

	return d.save()
}

func (d *Device) loop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stop:
			return
		case <-d.notify:
			d.handle()
		}
	}
}

func (d *Device) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Device) handle() {
	d.mac.Process()

	if atomic.CompareAndSwapUint32(&d.joinDue, 1, 0) {
		d.join()
	}
	if atomic.CompareAndSwapUint32(&d.uplinkDue, 1, 0) {
		d.sendUplink()
	}
}

func (d *Device) activate() error {
	if d.joined() {
		log.WithField("dev_eui", d.devEUI).Info("device: session restored")
		d.uplinkTimer.Start(0)
		return nil
	}

	switch d.activation {
	case models.ActivationOTAA:
		d.join()
	case models.ActivationABP:
		if err := d.activateABP(); err != nil {
			return errors.Wrap(err, "activate abp error")
		}
		d.switchClass()
		d.uplinkTimer.Start(0)
	}

	return nil
}

func (d *Device) activateABP() error {
	s := d.abp

	// LoRaWAN 1.0 uses a single network session key
	if s.sNwkSIntKey == (lorawan.AES128Key{}) {
		s.sNwkSIntKey = s.fNwkSIntKey
	}
	if s.nwkSEncKey == (lorawan.AES128Key{}) {
		s.nwkSEncKey = s.fNwkSIntKey
	}

	for _, p := range []models.MibParam{
		{Type: models.MibABPLrWanVersion, Value: d.lrWanVersion},
		{Type: models.MibNetID, Value: s.netID},
		{Type: models.MibDevAddr, Value: s.devAddr},
		{Type: models.MibFNwkSIntKey, Value: s.fNwkSIntKey},
		{Type: models.MibSNwkSIntKey, Value: s.sNwkSIntKey},
		{Type: models.MibNwkSEncKey, Value: s.nwkSEncKey},
		{Type: models.MibAppSKey, Value: s.appSKey},
		{Type: models.MibNetworkActivation, Value: models.ActivationABP},
	} {
		if err := d.mac.MibSet(p); err != nil {
			return errors.Wrapf(err, "set mib %d error", p.Type)
		}
	}

	log.WithFields(log.Fields{
		"dev_eui":  d.devEUI,
		"dev_addr": s.devAddr,
		"version":  d.lrWanVersion,
	}).Info("device: abp session activated")

	return d.save()
}

func (d *Device) joined() bool {
	mp, err := d.mac.MibGet(models.MibIsNetworkJoined)
	if err != nil {
		return false
	}
	joined, _ := mp.Value.(bool)
	return joined
}

func (d *Device) join() {
	err := d.mac.MlmeRequest(models.MlmeReq{
		Type: models.MlmeJoin,
	})
	if err != nil {
		retry := d.retryInterval(err, d.joinRetry)
		log.WithError(err).WithFields(log.Fields{
			"dev_eui": d.devEUI,
			"retry":   retry,
		}).Warning("device: join-request error")
		d.joinTimer.Start(retry)
		return
	}

	log.WithField("dev_eui", d.devEUI).Info("device: join-request scheduled")
}

func (d *Device) sendUplink() {
	if !d.joined() {
		return
	}

	typ := models.McpsUnconfirmed
	if d.confirmed {
		typ = models.McpsConfirmed
	}

	err := d.mac.McpsRequest(models.McpsReq{
		Type:     typ,
		FPort:    d.fPort,
		Payload:  d.payload,
		Datarate: d.datarate,
		NbTrials: d.retries,
	})
	if err != nil {
		retry := d.retryInterval(err, d.uplinkInterval)
		log.WithError(err).WithFields(log.Fields{
			"dev_eui": d.devEUI,
			"retry":   retry,
		}).Warning("device: uplink request error")
		d.uplinkTimer.Start(retry)
		return
	}

	log.WithFields(log.Fields{
		"dev_eui": d.devEUI,
		"type":    typ,
		"f_port":  d.fPort,
	}).Info("device: uplink scheduled")
}

// retryInterval returns the delay before a refused request is retried.
func (d *Device) retryInterval(err error, def time.Duration) time.Duration {
	switch errors.Cause(err) {
	case models.StatusBusy:
		return busyRetryInterval
	case models.StatusDutyCycleRestricted:
		if w := d.mac.DutyCycleWaitTime(); w > 0 {
			return w
		}
	}
	return def
}

// switchClass requests the configured device class. Class B is entered
// once the ping-slot is assigned and the beacon is locked.
func (d *Device) switchClass() {
	switch d.class {
	case models.ClassA:
		return
	case models.ClassB:
		if err := d.mac.MlmeRequest(models.MlmeReq{
			Type:                models.MlmePingSlotInfo,
			PingSlotPeriodicity: d.pingSlotPeriod,
		}); err != nil {
			log.WithError(err).Warning("device: ping-slot info request error")
		}
		if err := d.mac.MlmeRequest(models.MlmeReq{Type: models.MlmeBeaconAcquisition}); err != nil {
			log.WithError(err).Warning("device: beacon acquisition request error")
		}
		return
	}

	d.setClass(d.class)
}

func (d *Device) setClass(c models.DeviceClass) {
	if err := d.mac.MibSet(models.MibParam{Type: models.MibDeviceClass, Value: c}); err != nil {
		log.WithError(err).WithField("class", c).Warning("device: switch class error")
		return
	}
	log.WithField("class", c).Info("device: class switched")
}

func (d *Device) save() error {
	ks, err := d.se.Export(d.kek)
	if err != nil {
		return errors.Wrap(err, "export key store error")
	}

	err = d.store.SaveDeviceContext(context.Background(), storage.DeviceContext{
		DevEUI:   d.devEUI,
		MAC:      d.mac.Context(),
		KeyStore: ks,
	})
	if err != nil {
		return errors.Wrap(err, "save device context error")
	}
	return nil
}

func (d *Device) saveOrLog() {
	if err := d.save(); err != nil {
		log.WithError(err).WithField("dev_eui", d.devEUI).Error("device: save context error")
	}
}

func parseActivation(s string) (models.Activation, error) {
	switch strings.ToLower(s) {
	case "", "otaa":
		return models.ActivationOTAA, nil
	case "abp":
		return models.ActivationABP, nil
	}
	return models.ActivationNone, errors.Errorf("unknown activation: %s", s)
}

func parseClass(s string) (models.DeviceClass, error) {
	switch strings.ToUpper(s) {
	case "", "A":
		return models.ClassA, nil
	case "B":
		return models.ClassB, nil
	case "C":
		return models.ClassC, nil
	}
	return models.ClassA, errors.Errorf("unknown device class: %s", s)
}

func parseVersion(s string) (security.Version, error) {
	switch s {
	case "", "1.0.4", "1.0":
		return security.LoRaWAN1_0_4, nil
	case "1.1.1", "1.1":
		return security.LoRaWAN1_1_1, nil
	}
	return security.Version{}, errors.Errorf("unsupported lorawan version: %s", s)
}
