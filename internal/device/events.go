package device

import (
	"context"
	"encoding/hex"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/models"
)

func (d *Device) mcpsConfirm(c models.McpsConfirm) {
	log.WithFields(log.Fields{
		"dev_eui":      d.devEUI,
		"type":         c.Type,
		"status":       c.Status,
		"dr":           c.Datarate,
		"tx_power":     c.TxPower,
		"ack_received": c.AckReceived,
		"nb_trans":     c.NbTrans,
		"f_cnt_up":     c.UpLinkCounter,
		"channel":      c.Channel,
		"time_on_air":  c.TxTimeOnAir,
	}).Info("device: mcps confirm")

	uplinkCounter(c.Status).Inc()
	d.saveOrLog()
	d.uplinkTimer.Start(d.uplinkInterval)
}

func (d *Device) mcpsIndication(ind models.McpsIndication) {
	logger := log.WithFields(log.Fields{
		"dev_eui":       d.devEUI,
		"type":          ind.Type,
		"status":        ind.Status,
		"multicast":     ind.Multicast,
		"dev_addr":      ind.DevAddress,
		"rx_slot":       ind.RxSlot,
		"dr":            ind.RxDatarate,
		"rssi":          ind.RSSI,
		"snr":           ind.SNR,
		"f_cnt_down":    ind.DownLinkCounter,
		"ack_received":  ind.AckReceived,
		"frame_pending": ind.FramePending,
	})
	if ind.RxData {
		logger = logger.WithFields(log.Fields{
			"f_port":  ind.FPort,
			"payload": hex.EncodeToString(ind.Buffer),
		})
	}
	logger.Info("device: mcps indication")

	downlinkCounter(ind.Status).Inc()

	// the network has more data for the device
	if ind.FramePending {
		d.uplinkTimer.Start(0)
	}
}

func (d *Device) mlmeConfirm(c models.MlmeConfirm) {
	log.WithFields(log.Fields{
		"dev_eui":     d.devEUI,
		"type":        c.Type,
		"status":      c.Status,
		"nb_retries":  c.NbRetries,
		"time_on_air": c.TxTimeOnAir,
	}).Info("device: mlme confirm")

	switch c.Type {
	case models.MlmeJoin:
		d.joinDone(c)
	case models.MlmeLinkCheck:
		log.WithFields(log.Fields{
			"margin":      c.DemodMargin,
			"nb_gateways": c.NbGateways,
		}).Info("device: link check answer")
	case models.MlmePingSlotInfo, models.MlmeBeaconAcquisition:
		if c.Status == models.EventInfoStatusOK && d.class == models.ClassB {
			d.setClass(models.ClassB)
		}
	}
}

func (d *Device) joinDone(c models.MlmeConfirm) {
	devNonce := d.mac.Context().Security.DevNonce
	if err := d.store.AddDevNonce(context.Background(), d.devEUI, devNonce); err != nil {
		log.WithError(err).WithField("dev_eui", d.devEUI).Error("device: add dev-nonce error")
	}

	joinCounter(c.Status).Inc()

	if c.Status != models.EventInfoStatusOK {
		retry := d.joinRetry
		if w := d.mac.DutyCycleWaitTime(); w > retry {
			retry = w
		}
		log.WithFields(log.Fields{
			"dev_eui": d.devEUI,
			"retry":   retry,
		}).Warning("device: join failed")
		d.joinTimer.Start(retry)
		return
	}

	log.WithFields(log.Fields{
		"dev_eui":  d.devEUI,
		"dev_addr": d.mac.Context().DevAddr,
	}).Info("device: joined")

	d.switchClass()
	d.saveOrLog()
	d.uplinkTimer.Start(0)
}

func (d *Device) mlmeIndication(ind models.MlmeIndication) {
	log.WithFields(log.Fields{
		"dev_eui": d.devEUI,
		"type":    ind.Type,
		"status":  ind.Status,
	}).Info("device: mlme indication")

	switch ind.Type {
	case models.MlmeScheduleUplink:
		d.uplinkTimer.Start(0)
	case models.MlmeRevertJoin:
		d.joinTimer.Start(0)
	case models.MlmeBeacon:
		if ind.Status == models.EventInfoStatusBeaconLocked && d.class == models.ClassB {
			d.setClass(models.ClassB)
		}
	}
}
