// Package gcppubsub implements a gateway backend using Google Cloud Pub/Sub,
// publishing events the way Cloud IoT Core forwards them for a registered
// gateway device.
package gcppubsub

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/gofrs/uuid"
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/brocaar/chirpstack-api/go/v3/gw"
	"github.com/brocaar/chirpstack-device-mac/internal/config"
	"github.com/brocaar/chirpstack-device-mac/internal/radio/gateway"
	"github.com/brocaar/chirpstack-device-mac/internal/radio/marshaler"
	"github.com/brocaar/lorawan"
)

const downlinkSubscriptionTmpl = "%s-gw-%s"

var _ gateway.Backend = &Backend{}

// Backend implements a Google Cloud Pub/Sub backend.
type Backend struct {
	sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	client               *pubsub.Client
	uplinkTopic          *pubsub.Topic
	downlinkSubscription *pubsub.Subscription

	gatewayID         lorawan.EUI64
	marshaler         marshaler.Type
	downlinkFrameChan chan gw.DownlinkFrame
}

// NewBackend creates a new Backend.
func NewBackend(c config.Config) (*Backend, error) {
	conf := c.Radio.Backend.GCPPubSub

	b := Backend{
		gatewayID:         c.Radio.Backend.GatewayID,
		downlinkFrameChan: make(chan gw.DownlinkFrame),
	}
	var err error
	var o []option.ClientOption

	b.marshaler, err = marshaler.ParseType(c.Radio.Backend.Marshaler)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/gcp_pub_sub: parse marshaler error")
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())

	if conf.CredentialsFile != "" {
		o = append(o, option.WithCredentialsFile(conf.CredentialsFile))
	}

	log.Info("gateway/gcp_pub_sub: setting up client")
	b.client, err = pubsub.NewClient(b.ctx, conf.ProjectID, o...)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/gcp_pub_sub: new pubsub client error")
	}

	log.WithField("topic", conf.UplinkTopicName).Info("gateway/gcp_pub_sub: setup uplink topic")
	b.uplinkTopic = b.client.Topic(conf.UplinkTopicName)
	ok, err := b.uplinkTopic.Exists(b.ctx)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/gcp_pub_sub: topic exists error")
	}
	if !ok {
		return nil, fmt.Errorf("gateway/gcp_pub_sub: uplink topic '%s' does not exist", conf.UplinkTopicName)
	}

	log.WithField("topic", conf.DownlinkTopicName).Info("gateway/gcp_pub_sub: setup downlink topic")
	downlinkTopic := b.client.Topic(conf.DownlinkTopicName)
	ok, err = downlinkTopic.Exists(b.ctx)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/gcp_pub_sub: topic exists error")
	}
	if !ok {
		return nil, fmt.Errorf("gateway/gcp_pub_sub: downlink topic '%s' does not exist", conf.DownlinkTopicName)
	}

	downSubName := fmt.Sprintf(downlinkSubscriptionTmpl, conf.DownlinkTopicName, b.gatewayID)

	log.WithField("subscription", downSubName).Info("gateway/gcp_pub_sub: check if downlink subscription exists")
	b.downlinkSubscription = b.client.Subscription(downSubName)
	ok, err = b.downlinkSubscription.Exists(b.ctx)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/gcp_pub_sub: subscription exists error")
	}

	if !ok {
		log.WithField("subscription", downSubName).Info("gateway/gcp_pub_sub: create downlink subscription")
		b.downlinkSubscription, err = b.client.CreateSubscription(b.ctx, downSubName, pubsub.SubscriptionConfig{
			Topic:             downlinkTopic,
			RetentionDuration: conf.DownlinkRetentionDuration,
			Filter:            fmt.Sprintf(`attributes.deviceId = "%s"`, b.deviceID()),
		})
		if err != nil {
			return nil, errors.Wrap(err, "gateway/gcp_pub_sub: create subscription error")
		}
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		for {
			err := b.downlinkSubscription.Receive(b.ctx, b.receiveFunc)
			if err != nil && b.ctx.Err() == nil {
				log.WithError(err).Error("gateway/gcp_pub_sub: receive error")
				time.Sleep(time.Second * 2)
				continue
			}

			break
		}
	}()

	return &b, nil
}

// SendUplinkFrame publishes the given uplink frame.
func (b *Backend) SendUplinkFrame(pl gw.UplinkFrame) error {
	var upID uuid.UUID
	copy(upID[:], pl.GetRxInfo().GetUplinkId())

	return b.publishEvent(log.Fields{
		"uplink_id": upID,
	}, "up", &pl)
}

// SendDownlinkTXAck publishes the given downlink acknowledgement.
func (b *Backend) SendDownlinkTXAck(pl gw.DownlinkTXAck) error {
	var downID uuid.UUID
	copy(downID[:], pl.GetDownlinkId())

	return b.publishEvent(log.Fields{
		"downlink_id": downID,
	}, "ack", &pl)
}

// DownlinkFrameChan returns the downlink-frame channel.
func (b *Backend) DownlinkFrameChan() chan gw.DownlinkFrame {
	return b.downlinkFrameChan
}

// Close stops receiving and closes the client.
func (b *Backend) Close() error {
	log.Info("gateway/gcp_pub_sub: closing backend")
	b.Lock()
	b.closed = true
	b.Unlock()

	b.cancel()
	b.wg.Wait()
	close(b.downlinkFrameChan)
	return b.client.Close()
}

func (b *Backend) deviceID() string {
	return "gw-" + b.gatewayID.String()
}

func (b *Backend) eventAttributes(event string) map[string]string {
	return map[string]string{
		"deviceId":  b.deviceID(),
		"subFolder": event,
	}
}

func (b *Backend) publishEvent(fields log.Fields, event string, msg proto.Message) error {
	start := time.Now()

	bb, err := marshaler.Marshal(b.marshaler, msg)
	if err != nil {
		return errors.Wrap(err, "gateway/gcp_pub_sub: marshal event error")
	}

	res := b.uplinkTopic.Publish(b.ctx, &pubsub.Message{
		Data:       bb,
		Attributes: b.eventAttributes(event),
	})
	if _, err := res.Get(b.ctx); err != nil {
		return errors.Wrap(err, "gateway/gcp_pub_sub: get publish result error")
	}

	fields["duration"] = time.Now().Sub(start)
	fields["gateway_id"] = b.gatewayID
	fields["event"] = event

	log.WithFields(fields).Info("gateway/gcp_pub_sub: event published")

	gcpEventCounter(event).Inc()

	return nil
}

func (b *Backend) receiveFunc(ctx context.Context, msg *pubsub.Message) {
	msg.Ack()
	b.handleMessage(msg.Attributes, msg.Data)
}

func (b *Backend) handleMessage(attr map[string]string, data []byte) {
	b.RLock()
	if b.closed {
		b.RUnlock()
		return
	}
	b.wg.Add(1)
	b.RUnlock()
	defer b.wg.Done()

	if id := attr["deviceId"]; id != b.deviceID() {
		log.WithField("device_id", id).Debug("gateway/gcp_pub_sub: ignoring message for other device")
		return
	}

	typ, ok := attr["subFolder"]
	if !ok {
		log.Error("gateway/gcp_pub_sub: received message does not contain 'subFolder' attribute")
		return
	}

	switch typ {
	case "down":
		gcpCommandCounter(typ).Inc()

		var downlinkFrame gw.DownlinkFrame
		if _, err := marshaler.UnmarshalDownlinkFrame(data, &downlinkFrame); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"gateway_id":  b.gatewayID,
				"data_base64": base64.StdEncoding.EncodeToString(data),
			}).Error("gateway/gcp_pub_sub: unmarshal downlink frame error")
			return
		}

		var downID uuid.UUID
		copy(downID[:], downlinkFrame.GetDownlinkId())

		log.WithFields(log.Fields{
			"gateway_id":  b.gatewayID,
			"downlink_id": downID,
		}).Info("gateway/gcp_pub_sub: downlink frame received")

		b.downlinkFrameChan <- downlinkFrame
	default:
		log.WithFields(log.Fields{
			"gateway_id": b.gatewayID,
			"type":       typ,
		}).Debug("gateway/gcp_pub_sub: ignoring command")
	}
}
