// Package amqp implements a gateway backend using AMQP topic routing, as
// supported by the ChirpStack Gateway Bridge integration of RabbitMQ.
package amqp

import (
	"bytes"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/brocaar/chirpstack-api/go/v3/gw"
	"github.com/brocaar/chirpstack-device-mac/internal/config"
	"github.com/brocaar/chirpstack-device-mac/internal/radio/gateway"
	"github.com/brocaar/chirpstack-device-mac/internal/radio/marshaler"
	"github.com/brocaar/lorawan"
)

const exchange = "amq.topic"

var _ gateway.Backend = &Backend{}

// Backend implements an AMQP backend.
type Backend struct {
	session *session
	wg      sync.WaitGroup

	gatewayID         lorawan.EUI64
	marshaler         marshaler.Type
	eventRoutingKey   *template.Template
	commandQueueName  string
	commandRoutingKey string

	downlinkFrameChan chan gw.DownlinkFrame
}

// NewBackend creates a new Backend.
func NewBackend(c config.Config) (*Backend, error) {
	var err error
	conf := c.Radio.Backend.AMQP

	b := Backend{
		gatewayID:         c.Radio.Backend.GatewayID,
		downlinkFrameChan: make(chan gw.DownlinkFrame),
	}

	b.marshaler, err = marshaler.ParseType(c.Radio.Backend.Marshaler)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/amqp: parse marshaler error")
	}

	b.eventRoutingKey, err = template.New("event").Parse(conf.EventRoutingKeyTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/amqp: parse event routing-key template error")
	}

	b.commandQueueName, err = b.executeTemplate(conf.CommandQueueName)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/amqp: command queue name error")
	}

	b.commandRoutingKey, err = b.executeTemplate(conf.CommandRoutingKey)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/amqp: command routing-key error")
	}

	log.WithField("gateway_id", b.gatewayID).Info("gateway/amqp: connecting to AMQP server")
	b.session, err = dial(conf.URL)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/amqp: connect error")
	}

	if err := b.setupQueue(); err != nil {
		b.session.close()
		return nil, errors.Wrap(err, "gateway/amqp: setup queue error")
	}

	b.wg.Add(1)
	go b.commandLoop()

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

// Close closes the connection. The downlink channel is closed once the
// command loop returns.
func (b *Backend) Close() error {
	err := b.session.close()
	b.wg.Wait()
	return err
}

func (b *Backend) executeTemplate(tmpl string) (string, error) {
	t, err := template.New("").Parse(tmpl)
	if err != nil {
		return "", errors.Wrap(err, "parse template error")
	}

	buf := bytes.NewBuffer(nil)
	if err := t.Execute(buf, struct{ GatewayID lorawan.EUI64 }{b.gatewayID}); err != nil {
		return "", errors.Wrap(err, "execute template error")
	}
	return buf.String(), nil
}

func (b *Backend) getEventRoutingKey(event string) (string, error) {
	key := bytes.NewBuffer(nil)
	if err := b.eventRoutingKey.Execute(key, struct {
		GatewayID lorawan.EUI64
		EventType string
	}{b.gatewayID, event}); err != nil {
		return "", errors.Wrap(err, "execute event routing-key template error")
	}
	return key.String(), nil
}

func (b *Backend) publishEvent(fields log.Fields, event string, msg proto.Message) error {
	bb, err := marshaler.Marshal(b.marshaler, msg)
	if err != nil {
		return errors.Wrap(err, "gateway/amqp: marshal event error")
	}

	routingKey, err := b.getEventRoutingKey(event)
	if err != nil {
		return errors.Wrap(err, "gateway/amqp: event routing-key error")
	}

	fields["gateway_id"] = b.gatewayID
	fields["event"] = event
	fields["routing_key"] = routingKey
	log.WithFields(fields).Info("gateway/amqp: publishing event")

	amqpEventCounter(event).Inc()

	err = b.session.publish(routingKey, amqp.Publishing{
		ContentType: b.marshaler.ContentType(),
		Body:        bb,
	})
	if err != nil {
		return errors.Wrap(err, "gateway/amqp: publish event error")
	}

	return nil
}

func (b *Backend) setupQueue() error {
	ch, err := b.session.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		b.commandQueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "declare queue error")
	}

	err = ch.QueueBind(
		b.commandQueueName,
		b.commandRoutingKey,
		exchange,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "bind queue error")
	}

	return nil
}

func (b *Backend) commandLoop() {
	defer b.wg.Done()
	defer close(b.downlinkFrameChan)

	for {
		err := func() error {
			ch, err := b.session.channel()
			if err != nil {
				return err
			}
			defer ch.Close()

			log.WithField("queue", b.commandQueueName).Info("gateway/amqp: start consuming gateway commands")

			msgs, err := ch.Consume(
				b.commandQueueName,
				"",
				true,
				false,
				false,
				false,
				nil,
			)
			if err != nil {
				return errors.Wrap(err, "register consumer error")
			}

			// the deliveries are closed with the channel or connection
			for msg := range msgs {
				b.handleCommand(msg.RoutingKey, msg.Body)
			}
			return nil
		}()
		if err != nil {
			if errors.Cause(err) == errClosed {
				return
			}

			log.WithError(err).Error("gateway/amqp: command loop error")
			time.Sleep(time.Second)
		}

		if b.session.isClosed() {
			return
		}
	}
}

func (b *Backend) handleCommand(routingKey string, body []byte) {
	routing := strings.Split(routingKey, ".")
	typ := routing[len(routing)-1]

	switch typ {
	case "down":
		amqpCommandCounter("down").Inc()
		if err := b.handleDownlinkFrame(body); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"type":        typ,
				"routing_key": routingKey,
			}).Error("gateway/amqp: handle command error")
		}
	default:
		log.WithFields(log.Fields{
			"routing_key": routingKey,
			"type":        typ,
		}).Warning("gateway/amqp: unexpected command type")
	}
}

func (b *Backend) handleDownlinkFrame(body []byte) error {
	var downlinkFrame gw.DownlinkFrame
	if _, err := marshaler.UnmarshalDownlinkFrame(body, &downlinkFrame); err != nil {
		return errors.Wrap(err, "unmarshal error")
	}

	var downID uuid.UUID
	copy(downID[:], downlinkFrame.GetDownlinkId())

	log.WithFields(log.Fields{
		"gateway_id":  b.gatewayID,
		"downlink_id": downID,
	}).Info("gateway/amqp: downlink command received")

	b.downlinkFrameChan <- downlinkFrame
	return nil
}
