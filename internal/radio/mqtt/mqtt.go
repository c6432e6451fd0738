// Package mqtt implements a gateway backend using the MQTT protocol of the
// ChirpStack Gateway Bridge.
package mqtt

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"io/ioutil"
	"strings"
	"sync"
	"text/template"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofrs/uuid"
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-api/go/v3/gw"
	"github.com/brocaar/chirpstack-device-mac/internal/config"
	"github.com/brocaar/chirpstack-device-mac/internal/radio/gateway"
	"github.com/brocaar/chirpstack-device-mac/internal/radio/marshaler"
	"github.com/brocaar/lorawan"
)

var _ gateway.Backend = &Backend{}

// Backend implements a MQTT backend.
type Backend struct {
	sync.RWMutex

	wg     sync.WaitGroup
	closed bool

	conn              paho.Client
	downlinkFrameChan chan gw.DownlinkFrame

	gatewayID    lorawan.EUI64
	marshaler    marshaler.Type
	qos          uint8
	eventTopic   *template.Template
	commandTopic string
}

// NewBackend creates a new Backend, connecting to the MQTT broker.
func NewBackend(c config.Config) (*Backend, error) {
	conf := c.Radio.Backend.MQTT

	var err error
	b := Backend{
		downlinkFrameChan: make(chan gw.DownlinkFrame),
		gatewayID:         c.Radio.Backend.GatewayID,
		qos:               conf.QOS,
	}

	b.marshaler, err = marshaler.ParseType(c.Radio.Backend.Marshaler)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/mqtt: parse marshaler error")
	}

	b.eventTopic, err = template.New("event").Parse(conf.EventTopicTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/mqtt: parse event-topic template error")
	}

	commandTopic, err := template.New("command").Parse(conf.CommandTopicTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/mqtt: parse command-topic template error")
	}
	topic := bytes.NewBuffer(nil)
	if err := commandTopic.Execute(topic, struct{ GatewayID lorawan.EUI64 }{b.gatewayID}); err != nil {
		return nil, errors.Wrap(err, "gateway/mqtt: execute command-topic template error")
	}
	b.commandTopic = topic.String()

	opts := paho.NewClientOptions()
	opts.AddBroker(conf.Server)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetCleanSession(conf.CleanSession)
	opts.SetClientID(conf.ClientID)
	opts.SetOnConnectHandler(b.onConnected)
	opts.SetConnectionLostHandler(b.onConnectionLost)
	opts.SetMaxReconnectInterval(conf.MaxReconnectInterval)

	tlsconfig, err := newTLSConfig(conf.CACert, conf.TLSCert, conf.TLSKey)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/mqtt: load tls configuration error")
	}
	if tlsconfig != nil {
		opts.SetTLSConfig(tlsconfig)
	}

	log.WithFields(log.Fields{
		"server":     conf.Server,
		"gateway_id": b.gatewayID,
	}).Info("gateway/mqtt: connecting to mqtt broker")
	b.conn = paho.NewClient(opts)
	for {
		if token := b.conn.Connect(); token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).Error("gateway/mqtt: connecting to mqtt broker failed, will retry in 2s")
			time.Sleep(2 * time.Second)
			continue
		}
		break
	}

	return &b, nil
}

// Close unsubscribes from the command topic and closes the downlink channel
// once the pending messages are handled.
func (b *Backend) Close() error {
	log.Info("gateway/mqtt: closing backend")

	log.WithField("topic", b.commandTopic).Info("gateway/mqtt: unsubscribing from command topic")
	if token := b.conn.Unsubscribe(b.commandTopic); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "gateway/mqtt: unsubscribe from %s error", b.commandTopic)
	}

	log.Info("gateway/mqtt: handling last messages")
	b.Lock()
	b.closed = true
	b.Unlock()
	b.wg.Wait()

	close(b.downlinkFrameChan)
	b.conn.Disconnect(250)
	return nil
}

// DownlinkFrameChan returns the downlink-frame channel.
func (b *Backend) DownlinkFrameChan() chan gw.DownlinkFrame {
	return b.downlinkFrameChan
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

func (b *Backend) publishEvent(fields log.Fields, event string, msg proto.Message) error {
	bb, err := marshaler.Marshal(b.marshaler, msg)
	if err != nil {
		return errors.Wrap(err, "gateway/mqtt: marshal event error")
	}

	topic, err := b.getEventTopic(event)
	if err != nil {
		return err
	}

	fields["topic"] = topic
	fields["qos"] = b.qos
	fields["event"] = event
	log.WithFields(fields).Info("gateway/mqtt: publishing event")

	mqttEventCounter(event).Inc()

	if token := b.conn.Publish(topic, b.qos, false, bb); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "gateway/mqtt: publish event error")
	}
	return nil
}

func (b *Backend) getEventTopic(event string) (string, error) {
	topic := bytes.NewBuffer(nil)
	if err := b.eventTopic.Execute(topic, struct {
		GatewayID lorawan.EUI64
		EventType string
	}{b.gatewayID, event}); err != nil {
		return "", errors.Wrap(err, "gateway/mqtt: execute event-topic template error")
	}
	return topic.String(), nil
}

func (b *Backend) commandHandler(c paho.Client, msg paho.Message) {
	b.RLock()
	if b.closed {
		b.RUnlock()
		return
	}
	b.wg.Add(1)
	b.RUnlock()
	defer b.wg.Done()

	topic := strings.Split(msg.Topic(), "/")
	command := topic[len(topic)-1]

	switch command {
	case "down":
		mqttCommandCounter("down").Inc()
		b.handleDownlinkFrame(msg.Payload())
	default:
		log.WithFields(log.Fields{
			"topic":   msg.Topic(),
			"command": command,
		}).Debug("gateway/mqtt: ignoring command")
	}
}

func (b *Backend) handleDownlinkFrame(payload []byte) {
	var downlinkFrame gw.DownlinkFrame
	if _, err := marshaler.UnmarshalDownlinkFrame(payload, &downlinkFrame); err != nil {
		log.WithFields(log.Fields{
			"data_base64": base64.StdEncoding.EncodeToString(payload),
		}).WithError(err).Error("gateway/mqtt: unmarshal downlink frame error")
		return
	}

	var downID uuid.UUID
	copy(downID[:], downlinkFrame.GetDownlinkId())

	log.WithFields(log.Fields{
		"gateway_id":  b.gatewayID,
		"downlink_id": downID,
	}).Info("gateway/mqtt: downlink frame received")

	b.downlinkFrameChan <- downlinkFrame
}

func (b *Backend) onConnected(c paho.Client) {
	mqttConnectCounter().Inc()
	log.Info("gateway/mqtt: connected to mqtt server")

	for {
		log.WithFields(log.Fields{
			"topic": b.commandTopic,
			"qos":   b.qos,
		}).Info("gateway/mqtt: subscribing to command topic")
		if token := b.conn.Subscribe(b.commandTopic, b.qos, b.commandHandler); token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).WithFields(log.Fields{
				"topic": b.commandTopic,
				"qos":   b.qos,
			}).Error("gateway/mqtt: subscribe error")
			time.Sleep(time.Second)
			continue
		}
		break
	}
}

func (b *Backend) onConnectionLost(c paho.Client, err error) {
	mqttDisconnectCounter().Inc()
	log.WithError(err).Error("gateway/mqtt: mqtt connection error")
}

func newTLSConfig(cafile, certFile, certKeyFile string) (*tls.Config, error) {
	if cafile == "" && certFile == "" && certKeyFile == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{}

	if cafile != "" {
		cacert, err := ioutil.ReadFile(cafile)
		if err != nil {
			return nil, errors.Wrap(err, "load ca certificate error")
		}
		certpool := x509.NewCertPool()
		certpool.AppendCertsFromPEM(cacert)

		tlsConfig.RootCAs = certpool
	}

	if certFile != "" && certKeyFile != "" {
		kp, err := tls.LoadX509KeyPair(certFile, certKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "load tls key-pair error")
		}
		tlsConfig.Certificates = []tls.Certificate{kp}
	}

	return tlsConfig, nil
}
