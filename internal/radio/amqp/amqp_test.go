package amqp

import (
	"testing"
	"text/template"

	"github.com/golang/protobuf/proto"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/brocaar/chirpstack-api/go/v3/gw"
	"github.com/brocaar/chirpstack-device-mac/internal/radio/marshaler"
	"github.com/brocaar/chirpstack-device-mac/internal/test"
	"github.com/brocaar/lorawan"
)

func TestRoutingKeys(t *testing.T) {
	assert := require.New(t)

	b := Backend{
		gatewayID:       lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8},
		eventRoutingKey: template.Must(template.New("event").Parse("gateway.{{ .GatewayID }}.event.{{ .EventType }}")),
	}

	key, err := b.getEventRoutingKey("ack")
	assert.NoError(err)
	assert.Equal("gateway.0102030405060708.event.ack", key)

	queue, err := b.executeTemplate("gateway-{{ .GatewayID }}-commands")
	assert.NoError(err)
	assert.Equal("gateway-0102030405060708-commands", queue)

	_, err = b.executeTemplate("{{ .Foo")
	assert.Error(err)
}

func TestHandleCommand(t *testing.T) {
	assert := require.New(t)

	b := Backend{
		downlinkFrameChan: make(chan gw.DownlinkFrame, 1),
	}

	df := gw.DownlinkFrame{
		Items: []*gw.DownlinkFrameItem{
			{PhyPayload: []byte{1, 2, 3}},
		},
	}
	pl, err := marshaler.Marshal(marshaler.JSON, &df)
	assert.NoError(err)

	b.handleCommand("gateway.0102030405060708.command.config", pl)
	assert.Len(b.downlinkFrameChan, 0)

	b.handleCommand("gateway.0102030405060708.command.down", pl)
	out := <-b.downlinkFrameChan
	assert.True(proto.Equal(&df, &out))
}

type BackendTestSuite struct {
	suite.Suite

	backend *Backend

	amqpConn      *amqp.Connection
	amqpChannel   *amqp.Channel
	amqpEventChan <-chan amqp.Delivery
}

func (ts *BackendTestSuite) SetupSuite() {
	var err error
	assert := require.New(ts.T())
	conf := test.GetConfig()

	ts.backend, err = NewBackend(conf)
	assert.NoError(err)

	ts.amqpConn, err = amqp.Dial(conf.Radio.Backend.AMQP.URL)
	assert.NoError(err)

	ts.amqpChannel, err = ts.amqpConn.Channel()
	assert.NoError(err)

	_, err = ts.amqpChannel.QueueDeclare(
		"test-event-queue",
		true,
		false,
		false,
		false,
		nil,
	)
	assert.NoError(err)

	err = ts.amqpChannel.QueueBind(
		"test-event-queue",
		"gateway.*.event.*",
		"amq.topic",
		false,
		nil,
	)
	assert.NoError(err)

	ts.amqpEventChan, err = ts.amqpChannel.Consume(
		"test-event-queue",
		"",
		true,
		false,
		false,
		false,
		nil,
	)
	assert.NoError(err)
}

func (ts *BackendTestSuite) TearDownSuite() {
	assert := require.New(ts.T())
	assert.NoError(ts.amqpConn.Close())
	assert.NoError(ts.backend.Close())
}

func (ts *BackendTestSuite) TestUplinkEvent() {
	assert := require.New(ts.T())

	up := gw.UplinkFrame{
		PhyPayload: []byte{0x01, 0x02, 0x03, 0x04},
		RxInfo: &gw.UplinkRXInfo{
			GatewayId: []byte{1, 2, 3, 4, 5, 6, 7, 8},
		},
		TxInfo: &gw.UplinkTXInfo{
			Frequency: 868100000,
		},
	}
	assert.NoError(ts.backend.SendUplinkFrame(up))

	received := <-ts.amqpEventChan
	assert.Equal("gateway.0102030405060708.event.up", received.RoutingKey)
	assert.Equal("application/octet-stream", received.ContentType)

	var receivedUp gw.UplinkFrame
	assert.NoError(proto.Unmarshal(received.Body, &receivedUp))
	assert.True(proto.Equal(&up, &receivedUp))
}

func (ts *BackendTestSuite) TestDownlinkCommand() {
	assert := require.New(ts.T())

	df := gw.DownlinkFrame{
		GatewayId: []byte{1, 2, 3, 4, 5, 6, 7, 8},
		Items: []*gw.DownlinkFrameItem{
			{
				PhyPayload: []byte{0x01, 0x02, 0x03, 0x04},
				TxInfo:     &gw.DownlinkTXInfo{Frequency: 868100000},
			},
		},
	}
	b, err := proto.Marshal(&df)
	assert.NoError(err)

	err = ts.amqpChannel.Publish(
		"amq.topic",
		"gateway.0102030405060708.command.down",
		false,
		false,
		amqp.Publishing{
			ContentType: "application/octet-stream",
			Body:        b,
		},
	)
	assert.NoError(err)

	received := <-ts.backend.DownlinkFrameChan()
	assert.True(proto.Equal(&df, &received))
}

func TestBackend(t *testing.T) {
	test.RequireEnv(t, "TEST_RABBITMQ_URL")
	suite.Run(t, new(BackendTestSuite))
}
