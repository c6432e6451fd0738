package mqtt

import (
	"testing"
	"text/template"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/brocaar/chirpstack-api/go/v3/gw"
	"github.com/brocaar/chirpstack-device-mac/internal/radio/marshaler"
	"github.com/brocaar/chirpstack-device-mac/internal/test"
	"github.com/brocaar/lorawan"
)

type testMessage struct {
	topic   string
	payload []byte
}

func (m testMessage) Duplicate() bool   { return false }
func (m testMessage) Qos() byte         { return 0 }
func (m testMessage) Retained() bool    { return false }
func (m testMessage) Topic() string     { return m.topic }
func (m testMessage) MessageID() uint16 { return 0 }
func (m testMessage) Payload() []byte   { return m.payload }
func (m testMessage) Ack()              {}

func TestEventTopic(t *testing.T) {
	assert := require.New(t)

	b := Backend{
		gatewayID:  lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8},
		eventTopic: template.Must(template.New("event").Parse("gateway/{{ .GatewayID }}/event/{{ .EventType }}")),
	}

	topic, err := b.getEventTopic("up")
	assert.NoError(err)
	assert.Equal("gateway/0102030405060708/event/up", topic)
}

func TestCommandHandler(t *testing.T) {
	df := gw.DownlinkFrame{
		DownlinkId: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Items: []*gw.DownlinkFrameItem{
			{PhyPayload: []byte{1, 2, 3}, TxInfo: &gw.DownlinkTXInfo{Frequency: 868100000}},
		},
	}

	tests := []struct {
		Name      string
		Topic     string
		Marshaler marshaler.Type
		Expected  bool
	}{
		{Name: "protobuf downlink", Topic: "gateway/0102030405060708/command/down", Marshaler: marshaler.Protobuf, Expected: true},
		{Name: "json downlink", Topic: "gateway/0102030405060708/command/down", Marshaler: marshaler.JSON, Expected: true},
		{Name: "config command", Topic: "gateway/0102030405060708/command/config", Marshaler: marshaler.Protobuf},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)

			b := Backend{
				downlinkFrameChan: make(chan gw.DownlinkFrame, 1),
			}

			pl, err := marshaler.Marshal(tst.Marshaler, &df)
			assert.NoError(err)

			b.commandHandler(nil, testMessage{topic: tst.Topic, payload: pl})

			if !tst.Expected {
				assert.Len(b.downlinkFrameChan, 0)
				return
			}

			out := <-b.downlinkFrameChan
			assert.True(proto.Equal(&df, &out))
		})
	}
}

type BackendTestSuite struct {
	suite.Suite

	backend    *Backend
	mqttClient paho.Client
}

func (ts *BackendTestSuite) SetupSuite() {
	assert := require.New(ts.T())
	conf := test.GetConfig()

	opts := paho.NewClientOptions().
		AddBroker(conf.Radio.Backend.MQTT.Server).
		SetUsername(conf.Radio.Backend.MQTT.Username).
		SetPassword(conf.Radio.Backend.MQTT.Password)
	ts.mqttClient = paho.NewClient(opts)
	token := ts.mqttClient.Connect()
	token.Wait()
	assert.NoError(token.Error())

	var err error
	ts.backend, err = NewBackend(conf)
	assert.NoError(err)

	// wait for the subscription
	time.Sleep(100 * time.Millisecond)
}

func (ts *BackendTestSuite) TearDownSuite() {
	assert := require.New(ts.T())
	assert.NoError(ts.backend.Close())
	ts.mqttClient.Disconnect(0)
}

func (ts *BackendTestSuite) TestUplinkFrame() {
	assert := require.New(ts.T())

	upChan := make(chan gw.UplinkFrame, 1)
	token := ts.mqttClient.Subscribe("gateway/0102030405060708/event/up", 0, func(c paho.Client, msg paho.Message) {
		var up gw.UplinkFrame
		if err := proto.Unmarshal(msg.Payload(), &up); err == nil {
			upChan <- up
		}
	})
	token.Wait()
	assert.NoError(token.Error())
	defer ts.mqttClient.Unsubscribe("gateway/0102030405060708/event/up")

	up := gw.UplinkFrame{
		PhyPayload: []byte{1, 2, 3, 4},
		TxInfo: &gw.UplinkTXInfo{
			Frequency: 868100000,
		},
		RxInfo: &gw.UplinkRXInfo{
			GatewayId: []byte{1, 2, 3, 4, 5, 6, 7, 8},
		},
	}
	assert.NoError(ts.backend.SendUplinkFrame(up))

	received := <-upChan
	assert.True(proto.Equal(&up, &received))
}

func (ts *BackendTestSuite) TestDownlinkFrame() {
	assert := require.New(ts.T())

	df := gw.DownlinkFrame{
		GatewayId: []byte{1, 2, 3, 4, 5, 6, 7, 8},
		Items: []*gw.DownlinkFrameItem{
			{PhyPayload: []byte{1, 2, 3}, TxInfo: &gw.DownlinkTXInfo{Frequency: 868100000}},
		},
	}
	b, err := proto.Marshal(&df)
	assert.NoError(err)

	token := ts.mqttClient.Publish("gateway/0102030405060708/command/down", 0, false, b)
	token.Wait()
	assert.NoError(token.Error())

	received := <-ts.backend.DownlinkFrameChan()
	assert.True(proto.Equal(&df, &received))
}

func TestBackend(t *testing.T) {
	test.RequireEnv(t, "TEST_MQTT_SERVER")
	suite.Run(t, new(BackendTestSuite))
}
