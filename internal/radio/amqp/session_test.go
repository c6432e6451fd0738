package amqp

import (
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/brocaar/chirpstack-device-mac/internal/test"
)

type SessionTestSuite struct {
	suite.Suite

	url string
}

func (ts *SessionTestSuite) SetupSuite() {
	conf := test.GetConfig()
	ts.url = conf.Radio.Backend.AMQP.URL
}

func (ts *SessionTestSuite) TestPublish() {
	assert := require.New(ts.T())

	s, err := dial(ts.url)
	assert.NoError(err)
	defer s.close()

	assert.Nil(s.pubCh)
	assert.NoError(s.publish("gateway.0102030405060708.event.up", amqp.Publishing{Body: []byte{1, 2, 3}}))
	ch := s.pubCh
	assert.NotNil(ch)

	// the publish channel is re-used
	assert.NoError(s.publish("gateway.0102030405060708.event.up", amqp.Publishing{Body: []byte{1, 2, 3}}))
	assert.Equal(ch, s.pubCh)
}

func (ts *SessionTestSuite) TestPublishReopensChannel() {
	assert := require.New(ts.T())

	s, err := dial(ts.url)
	assert.NoError(err)
	defer s.close()

	assert.NoError(s.publish("gateway.0102030405060708.event.up", amqp.Publishing{}))
	assert.NoError(s.pubCh.Close())

	assert.Error(s.publish("gateway.0102030405060708.event.up", amqp.Publishing{}))
	assert.Nil(s.pubCh)

	assert.NoError(s.publish("gateway.0102030405060708.event.up", amqp.Publishing{}))
	assert.NotNil(s.pubCh)
}

func (ts *SessionTestSuite) TestRedial() {
	assert := require.New(ts.T())

	s, err := dial(ts.url)
	assert.NoError(err)
	defer s.close()

	conn := s.conn
	assert.NoError(conn.Close())
	assert.False(s.isClosed())

	assert.NoError(s.publish("gateway.0102030405060708.event.up", amqp.Publishing{}))
	assert.NotEqual(conn, s.conn)
	assert.False(s.conn.IsClosed())
}

func (ts *SessionTestSuite) TestChannel() {
	assert := require.New(ts.T())

	s, err := dial(ts.url)
	assert.NoError(err)
	defer s.close()

	assert.NoError(s.publish("gateway.0102030405060708.event.up", amqp.Publishing{}))

	ch, err := s.channel()
	assert.NoError(err)
	assert.NotEqual(s.pubCh, ch)
	assert.NoError(ch.Close())
}

func (ts *SessionTestSuite) TestClosed() {
	assert := require.New(ts.T())

	s, err := dial(ts.url)
	assert.NoError(err)
	assert.NoError(s.close())
	assert.True(s.isClosed())
	assert.NoError(s.close())

	_, err = s.channel()
	assert.Equal(errClosed, err)
	assert.Equal(errClosed, s.publish("gateway.0102030405060708.event.up", amqp.Publishing{}))
}

func TestSession(t *testing.T) {
	test.RequireEnv(t, "TEST_RABBITMQ_URL")
	suite.Run(t, new(SessionTestSuite))
}
