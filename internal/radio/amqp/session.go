package amqp

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var errClosed = errors.New("connection is closed")

// session holds the connection to the AMQP server, which is re-dialed when it
// was lost. The events are published serially over a single channel, which
// is re-opened on the next publish after an error. The queue setup and the
// command consumer use channels of their own.
type session struct {
	mu     sync.Mutex
	url    string
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	closed bool
}

func dial(url string) (*session, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp server error")
	}

	return &session{url: url, conn: conn}, nil
}

// connection returns the connection, re-dialing it when it was closed by
// the server. It must be called with the lock held.
func (s *session) connection() (*amqp.Connection, error) {
	if !s.conn.IsClosed() {
		return s.conn, nil
	}

	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, errors.Wrap(err, "re-dial amqp server error")
	}
	s.conn = conn
	s.pubCh = nil
	amqpReconnectCounter().Inc()
	return conn, nil
}

func (s *session) publish(routingKey string, msg amqp.Publishing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}

	conn, err := s.connection()
	if err != nil {
		return err
	}

	if s.pubCh == nil {
		ch, err := conn.Channel()
		if err != nil {
			return errors.Wrap(err, "open publish channel error")
		}
		s.pubCh = ch
	}

	if err := s.pubCh.Publish(exchange, routingKey, false, false, msg); err != nil {
		// a channel is unusable after an error
		s.pubCh.Close()
		s.pubCh = nil
		return errors.Wrap(err, "publish message error")
	}

	return nil
}

// channel opens a new channel, which must be closed by the caller.
func (s *session) channel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed
	}

	conn, err := s.connection()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel error")
	}
	return ch, nil
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close closes the connection and with that all its channels.
func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.pubCh != nil {
		s.pubCh.Close()
		s.pubCh = nil
	}
	return s.conn.Close()
}
