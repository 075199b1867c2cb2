package server

import (
	"errors"

	"gopkg.in/op/go-logging.v1"

	"trustpipe/internal/domain"
)

// ErrSinkFull is returned by QueueSink.Deliver when the queue is full.
// The handler drops the message with a log line; the request still
// succeeds.
var ErrSinkFull = errors.New("server: message sink is full")

// QueueSink buffers delivered messages on a channel for an application
// consumer. Deliver never blocks.
type QueueSink struct {
	ch chan domain.Message
}

// NewQueueSink returns a sink buffering up to n messages.
func NewQueueSink(n int) *QueueSink {
	return &QueueSink{ch: make(chan domain.Message, n)}
}

// Deliver enqueues msg, or returns ErrSinkFull.
func (s *QueueSink) Deliver(msg domain.Message) error {
	select {
	case s.ch <- msg:
		return nil
	default:
		return ErrSinkFull
	}
}

// Messages exposes the consumer side of the queue.
func (s *QueueSink) Messages() <-chan domain.Message {
	return s.ch
}

// LogSink logs delivered messages. It stands in when no consumer queue
// was configured.
type LogSink struct {
	log *logging.Logger
}

// NewLogSink returns a sink that logs each message at INFO.
func NewLogSink(log *logging.Logger) *LogSink {
	return &LogSink{log: log}
}

// Deliver logs msg and always succeeds.
func (s *LogSink) Deliver(msg domain.Message) error {
	s.log.Infof("received message: %v", msg)
	return nil
}

var (
	_ domain.Sink = (*QueueSink)(nil)
	_ domain.Sink = (*LogSink)(nil)
)
