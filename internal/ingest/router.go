package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/fleetwatch/internal/command"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/mqtt"
)

// handlerTimeout bounds the store work done for one message.
const handlerTimeout = 5 * time.Second

// Outcome labels for the message counter.
const (
	outcomeHandled       = "handled"
	outcomeInvalid       = "invalid"
	outcomeUnknownDevice = "unknown_device"
	outcomeIgnored       = "ignored"
	outcomeFailed        = "failed"
)

var messagesIngested = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleetwatch_ingest_messages_total",
		Help: "Device messages received, by type and outcome.",
	},
	[]string{"type", "outcome"},
)

func init() {
	prometheus.MustRegister(messagesIngested)
}

// Logger defines the logging interface for the router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Subscriber registers topic filters. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// HandlerFunc applies one message for a device identified by its
// external id.
type HandlerFunc func(ctx context.Context, externalID string, payload []byte) error

// Router dispatches device messages to the handler for their type.
type Router struct {
	topics   mqtt.Topics
	handlers map[MessageType]HandlerFunc
	logger   Logger
}

// NewRouter builds a router over the given handlers.
//
// Example:
//
//	handlers := ingest.NewHandlers(cfg)
//	router := ingest.NewRouter(mqtt.NewTopics("devices"), handlers)
//	if err := router.Subscribe(client); err != nil {
//	    return err
//	}
func NewRouter(topics mqtt.Topics, h *Handlers) *Router {
	return &Router{
		topics: topics,
		handlers: map[MessageType]HandlerFunc{
			MessageStatus:          h.Status,
			MessageMetrics:         h.Metrics,
			MessageLog:             h.Log,
			MessageEvent:           h.Event,
			MessageCommandResponse: h.CommandResponse,
		},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for dropped messages and store failures.
func (r *Router) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Subscribe registers one wildcard filter per message type.
func (r *Router) Subscribe(sub Subscriber) error {
	for _, t := range MessageTypes() {
		filter := r.topics.AllDevices(t.Suffix())
		if err := sub.Subscribe(filter, t.QoS(), r.HandleMessage); err != nil {
			return fmt.Errorf("subscribing to %s: %w", filter, err)
		}
	}
	return nil
}

// HandleMessage is an mqtt.MessageHandler. It never returns an error:
// every failure is logged here and the message is dropped.
func (r *Router) HandleMessage(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	deviceID, msgType, err := ParseTopic(r.topics, topic)
	if err != nil {
		messagesIngested.WithLabelValues(MessageUnknown.String(), outcomeInvalid).Inc()
		r.logger.Warn("dropping message on malformed topic", "topic", topic)
		return nil
	}

	handler, ok := r.handlers[msgType]
	if !ok {
		messagesIngested.WithLabelValues(MessageUnknown.String(), outcomeIgnored).Inc()
		r.logger.Debug("dropping message of unknown type", "topic", topic)
		return nil
	}

	if !isJSONObject(payload) {
		messagesIngested.WithLabelValues(msgType.String(), outcomeInvalid).Inc()
		r.logger.Warn("dropping message with non-object payload",
			"topic", topic,
			"size", len(payload),
		)
		return nil
	}

	err = handler(ctx, deviceID, payload)
	outcome := classify(err)
	messagesIngested.WithLabelValues(msgType.String(), outcome).Inc()

	switch outcome {
	case outcomeHandled:
	case outcomeUnknownDevice:
		r.logger.Info("message from unregistered device", "device_id", deviceID, "type", msgType.String())
	case outcomeInvalid:
		r.logger.Warn("dropping invalid message", "device_id", deviceID, "type", msgType.String(), "error", err)
	case outcomeIgnored:
		r.logger.Debug("command response ignored", "device_id", deviceID, "error", err)
	default:
		r.logger.Error("handling device message failed", "device_id", deviceID, "type", msgType.String(), "error", err)
	}
	return nil
}

func classify(err error) string {
	switch {
	case err == nil:
		return outcomeHandled
	case errors.Is(err, ErrUnknownDevice):
		return outcomeUnknownDevice
	case errors.Is(err, ErrInvalidPayload):
		return outcomeInvalid
	case errors.Is(err, command.ErrCommandNotFound), errors.Is(err, command.ErrAlreadyResolved):
		return outcomeIgnored
	default:
		return outcomeFailed
	}
}
