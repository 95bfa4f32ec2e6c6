package runtime

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
)

// deliveryMiddlewares guard the router against deliveries the engine nacks.
// Panics become errors, failed deliveries are retried with backoff and what
// still fails is moved to the poison queue and acked. Handled faults never
// reach these middlewares because their traversal acks the delivery.
func (s *Service) deliveryMiddlewares(logger watermill.LoggerAdapter) ([]message.HandlerMiddleware, error) {
	poison, err := middleware.PoisonQueueWithFilter(s.publisher, s.Conf.EffectivePoisonQueue(), shouldPoison)
	if err != nil {
		return nil, err
	}

	maxRetries, initial, maxInterval := s.Conf.EffectiveRetry()
	retry := middleware.Retry{
		MaxRetries:      maxRetries,
		InitialInterval: initial,
		MaxInterval:     maxInterval,
		Multiplier:      2,
		ShouldRetry: func(params middleware.RetryParams) bool {
			return shouldRetry(params.Err)
		},
		Logger: logger,
	}

	return []message.HandlerMiddleware{
		s.poisonLogger(poison),
		retry.Middleware,
		middleware.Recoverer,
	}, nil
}

// poisonLogger records deliveries on their way to the poison queue.
func (s *Service) poisonLogger(poison message.HandlerMiddleware) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return poison(func(msg *message.Message) ([]*message.Message, error) {
			produced, err := h(msg)
			if err != nil && shouldPoison(err) {
				s.Logger.Error("Moving delivery to the poison queue", err, loggingpkg.LogFields{
					"message_uuid": msg.UUID,
					"poison_queue": s.Conf.EffectivePoisonQueue(),
				})
			}
			return produced, err
		})
	}
}

// shouldRetry skips errors another attempt cannot fix.
func shouldRetry(err error) bool {
	if isContextError(err) {
		return false
	}
	var cfgErr *errspkg.ConfigError
	switch {
	case errors.As(err, &cfgErr),
		errors.Is(err, errspkg.ErrEndpointRequired),
		errors.Is(err, errspkg.ErrUnknownEndpoint),
		errors.Is(err, errspkg.ErrPayloadRequired):
		return false
	}
	return true
}

// shouldPoison keeps deliveries interrupted by shutdown on the transport so
// they are redelivered.
func shouldPoison(err error) bool {
	return !isContextError(err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
