package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// Invalidator drops cached catalog state.
type Invalidator interface {
	ClearCache()
}

// ChangeListenerConfig holds configuration for the catalog change listener.
type ChangeListenerConfig struct {
	SubscriptionID         string
	MaxOutstandingMessages int
	NumGoroutines          int
}

// LoadDefaultChangeListenerConfig returns defaults for a subscription.
func LoadDefaultChangeListenerConfig(subID string) *ChangeListenerConfig {
	return &ChangeListenerConfig{
		SubscriptionID:         subID,
		MaxOutstandingMessages: 10,
		NumGoroutines:          1,
	}
}

// ChangeListener clears media caches whenever a catalog-changed
// notification arrives on a Pub/Sub subscription.
type ChangeListener struct {
	subscription       *pubsub.Subscription
	target             Invalidator
	logger             zerolog.Logger
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
}

// NewChangeListener creates a listener. The subscription must exist.
func NewChangeListener(cfg *ChangeListenerConfig, client *pubsub.Client, target Invalidator, logger zerolog.Logger) (*ChangeListener, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	if target == nil {
		return nil, errors.New("invalidation target cannot be nil")
	}
	sub := client.Subscription(cfg.SubscriptionID)

	subContext, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	exists, err := sub.Exists(subContext)
	if err != nil {
		return nil, fmt.Errorf("checking subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}

	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	return &ChangeListener{
		subscription: sub,
		target:       target,
		logger:       logger.With().Str("component", "ChangeListener").Str("subscription_id", cfg.SubscriptionID).Logger(),
		doneChan:     make(chan struct{}),
	}, nil
}

// Start begins receiving in the background.
func (l *ChangeListener) Start(ctx context.Context) error {
	receiveCtx, cancel := context.WithCancel(ctx)
	l.cancelSubscription = cancel
	go func() {
		defer close(l.doneChan)
		defer l.logger.Info().Msg("Change listener stopped.")

		l.logger.Info().Msg("Listening for catalog changes...")
		err := l.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			l.logger.Info().
				Str("msg_id", msg.ID).
				Interface("attributes", msg.Attributes).
				Msg("Catalog changed, clearing media caches.")
			l.target.ClearCache()
			msg.Ack()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

// Stop cancels receiving and waits for the receive loop to exit.
func (l *ChangeListener) Stop() error {
	l.stopOnce.Do(func() {
		if l.cancelSubscription == nil {
			close(l.doneChan)
			return
		}
		l.cancelSubscription()
		select {
		case <-l.doneChan:
		case <-time.After(30 * time.Second):
			l.logger.Error().Msg("Timeout waiting for change listener to stop.")
		}
	})
	return nil
}

// Done is closed once the receive loop has exited.
func (l *ChangeListener) Done() <-chan struct{} { return l.doneChan }
