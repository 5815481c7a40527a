package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"journal/internal/domain"
	"journal/internal/store"
)

const (
	// StreamName is the JetStream stream name for journal trades.
	StreamName = "JOURNAL_TRADES"
	// SubjectPrefix is the NATS subject prefix for trade events.
	SubjectPrefix = "journal.trades."
	// SubjectWildcard subscribes to all trade subjects.
	SubjectWildcard = "journal.trades.>"
	// ConsumerName is the durable consumer name.
	ConsumerName = "journal-trade-consumer"

	maxConnectInterval = 30 * time.Second
)

// errReject marks messages that must not be redelivered.
var errReject = errors.New("reject trade event")

// TradeSink stores trades and recomputes the lots derived from them.
type TradeSink interface {
	InsertTrades(ctx context.Context, trades []domain.Trade) (int, error)
	RebuildAccount(ctx context.Context, accountID string) (*store.RebuildStats, error)
}

// Consumer subscribes to trade events via NATS JetStream.
type Consumer struct {
	nc     *nats.Conn
	sink   TradeSink
	logger zerolog.Logger
}

// NewConsumer creates a new NATS trade consumer.
func NewConsumer(nc *nats.Conn, sink TradeSink) *Consumer {
	return &Consumer{
		nc:     nc,
		sink:   sink,
		logger: log.With().Str("component", "ingest").Logger(),
	}
}

// Start begins consuming trade events. Blocks until context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	js, err := jetstream.New(c.nc)
	if err != nil {
		return fmt.Errorf("create jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectWildcard},
		Storage:  jetstream.FileStorage,
		MaxBytes: 100 * 1024 * 1024, // 100MB
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	c.logger.Info().Str("stream", StreamName).Msg("started consuming trade events from NATS JetStream")

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		err := c.process(ctx, msg.Data())
		switch {
		case errors.Is(err, errReject):
			c.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("rejecting trade event")
			msg.Term()
		case err != nil:
			c.logger.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to handle trade message")
			// NAK for redelivery on storage errors
			msg.Nak()
		default:
			msg.Ack()
		}
	})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	<-ctx.Done()
	cc.Stop()
	c.logger.Info().Msg("stopped consuming trade events")
	return nil
}

// process stores one event and rebuilds its account. Malformed or invalid
// events are wrapped in errReject.
func (c *Consumer) process(ctx context.Context, data []byte) error {
	var event TradeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", errReject, err)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: trade %q: %v", errReject, event.TradeID, err)
	}
	trade, err := event.ToDomain()
	if err != nil {
		return fmt.Errorf("%w: trade %q: %v", errReject, event.TradeID, err)
	}

	inserted, err := c.sink.InsertTrades(ctx, []domain.Trade{*trade})
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	if inserted == 0 {
		c.logger.Debug().Str("trade_id", trade.ID).Msg("duplicate trade, skipped")
		return nil
	}

	// Any insert can reorder history, so the whole account is recomputed.
	stats, err := c.sink.RebuildAccount(ctx, trade.AccountID)
	if err != nil {
		return fmt.Errorf("rebuild account %s: %w", trade.AccountID, err)
	}

	c.logger.Info().
		Str("trade_id", trade.ID).
		Str("account_id", trade.AccountID).
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Str("quantity", trade.Quantity.String()).
		Str("price", trade.Price.String()).
		Int("lots_closed", stats.ClosedLots).
		Msg("ingested trade")
	return nil
}

// ConnectNATS connects to NATS, retrying with exponential backoff until it
// succeeds or ctx is done.
func ConnectNATS(ctx context.Context, urls string, credsFile, creds string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("journal"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	if creds != "" {
		path, err := writeCreds(creds)
		if err != nil {
			return nil, err
		}
		opts = append(opts, nats.UserCredentials(path))
	} else if credsFile != "" {
		opts = append(opts, nats.UserCredentials(credsFile))
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = maxConnectInterval

	for attempt := 1; ; attempt++ {
		nc, err := nats.Connect(urls, opts...)
		if err == nil {
			log.Info().Str("url", nc.ConnectedUrl()).Int("attempt", attempt).Msg("connected to NATS")
			return nc, nil
		}

		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxConnectInterval
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", sleep).
			Msg("failed to connect to NATS, retrying...")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to NATS: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func writeCreds(creds string) (string, error) {
	tmpFile, err := os.CreateTemp("", "nats-creds-*.creds")
	if err != nil {
		return "", fmt.Errorf("create temp credentials file: %w", err)
	}
	defer tmpFile.Close()
	if _, err := tmpFile.WriteString(creds); err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("write credentials: %w", err)
	}
	return tmpFile.Name(), nil
}
