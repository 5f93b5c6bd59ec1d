package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"healthq/internal/model"
)

var errMissingIDs = errors.New("turn is missing its id or session id")

// TurnSink stores archived turns.
type TurnSink interface {
	Create(ctx context.Context, record *model.TurnRecord) error
}

// TurnArchiveWorker drains the archive queue into the turn record table.
type TurnArchiveWorker struct {
	conn      *amqp.Connection
	sink      TurnSink
	queueName string
	log       *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTurnArchiveWorker(conn *amqp.Connection, sink TurnSink, queueName string, log *zap.Logger) *TurnArchiveWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &TurnArchiveWorker{
		conn:      conn,
		sink:      sink,
		queueName: queueName,
		log:       log,
	}
}

func (w *TurnArchiveWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.handle(workerCtx, d.Body); err != nil {
					w.log.Warn("archive turn failed", zap.String("message_id", d.MessageId), zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	w.log.Info("turn archive worker started", zap.String("queue", w.queueName))
	return nil
}

func (w *TurnArchiveWorker) handle(ctx context.Context, body []byte) error {
	var turn model.Turn
	if err := json.Unmarshal(body, &turn); err != nil {
		return fmt.Errorf("decode turn failed: %w", err)
	}
	if turn.ID == "" || turn.SessionID == "" {
		return errMissingIDs
	}
	record := model.NewTurnRecord(turn)
	return w.sink.Create(ctx, &record)
}

func (w *TurnArchiveWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
