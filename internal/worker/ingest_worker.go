package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"investigraph/internal/app"
)

// IngestWorker consumes ingestion tasks and drives the pipeline. Tasks for
// documents already being ingested are acked and dropped; pipeline failures
// are acked too, since the document is parked in Failed with the cause and a
// redelivery would only fail the same way.
type IngestWorker struct {
	conn      *amqp.Connection
	ingest    *app.IngestService
	queueName string
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, ingest *app.IngestService, queueName string, logger *slog.Logger) *IngestWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestWorker{
		conn:      conn,
		ingest:    ingest,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
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

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
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

				var task app.IngestTask
				if err := json.Unmarshal(d.Body, &task); err != nil {
					w.logger.Error("worker decode ingest task failed", "error", err)
					_ = d.Nack(false, false)
					continue
				}

				if err := w.ingest.Process(workerCtx, task.DocumentID); err != nil {
					if errors.Is(err, app.ErrIngestInProgress) {
						w.logger.Info("skipping task, document already ingesting",
							"document_id", task.DocumentID)
					} else {
						w.logger.Error("worker ingest failed",
							"document_id", task.DocumentID, "error", err)
					}
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
