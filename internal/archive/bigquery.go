// Package archive keeps an off-site copy of what the engine did: every
// applied expense as a BigQuery row and every raised alert as a JSON object in
// Cloud Storage. Both are best effort and never block the ledger.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"

	"smartpay/internal/events"
)

// EventRow is the BigQuery shape of an applied expense.
type EventRow struct {
	MessageID     string    `bigquery:"message_id"`
	TransactionID string    `bigquery:"transaction_id"`
	UserID        string    `bigquery:"user_id"`
	AmountCents   int64     `bigquery:"amount_cents"`
	Category      string    `bigquery:"category"`
	CreatedAt     time.Time `bigquery:"created_at"`
	ArchivedAt    time.Time `bigquery:"archived_at"`
}

type rowInserter interface {
	Put(ctx context.Context, src interface{}) error
}

type EventArchive struct {
	client   *bigquery.Client
	inserter rowInserter
	now      func() time.Time
}

// NewEventArchive streams rows into projectID.datasetID.table using
// Application Default Credentials.
func NewEventArchive(ctx context.Context, projectID, datasetID, table string) (*EventArchive, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewEventArchive: bigquery client: %w", err)
	}
	inserter := client.DatasetInProject(projectID, datasetID).Table(table).Inserter()
	return &EventArchive{client: client, inserter: inserter, now: time.Now}, nil
}

func (a *EventArchive) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// Record inserts one row. The transaction id is the insert id, so a
// redelivered message is deduplicated by BigQuery's best-effort window.
func (a *EventArchive) Record(ctx context.Context, msg events.TransactionApplied) error {
	row := &bigquery.StructSaver{
		Struct:   eventRow(msg, a.now()),
		InsertID: msg.TransactionID,
	}
	if err := a.inserter.Put(ctx, []*bigquery.StructSaver{row}); err != nil {
		return fmt.Errorf("archive transaction %s: %w", msg.TransactionID, err)
	}
	return nil
}

// Wrap archives each message before handing it to next. Archive failures are
// logged and do not trigger redelivery.
func (a *EventArchive) Wrap(next events.Handler) events.Handler {
	return func(ctx context.Context, msg events.TransactionApplied) error {
		if err := a.Record(ctx, msg); err != nil {
			slog.WarnContext(ctx, "Transaction not archived", "transaction_id", msg.TransactionID, "error", err)
		}
		return next(ctx, msg)
	}
}

func eventRow(msg events.TransactionApplied, now time.Time) EventRow {
	return EventRow{
		MessageID:     msg.MessageID,
		TransactionID: msg.TransactionID,
		UserID:        msg.UserID,
		AmountCents:   msg.AmountCents,
		Category:      msg.Category,
		CreatedAt:     msg.CreatedAt.UTC(),
		ArchivedAt:    now.UTC(),
	}
}
