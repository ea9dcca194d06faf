package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"cloud.google.com/go/storage"

	"smartpay/internal/core"
)

type alertDocument struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Recipient     string    `json:"recipient"`
	Type          string    `json:"type"`
	Severity      string    `json:"severity"`
	Message       string    `json:"message"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Category      string    `json:"category,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type objectWriter func(ctx context.Context, object string, data []byte) error

// AlertArchive stores each alert as gs://<bucket>/<prefix>/alerts/<user>/<yyyy>/<mm>/<id>.json.
// It satisfies alerts.Notifier so it can sit next to the email channel.
type AlertArchive struct {
	client *storage.Client
	bucket string
	prefix string
	write  objectWriter
}

func NewAlertArchive(ctx context.Context, bucket, prefix string) (*AlertArchive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	a := &AlertArchive{client: client, bucket: bucket, prefix: prefix}
	a.write = a.upload
	return a, nil
}

func (a *AlertArchive) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

func (a *AlertArchive) Notify(ctx context.Context, email, _ string, al core.Alert) error {
	data, err := json.Marshal(newAlertDocument(email, al))
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", al.ID, err)
	}
	return a.write(ctx, objectName(a.prefix, al), data)
}

func (a *AlertArchive) upload(ctx context.Context, object string, data []byte) error {
	w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", a.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", a.bucket, object, err)
	}
	return nil
}

func objectName(prefix string, al core.Alert) string {
	return path.Join(prefix, "alerts", al.UserID, al.CreatedAt.UTC().Format("2006/01"), al.ID+".json")
}

func newAlertDocument(email string, al core.Alert) alertDocument {
	doc := alertDocument{
		ID:        al.ID,
		UserID:    al.UserID,
		Recipient: email,
		Type:      string(al.Type),
		Severity:  string(al.Severity),
		Message:   al.Message,
		CreatedAt: al.CreatedAt.UTC(),
	}
	if m := al.Metadata; m != nil {
		doc.TransactionID = m.TransactionID
		if !m.Amount.IsZero() {
			doc.Amount = m.Amount.StringFixed()
		}
		doc.Category = string(m.Category)
	}
	return doc
}
