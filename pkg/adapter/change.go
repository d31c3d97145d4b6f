package adapter

import (
	"fmt"
	"strconv"
	"time"
)

// ChangeType is the kind of change a Notification reports.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
	ChangeError  ChangeType = "error"
)

// Notification is the backend-neutral shape of a pushed change.
type Notification struct {
	Type       ChangeType `json:"type"`
	Collection string     `json:"collectionName"`
	DocumentID string     `json:"documentId,omitempty"`
	Payload    Record     `json:"payload,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`

	// Err is set on error notifications.
	Err error `json:"-"`
}

// Validate checks if the notification is well formed.
func (n *Notification) Validate() error {
	if n.Collection == "" {
		return fmt.Errorf("collection is required")
	}

	switch n.Type {
	case ChangeInsert, ChangeUpdate:
		if n.DocumentID == "" {
			return fmt.Errorf("document id is required for %s notification", n.Type)
		}
		if len(n.Payload) == 0 {
			return fmt.Errorf("payload is required for %s notification", n.Type)
		}
	case ChangeDelete:
		if n.DocumentID == "" {
			return fmt.Errorf("document id is required for delete notification")
		}
	case ChangeError:
		if n.Err == nil {
			return fmt.Errorf("error notification without error")
		}
	default:
		return fmt.Errorf("invalid notification type: %s", n.Type)
	}

	return nil
}

// NewErrorNotification builds an error notification for collection.
func NewErrorNotification(collection string, err error) Notification {
	return Notification{
		Type:       ChangeError,
		Collection: collection,
		Timestamp:  time.Now(),
		Err:        err,
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
