package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/store"
)

// notifyChannel is the single Postgres NOTIFY channel every replica listens
// on. Routing to users happens in process via the hub.
const notifyChannel = "famulus_notifications"

// notifyPayloadLimit stays under Postgres's 8000-byte NOTIFY cap. Larger
// notifications are announced by reference and reloaded from the store.
const notifyPayloadLimit = 7900

// fanoutPayload is the JSON envelope carried over NOTIFY.
type fanoutPayload struct {
	Origin       string               `json:"origin"`
	TenantID     string               `json:"tenant_id"`
	ID           string               `json:"id"`
	Truncated    bool                 `json:"truncated,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
}

// PGFanout distributes published notifications to the hubs of all process
// replicas over Postgres NOTIFY/LISTEN. The publishing replica streams to
// its own hub directly, so the listener drops payloads carrying its own
// origin instead of delivering them twice.
type PGFanout struct {
	db            *sql.DB
	connString    string
	origin        string
	hub           *Hub
	notifications *store.NotificationStore
	logger        *slog.Logger

	conn   *pgx.Conn // dedicated connection for LISTEN
	connMu sync.Mutex

	// cancelLoop and loopDone coordinate graceful shutdown of the receive
	// loop before the connection is closed under it.
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewPGFanout creates a fanout over the shared pool (for pg_notify) and a
// connection string the listener dials its own connection from. NOTIFY is
// database-level, so the connString must not be schema-scoped in ways the
// pool is not.
func NewPGFanout(db *sql.DB, connString string, notifications *store.NotificationStore, hub *Hub) *PGFanout {
	return &PGFanout{
		db:            db,
		connString:    connString,
		origin:        uuid.New().String(),
		hub:           hub,
		notifications: notifications,
		logger:        slog.Default().With("component", "notify.fanout"),
	}
}

// Broadcast announces a stored notification on the NOTIFY channel. Payloads
// that would not fit are sent by reference; receivers reload them from the
// store before delivery.
func (f *PGFanout) Broadcast(ctx context.Context, n *models.Notification) error {
	payload, err := json.Marshal(fanoutPayload{
		Origin:       f.origin,
		TenantID:     n.TenantID,
		ID:           n.ID,
		Notification: n,
	})
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}
	if len(payload) > notifyPayloadLimit {
		payload, err = json.Marshal(fanoutPayload{
			Origin:    f.origin,
			TenantID:  n.TenantID,
			ID:        n.ID,
			Truncated: true,
		})
		if err != nil {
			return fmt.Errorf("marshal truncated notify payload: %w", err)
		}
	}
	if _, err := f.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", notifyChannel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// dispatch routes one NOTIFY payload into the local hub. Payloads from this
// process are dropped: the publishing center already streamed locally.
func (f *PGFanout) dispatch(ctx context.Context, raw []byte) {
	var payload fanoutPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		f.logger.Warn("malformed notify payload", "error", err)
		return
	}
	if payload.Origin == f.origin {
		return
	}
	n := payload.Notification
	if payload.Truncated || n == nil {
		var err error
		n, err = f.notifications.Get(ctx, payload.TenantID, payload.ID)
		if err != nil {
			f.logger.Warn("oversized notification reload failed",
				"id", payload.ID, "error", err)
			return
		}
	}
	f.hub.Broadcast(n.TenantID, n.UserID, models.NotificationEvent(n))
}
