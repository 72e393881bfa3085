package wa

import (
	"context"
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/logging"
	"github.com/tupski/wa-monitor/internal/session"
	"github.com/tupski/wa-monitor/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotConnected is returned by calls that need a live connection.
var ErrNotConnected = errors.New("whatsapp client not connected")

// Adapter wraps the whatsmeow client and manages the WhatsApp connection.
// Buffered history lives in db; the Adapter serves it as a MessageSource.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	db        *store.DB
	bus       *bus.Bus
	logger    *zap.Logger
	session   string
}

// NewAdapter creates a new WhatsApp adapter for the given session.
func NewAdapter(ctx context.Context, sessionName string, db *store.DB, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	wastore.SetOSInfo("WA-Monitor", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", session.DeviceDBPath(sessionName)),
		logging.Whatsmeow(logger, "store"),
	)
	if err != nil {
		return nil, fmt.Errorf("create device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, logging.Whatsmeow(logger, "client"))

	return &Adapter{
		client:    client,
		container: container,
		db:        db,
		bus:       b,
		logger:    logger,
		session:   sessionName,
	}, nil
}

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client != nil && a.client.Store.ID != nil
}

// IsConnected reports whether the websocket is up.
func (a *Adapter) IsConnected() bool {
	return a.client != nil && a.client.IsConnected()
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// GetQRChannel returns the QR channel for pairing. Must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// GetContacts returns all contacts from the whatsmeow device store.
func (a *Adapter) GetContacts(ctx context.Context) []store.Contact {
	allContacts, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		a.logger.Warn("failed to get contacts from device store", zap.Error(err))
		return nil
	}
	contacts := make([]store.Contact, 0, len(allContacts))
	for jid, info := range allContacts {
		contacts = append(contacts, store.Contact{
			JID:      jid.ToNonAD().String(),
			Name:     info.FullName,
			PushName: info.PushName,
		})
	}
	return contacts
}

// PhoneNumber returns the phone number from the device store, or empty string.
func (a *Adapter) PhoneNumber() string {
	if !a.IsLoggedIn() {
		return ""
	}
	return a.client.Store.ID.User
}

// GetLIDMappings returns the LID-to-PN mappings known for address book contacts.
func (a *Adapter) GetLIDMappings(ctx context.Context) []store.LIDMapping {
	if a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return nil
	}

	// There is no bulk mapping API, so resolve each phone-number contact.
	allContacts, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil
	}

	var mappings []store.LIDMapping
	for jid := range allContacts {
		normalized := jid.ToNonAD()
		if normalized.Server != types.DefaultUserServer {
			continue
		}
		lid, err := a.client.Store.LIDs.GetLIDForPN(ctx, normalized)
		if err == nil && !lid.IsEmpty() {
			mappings = append(mappings, store.LIDMapping{LID: lid.User, PN: normalized.User})
		}
	}
	return mappings
}

// ResolveLID resolves a LID JID to its phone number JID using the device store mapping.
// Returns the original JID if it's not a LID or if resolution fails.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}

// SyncIdentities copies contacts and LID mappings from the device store into
// the buffer and folds LID chats into their phone-number chats.
func (a *Adapter) SyncIdentities(ctx context.Context) {
	if contacts := a.GetContacts(ctx); len(contacts) > 0 {
		if err := a.db.BulkUpsertContacts(contacts); err != nil {
			a.logger.Warn("contact sync failed", zap.Error(err))
		}
	}
	if err := a.db.SyncLIDMap(a.GetLIDMappings(ctx)); err != nil {
		a.logger.Warn("LID map sync failed", zap.Error(err))
		return
	}
	merged, err := a.db.ReconcileLIDs()
	if err != nil {
		a.logger.Warn("LID reconciliation failed", zap.Error(err))
		return
	}
	if merged > 0 {
		a.logger.Info("merged LID chats", zap.Int64("count", merged))
	}
}
