package wa

import (
	"context"
	gosync "sync"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/source"
	"github.com/tupski/wa-monitor/internal/status"
	"github.com/tupski/wa-monitor/internal/store"
)

// EventHandler buffers whatsmeow events into the store, drives the state
// machine and publishes source events on the bus. It does NOT call the sync
// engine directly; the engine subscribes to the bus independently.
type EventHandler struct {
	bus     *bus.Bus
	machine *status.Machine
	db      *store.DB
	adapter *Adapter
	logger  *zap.Logger

	mu    gosync.Mutex
	calls map[string]*pendingCall
}

type pendingCall struct {
	from     string
	at       time.Time
	video    bool
	accepted bool
}

// NewEventHandler creates a new event handler. adapter may be nil, in which
// case LID chats are not resolved and identities are not synced on connect.
func NewEventHandler(b *bus.Bus, machine *status.Machine, db *store.DB, adapter *Adapter, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:     b,
		machine: machine,
		db:      db,
		adapter: adapter,
		logger:  logger,
		calls:   make(map[string]*pendingCall),
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.DeleteForMe:
		h.handleDeleteForMe(evt)
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.PushName:
		h.handlePushName(evt)
	case *events.CallOffer:
		h.offerCall(evt.CallID, evt.CallCreator, evt.From, evt.Timestamp, false)
	case *events.CallOfferNotice:
		h.offerCall(evt.CallID, evt.CallCreator, evt.From, evt.Timestamp, evt.Media == "video")
	case *events.CallAccept:
		h.acceptCall(evt.CallID)
	case *events.CallTerminate:
		h.terminateCall(evt.CallID, evt.From, evt.Timestamp)
	case *events.Connected:
		h.handleConnected()
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.transition(status.Disconnected)
		h.bus.Emit(bus.KindSessionDisconnected, nil)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.transition(status.LoggedOut)
		h.bus.Emit(bus.KindSessionLoggedOut, evt.Reason.String())
	}
}

func (h *EventHandler) transition(to status.State) {
	if err := h.machine.Transition(to); err != nil {
		h.logger.Debug("state transition skipped", zap.Error(err))
	}
}

func (h *EventHandler) handleConnected() {
	h.logger.Info("WhatsApp connected")
	switch h.machine.Current() {
	case status.Booting, status.Pairing, status.Disconnected:
		h.transition(status.Connecting)
	}
	h.transition(status.Connected)
	h.bus.Emit(bus.KindSessionConnected, nil)

	go func() {
		if h.adapter != nil {
			h.adapter.SyncIdentities(context.Background())
		}
		h.bus.Emit(bus.KindSourceReady, source.Ready{})
	}()
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	if pm := evt.Message.GetProtocolMessage(); pm != nil {
		if pm.GetType() == waE2E.ProtocolMessage_REVOKE {
			h.handleRevoke(evt, pm)
		}
		return
	}

	parsed := ParseLiveMessage(evt)
	parsed.ChatJID = h.resolveJID(parsed.ChatJID)
	parsed.SenderJID = h.resolveJID(parsed.SenderJID)
	h.ingest(parsed)
}

func (h *EventHandler) ingest(parsed *ParsedMessage) {
	if err := h.db.UpsertMessage(parsed.ToStoreMessage()); err != nil {
		h.logger.Error("failed to buffer message", zap.String("msg_id", parsed.MsgID), zap.Error(err))
	}
	h.bus.Emit(bus.KindSourceMessage, source.Incoming{Message: parsed.ToChatMessage()})
}

func (h *EventHandler) handleRevoke(evt *events.Message, pm *waE2E.ProtocolMessage) {
	chatJID := h.resolveJID(NormalizeJID(evt.Info.Chat.String()))
	targetID := pm.GetKey().GetID()

	rev := source.EveryoneRevocation{
		After: chat.Message{
			ID:             targetID,
			ConversationID: chatJID,
			SenderID:       h.resolveJID(NormalizeJID(evt.Info.Sender.String())),
			FromMe:         evt.Info.IsFromMe,
			Timestamp:      evt.Info.Timestamp.Unix(),
			Type:           chat.KindChat,
			Deleted:        true,
			DeletedScope:   chat.ScopeEveryone,
		},
	}
	row, err := h.db.GetMessage(chatJID, targetID)
	if err != nil {
		h.logger.Warn("lookup of revoked message failed", zap.String("msg_id", targetID), zap.Error(err))
	}
	if row != nil {
		before := StoreToChat(row)
		rev.Before = &before
		rev.After.Type = before.Type
	}

	h.logger.Info("revocation received", zap.String("chat", chatJID), zap.String("msg_id", targetID), zap.Bool("known", row != nil))
	h.bus.Emit(bus.KindSourceRevokeEveryone, rev)
}

func (h *EventHandler) handleDeleteForMe(evt *events.DeleteForMe) {
	h.bus.Emit(bus.KindSourceRevokeMe, source.SelfRevocation{
		ConversationID: h.resolveJID(NormalizeJID(evt.ChatJID.String())),
		MessageID:      evt.MessageID,
		SenderID:       h.resolveJID(NormalizeJID(evt.SenderJID.String())),
		FromMe:         evt.IsFromMe,
		Timestamp:      evt.Timestamp.Unix(),
	})
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	var msgs []*store.Message
	for _, conv := range data.GetConversations() {
		chatJID := h.resolveJID(NormalizeJID(conv.GetID()))
		if chatJID == "" {
			continue
		}
		if err := h.db.UpsertChat(&store.Chat{
			JID:     chatJID,
			Name:    conv.GetName(),
			IsGroup: isGroup(chatJID),
		}); err != nil {
			h.logger.Warn("failed to buffer chat", zap.String("chat", chatJID), zap.Error(err))
		}
		for _, hm := range conv.GetMessages() {
			parsed := ParseHistoryMessage(chatJID, hm.GetMessage())
			if parsed == nil || parsed.MsgID == "" {
				continue
			}
			parsed.SenderJID = h.resolveJID(parsed.SenderJID)
			msgs = append(msgs, parsed.ToStoreMessage())
		}
	}

	if len(msgs) == 0 {
		return
	}
	if err := h.db.IngestHistory(msgs); err != nil {
		h.logger.Error("failed to buffer history chunk", zap.Int("messages", len(msgs)), zap.Error(err))
		return
	}
	h.logger.Info("history chunk buffered",
		zap.Int("conversations", len(data.GetConversations())),
		zap.Int("messages", len(msgs)),
	)
}

func (h *EventHandler) handlePushName(evt *events.PushName) {
	jid := h.resolveJID(NormalizeJID(evt.JID.String()))
	if jid == "" || evt.NewPushName == "" {
		return
	}
	if err := h.db.UpsertContact(&store.Contact{JID: jid, PushName: evt.NewPushName}); err != nil {
		h.logger.Warn("failed to buffer push name", zap.String("jid", jid), zap.Error(err))
	}
}

func (h *EventHandler) offerCall(callID string, creator, from types.JID, at time.Time, video bool) {
	caller := creator
	if caller.IsEmpty() {
		caller = from
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.calls[callID]; ok {
		c.video = c.video || video
		return
	}
	h.calls[callID] = &pendingCall{from: caller.String(), at: at, video: video}
}

func (h *EventHandler) acceptCall(callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.calls[callID]; ok {
		c.accepted = true
	}
}

// terminateCall turns a finished call into a call-log message.
func (h *EventHandler) terminateCall(callID string, from types.JID, at time.Time) {
	h.mu.Lock()
	c, ok := h.calls[callID]
	delete(h.calls, callID)
	h.mu.Unlock()
	if !ok {
		c = &pendingCall{from: from.String(), at: at}
	}

	body := "voice call"
	if c.video {
		body = "video call"
	}
	if !c.accepted {
		body = "missed " + body
	}

	caller := h.resolveJID(NormalizeJID(c.from))
	h.ingest(&ParsedMessage{
		ChatJID:   caller,
		MsgID:     "call-" + callID,
		SenderJID: caller,
		Body:      &body,
		Kind:      chat.KindCallLog,
		Timestamp: c.at.Unix(),
	})
}

// resolveJID maps a LID to its phone number when the adapter knows it.
func (h *EventHandler) resolveJID(jid string) string {
	jid = NormalizeJID(jid)
	if h.adapter == nil || jid == "" {
		return jid
	}
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return jid
	}
	return h.adapter.ResolveLID(context.Background(), parsed).ToNonAD().String()
}

func isGroup(jid string) bool {
	parsed, err := types.ParseJID(jid)
	return err == nil && parsed.Server == types.GroupServer
}
