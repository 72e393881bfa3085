package wa

import (
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/store"
)

// ParsedMessage is a normalized message ready for buffering.
type ParsedMessage struct {
	ChatJID    string
	MsgID      string
	SenderJID  string
	SenderName string
	Body       *string
	Kind       chat.Kind
	HasMedia   bool
	MimeType   string
	FromMe     bool
	Timestamp  int64
	Raw        []byte
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	inner, viewOnce := unwrap(evt.Message)
	p := parseContent(inner, viewOnce || evt.IsViewOnce || evt.IsViewOnceV2)
	p.ChatJID = NormalizeJID(evt.Info.Chat.String())
	p.MsgID = evt.Info.ID
	p.SenderJID = NormalizeJID(evt.Info.Sender.String())
	p.SenderName = evt.Info.PushName
	p.FromMe = evt.Info.IsFromMe
	p.Timestamp = evt.Info.Timestamp.Unix()
	return p
}

// ParseHistoryMessage normalizes a message from a history sync conversation.
// Returns nil for entries without content.
func ParseHistoryMessage(chatJID string, wmi *waWeb.WebMessageInfo) *ParsedMessage {
	if wmi == nil || wmi.GetMessage() == nil {
		return nil
	}
	inner, viewOnce := unwrap(wmi.GetMessage())
	p := parseContent(inner, viewOnce)

	key := wmi.GetKey()
	p.ChatJID = NormalizeJID(chatJID)
	p.MsgID = key.GetID()
	p.FromMe = key.GetFromMe()
	p.SenderName = wmi.GetPushName()
	p.Timestamp = int64(wmi.GetMessageTimestamp())
	switch {
	case key.GetParticipant() != "":
		p.SenderJID = NormalizeJID(key.GetParticipant())
	case wmi.GetParticipant() != "":
		p.SenderJID = NormalizeJID(wmi.GetParticipant())
	case !p.FromMe:
		p.SenderJID = p.ChatJID
	}
	return p
}

func parseContent(msg *waE2E.Message, viewOnce bool) *ParsedMessage {
	p := &ParsedMessage{
		Body: extractTextBody(msg),
		Kind: detectMessageType(msg),
	}
	if viewOnce {
		p.Kind = chat.KindViewOnce
	}
	if d, mime := downloadableOf(msg); d != nil {
		p.HasMedia = true
		p.MimeType = mime
	}
	if msg != nil {
		p.Raw, _ = proto.Marshal(msg)
	}
	return p
}

// ToStoreMessage converts a ParsedMessage to its buffered form.
func (p *ParsedMessage) ToStoreMessage() *store.Message {
	return &store.Message{
		ChatJID:     p.ChatJID,
		MsgID:       p.MsgID,
		SenderJID:   p.SenderJID,
		SenderName:  p.SenderName,
		Body:        p.Body,
		MessageType: string(p.Kind),
		FromMe:      p.FromMe,
		HasMedia:    p.HasMedia,
		MimeType:    p.MimeType,
		Raw:         p.Raw,
		Timestamp:   p.Timestamp,
	}
}

// ToChatMessage converts a ParsedMessage to the sync core's model.
func (p *ParsedMessage) ToChatMessage() chat.Message {
	return StoreToChat(p.ToStoreMessage())
}

// StoreToChat converts a buffered message to the sync core's model.
func StoreToChat(m *store.Message) chat.Message {
	return chat.Message{
		ID:             m.MsgID,
		ConversationID: m.ChatJID,
		SenderID:       m.SenderJID,
		FromMe:         m.FromMe,
		Timestamp:      m.Timestamp,
		Body:           m.Body,
		HasMedia:       m.HasMedia,
		Type:           chat.Kind(m.MessageType),
	}.Normalize()
}

// NormalizeJID strips device and agent suffixes so every device of a user
// maps to one chat. Unparseable input is returned unchanged.
func NormalizeJID(s string) string {
	if s == "" {
		return ""
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return s
	}
	return jid.ToNonAD().String()
}

// unwrap peels ephemeral, view-once and captioned-document envelopes.
func unwrap(msg *waE2E.Message) (*waE2E.Message, bool) {
	viewOnce := false
	for range 4 {
		switch {
		case msg.GetEphemeralMessage().GetMessage() != nil:
			msg = msg.GetEphemeralMessage().GetMessage()
		case msg.GetViewOnceMessage().GetMessage() != nil:
			msg = msg.GetViewOnceMessage().GetMessage()
			viewOnce = true
		case msg.GetViewOnceMessageV2().GetMessage() != nil:
			msg = msg.GetViewOnceMessageV2().GetMessage()
			viewOnce = true
		case msg.GetDocumentWithCaptionMessage().GetMessage() != nil:
			msg = msg.GetDocumentWithCaptionMessage().GetMessage()
		default:
			return msg, viewOnce
		}
	}
	return msg, viewOnce
}

func extractTextBody(msg *waE2E.Message) *string {
	if msg == nil {
		return nil
	}
	var text string
	switch {
	case msg.GetConversation() != "":
		text = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		text = msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		text = msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		text = msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		text = msg.GetDocumentMessage().GetCaption()
	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		text = loc.GetName()
		if text == "" {
			text = fmt.Sprintf("%.6f,%.6f", loc.GetDegreesLatitude(), loc.GetDegreesLongitude())
		}
	case msg.GetContactMessage() != nil:
		text = msg.GetContactMessage().GetDisplayName()
	}
	if text == "" {
		return nil
	}
	return &text
}

func detectMessageType(msg *waE2E.Message) chat.Kind {
	switch {
	case msg.GetImageMessage() != nil:
		return chat.KindImage
	case msg.GetVideoMessage() != nil:
		return chat.KindVideo
	case msg.GetAudioMessage() != nil:
		return chat.KindAudio
	case msg.GetDocumentMessage() != nil:
		return chat.KindDocument
	case msg.GetStickerMessage() != nil:
		return chat.KindSticker
	case msg.GetLocationMessage() != nil, msg.GetLiveLocationMessage() != nil:
		return chat.KindLocation
	default:
		return chat.KindChat
	}
}

// downloadableOf returns the attachment of msg and its MIME type, or nil.
func downloadableOf(msg *waE2E.Message) (whatsmeow.DownloadableMessage, string) {
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage(), msg.GetImageMessage().GetMimetype()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage(), msg.GetVideoMessage().GetMimetype()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage(), msg.GetAudioMessage().GetMimetype()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage(), msg.GetDocumentMessage().GetMimetype()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage(), msg.GetStickerMessage().GetMimetype()
	default:
		return nil, ""
	}
}
