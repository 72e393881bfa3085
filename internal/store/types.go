package store

// Chat is a buffered conversation.
type Chat struct {
	JID                string
	Name               string
	IsGroup            bool
	LastMessageAt      int64
	LastMessagePreview string
}

// Contact is a buffered contact.
type Contact struct {
	JID      string
	Name     string
	PushName string
}

// Message is a buffered message. Timestamp is in unix seconds. Raw holds the
// serialized protocol message needed to download media later.
type Message struct {
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	Body        *string
	MessageType string
	FromMe      bool
	HasMedia    bool
	MimeType    string
	Raw         []byte
	Timestamp   int64
}

// Media request states.
const (
	MediaQueued      = "queued"
	MediaDownloading = "downloading"
	MediaDone        = "done"
	MediaFailed      = "failed"
)

// MediaRequest is a click-triggered media download.
type MediaRequest struct {
	ID           int64
	ChatJID      string
	MsgID        string
	Status       string
	ErrorMessage string
	MediaPath    string
	Attempts     int
}
