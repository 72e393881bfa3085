package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by prefix, so "sync." receives every sync event.
const (
	KindSourceMessage        = "wa.message"
	KindSourceRevokeEveryone = "wa.revoke.everyone"
	KindSourceRevokeMe       = "wa.revoke.me"
	KindSourceReady          = "wa.ready"

	KindSyncProgress         = "sync.progress"
	KindSyncCompleted        = "sync.completed"
	KindSyncStopped          = "sync.stopped"
	KindSyncAlreadyRunning   = "sync.already_running"
	KindSyncAlreadyCompleted = "sync.already_completed"

	KindMessageNew      = "message.new"
	KindMessageUpserted = "message.upserted"
	KindMessageDeleted  = "message.deleted"

	KindMediaDownloaded = "media.downloaded"
	KindMediaFailed     = "media.failed"

	KindProfilePicture = "profile.picture"
	KindProfileLoaded  = "profile.loaded"

	KindSessionQR           = "session.qr"
	KindSessionConnected    = "session.connected"
	KindSessionDisconnected = "session.disconnected"
	KindSessionLoggedOut    = "session.logged_out"
	KindSessionStatus       = "session.status_changed"
)

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
