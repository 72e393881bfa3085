package wa

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/status"
)

// AuthEventType enumerates auth event types.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent represents an auth lifecycle event.
type AuthEvent struct {
	Type    AuthEventType `json:"type"`
	QRCode  string        `json:"qrCode,omitempty"`
	Message string        `json:"message,omitempty"`
}

// QR is the payload of session.qr. DataURL is a PNG the dashboard can show
// directly in an img tag.
type QR struct {
	Code    string `json:"code"`
	DataURL string `json:"dataUrl"`
}

// StartQRAuth begins the QR pairing flow. QR codes are published on the bus
// as session.qr and mirrored on the returned channel, which closes when
// pairing succeeds, fails or times out.
func (a *Adapter) StartQRAuth(ctx context.Context, machine *status.Machine) (<-chan AuthEvent, error) {
	qrChan, err := a.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}
	if err := machine.Transition(status.Pairing); err != nil {
		a.logger.Debug("pairing transition skipped", zap.Error(err))
	}

	out := make(chan AuthEvent, 10)

	go func() {
		defer close(out)

		// Connect must be called after GetQRChannel.
		if err := a.Connect(); err != nil {
			out <- AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()}
			return
		}

		for item := range qrChan {
			switch item.Event {
			case "code":
				out <- AuthEvent{Type: AuthEventQRCode, QRCode: item.Code}
				a.bus.Emit(bus.KindSessionQR, NewQR(item.Code))
			case "success":
				out <- AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"}
				return
			case "timeout":
				out <- AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"}
				return
			default:
				if item.Error != nil {
					out <- AuthEvent{Type: AuthEventAuthFailed, Message: item.Error.Error()}
					return
				}
			}
		}
	}()

	return out, nil
}

// NewQR renders a pairing code as a PNG data URL. The URL is empty when the
// code cannot be encoded.
func NewQR(code string) QR {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return QR{Code: code}
	}
	return QR{Code: code, DataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)}
}

// RenderTerminal converts a pairing code to a compact QR drawn with Unicode
// half-block characters. Two bitmap rows become one terminal line.
func RenderTerminal(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")"
	}

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := 0; x < cols; x++ {
			top := bitmap[y][x]
			bot := false
			if y+1 < rows {
				bot = bitmap[y+1][x]
			}
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top && !bot:
				sb.WriteRune('▀')
			case !top && bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
