package wa

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/source"
)

var _ source.Directory = (*Adapter)(nil)

// ContactInfo merges the device address book, the buffered contacts table and,
// while connected, the account's about text.
func (a *Adapter) ContactInfo(ctx context.Context, contactID string) (chat.Contact, error) {
	jid, err := types.ParseJID(contactID)
	if err != nil {
		return chat.Contact{}, fmt.Errorf("parse JID %q: %w", contactID, err)
	}
	jid = jid.ToNonAD()
	c := chat.Contact{ID: jid.String(), IsMe: a.isSelf(jid)}
	known := false

	if a.client.Store.Contacts != nil {
		info, err := a.client.Store.Contacts.GetContact(ctx, jid)
		if err != nil {
			a.logger.Debug("device contact lookup failed", zap.String("jid", c.ID), zap.Error(err))
		} else if info.Found {
			known = true
			c.Name = info.FullName
			if c.Name == "" {
				c.Name = info.FirstName
			}
			c.PushName = info.PushName
			c.BusinessName = info.BusinessName
		}
	}

	if c.Name == "" && c.PushName == "" {
		buffered, err := a.db.GetContact(c.ID)
		if err != nil {
			a.logger.Debug("buffered contact lookup failed", zap.String("jid", c.ID), zap.Error(err))
		} else if buffered != nil {
			known = true
			c.Name = buffered.Name
			c.PushName = buffered.PushName
		}
	}

	if about, ok := a.about(ctx, jid); ok {
		known = true
		c.Status = about
	}
	if !known && !c.IsMe {
		return chat.Contact{}, source.ErrUnknownContact
	}
	return c, nil
}

// SelfInfo describes the paired account.
func (a *Adapter) SelfInfo(ctx context.Context) (chat.Contact, error) {
	if !a.IsLoggedIn() {
		return chat.Contact{}, ErrNotConnected
	}
	self := a.client.Store.ID.ToNonAD()
	c := chat.Contact{
		ID:       self.String(),
		Name:     a.client.Store.PushName,
		PushName: a.client.Store.PushName,
		IsMe:     true,
	}
	if about, ok := a.about(ctx, self); ok {
		c.Status = about
	}
	return c, nil
}

// about fetches the account's status text. Only user JIDs carry one.
func (a *Adapter) about(ctx context.Context, jid types.JID) (string, bool) {
	if !a.IsConnected() || jid.Server != types.DefaultUserServer {
		return "", false
	}
	users, err := a.client.GetUserInfo(ctx, []types.JID{jid})
	if err != nil {
		a.logger.Debug("user info lookup failed", zap.String("jid", jid.String()), zap.Error(err))
		return "", false
	}
	info, ok := users[jid]
	if !ok {
		return "", false
	}
	return info.Status, true
}

func (a *Adapter) isSelf(jid types.JID) bool {
	return a.IsLoggedIn() && a.client.Store.ID.User == jid.User
}
