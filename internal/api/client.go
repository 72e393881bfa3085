package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/profile"
	intsync "github.com/tupski/wa-monitor/internal/sync"
)

// Client talks to a running daemon over its unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient("unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp)
}

func (c *Client) Status(ctx context.Context) (*StatusReport, error) {
	out := new(StatusReport)
	return out, c.invoke(ctx, "Status", &Empty{}, out)
}

func (c *Client) ListChats(ctx context.Context) ([]chat.Conversation, error) {
	out := new(ListChatsResponse)
	if err := c.invoke(ctx, "ListChats", &Empty{}, out); err != nil {
		return nil, err
	}
	return out.Chats, nil
}

func (c *Client) GetMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	out := new(GetMessagesResponse)
	if err := c.invoke(ctx, "GetMessages", &ConversationRequest{ConversationID: conversationID}, out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) GetCallLogs(ctx context.Context, conversationID string) ([]chat.CallLog, error) {
	out := new(CallLogsResponse)
	if err := c.invoke(ctx, "GetCallLogs", &ConversationRequest{ConversationID: conversationID}, out); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

func (c *Client) StartSync(ctx context.Context) (*intsync.StartResult, error) {
	out := new(intsync.StartResult)
	return out, c.invoke(ctx, "StartSync", &Empty{}, out)
}

func (c *Client) StopSync(ctx context.Context) (bool, error) {
	out := new(StopSyncResponse)
	err := c.invoke(ctx, "StopSync", &Empty{}, out)
	return out.Stopped, err
}

func (c *Client) SyncProgress(ctx context.Context) (*intsync.Progress, error) {
	out := new(intsync.Progress)
	return out, c.invoke(ctx, "SyncProgress", &Empty{}, out)
}

func (c *Client) RequestMedia(ctx context.Context, conversationID, messageID string) (*RequestMediaResponse, error) {
	out := new(RequestMediaResponse)
	req := &RequestMediaRequest{ConversationID: conversationID, MessageID: messageID}
	return out, c.invoke(ctx, "RequestMedia", req, out)
}

func (c *Client) LoadProfiles(ctx context.Context, ids []string) (*profile.Summary, error) {
	out := new(profile.Summary)
	return out, c.invoke(ctx, "LoadProfiles", &LoadProfilesRequest{IDs: ids}, out)
}

func (c *Client) LoadProfile(ctx context.Context, contactID string) (*profile.Item, error) {
	out := new(profile.Item)
	return out, c.invoke(ctx, "LoadProfile", &ContactRequest{ContactID: contactID}, out)
}

func (c *Client) GetContact(ctx context.Context, contactID string) (*chat.Contact, error) {
	out := new(chat.Contact)
	return out, c.invoke(ctx, "GetContact", &ContactRequest{ContactID: contactID}, out)
}

func (c *Client) GetSelf(ctx context.Context) (*chat.Contact, error) {
	out := new(chat.Contact)
	return out, c.invoke(ctx, "GetSelf", &Empty{}, out)
}

// WatchEvents streams events whose kind starts with prefix to fn until ctx is
// done, the daemon goes away, or fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, prefix string, fn func(*Envelope) error) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/WatchEvents")
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&WatchEventsRequest{Prefix: prefix}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		env := new(Envelope)
		if err := stream.RecvMsg(env); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}
