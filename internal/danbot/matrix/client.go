// Package matrix provides the Matrix transport for danbot: it receives text
// and image messages from allowed rooms and sends replies. The memory core
// never touches the wire; everything Matrix-specific stays here.
package matrix

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/ldinca/danbot/common/retry"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms is the allowlist of room IDs the bot answers in.
	Rooms []string
	// DB is an optional SQLite connection used to persist the sync token
	// (next_batch) across restarts. When nil, an in-memory store is used
	// and room history will be replayed on every restart.
	DB *sql.DB
}

// InboundMessage is the transport-neutral shape handed to the application:
// one user, optional text, optional image.
type InboundMessage struct {
	RoomID   string
	Sender   string
	Event    *event.Event
	Text     string
	HasImage bool
	// ImageMXC is the homeserver mxc:// URL of the image, kept for the
	// durable history log.
	ImageMXC string
	// ImageDataURL is a base64 data URL of the downloaded image, ready to
	// pass to a vision model. Empty when the download failed.
	ImageDataURL string
	Caption      string
}

// MessageHandler processes one inbound message.
type MessageHandler func(ctx context.Context, msg *InboundMessage)

// Client wraps the mautrix client.
type Client struct {
	client     *mautrix.Client
	config     *Config
	stopCh     chan struct{}
	msgHandler MessageHandler
}

// New creates a Matrix client.
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	c := &Client{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
	}

	// Persist the sync position so a restart does not replay old messages
	// (and re-capture old facts and notes).
	if config.DB != nil {
		client.Store = newDBSyncStore(config.DB)
	} else {
		slog.Warn("Matrix sync store: no DB configured, history will replay on restart")
	}

	return c, nil
}

// Start joins the allowed rooms and begins syncing. Each inbound message is
// dispatched to handler on its own goroutine so one slow user does not stall
// the sync loop or other users.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.msgHandler = handler

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleEvent)

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("failed to join room %s: %w", roomID, err)
		}
	}

	// Sync in the background with exponential back-off reconnection; a
	// transient homeserver error must not leave the bot deaf.
	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			backoff = backoffMin
			if err := c.client.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				slog.Error("Matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			return
		}
	}()

	return nil
}

// Stop stops the Matrix client.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// SendMessage sends a text message to a room.
func (c *Client) SendMessage(ctx context.Context, roomID, message string) error {
	_, err := c.client.SendText(ctx, id.RoomID(roomID), message)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendNotice sends a notice (less intrusive; used for command replies and
// error messages).
func (c *Client) SendNotice(ctx context.Context, roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	_, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

// SetTyping toggles the typing indicator while the model call is in flight.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	_, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout)
	if err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

// isAllowedRoom checks the room allowlist.
func (c *Client) isAllowedRoom(roomID string) bool {
	for _, allowed := range c.config.Rooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// handleEvent filters sync events down to messages danbot answers and
// converts them to InboundMessage.
func (c *Client) handleEvent(ctx context.Context, evt *event.Event) {
	// Ignore our own messages.
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}
	if !c.isAllowedRoom(evt.RoomID.String()) {
		return
	}

	content := evt.Content.AsMessage()
	if content == nil {
		return
	}

	msg := &InboundMessage{
		RoomID: evt.RoomID.String(),
		Sender: evt.Sender.String(),
		Event:  evt,
	}

	switch content.MsgType {
	case event.MsgText:
		msg.Text = content.Body
	case event.MsgImage:
		dataURL, err := c.downloadImage(ctx, content)
		if err != nil {
			slog.Warn("failed to download image, answering without it",
				"err", err, "room_id", msg.RoomID, "sender", msg.Sender)
		}
		msg.HasImage = true
		msg.ImageMXC = string(content.URL)
		msg.ImageDataURL = dataURL
		// For images the body is the caption, or the filename when there
		// is none. A filename-looking body counts as no caption.
		if content.Body != content.FileName {
			msg.Caption = content.Body
		}
	default:
		return
	}

	if c.msgHandler != nil {
		go c.msgHandler(ctx, msg)
	}
}

// downloadImage fetches the image from the homeserver (media endpoints are
// flaky, hence the retry) and encodes it as a data URL for the vision model.
func (c *Client) downloadImage(ctx context.Context, content *event.MessageEventContent) (string, error) {
	if content.URL == "" {
		return "", errors.New("image event has no mxc URL")
	}
	uri, err := content.URL.Parse()
	if err != nil {
		return "", fmt.Errorf("parse mxc URL: %w", err)
	}

	var data []byte
	err = retry.Do(ctx, retry.Config{MaxAttempts: 3, InitialDelay: time.Second}, func() error {
		var derr error
		data, derr = c.client.DownloadBytes(ctx, uri)
		return derr
	})
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}

	mime := "image/jpeg"
	if content.Info != nil && content.Info.MimeType != "" {
		mime = content.Info.MimeType
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// joinRoom attempts to join a room, tolerating "already a member".
func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("joinRoom: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
