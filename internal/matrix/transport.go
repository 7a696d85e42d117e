// ABOUTME: Matrix transport for coven-relay: receives room messages and sends replies
// ABOUTME: Each room is one relay user; text and media events are handed to the inbound queue

package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/inbound"
	"github.com/2389/coven-relay/internal/media"
)

// typingTimeout is how long the typing indicator shows unless cleared.
const typingTimeout = 30 * time.Second

// networkTimeout bounds typing and join calls.
const networkTimeout = 10 * time.Second

// ErrMediaTooLarge is returned for attachments above the configured cap.
var ErrMediaTooLarge = errors.New("media exceeds size limit")

// TransportError reports a failed delivery to a room.
type TransportError struct {
	RoomID string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("matrix: sending to %s: %v", e.RoomID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client is the subset of *mautrix.Client the transport calls after login.
type Client interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
	DownloadBytes(ctx context.Context, mxcURL id.ContentURI) ([]byte, error)
	JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error)
}

// Inbound receives accepted events.
type Inbound interface {
	Seen(eventID string) bool
	Enqueue(userID string, p inbound.Payload) error
}

// Options configures a Transport.
type Options struct {
	Homeserver  string
	Username    string
	Password    string
	UserID      string
	AccessToken string

	AllowedRooms    []string
	AllowedUsers    []string
	TypingIndicator bool
	AutoJoin        bool
	// MaxMediaBytes caps downloaded attachments. Zero means no cap.
	MaxMediaBytes int64

	Logger *slog.Logger
}

// Transport connects Matrix rooms to the relay.
type Transport struct {
	opts   Options
	client *mautrix.Client
	api    Client
	self   id.UserID
	md     goldmark.Markdown
	logger *slog.Logger

	// started filters the backlog delivered by the first sync.
	started time.Time
}

// New creates a Matrix transport. Call Login before Run.
func New(opts Options) (*Transport, error) {
	client, err := mautrix.NewClient(opts.Homeserver, id.UserID(opts.UserID), opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	t := newTransport(opts, client)
	t.client = client
	return t, nil
}

func newTransport(opts Options, api Client) *Transport {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Transport{
		opts: opts,
		api:  api,
		self: id.UserID(opts.UserID),
		md: goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		logger:  opts.Logger.With("component", "matrix"),
		started: time.Now(),
	}
}

// UserID returns the relay's own Matrix user id.
func (t *Transport) UserID() string {
	return t.self.String()
}

// Login authenticates with the password when no access token was configured.
func (t *Transport) Login(ctx context.Context) error {
	if t.opts.AccessToken != "" {
		t.logger.Info("using configured access token", "user_id", t.self)
		return nil
	}

	resp, err := t.client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: t.opts.Username,
		},
		Password:                 t.opts.Password,
		InitialDeviceDisplayName: "coven-relay",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("logging in as %s: %w", t.opts.Username, err)
	}

	t.self = resp.UserID
	t.logger.Info("logged in", "user_id", resp.UserID, "device_id", resp.DeviceID)
	return nil
}

// Run syncs with the homeserver and feeds accepted events to in until ctx ends.
func (t *Transport) Run(ctx context.Context, in Inbound) error {
	syncer, ok := t.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", t.client.Syncer)
	}

	t.started = time.Now()
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		t.handleMessage(ctx, in, evt)
	})
	if t.opts.AutoJoin {
		syncer.OnEventType(event.StateMember, t.handleMember)
	}

	t.logger.Info("connecting to matrix homeserver", "homeserver", t.opts.Homeserver, "user_id", t.self)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- t.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("shutting down matrix transport")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessage filters a room message and enqueues it.
func (t *Transport) handleMessage(ctx context.Context, in Inbound, evt *event.Event) {
	if evt.Sender == t.self {
		return
	}
	if time.UnixMilli(evt.Timestamp).Before(t.started) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	roomID := evt.RoomID.String()
	if !t.isRoomAllowed(roomID) || !t.isUserAllowed(evt.Sender.String()) {
		t.logger.Debug("ignoring message from non-allowed sender", "room", roomID, "sender", evt.Sender)
		return
	}

	payload, ok := t.payloadFor(content)
	if !ok {
		t.logger.Debug("ignoring unsupported message", "room", roomID, "msgtype", content.MsgType)
		return
	}

	if in.Seen(evt.ID.String()) {
		t.logger.Debug("dropping redelivered event", "room", roomID, "event_id", evt.ID)
		return
	}

	payload.EventID = evt.ID.String()
	payload.ReceivedAt = time.UnixMilli(evt.Timestamp)

	t.logger.Info("received message",
		"room", roomID,
		"sender", evt.Sender.String(),
		"kind", payload.Kind,
		"content", truncate(content.Body, 50),
	)

	if err := in.Enqueue(roomID, payload); err != nil {
		t.logger.Warn("failed to enqueue message", "room", roomID, "error", err)
	}
}

// payloadFor maps message content to an inbound payload.
func (t *Transport) payloadFor(content *event.MessageEventContent) (inbound.Payload, bool) {
	switch content.MsgType {
	case event.MsgText:
		body := strings.TrimSpace(content.Body)
		if body == "" {
			return inbound.Payload{}, false
		}
		return inbound.Payload{Kind: inbound.KindText, Text: body}, true

	case event.MsgImage, event.MsgAudio:
		if content.URL == "" {
			// Encrypted attachments carry File instead of URL.
			return inbound.Payload{}, false
		}
		m := media.Media{
			Kind:     media.KindImage,
			FileName: content.FileName,
			Source:   string(content.URL),
		}
		if content.MsgType == event.MsgAudio {
			m.Kind = media.KindAudio
		}
		if content.Info != nil {
			m.MIMEType = content.Info.MimeType
			m.Size = int64(content.Info.Size)
		}
		// Body is the caption when a separate file name is present.
		if content.FileName != "" && content.Body != content.FileName {
			m.Caption = content.Body
		} else if m.FileName == "" {
			m.FileName = content.Body
		}
		return inbound.Payload{Kind: inbound.KindMedia, Media: &m}, true
	}
	return inbound.Payload{}, false
}

// handleMember joins rooms the relay is invited to.
func (t *Transport) handleMember(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite || evt.GetStateKey() != t.self.String() {
		return
	}
	if !t.isRoomAllowed(evt.RoomID.String()) || !t.isUserAllowed(evt.Sender.String()) {
		t.logger.Info("ignoring invite", "room", evt.RoomID, "sender", evt.Sender)
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := t.api.JoinRoomByID(joinCtx, evt.RoomID); err != nil {
		t.logger.Error("failed to join room", "room", evt.RoomID, "error", err)
		return
	}
	t.logger.Info("joined room", "room", evt.RoomID, "inviter", evt.Sender)
}

// Fetch downloads m's data from the homeserver when it has not been loaded yet.
func (t *Transport) Fetch(ctx context.Context, m *media.Media) error {
	if len(m.Data) > 0 {
		return nil
	}
	if t.opts.MaxMediaBytes > 0 && m.Size > t.opts.MaxMediaBytes {
		return fmt.Errorf("%w: %d bytes", ErrMediaTooLarge, m.Size)
	}

	uri, err := id.ContentURIString(m.Source).Parse()
	if err != nil {
		return fmt.Errorf("parsing media uri %q: %w", m.Source, err)
	}
	data, err := t.api.DownloadBytes(ctx, uri)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", m.Source, err)
	}
	if t.opts.MaxMediaBytes > 0 && int64(len(data)) > t.opts.MaxMediaBytes {
		return fmt.Errorf("%w: %d bytes", ErrMediaTooLarge, len(data))
	}

	m.Data = data
	m.Size = int64(len(data))
	return nil
}

// Send delivers text to the room identified by userID, with an HTML
// rendering of its markdown.
func (t *Transport) Send(ctx context.Context, userID, text string) error {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if formatted, err := t.render(text); err != nil {
		t.logger.Debug("markdown render failed, sending plain text", "error", err)
	} else {
		content.Format = event.FormatHTML
		content.FormattedBody = formatted
	}

	if _, err := t.api.SendMessageEvent(ctx, id.RoomID(userID), event.EventMessage, content); err != nil {
		return &TransportError{RoomID: userID, Err: err}
	}

	t.logger.Info("sent reply", "room", userID, "length", len(text))
	return nil
}

func (t *Transport) render(text string) (string, error) {
	var buf bytes.Buffer
	if err := t.md.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// Typing shows or clears the typing indicator when enabled.
func (t *Transport) Typing(userID string, typing bool) {
	if !t.opts.TypingIndicator {
		return
	}
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := t.api.UserTyping(ctx, id.RoomID(userID), typing, timeout); err != nil {
		t.logger.Debug("failed to set typing indicator", "room", userID, "error", err)
	}
}

// isRoomAllowed checks if the room is in the allowed list.
func (t *Transport) isRoomAllowed(roomID string) bool {
	return len(t.opts.AllowedRooms) == 0 || slices.Contains(t.opts.AllowedRooms, roomID)
}

// isUserAllowed checks if the sender is in the allowed list.
func (t *Transport) isUserAllowed(userID string) bool {
	return len(t.opts.AllowedUsers) == 0 || slices.Contains(t.opts.AllowedUsers, userID)
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
