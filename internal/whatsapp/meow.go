package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/talkincode/wagateway/internal/domain"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// MeowFactory creates whatsmeow-backed sessions from a sqlite credential
// store kept under the auth directory.
type MeowFactory struct {
	container  *sqlstore.Container
	deviceName string
}

var _ SessionFactory = (*MeowFactory)(nil)

// NewMeowFactory opens (and migrates) the credential store in authDir.
func NewMeowFactory(ctx context.Context, authDir, deviceName string) (*MeowFactory, error) {
	if err := os.MkdirAll(authDir, 0o700); err != nil {
		return nil, fmt.Errorf("create auth dir %s: %w", authDir, err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(authDir, "whatsmeow.db"))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, newWaLogger("store"))
	if err != nil {
		zap.L().Error("whatsapp: open credential store failed", zap.Error(err), zap.String("dir", authDir))
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	if deviceName != "" {
		store.DeviceProps.Os = proto.String(deviceName)
	}
	return &MeowFactory{container: container, deviceName: deviceName}, nil
}

// NewSession loads the first stored device, or a fresh one to be paired.
func (f *MeowFactory) NewSession(ctx context.Context, emit Emitter) (Session, error) {
	device, err := f.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	client := whatsmeow.NewClient(device, newWaLogger("client"))
	// Reconnection is owned by the Controller.
	client.EnableAutoReconnect = false
	s := &meowSession{client: client, emit: emit}
	s.handlerID = client.AddEventHandler(s.handleEvent)
	return s, nil
}

// Close releases the credential store.
func (f *MeowFactory) Close() error {
	return f.container.Close()
}

type meowSession struct {
	client    *whatsmeow.Client
	emit      Emitter
	handlerID uint32
	closeOnce sync.Once
}

func (s *meowSession) Connect(ctx context.Context) error {
	if s.client.Store.ID != nil {
		zap.L().Info("whatsapp: connecting with stored credentials", zap.String("jid", s.client.Store.ID.String()))
		return s.client.Connect()
	}
	qrChan, err := s.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := s.client.Connect(); err != nil {
		return err
	}
	go s.watchQR(qrChan)
	return nil
}

func (s *meowSession) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			zap.L().Info("whatsapp: qr code received", zap.Int("code_len", len(item.Code)), zap.Duration("timeout", item.Timeout))
			s.emit(Event{Kind: EventPairing, Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			zap.L().Info("whatsapp: pairing succeeded")
		case whatsmeow.QRChannelTimeout.Event:
			zap.L().Warn("whatsapp: pairing timed out")
			s.emit(Event{Kind: EventClosed, Reason: ReasonPairingTimeout})
		default:
			zap.L().Warn("whatsapp: pairing failed", zap.String("event", item.Event), zap.Error(item.Error))
			s.emit(Event{Kind: EventClosed, Reason: ReasonConnectFailed})
		}
	}
}

func (s *meowSession) Send(ctx context.Context, to Recipient, text string) (string, error) {
	jid, err := waTypes.ParseJID(to.String())
	if err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func (s *meowSession) Logout(ctx context.Context) error {
	if err := s.client.Logout(ctx); err != nil {
		return err
	}
	s.emit(Event{Kind: EventClosed, Reason: ReasonLoggedOut})
	return nil
}

func (s *meowSession) Close() {
	s.closeOnce.Do(func() {
		s.client.RemoveEventHandler(s.handlerID)
		s.client.Disconnect()
	})
}

func (s *meowSession) identity() Identity {
	id := Identity{Name: s.client.Store.PushName}
	if s.client.Store.ID != nil {
		id.ID = s.client.Store.ID.ToNonAD().String()
	}
	return id
}

func (s *meowSession) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		s.emit(Event{Kind: EventOpened, Identity: s.identity()})
	case *events.PairSuccess:
		zap.L().Info("whatsapp: device paired", zap.String("jid", v.ID.String()), zap.String("platform", v.Platform))
	case *events.LoggedOut:
		zap.L().Warn("whatsapp: logged out by server", zap.Bool("on_connect", v.OnConnect), zap.String("reason", v.Reason.String()))
		s.emit(Event{Kind: EventClosed, Reason: ReasonLoggedOut})
	case *events.ConnectFailure:
		zap.L().Warn("whatsapp: connect failure", zap.String("reason", v.Reason.String()), zap.String("message", v.Message))
		if v.Reason.IsLoggedOut() {
			s.emit(Event{Kind: EventClosed, Reason: ReasonLoggedOut})
		} else {
			s.emit(Event{Kind: EventClosed, Reason: ReasonConnectFailed})
		}
	case *events.StreamReplaced:
		zap.L().Warn("whatsapp: stream replaced by another connection")
		s.emit(Event{Kind: EventClosed, Reason: ReasonReplaced})
	case *events.TemporaryBan:
		zap.L().Warn("whatsapp: temporary ban", zap.String("ban", v.String()))
		s.emit(Event{Kind: EventClosed, Reason: ReasonBanned})
	case *events.Disconnected:
		s.emit(Event{Kind: EventClosed, Reason: ReasonConnectionLost})
	case *events.KeepAliveTimeout:
		zap.L().Debug("whatsapp: keepalive timeout", zap.Int("errors", v.ErrorCount))
	case *events.Message:
		ev := inboundFromMessage(v, s.phoneForLID)
		s.emit(Event{Kind: EventMessage, Message: &ev})
	}
}

// phoneForLID maps a LID sender to its phone number address using the
// device's LID store. Unknown LIDs are returned unchanged.
func (s *meowSession) phoneForLID(jid waTypes.JID) waTypes.JID {
	if jid.Server != waTypes.HiddenUserServer || s.client.Store.LIDs == nil {
		return jid
	}
	pn, err := s.client.Store.LIDs.GetPNForLID(context.Background(), jid.ToNonAD())
	if err != nil || pn.IsEmpty() {
		zap.L().Warn("whatsapp: no phone number for lid sender", zap.String("lid", jid.String()), zap.Error(err))
		return jid
	}
	return pn
}

// inboundFromMessage converts a message event. resolve maps LID senders to
// phone number addresses.
func inboundFromMessage(v *events.Message, resolve func(waTypes.JID) waTypes.JID) InboundEvent {
	content, kind, media := extractContent(v.Message)
	sender := v.Info.Sender
	if sender.Server == waTypes.HiddenUserServer && resolve != nil {
		sender = resolve(sender)
	}
	return InboundEvent{
		Sender:      sender.ToNonAD().String(),
		PushName:    v.Info.PushName,
		Content:     content,
		Kind:        kind,
		MediaURL:    media,
		IsFromSelf:  v.Info.IsFromMe,
		IsBroadcast: v.Info.Chat.Server == waTypes.BroadcastServer || v.Info.IsIncomingBroadcast(),
		IsGroup:     v.Info.IsGroup,
		MessageID:   string(v.Info.ID),
		ReceivedAt:  v.Info.Timestamp,
	}
}

// extractContent returns the text (or caption), the content kind and a media
// url for the message.
func extractContent(m *waE2E.Message) (string, string, string) {
	if m == nil {
		return "", domain.KindOther, ""
	}
	switch {
	case m.GetConversation() != "":
		return m.GetConversation(), domain.KindText, ""
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetText(), domain.KindText, ""
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetCaption(), domain.KindImage, m.GetImageMessage().GetURL()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetCaption(), domain.KindVideo, m.GetVideoMessage().GetURL()
	case m.GetAudioMessage() != nil:
		return "", domain.KindAudio, m.GetAudioMessage().GetURL()
	case m.GetDocumentMessage() != nil:
		d := m.GetDocumentMessage()
		return firstNonEmpty(d.GetCaption(), d.GetFileName()), domain.KindDocument, d.GetURL()
	case m.GetStickerMessage() != nil:
		return "", domain.KindSticker, m.GetStickerMessage().GetURL()
	case m.GetLocationMessage() != nil:
		l := m.GetLocationMessage()
		return fmt.Sprintf("%f,%f", l.GetDegreesLatitude(), l.GetDegreesLongitude()), domain.KindLocation, ""
	case m.GetContactMessage() != nil:
		return m.GetContactMessage().GetDisplayName(), domain.KindContact, ""
	}
	return "", domain.KindOther, ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
