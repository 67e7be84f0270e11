package adminapi

import (
	"context"
	"html/template"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/inbox"
	"github.com/talkincode/wagateway/internal/webserver"
	"github.com/talkincode/wagateway/internal/whatsapp"
)

// Lifecycle is the part of the connection controller the API drives.
type Lifecycle interface {
	Snapshot() whatsapp.State
	Start(ctx context.Context) error
	Logout(ctx context.Context) error
}

type QueueMonitor interface {
	Stats() whatsapp.QueueStats
}

type Replier interface {
	Reply(ctx context.Context, phone, text string) (*inbox.ReplyResult, error)
}

type RuntimeSampler interface {
	RuntimeStats() domain.RuntimeStats
}

// Deps wires the handler. Runtime and Bus are optional.
type Deps struct {
	Whatsapp Lifecycle
	Queue    QueueMonitor
	Inbox    Replier
	Activity *whatsapp.ActivityLog
	Bus      EventBus.Bus
	Runtime  RuntimeSampler
}

// Handler serves the gateway HTTP API.
type Handler struct {
	Deps
	pages *template.Template
}

func New(d Deps) *Handler {
	if d.Activity == nil {
		d.Activity = whatsapp.NewActivityLog(0)
	}
	return &Handler{Deps: d, pages: template.Must(template.New("page").Parse(pageTemplate))}
}

func (h *Handler) Register(s *webserver.Server) {
	for _, p := range []string{"/status", "/health", "/api/status"} {
		s.GET(p, h.getStatus)
	}
	s.GET("/qr", h.getQRPage)
	s.GET("/qr.png", h.getQRImage)
	s.GET("/", h.getDashboard)
	s.GET("/dashboard", h.getDashboard)

	for _, p := range []string{"/send", "/api/messages", "/api/send"} {
		s.ApiPOST(p, h.postSend)
	}
	s.ApiPOST("/connect", h.postConnect)
	s.ApiPOST("/api/connect", h.postConnect)
	s.ApiPOST("/logout", h.postLogout)
	s.ApiPOST("/api/logout", h.postLogout)
	s.ApiGET("/api/activity", h.getActivity)
}
