package adminapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"github.com/talkincode/wagateway/pkg/common"
	"go.uber.org/zap"
)

type sendPayload struct {
	Phone       string `json:"phone"`
	PhoneNumber string `json:"phone_number"`
	Jid         string `json:"jid"`
	To          string `json:"to"`
	Message     string `json:"message"`
	Text        string `json:"text"`
}

func (p sendPayload) target() string {
	for _, v := range []string{p.Phone, p.PhoneNumber, p.Jid, p.To} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (p sendPayload) body() string {
	if p.Message != "" {
		return p.Message
	}
	return p.Text
}

// statusBody is shared by the status endpoints. Its status field carries the
// connection label rather than the envelope flag.
func (h *Handler) statusBody() map[string]interface{} {
	st := h.Whatsapp.Snapshot()
	body := map[string]interface{}{
		"status": st.Status.Label(),
		"state":  st.Status.String(),
		"since":  st.Since,
		"qr":     nil,
		"logs":   h.Activity.Recent(),
	}
	if st.Status == whatsapp.StatusAwaitingScan && st.Pairing != "" {
		body["qr"] = st.Pairing
	}
	if st.Status == whatsapp.StatusConnected && !st.Identity.IsZero() {
		body["user"] = st.Identity
	}
	if h.Queue != nil {
		stats := h.Queue.Stats()
		body["queue_depth"] = stats.Depth
		body["queue"] = stats
	}
	if h.Runtime != nil {
		body["runtime"] = h.Runtime.RuntimeStats()
	}
	return body
}

func (h *Handler) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.statusBody())
}

func (h *Handler) getActivity(c echo.Context) error {
	return ok(c, map[string]interface{}{"logs": h.Activity.Recent()})
}

// postSend relays an operator message to a phone number.
// Request JSON: { "phone": "0812xxxx", "message": "hello" }
func (h *Handler) postSend(c echo.Context) error {
	var payload sendPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	phone, text := payload.target(), payload.body()
	if phone == "" || text == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "phone and message are required", nil)
	}

	res, err := h.Inbox.Reply(c.Request().Context(), phone, text)
	activity := whatsapp.Activity{Type: whatsapp.ActivityAPI, Peer: phone, Content: common.Truncate(text, 80)}
	if err != nil {
		activity.Status = "failed"
		whatsapp.PublishActivity(h.Bus, activity)
		status, code := errorStatus(err)
		if res != nil && errors.Is(err, domain.ErrPersistenceFailure) {
			zap.L().Error("adminapi: message sent but not stored", zap.String("phone", res.Phone), zap.Error(err))
			return c.JSON(status, map[string]interface{}{
				"status":     false,
				"sent":       true,
				"message_id": res.Outcome.MessageID,
				"phone":      res.Phone,
				"error":      "Message sent but could not be stored",
				"code":       code,
			})
		}
		zap.L().Warn("adminapi: send failed", zap.String("phone", phone), zap.Error(err))
		return fail(c, status, code, err.Error(), nil)
	}

	activity.Status = "sent"
	activity.Peer = res.Phone
	whatsapp.PublishActivity(h.Bus, activity)
	return ok(c, map[string]interface{}{
		"sent":            true,
		"phone":           res.Phone,
		"message_id":      res.Outcome.MessageID,
		"conversation_id": res.ConversationID,
		"waited_ms":       res.Outcome.Waited.Milliseconds(),
	})
}

// postConnect starts a session attempt. It is a no-op while one is active.
func (h *Handler) postConnect(c echo.Context) error {
	if err := h.Whatsapp.Start(c.Request().Context()); err != nil {
		zap.L().Warn("adminapi: connect failed", zap.Error(err))
		return fail(c, http.StatusServiceUnavailable, "CONNECT_FAILED", "Failed to start WhatsApp session", err.Error())
	}
	zap.L().Info("adminapi: triggered whatsapp connect")
	st := h.Whatsapp.Snapshot()
	return ok(c, map[string]interface{}{"started": true, "state": st.Status.String()})
}

// postLogout unlinks the device. Requests while not connected are acknowledged
// without effect.
func (h *Handler) postLogout(c echo.Context) error {
	err := h.Whatsapp.Logout(c.Request().Context())
	switch {
	case errors.Is(err, domain.ErrNotConnected):
		return ok(c, map[string]interface{}{"logged_out": false, "message": "not connected"})
	case err != nil:
		zap.L().Warn("adminapi: logout failed", zap.Error(err))
		return fail(c, http.StatusBadGateway, "LOGOUT_FAILED", "Failed to log out", err.Error())
	}
	zap.L().Info("adminapi: logout requested")
	return ok(c, map[string]interface{}{"logged_out": true})
}
