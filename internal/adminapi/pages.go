package adminapi

import (
	"bytes"
	"encoding/base64"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"go.uber.org/zap"
)

const qrSize = 320

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="3">
<title>WhatsApp Gateway</title>
<style>
body { font-family: sans-serif; max-width: 720px; margin: 2em auto; color: #222; }
.state { font-weight: bold; text-transform: uppercase; }
table { border-collapse: collapse; width: 100%; font-size: 0.9em; }
td, th { border-bottom: 1px solid #ddd; padding: 4px; text-align: left; }
</style>
</head>
<body>
<h1>WhatsApp Gateway</h1>
<p>Status: <span class="state">{{.Label}}</span></p>
{{if .QR}}<p>Scan with WhatsApp, Linked devices:</p>
<img src="{{.QR}}" width="320" height="320" alt="pairing code">
{{else if .User}}<p>Connected as {{.User.Name}} ({{.User.ID}})</p>
{{else}}<p>No pairing code available yet.</p>{{end}}
{{if .Dashboard}}
<h2>Queue</h2>
<p>depth {{.Queue.Depth}}, sent {{.Queue.Sent}}, failed {{.Queue.Failed}}</p>
<h2>Recent activity</h2>
<table>
<tr><th>Time</th><th>Type</th><th>Peer</th><th>Status</th><th>Content</th></tr>
{{range .Logs}}<tr><td>{{.Time.Format "15:04:05"}}</td><td>{{.Type}}</td><td>{{.Peer}}</td><td>{{.Status}}</td><td>{{.Content}}</td></tr>
{{end}}</table>
{{end}}
</body>
</html>`

type pageData struct {
	Label     string
	QR        template.URL
	User      *whatsapp.Identity
	Dashboard bool
	Queue     whatsapp.QueueStats
	Logs      []whatsapp.Activity
}

// pairingPNG renders the current pairing payload, nil when there is none.
func (h *Handler) pairingPNG() ([]byte, error) {
	st := h.Whatsapp.Snapshot()
	if st.Status != whatsapp.StatusAwaitingScan || st.Pairing == "" {
		return nil, nil
	}
	return qrcode.Encode(st.Pairing, qrcode.Medium, qrSize)
}

func (h *Handler) renderPage(c echo.Context, dashboard bool) error {
	st := h.Whatsapp.Snapshot()
	data := pageData{Label: st.Status.Label(), Dashboard: dashboard}
	png, err := h.pairingPNG()
	if err != nil {
		zap.L().Warn("adminapi: render qr failed", zap.Error(err))
	}
	if len(png) > 0 {
		data.QR = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
	}
	if st.Status == whatsapp.StatusConnected {
		data.User = &st.Identity
	}
	if dashboard {
		data.Logs = h.Activity.Recent()
		if h.Queue != nil {
			data.Queue = h.Queue.Stats()
		}
	}
	var buf bytes.Buffer
	if err := h.pages.Execute(&buf, data); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func (h *Handler) getQRPage(c echo.Context) error {
	return h.renderPage(c, false)
}

func (h *Handler) getDashboard(c echo.Context) error {
	return h.renderPage(c, true)
}

func (h *Handler) getQRImage(c echo.Context) error {
	png, err := h.pairingPNG()
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QR_RENDER_FAILED", "Failed to render QR code", err.Error())
	}
	if len(png) == 0 {
		return fail(c, http.StatusNotFound, "NO_QR", "No pairing code available", nil)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, "image/png", png)
}
