package handlers

import (
	"bytes"
	"net/http"

	"go.uber.org/zap"

	templates "github.com/linesmerrill/desktop-auth-api/templates/html"
)

// successCountdown is how long the success page waits before opening the desktop app
const successCountdown = 3

// SuccessPageHandler renders the hand-off page for browsers that do not follow
// the custom-scheme redirect on their own. It never touches the broker, so
// loading the page does not use up the code.
func (d DesktopAuth) SuccessPageHandler(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	status := http.StatusOK

	code := r.URL.Query().Get("code")
	var err error
	if code == "" {
		status = http.StatusBadRequest
		err = templates.RenderAuthInvalidPage(&buf)
	} else {
		appName := d.AppName
		if appName == "" {
			appName = "the desktop app"
		}
		err = templates.RenderAuthSuccessPage(&buf, templates.AuthSuccessData{
			AppName:    appName,
			DesktopURL: DesktopURL(d.Scheme, code),
			Countdown:  successCountdown,
		})
	}
	if err != nil {
		zap.S().Errorw("failed to render auth page", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
