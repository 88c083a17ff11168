package templates

import (
	"html/template"
	"io"
)

// AuthSuccessData holds data for the desktop hand-off page
type AuthSuccessData struct {
	AppName    string
	DesktopURL string
	// Countdown is how many seconds the page waits before opening the desktop app
	Countdown int
}

const authPageHead = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <meta name="referrer" content="no-referrer">
  <title>{{.Title}}</title>
  <style type="text/css">
    body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 0; min-height: 100vh; display: flex; align-items: center; justify-content: center; background: linear-gradient(135deg, #eff6ff 0%, #e0e7ff 100%); }
    .card { background: #fff; padding: 32px; border-radius: 8px; box-shadow: 0 10px 15px rgba(0,0,0,0.1); max-width: 420px; width: 100%; text-align: center; }
    .card h1 { color: #1f2937; font-size: 24px; margin: 0 0 8px; }
    .card p { color: #4b5563; }
    .icon { width: 64px; height: 64px; border-radius: 50%; margin: 0 auto 16px; line-height: 64px; font-size: 32px; color: #fff; }
    .ok { background: #22c55e; }
    .bad { background: #ef4444; }
    .button { display: inline-block; margin-top: 16px; padding: 10px 24px; background: #2563eb; color: #fff; border-radius: 6px; text-decoration: none; }
    .hint { font-size: 13px; color: #6b7280; margin-top: 24px; }
  </style>
</head>
<body>`

var successPage = template.Must(template.New("success").Parse(authPageHead + `
  <div class="card">
    <div class="icon ok">&#10003;</div>
    <h1>Login Successful!</h1>
    <p>You can now close this window and return to {{.AppName}}.</p>
    <p id="countdown">Opening {{.AppName}} in {{.Countdown}} seconds...</p>
    <a id="open" class="button" href="{{.DesktopURL}}">Open {{.AppName}}</a>
    <p class="hint">Nothing happened? Make sure {{.AppName}} is installed, then use the button above.</p>
  </div>
  <script>
    setTimeout(function () {
      window.location.href = document.getElementById("open").href;
    }, {{.Countdown}} * 1000);
  </script>
</body>
</html>`))

var invalidPage = template.Must(template.New("invalid").Parse(authPageHead + `
  <div class="card">
    <div class="icon bad">!</div>
    <h1>Invalid Request</h1>
    <p>No authorization code found. Please try logging in again from the desktop app.</p>
  </div>
</body>
</html>`))

// RenderAuthSuccessPage writes the page that hands the code over to the desktop app
func RenderAuthSuccessPage(w io.Writer, data AuthSuccessData) error {
	return successPage.Execute(w, struct {
		Title      string
		AppName    string
		DesktopURL template.URL
		Countdown  int
	}{
		Title:   "Login Successful",
		AppName: data.AppName,
		// custom schemes are dropped by html/template unless marked safe
		DesktopURL: template.URL(data.DesktopURL),
		Countdown:  data.Countdown,
	})
}

// RenderAuthInvalidPage writes the page shown when the hand-off has no code
func RenderAuthInvalidPage(w io.Writer) error {
	return invalidPage.Execute(w, struct{ Title string }{Title: "Invalid Request"})
}
