package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/linesmerrill/desktop-auth-api/api"
	"github.com/linesmerrill/desktop-auth-api/broker"
	"github.com/linesmerrill/desktop-auth-api/config"
	"github.com/linesmerrill/desktop-auth-api/models"
)

// debugCodesLimit is how many codes the debug listing shows by default, and
// maxDebugCodes how many it shows at most
const (
	debugCodesLimit = 10
	maxDebugCodes   = 100
)

// maxExchangeBody caps the exchange request body, which only ever carries a code
const maxExchangeBody = 4 << 10

// DesktopAuth exposes the code broker over http
type DesktopAuth struct {
	Broker    *broker.Broker
	Scheme    string
	AppName   string
	JWTSecret []byte
	TokenTTL  time.Duration
	now       func() time.Time
}

// DesktopURL builds the custom-scheme URL the desktop client is registered for
func DesktopURL(scheme, code string) string {
	u := url.URL{
		Scheme:   scheme,
		Host:     "auth",
		RawQuery: url.Values{"code": []string{code}}.Encode(),
	}
	return u.String()
}

// DesktopRedirectHandler issues a code for the signed-in user and sends the
// browser to the desktop client. fallback=true lands on the success page
// instead, for browsers that do not hand custom schemes to the OS.
func (d DesktopAuth) DesktopRedirectHandler(w http.ResponseWriter, r *http.Request) {
	code, ok := d.issue(w, r)
	if !ok {
		return
	}

	target := DesktopURL(d.Scheme, code)
	if r.URL.Query().Get("fallback") == "true" {
		target = "/auth/success?" + url.Values{"code": []string{code}}.Encode()
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}

// IssueCodeHandler issues a code for the signed-in user and returns it as json
func (d DesktopAuth) IssueCodeHandler(w http.ResponseWriter, r *http.Request) {
	code, ok := d.issue(w, r)
	if !ok {
		return
	}

	b, err := json.Marshal(models.IssueCodeResponse{
		Code:        code,
		RedirectURL: DesktopURL(d.Scheme, code),
		ExpiresIn:   int64(d.Broker.TTL().Seconds()),
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusCreated)
	w.Write(b)
}

func (d DesktopAuth) issue(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := api.SessionIdentityFromContext(r.Context())
	if !ok {
		config.ErrorStatus("no session on request", http.StatusUnauthorized, w, errors.New("unauthorized"))
		return "", false
	}

	code, err := d.Broker.Issue(r.Context(), id)
	if err != nil {
		config.ErrorStatus("failed to issue exchange code", http.StatusInternalServerError, w, err)
		return "", false
	}
	return code, true
}

// ExchangeHandler redeems a code for the desktop client. The code may come in
// the json body or the query string.
func (d DesktopAuth) ExchangeHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		var req models.ExchangeRequest
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExchangeBody)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
			return
		}
		code = req.Code
	}
	if code == "" {
		writeJSON(w, http.StatusBadRequest, models.ExchangeDenied{Error: "invalid_request", Reason: "missing_code"})
		return
	}

	id, err := d.Broker.Consume(r.Context(), code)
	if broker.IsDenial(err) {
		writeJSON(w, http.StatusUnauthorized, models.ExchangeDenied{Error: "invalid_code", Reason: broker.Reason(err)})
		return
	}
	if err != nil {
		config.ErrorStatus("failed to consume exchange code", http.StatusInternalServerError, w, err)
		return
	}

	token, expiresAt, err := api.MintDesktopToken(d.JWTSecret, id, d.tokenTTL(), d.clock())
	if err != nil {
		config.ErrorStatus("failed to sign desktop token", http.StatusInternalServerError, w, err)
		return
	}

	zap.S().Infow("desktop client signed in", "email", id.Email, "code", broker.Prefix(code))
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, models.ExchangeResponse{
		User:      models.DesktopUser{ID: id.UserID, Email: id.Email, Role: id.Role},
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// CodeStatusHandler reports what the store holds for a code without consuming it
func (d DesktopAuth) CodeStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	size, err := d.Broker.Size(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.CodeStatusResponse{Error: err.Error()})
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusOK, models.CodeStatusResponse{Error: "Code parameter required", StoreSize: size})
		return
	}

	entry, err := d.Broker.Peek(ctx, code)
	if errors.Is(err, broker.ErrNotFound) {
		writeJSON(w, http.StatusOK, models.CodeStatusResponse{StoreSize: size, Message: "Code not found in store"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.CodeStatusResponse{Error: err.Error()})
		return
	}

	now := d.clock()
	writeJSON(w, http.StatusOK, models.CodeStatusResponse{
		Success:          true,
		Found:            true,
		Code:             broker.Prefix(code),
		Email:            entry.Email,
		AgeSeconds:       int64(now.Sub(entry.CreatedAt) / time.Second),
		ExpiresInSeconds: int64(entry.ExpiresAt.Sub(now) / time.Second),
		IsExpired:        entry.Expired(now),
		Consumed:         entry.Consumed,
		StoreSize:        size,
	})
}

// DebugCodesHandler lists the most recently issued codes, newest first
func (d DesktopAuth) DebugCodesHandler(w http.ResponseWriter, r *http.Request) {
	limit := debugCodesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, models.DebugCodesResponse{Error: "limit must be a positive number"})
			return
		}
		limit = n
	}
	if limit > maxDebugCodes {
		limit = maxDebugCodes
	}

	ctx := r.Context()
	total, err := d.Broker.Size(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.DebugCodesResponse{Error: err.Error()})
		return
	}
	entries, err := d.Broker.Recent(ctx, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.DebugCodesResponse{Error: err.Error()})
		return
	}

	now := d.clock()
	recent := make([]models.DebugCode, 0, len(entries))
	for _, e := range entries {
		c := models.DebugCode{
			Email:            e.Email,
			CreatedAt:        e.CreatedAt,
			ExpiresAt:        e.ExpiresAt,
			Consumed:         e.Consumed,
			AgeSeconds:       int64(now.Sub(e.CreatedAt) / time.Second),
			ExpiresInSeconds: int64(e.ExpiresAt.Sub(now) / time.Second),
		}
		if e.Code != "" {
			c.Code = broker.Prefix(e.Code)
		} else {
			c.CodeHash = broker.Prefix(e.CodeHash)
		}
		recent = append(recent, c)
	}

	writeJSON(w, http.StatusOK, models.DebugCodesResponse{
		Success:     true,
		TotalCodes:  total,
		RecentCodes: recent,
	})
}

// BrokerStatsHandler returns the broker counters and the store size
func (d DesktopAuth) BrokerStatsHandler(w http.ResponseWriter, r *http.Request) {
	size, err := d.Broker.Size(r.Context())
	if err != nil {
		config.ErrorStatus("failed to count exchange codes", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":     d.Broker.Stats(),
		"storeSize": size,
	})
}

func (d DesktopAuth) tokenTTL() time.Duration {
	if d.TokenTTL <= 0 {
		return 24 * time.Hour
	}
	return d.TokenTTL
}

func (d DesktopAuth) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
