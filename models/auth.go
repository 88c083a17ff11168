package models

import "time"

// ExchangeRequest is the body the desktop client posts to redeem a code
type ExchangeRequest struct {
	Code string `json:"code"`
}

// DesktopUser is the identity handed to the desktop client after a successful exchange
type DesktopUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ExchangeResponse is returned by the exchange endpoint
type ExchangeResponse struct {
	User      DesktopUser `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// ExchangeDenied is returned when a code cannot be redeemed
type ExchangeDenied struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// IssueCodeResponse is returned when a code is requested as JSON instead of a redirect
type IssueCodeResponse struct {
	Code        string `json:"code"`
	RedirectURL string `json:"redirectUrl"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// CodeStatusResponse is the debug view of a pending code
type CodeStatusResponse struct {
	Success          bool   `json:"success"`
	Found            bool   `json:"found"`
	Code             string `json:"code,omitempty"`
	Email            string `json:"email,omitempty"`
	AgeSeconds       int64  `json:"ageSeconds"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
	IsExpired        bool   `json:"isExpired"`
	Consumed         bool   `json:"consumed"`
	StoreSize        int64  `json:"storeSize"`
	Message          string `json:"message,omitempty"`
	Error            string `json:"error,omitempty"`
}

// DebugCode is one entry in the debug listing. Code is a prefix and is only
// known to the in-memory store; the mongo store only holds the hash.
type DebugCode struct {
	Code             string    `json:"code,omitempty"`
	CodeHash         string    `json:"codeHash,omitempty"`
	Email            string    `json:"email"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	Consumed         bool      `json:"consumed"`
	AgeSeconds       int64     `json:"ageSeconds"`
	ExpiresInSeconds int64     `json:"expiresInSeconds"`
}

// DebugCodesResponse lists the most recently issued codes
type DebugCodesResponse struct {
	Success     bool        `json:"success"`
	TotalCodes  int64       `json:"totalCodes"`
	RecentCodes []DebugCode `json:"recentCodes"`
	Error       string      `json:"error,omitempty"`
}
