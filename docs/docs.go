// Package docs Desktop Auth API.
//
// Documentation of the Desktop Auth API, which hands a signed-in browser
// session over to the desktop app through a one-time code.
//
//     Schemes: https
//     BasePath: /
//     Version: 1.0.0
//
//     Consumes:
//     - application/json
//
//     Produces:
//     - application/json
//
//     Security:
//     - bearer
//
//    SecurityDefinitions:
//    bearer:
//      type: apiKey
//      name: Authorization
//      in: header
//
// swagger:meta
package docs

import (
	"github.com/linesmerrill/desktop-auth-api/models"
)

// swagger:route GET /health health healthEndpointID
// Lists the healthchex of the web service api.
// responses:
//   200: healthResponse

// Shows the current health of the api. true means it is alive, false means it is not.
// swagger:response healthResponse
type healthResponseWrapper struct {
	// in:body
	Body models.HealthCheckResponse
}

// swagger:route GET /api/v1/auth/desktop auth desktopRedirect
// Issues a one-time code for the signed-in user and redirects to the desktop app.
// responses:
//   302: description: Location is <scheme>://auth?code=<code>, or /auth/success?code=<code> with fallback=true. Signed-out browsers go to LOGIN_URL?callbackUrl=<path>
//   401: errorResponse

// swagger:parameters desktopRedirect
type desktopRedirectParams struct {
	// Land on the success page instead of the desktop app
	// in:query
	Fallback bool `json:"fallback"`
}

// swagger:route POST /api/v1/auth/desktop/code auth issueCode
// Issues a one-time code for the signed-in user and returns it.
// responses:
//   201: issueCodeResponse
//   401: errorResponse

// The issued code and the URL that opens the desktop app with it.
// swagger:response issueCodeResponse
type issueCodeResponseWrapper struct {
	// in:body
	Body models.IssueCodeResponse
}

// swagger:route POST /api/v1/auth/exchange auth exchangeCode
// Redeems a one-time code. A code can be redeemed once.
// responses:
//   200: exchangeResponse
//   400: exchangeDeniedResponse
//   401: exchangeDeniedResponse

// swagger:parameters exchangeCode
type exchangeCodeParams struct {
	// in:body
	Body models.ExchangeRequest
}

// The user the code was issued for and a token for the desktop app.
// swagger:response exchangeResponse
type exchangeResponseWrapper struct {
	// in:body
	Body models.ExchangeResponse
}

// Why the code could not be redeemed: not_found, expired or already_consumed.
// swagger:response exchangeDeniedResponse
type exchangeDeniedResponseWrapper struct {
	// in:body
	Body models.ExchangeDenied
}

// swagger:route GET /api/v1/auth/code-status auth codeStatus
// Shows what the store holds for a code without consuming it. Debug builds only.
// responses:
//   200: codeStatusResponse
//   403: errorResponse

// swagger:parameters codeStatus
type codeStatusParams struct {
	// in:query
	Code string `json:"code"`
}

// swagger:response codeStatusResponse
type codeStatusResponseWrapper struct {
	// in:body
	Body models.CodeStatusResponse
}

// swagger:route GET /api/v1/auth/debug-codes auth debugCodes
// Lists the most recently issued codes, newest first, as prefixes. Debug builds only.
// responses:
//   200: debugCodesResponse
//   400: debugCodesResponse
//   403: errorResponse

// swagger:parameters debugCodes
type debugCodesParams struct {
	// How many codes to list, 10 by default and 100 at most
	// in:query
	Limit int `json:"limit"`
}

// swagger:response debugCodesResponse
type debugCodesResponseWrapper struct {
	// in:body
	Body models.DebugCodesResponse
}

// swagger:response errorResponse
type errorResponseWrapper struct {
	// in:body
	Body models.ErrorMessageResponse
}
