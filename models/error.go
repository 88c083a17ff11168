package models

// ErrorMessageResponse is the body written by config.ErrorStatus
type ErrorMessageResponse struct {
	Response string `json:"response"`
}
