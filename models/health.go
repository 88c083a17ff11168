package models

// HealthCheckResponse is the body served by /health
type HealthCheckResponse struct {
	Alive bool `json:"alive"`
}
