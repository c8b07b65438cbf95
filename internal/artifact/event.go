package artifact

import "time"

// Event announces one generated artifact to downstream consumers.
type Event struct {
	Model        string    `json:"model"`
	RunTime      time.Time `json:"run_time"`
	ForecastHour int       `json:"forecast_hour"`
	Variable     string    `json:"variable"`
	Path         string    `json:"path"`
	GeneratedAt  time.Time `json:"generated_at"`
}
