package engine

import (
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/classifier"
	"github.com/fyrsmithlabs/remedyd/internal/event"
	"github.com/fyrsmithlabs/remedyd/internal/gateway"
	"github.com/fyrsmithlabs/remedyd/internal/intent"
)

// Pipeline result statuses.
const (
	StatusNormal  = "normal"
	StatusAnomaly = "anomaly"
)

// Result is the full pipeline outcome for one ingested event.
type Result struct {
	Status         string                    `json:"status"`
	Component      string                    `json:"component"`
	Timestamp      time.Time                 `json:"timestamp"`
	IncidentID     string                    `json:"incident_id,omitempty"`
	Classification classifier.Classification `json:"classification"`
	AnomalyScore   float64                   `json:"anomaly_score"`

	HealingIntents   []*intent.Intent    `json:"healing_intents"`
	GatewayResponses []*gateway.Response `json:"gateway_responses"`

	// SimilarIncidents reports how many historical incidents informed the
	// decision; zero when memory was unavailable.
	SimilarIncidents int `json:"similar_incidents"`

	BusinessImpact *BusinessImpact `json:"business_impact,omitempty"`
}

// BusinessImpact estimates the commercial cost of an anomaly.
type BusinessImpact struct {
	RevenueLoss   float64 `json:"revenue_loss"`
	AffectedUsers int     `json:"affected_users"`
	Severity      string  `json:"severity"`
}

// ImpactCalculator is the external collaborator that prices an anomaly.
type ImpactCalculator interface {
	Calculate(ev *event.Event, class classifier.Classification) *BusinessImpact
}

// RevenueImpactCalculator is the built-in calculator: a base revenue rate
// scaled by latency, error and saturation factors over an assumed incident
// duration.
type RevenueImpactCalculator struct {
	BaseRevenuePerMinute float64
	BaseUsers            int
	DurationMinutes      float64
}

// NewRevenueImpactCalculator returns a calculator with working defaults.
func NewRevenueImpactCalculator() *RevenueImpactCalculator {
	return &RevenueImpactCalculator{
		BaseRevenuePerMinute: 100,
		BaseUsers:            10000,
		DurationMinutes:      5,
	}
}

func (c *RevenueImpactCalculator) Calculate(ev *event.Event, _ classifier.Classification) *BusinessImpact {
	multiplier := 1.0
	if ev.LatencyP99 > 500 {
		multiplier += 0.5
	}
	if ev.ErrorRate > 0.1 {
		multiplier += 0.8
	}
	if ev.HasCPUUtil && ev.CPUUtil > 0.9 {
		multiplier += 0.3
	}
	revenueLoss := c.BaseRevenuePerMinute * multiplier * (c.DurationMinutes / 60)

	userMultiplier := ev.ErrorRate*10 + maxFloat(0, ev.LatencyP99-100)/500
	affected := int(float64(c.BaseUsers) * userMultiplier)

	severity := "LOW"
	switch {
	case revenueLoss > 500 || affected > 5000:
		severity = "CRITICAL"
	case revenueLoss > 100 || affected > 1000:
		severity = "HIGH"
	case revenueLoss > 50 || affected > 500:
		severity = "MEDIUM"
	}

	return &BusinessImpact{
		RevenueLoss:   revenueLoss,
		AffectedUsers: affected,
		Severity:      severity,
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
