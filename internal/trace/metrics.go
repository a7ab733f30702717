package trace

import (
	"time"
)

// Metrics aggregates a trace for evaluation dashboards. All values derive
// from record content only; aggregation never re-reads state.
type Metrics struct {
	StepsTotal          int            `json:"steps_total"`
	StepCounts          map[string]int `json:"step_counts"`
	StepStatusCounts    map[string]int `json:"step_status_counts"`
	ControlsTotal       int            `json:"controls_total"`
	ControlActionCounts map[string]int `json:"control_action_counts"`
	TotalStepDurationMS int64          `json:"total_step_duration_ms"`
	MaxStepDurationMS   int64          `json:"max_step_duration_ms"`
	TraceDurationMS     int64          `json:"trace_duration_ms"`
}

const isoLayout = "2006-01-02T15:04:05Z"

func parseISO(value any) (time.Time, bool) {
	s, ok := value.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(isoLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Aggregate folds a record sequence into Metrics.
func Aggregate(records []Record) Metrics {
	m := Metrics{
		StepCounts:          map[string]int{},
		StepStatusCounts:    map[string]int{},
		ControlActionCounts: map[string]int{},
	}

	var firstStart, lastFinish time.Time
	haveFirst, haveLast := false, false

	for _, r := range records {
		switch r.Kind() {
		case KindStep:
			m.StepsTotal++
			result, _ := r["result"].(map[string]any)
			stepName, _ := result["step"].(string)
			if stepName == "" {
				stepName = "unknown"
			}
			m.StepCounts[stepName]++
			status, _ := result["status"].(string)
			if status == "" {
				status = "unknown"
			}
			m.StepStatusCounts[status]++

			started, okS := parseISO(result["started_at"])
			finished, okF := parseISO(result["finished_at"])
			if okS && okF {
				d := finished.Sub(started).Milliseconds()
				m.TotalStepDurationMS += d
				if d > m.MaxStepDurationMS {
					m.MaxStepDurationMS = d
				}
			}
			if okS && (!haveFirst || started.Before(firstStart)) {
				firstStart, haveFirst = started, true
			}
			if okF && (!haveLast || finished.After(lastFinish)) {
				lastFinish, haveLast = finished, true
			}
		case KindControl:
			m.ControlsTotal++
			action, _ := r["action"].(string)
			if action == "" {
				action = "unknown"
			}
			m.ControlActionCounts[action]++
		}
	}

	if haveFirst && haveLast {
		m.TraceDurationMS = lastFinish.Sub(firstStart).Milliseconds()
	}
	return m
}
