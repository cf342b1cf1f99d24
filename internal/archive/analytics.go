package archive

import (
	"math"
	"time"
)

// Analytics aggregates a user's archived sessions.
type Analytics struct {
	TotalSessions          int        `json:"total_sessions"`
	TotalDurationMinutes   float64    `json:"total_duration_minutes"`
	AverageDurationMinutes float64    `json:"average_duration_minutes"`
	LastSessionDate        *time.Time `json:"last_session_date"`
	SessionsThisWeek       int        `json:"sessions_this_week"`
	SessionsThisMonth      int        `json:"sessions_this_month"`
}

// computeAnalytics expects records newest first. Weeks start Monday 00:00
// UTC, months on the 1st.
func computeAnalytics(records []Record, now time.Time) Analytics {
	var a Analytics
	if len(records) == 0 {
		return a
	}
	now = now.UTC()
	weekStart := WeekStart(now)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	for _, r := range records {
		a.TotalSessions++
		a.TotalDurationMinutes += r.DurationMinutes
		if !r.CreatedAt.Before(weekStart) {
			a.SessionsThisWeek++
		}
		if !r.CreatedAt.Before(monthStart) {
			a.SessionsThisMonth++
		}
	}
	a.TotalDurationMinutes = math.Round(a.TotalDurationMinutes*100) / 100
	a.AverageDurationMinutes = math.Round(a.TotalDurationMinutes/float64(a.TotalSessions)*100) / 100
	last := records[0].CreatedAt
	a.LastSessionDate = &last
	return a
}

// WeekStart returns Monday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}
