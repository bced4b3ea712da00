package policy

import (
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// ParseClock converts "HH:MM" to minutes since midnight. Components that do
// not parse count as zero, so a malformed value behaves like midnight.
func ParseClock(s string) int {
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	hours := clockPart(parts[0])
	minutes := 0
	if len(parts) > 1 {
		minutes = clockPart(parts[1])
	}
	return hours*60 + minutes
}

func clockPart(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// MinuteOfDay returns t's wall-clock minutes since midnight in t's location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// InWindow reports whether minute lies in [start, end], both inclusive. When
// start > end the window wraps past midnight.
func InWindow(minute, start, end int) bool {
	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}

// IsActive reports whether schedule s is in force at now. Weekday and time of
// day are taken from now's location.
func IsActive(now time.Time, s *BlockingSchedule) bool {
	if s == nil || !s.Active {
		return false
	}
	if !s.HasDay(int(now.Weekday())) {
		return false
	}
	return InWindow(MinuteOfDay(now), ParseClock(s.StartTime), ParseClock(s.EndTime))
}

// ShouldBlockSite reports whether any active, in-window schedule lists a
// pattern matching hostname.
func ShouldBlockSite(hostname string, now time.Time, schedules []BlockingSchedule) bool {
	if len(schedules) == 0 {
		return false
	}
	return FindBlocking(hostname, now, schedules).Blocked
}

// FindBlocking is ShouldBlockSite reporting which schedule and pattern matched.
func FindBlocking(hostname string, now time.Time, schedules []BlockingSchedule) Decision {
	return findBlocking(hostname, now, schedules, MatchesAny)
}

func findBlocking(hostname string, now time.Time, schedules []BlockingSchedule, matchAny func(string, []string) (string, bool)) Decision {
	decision := Decision{Hostname: hostname}
	for i := range schedules {
		s := &schedules[i]
		if !IsActive(now, s) {
			continue
		}
		if pattern, ok := matchAny(hostname, s.BlockedSites); ok {
			decision.Blocked = true
			decision.ScheduleID = s.ID
			decision.ScheduleName = s.Name
			decision.Pattern = pattern
			return decision
		}
	}
	return decision
}

// FirstActive returns the first schedule in force at now.
func FirstActive(now time.Time, schedules []BlockingSchedule) (*BlockingSchedule, bool) {
	for i := range schedules {
		if IsActive(now, &schedules[i]) {
			return &schedules[i], true
		}
	}
	return nil, false
}

// IsDistracting reports whether hostname appears in any schedule's list,
// regardless of time. Only equality and substring containment count here.
func IsDistracting(hostname string, schedules []BlockingSchedule) bool {
	h := normalize(hostname)
	if h == "" {
		return false
	}
	for _, s := range schedules {
		for _, site := range s.BlockedSites {
			p := normalize(site)
			if p == "" {
				continue
			}
			if h == p || strings.Contains(h, p) || strings.Contains(p, h) {
				return true
			}
		}
	}
	return false
}
