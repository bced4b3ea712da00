// Package stats owns the daily ledgers: dailyStats (per-day totals, sites,
// saved time and block count) and the legacy dailyTimeSpent per-site ledger.
package stats

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/focusguard/internal/clock"
	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/rs/zerolog"
)

// dailyLedger is the decoded dailyStats document.
type dailyLedger map[string]*DailyStats

// timeSpentLedger is the decoded dailyTimeSpent document: day -> host -> seconds.
type timeSpentLedger map[string]map[string]float64

// Aggregator applies additive updates to the ledgers. Mutations are
// serialized in-process by mu and made atomic across processes by
// KVStore.Update.
type Aggregator struct {
	mu       sync.Mutex
	kv       storage.KVStore
	clock    clock.Clock
	location *time.Location
	logger   zerolog.Logger
}

// NewAggregator creates a new stats aggregator
func NewAggregator(kv storage.KVStore, clk clock.Clock, loc *time.Location, logger zerolog.Logger) *Aggregator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{
		kv:       kv,
		clock:    clk,
		location: loc,
		logger:   logger.With().Str("component", "stats").Logger(),
	}
}

// TodayKey returns the ledger key for the current day.
func (a *Aggregator) TodayKey() string {
	return DayKey(a.clock.Now().In(a.location))
}

// AddSiteSeconds adds seconds to hostname for today in both ledgers and to
// today's total.
func (a *Aggregator) AddSiteSeconds(ctx context.Context, hostname string, seconds int64) error {
	if seconds <= 0 || hostname == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	today := a.TodayKey()
	keys := []string{storage.KeyDailyStats, storage.KeyDailyTimeSpent}

	err := a.kv.Update(ctx, keys, func(current map[string][]byte) (map[string][]byte, error) {
		daily, err := decodeDaily(current)
		if err != nil {
			return nil, err
		}
		spent := timeSpentLedger{}
		if err := storage.Decode(current, storage.KeyDailyTimeSpent, &spent); err != nil {
			return nil, err
		}

		entry := daily.entry(today)
		entry.Sites[hostname] += seconds
		entry.TotalTime += seconds

		if spent[today] == nil {
			spent[today] = make(map[string]float64)
		}
		spent[today][hostname] += float64(seconds)

		dailyRaw, err := storage.Encode(storage.KeyDailyStats, daily)
		if err != nil {
			return nil, err
		}
		spentRaw, err := storage.Encode(storage.KeyDailyTimeSpent, spent)
		if err != nil {
			return nil, err
		}
		return map[string][]byte{
			storage.KeyDailyStats:     dailyRaw,
			storage.KeyDailyTimeSpent: spentRaw,
		}, nil
	})
	if err != nil {
		return fmt.Errorf("failed to add site time: %w", err)
	}

	metrics.SiteSecondsTotal.Add(float64(seconds))

	a.logger.Debug().
		Str("day", today).
		Str("host", hostname).
		Int64("seconds", seconds).
		Msg("Recorded site time")

	return nil
}

// AddSavedSecond adds one second of saved time for today.
func (a *Aggregator) AddSavedSecond(ctx context.Context) error {
	err := a.updateToday(ctx, true, func(entry *DailyStats) {
		entry.SavedTime++
	})
	if err != nil {
		return fmt.Errorf("failed to add saved time: %w", err)
	}
	metrics.SavedSecondsTotal.Inc()
	return nil
}

// IncrementBlockedCount records one block enforcement event for today.
func (a *Aggregator) IncrementBlockedCount(ctx context.Context) error {
	if err := a.updateToday(ctx, true, func(entry *DailyStats) {
		entry.Blocked++
	}); err != nil {
		return fmt.Errorf("failed to increment blocked count: %w", err)
	}
	return nil
}

// ResetSavedTimeToday zeroes today's saved time. Nothing is written if today
// has no entry yet.
func (a *Aggregator) ResetSavedTimeToday(ctx context.Context) error {
	if err := a.updateToday(ctx, false, func(entry *DailyStats) {
		entry.SavedTime = 0
	}); err != nil {
		return fmt.Errorf("failed to reset saved time: %w", err)
	}

	a.logger.Info().Str("day", a.TodayKey()).Msg("Reset saved time for today")
	return nil
}

// updateToday applies fn to today's dailyStats entry. When create is false
// and the entry does not exist, nothing is written.
func (a *Aggregator) updateToday(ctx context.Context, create bool, fn func(*DailyStats)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	today := a.TodayKey()
	return a.kv.Update(ctx, []string{storage.KeyDailyStats}, func(current map[string][]byte) (map[string][]byte, error) {
		daily, err := decodeDaily(current)
		if err != nil {
			return nil, err
		}
		if !create && daily[today] == nil {
			return nil, nil
		}

		fn(daily.entry(today))

		raw, err := storage.Encode(storage.KeyDailyStats, daily)
		if err != nil {
			return nil, err
		}
		return map[string][]byte{storage.KeyDailyStats: raw}, nil
	})
}

// Today returns today's entry, zeroed if absent.
func (a *Aggregator) Today(ctx context.Context) (*DailyStats, error) {
	return a.Day(ctx, a.TodayKey())
}

// Day returns the entry for a ledger key, zeroed if absent.
func (a *Aggregator) Day(ctx context.Context, key string) (*DailyStats, error) {
	daily, err := a.loadDaily(ctx)
	if err != nil {
		return nil, err
	}
	if entry := daily[key]; entry != nil {
		return entry, nil
	}
	return NewDailyStats(), nil
}

// Range returns the entries for days consecutive days ending at end,
// oldest first. Missing days are zeroed.
func (a *Aggregator) Range(ctx context.Context, end time.Time, days int) ([]Day, error) {
	if days <= 0 {
		return []Day{}, nil
	}

	daily, err := a.loadDaily(ctx)
	if err != nil {
		return nil, err
	}

	end = end.In(a.location)
	out := make([]Day, 0, days)
	for i := days - 1; i >= 0; i-- {
		key := DayKey(end.AddDate(0, 0, -i))
		entry := daily[key]
		if entry == nil {
			entry = NewDailyStats()
		}
		out = append(out, Day{Key: key, Stats: entry})
	}
	return out, nil
}

// TimeSpent returns the legacy per-site ledger for a day.
func (a *Aggregator) TimeSpent(ctx context.Context, key string) (map[string]int64, error) {
	values, err := a.kv.Get(ctx, storage.KeyDailyTimeSpent)
	if err != nil {
		return nil, fmt.Errorf("failed to load time spent: %w", err)
	}
	spent := timeSpentLedger{}
	if err := storage.Decode(values, storage.KeyDailyTimeSpent, &spent); err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(spent[key]))
	for host, secs := range spent[key] {
		out[host] = int64(secs)
	}
	return out, nil
}

// LegacyWastedTime returns the retired wastedTime counter. It is read for
// display only and never written.
func (a *Aggregator) LegacyWastedTime(ctx context.Context) (int64, error) {
	values, err := a.kv.Get(ctx, storage.KeyWastedTime)
	if err != nil {
		return 0, fmt.Errorf("failed to load wasted time: %w", err)
	}
	var wasted float64
	if err := storage.Decode(values, storage.KeyWastedTime, &wasted); err != nil {
		return 0, err
	}
	return int64(wasted), nil
}

// TopSites orders a day's sites by time spent, longest first. isDistracting
// may be nil.
func TopSites(entry *DailyStats, isDistracting func(string) bool) []SiteTime {
	if entry == nil {
		return nil
	}
	out := make([]SiteTime, 0, len(entry.Sites))
	for host, secs := range entry.Sites {
		st := SiteTime{Host: host, Seconds: secs}
		if isDistracting != nil {
			st.Distracting = isDistracting(host)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seconds != out[j].Seconds {
			return out[i].Seconds > out[j].Seconds
		}
		return out[i].Host < out[j].Host
	})
	return out
}

func (a *Aggregator) loadDaily(ctx context.Context) (dailyLedger, error) {
	values, err := a.kv.Get(ctx, storage.KeyDailyStats)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily stats: %w", err)
	}
	return decodeDaily(values)
}

func decodeDaily(values map[string][]byte) (dailyLedger, error) {
	daily := dailyLedger{}
	if err := storage.Decode(values, storage.KeyDailyStats, &daily); err != nil {
		return nil, err
	}
	return daily, nil
}

// entry returns the day's entry, creating a zeroed one if needed.
func (l dailyLedger) entry(day string) *DailyStats {
	e := l[day]
	if e == nil {
		e = NewDailyStats()
		l[day] = e
	}
	if e.Sites == nil {
		e.Sites = make(map[string]int64)
	}
	return e
}
