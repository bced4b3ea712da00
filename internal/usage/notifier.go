package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/policy"
	"github.com/goodtune/focusguard/internal/stats"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Notification kinds
const (
	NotifyStartingSoon = "starting_soon"
	NotifyStarted      = "started"
	NotifyEnded        = "ended"
)

// sentLedger is the decoded sentNotificationsToday document:
// day -> "<schedule>_<kind>" -> sent.
type sentLedger map[string]map[string]bool

// ScheduleNotifier tells the user when schedules are about to start, start
// and end. It is checked once a minute; each notification is sent at most
// once per day.
type ScheduleNotifier struct {
	policy   *policy.Engine
	kv       storage.KVStore
	notifier Notifier
	lead     time.Duration
	expr     string
	cron     *cron.Cron
	logger   zerolog.Logger
	mu       sync.Mutex
}

// NewScheduleNotifier creates a new schedule notifier. expr is a standard
// five-field cron expression.
func NewScheduleNotifier(engine *policy.Engine, kv storage.KVStore, notifier Notifier, expr string, lead time.Duration, logger zerolog.Logger) (*ScheduleNotifier, error) {
	if _, err := cron.ParseStandard(expr); err != nil {
		return nil, fmt.Errorf("invalid notification schedule %q: %w", expr, err)
	}

	return &ScheduleNotifier{
		policy:   engine,
		kv:       kv,
		notifier: notifier,
		lead:     lead,
		expr:     expr,
		logger:   logger.With().Str("component", "schedule-notifier").Logger(),
	}, nil
}

// Start begins the periodic check
func (n *ScheduleNotifier) Start() error {
	n.cron = cron.New(cron.WithLocation(n.policy.Location()))
	if _, err := n.cron.AddFunc(n.expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := n.Check(ctx); err != nil {
			n.logger.Error().Err(err).Msg("Schedule notification check failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule notifications: %w", err)
	}

	n.cron.Start()
	n.logger.Info().
		Str("cron", n.expr).
		Dur("lead_time", n.lead).
		Msg("Schedule notifier started")
	return nil
}

// Stop stops the notifier and waits for a running check to finish
func (n *ScheduleNotifier) Stop() {
	if n.cron == nil {
		return
	}
	<-n.cron.Stop().Done()
	n.logger.Info().Msg("Schedule notifier stopped")
}

// Check sends every notification due at the current minute.
func (n *ScheduleNotifier) Check(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.policy.Now()
	schedules, err := n.policy.Schedules(ctx)
	if err != nil {
		return err
	}

	today := stats.DayKey(now)
	yesterday := stats.DayKey(now.AddDate(0, 0, -1))

	var due []Notification
	err = n.kv.Update(ctx, []string{storage.KeySentNotificationsToday}, func(current map[string][]byte) (map[string][]byte, error) {
		due = due[:0]

		sent := sentLedger{}
		if err := storage.Decode(current, storage.KeySentNotificationsToday, &sent); err != nil {
			return nil, err
		}

		// Only today and yesterday are kept
		for day := range sent {
			if day != today && day != yesterday {
				delete(sent, day)
			}
		}
		if sent[today] == nil {
			sent[today] = make(map[string]bool)
		}

		for i := range schedules {
			s := &schedules[i]
			for _, kind := range n.dueKinds(now, s) {
				key := s.Key() + "_" + kind
				if sent[today][key] {
					continue
				}
				sent[today][key] = true
				due = append(due, newNotification(s, kind, n.lead, now))
			}
		}

		raw, err := storage.Encode(storage.KeySentNotificationsToday, sent)
		if err != nil {
			return nil, err
		}
		return map[string][]byte{storage.KeySentNotificationsToday: raw}, nil
	})
	if err != nil {
		return fmt.Errorf("failed to record sent notifications: %w", err)
	}

	for _, note := range due {
		if err := n.notifier.Notify(ctx, note); err != nil {
			n.logger.Warn().Err(err).Str("schedule", note.Schedule).Str("kind", note.Kind).Msg("Failed to send notification")
			continue
		}
		metrics.NotificationsSent.WithLabelValues(note.Kind).Inc()
		n.logger.Info().Str("schedule", note.Schedule).Str("kind", note.Kind).Msg("Sent schedule notification")
	}

	return nil
}

// dueKinds returns the notification kinds that fall on now's minute. Each
// kind only fires if the schedule runs on the day the window belongs to:
// an overnight window's end belongs to the previous day, and a warning that
// wraps before midnight belongs to the next.
func (n *ScheduleNotifier) dueKinds(now time.Time, s *policy.BlockingSchedule) []string {
	if !s.Active {
		return nil
	}

	minute := policy.MinuteOfDay(now)
	weekday := int(now.Weekday())
	start := policy.ParseClock(s.StartTime)
	end := policy.ParseClock(s.EndTime)

	var kinds []string

	if leadMinutes := int(n.lead / time.Minute); leadMinutes > 0 {
		soon := start - leadMinutes
		day := weekday
		if soon < 0 {
			soon += 24 * 60
			day = (weekday + 1) % 7
		}
		if minute == soon && s.HasDay(day) {
			kinds = append(kinds, NotifyStartingSoon)
		}
	}

	if minute == start && s.HasDay(weekday) {
		kinds = append(kinds, NotifyStarted)
	}

	if minute == end {
		day := weekday
		if start > end {
			day = (weekday + 6) % 7
		}
		if s.HasDay(day) {
			kinds = append(kinds, NotifyEnded)
		}
	}

	return kinds
}

func newNotification(s *policy.BlockingSchedule, kind string, lead time.Duration, now time.Time) Notification {
	note := Notification{
		ID:       fmt.Sprintf("schedule_%s_%s_%d", s.Key(), kind, now.Unix()),
		Kind:     kind,
		Schedule: s.Name,
	}

	switch kind {
	case NotifyStartingSoon:
		note.Title = "Schedule Starting Soon"
		note.Message = fmt.Sprintf("%q will start in %s. Get ready to focus!", s.Name, humanMinutes(lead))
	case NotifyStarted:
		note.Title = "Schedule Started"
		note.Message = fmt.Sprintf("%q is now active. Time to focus!", s.Name)
	case NotifyEnded:
		note.Title = "Schedule Ended"
		note.Message = fmt.Sprintf("%q has ended. Great job staying focused!", s.Name)
	}
	return note
}

func humanMinutes(d time.Duration) string {
	m := int(d / time.Minute)
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
