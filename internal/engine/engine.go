// Package engine orchestrates one batch pass: resolve the local window,
// probe ownership capabilities, run the collectors per user, emit candidate
// events idempotently, gate them through the admission policy and deliver
// what survives. An external scheduler invokes passes at its own cadence;
// overlapping or repeated invocations are safe because all cross-invocation
// state lives behind the event uniqueness constraint and the activity log.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tandem/internal/clock"
	"tandem/internal/config"
	"tandem/internal/domain"
	"tandem/internal/metrics"
	"tandem/internal/policy"
	"tandem/internal/push"
	"tandem/internal/repo"
	"tandem/internal/schema"
	"tandem/internal/signal"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Gate   policy.Gate
	Sender push.Deliverer
	Tokens push.TokenIssuer
	Log    *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger, sender push.Deliverer) Engine {
	r := repo.Repo{DB: db}
	if sender == nil {
		sender = push.NopSender{}
	}
	return Engine{
		DB:     db,
		Repo:   r,
		Config: cfg,
		Gate:   policy.New(r, cfg),
		Sender: sender,
		Tokens: push.NewTokenIssuer(cfg.Push.TokenSecret),
		Log:    log,
		Now:    time.Now,
	}
}

// CollectorStats counts what one collector produced across the pass.
type CollectorStats struct {
	Emitted    int `json:"emitted"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// PassReport is the batch entry point's result.
type PassReport struct {
	Window         clock.Window              `json:"window"`
	NotifyEnabled  bool                      `json:"notify_enabled"`
	UsersProcessed int                       `json:"users_processed"`
	Stats          map[string]CollectorStats `json:"stats"`
	Delivered      int                       `json:"delivered"`
	Denied         map[string]int            `json:"denied"`
}

// perUserCollector is the common shape of the single-user collectors.
type perUserCollector interface {
	Name() string
	Collect(ctx context.Context, user domain.User, now time.Time, w clock.Window) ([]signal.Candidate, error)
}

// RunPass executes one engine pass. With notifyEnabled=false it still
// collects signals and creates events idempotently but skips admission and
// delivery (backfill/dry-run mode).
func (e Engine) RunPass(ctx context.Context, now time.Time, notifyEnabled bool) (PassReport, error) {
	started := e.now()
	w := clock.Resolve(now, e.Config.Engine.TimezoneOffsetHours)
	own := schema.Probe(ctx, e.DB)

	users, err := e.Repo.ListActiveUsers(ctx)
	if err != nil {
		return PassReport{}, err
	}
	byID := make(map[string]domain.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	collectors := []perUserCollector{
		signal.UrgentRadar{Repo: e.Repo, Own: own, Cfg: e.Config},
		signal.RiskRadar{Repo: e.Repo, Own: own, Cfg: e.Config},
		signal.MoodDrop{Repo: e.Repo, Cfg: e.Config},
		signal.MorningBrief{Repo: e.Repo, Own: own, Cfg: e.Config},
		signal.DailyClose{Repo: e.Repo, Own: own, Cfg: e.Config},
		signal.DriftCopilot{Repo: e.Repo, Own: own, Cfg: e.Config},
	}

	report := PassReport{
		Window:        w,
		NotifyEnabled: notifyEnabled,
		Stats:         map[string]CollectorStats{},
		Denied:        map[string]int{},
	}
	var mu sync.Mutex

	// Users are independent; collectors within one user run sequentially so
	// emission and admission accounting stay ordered per user.
	pool := newWorkerPool(ctx, e.Config.Engine.Workers, func(ctx context.Context, user domain.User) {
		for _, c := range collectors {
			cands, err := c.Collect(ctx, user, now, w)
			if err != nil {
				e.Log.Warn("collector failed, skipping",
					zap.String("collector", c.Name()), zap.String("user", user.ID), zap.Error(err))
				metrics.CollectorErrors.WithLabelValues(c.Name()).Inc()
				mu.Lock()
				s := report.Stats[c.Name()]
				s.Errors++
				report.Stats[c.Name()] = s
				mu.Unlock()
				continue
			}
			for _, cand := range cands {
				e.handleCandidate(ctx, cand, w, now, notifyEnabled, &report, &mu)
			}
		}
		mu.Lock()
		report.UsersProcessed++
		mu.Unlock()
	})
	for _, u := range users {
		pool.Submit(ctx, u)
	}
	pool.Drain()

	// Couple sync runs per pair, once, after the per-user loop.
	coupleSync := signal.CoupleSync{Calc: signal.LoadCalc{Repo: e.Repo, Own: own, Cfg: e.Config}}
	seen := map[string]bool{}
	for _, u := range users {
		if u.PartnerID == nil {
			continue
		}
		partner, ok := byID[*u.PartnerID]
		if !ok || seen[u.ID] || seen[partner.ID] {
			continue
		}
		seen[u.ID], seen[partner.ID] = true, true
		cands, err := coupleSync.Collect(ctx, u, partner, now, w)
		if err != nil {
			e.Log.Warn("couple sync failed, skipping",
				zap.String("user", u.ID), zap.String("partner", partner.ID), zap.Error(err))
			metrics.CollectorErrors.WithLabelValues(coupleSync.Name()).Inc()
			s := report.Stats[coupleSync.Name()]
			s.Errors++
			report.Stats[coupleSync.Name()] = s
			continue
		}
		for _, cand := range cands {
			e.handleCandidate(ctx, cand, w, now, notifyEnabled, &report, &mu)
		}
	}

	metrics.PassesRun.Inc()
	metrics.PassDuration.Observe(float64(e.now().Sub(started).Milliseconds()))
	return report, nil
}

// LoadCalc returns a load calculator bound to a fresh ownership probe; used
// by the API's load endpoint.
func (e Engine) LoadCalc(ctx context.Context) signal.LoadCalc {
	return signal.LoadCalc{Repo: e.Repo, Own: schema.Probe(ctx, e.DB), Cfg: e.Config}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// handleCandidate is the emit → gate → deliver → log sequence for one
// candidate. Emission is the idempotency boundary: a duplicate insert ends
// processing here, so repeated passes never reach the policy for a key they
// already handled.
func (e Engine) handleCandidate(ctx context.Context, cand signal.Candidate, w clock.Window, now time.Time, notifyEnabled bool, report *PassReport, mu *sync.Mutex) {
	ev := domain.ProactiveEvent{
		ID:        uuid.NewString(),
		UserID:    cand.UserID,
		EventType: cand.EventType,
		EventKey:  cand.EventKey,
		Level:     cand.Level,
		Title:     cand.Title,
		Body:      cand.Body,
		TargetURL: cand.TargetURL,
		Payload:   cand.Payload,
		LocalDate: w.LocalDate,
		CreatedAt: now,
	}
	inserted, err := e.Repo.InsertProactiveEvent(ctx, ev)
	if err != nil {
		e.Log.Warn("event emission failed",
			zap.String("collector", cand.Collector), zap.String("user", cand.UserID), zap.Error(err))
		mu.Lock()
		s := report.Stats[cand.Collector]
		s.Errors++
		report.Stats[cand.Collector] = s
		mu.Unlock()
		return
	}
	mu.Lock()
	s := report.Stats[cand.Collector]
	if inserted {
		s.Emitted++
	} else {
		s.Duplicates++
	}
	report.Stats[cand.Collector] = s
	mu.Unlock()
	if !inserted {
		metrics.EventsDeduplicated.WithLabelValues(cand.Collector).Inc()
		return
	}
	metrics.EventsEmitted.WithLabelValues(cand.Collector).Inc()

	if !notifyEnabled {
		return
	}

	dec, err := e.Gate.Evaluate(ctx, cand, now, w)
	if err != nil {
		// Fail closed: an unevaluable candidate is not delivered.
		e.Log.Warn("policy evaluation failed, denying",
			zap.String("user", cand.UserID), zap.String("event_type", cand.EventType), zap.Error(err))
		dec = policy.Decision{Allowed: false, Reason: policy.ReasonInvalid}
	}
	metrics.AdmissionDecisions.WithLabelValues(dec.Reason).Inc()

	if !dec.Allowed {
		mu.Lock()
		report.Denied[dec.Reason]++
		mu.Unlock()
		if err := e.Repo.AppendActivity(ctx, domain.ActivityEvent{
			UserID:     cand.UserID,
			Kind:       domain.ActivityPushIgnored,
			EntityKind: cand.EntityKind,
			EntityID:   cand.EntityID,
			Family:     dec.Trace.Family,
			DedupKey:   dec.Trace.DedupKey,
			Payload:    map[string]any{"reason": dec.Reason, "event_id": ev.ID, "daily_count": dec.Trace.DailyCount},
			CreatedAt:  now,
		}); err != nil {
			e.Log.Warn("activity append failed", zap.String("user", cand.UserID), zap.Error(err))
		}
		return
	}

	delivered := e.deliver(ctx, cand, ev, dec, now)
	if delivered == 0 {
		return
	}
	if err := e.Repo.MarkDelivered(ctx, ev.ID, now); err != nil {
		e.Log.Warn("mark delivered failed", zap.String("event_id", ev.ID), zap.Error(err))
	}
	if err := e.Repo.AppendActivity(ctx, domain.ActivityEvent{
		UserID:     cand.UserID,
		Kind:       domain.ActivityPushSent,
		EntityKind: cand.EntityKind,
		EntityID:   cand.EntityID,
		Family:     dec.Trace.Family,
		DedupKey:   dec.Trace.DedupKey,
		Payload: map[string]any{
			"event_id":       ev.ID,
			"source_domain":  dec.Trace.SourceDomain,
			"horizon_bucket": dec.Trace.HorizonBucket,
			"daily_count":    dec.Trace.DailyCount,
		},
		CreatedAt: now,
	}); err != nil {
		e.Log.Warn("activity append failed", zap.String("user", cand.UserID), zap.Error(err))
	}
	mu.Lock()
	report.Delivered++
	mu.Unlock()
	metrics.PushesDelivered.Inc()
}

// deliver fans one event out to the user's subscriptions. Dead endpoints are
// cleaned up; transient failures are logged and left for a later pass to
// supersede naturally. Returns how many sends succeeded.
func (e Engine) deliver(ctx context.Context, cand signal.Candidate, ev domain.ProactiveEvent, dec policy.Decision, now time.Time) int {
	subs, err := e.Repo.ListSubscriptions(ctx, cand.UserID)
	if err != nil {
		e.Log.Warn("subscription lookup failed", zap.String("user", cand.UserID), zap.Error(err))
		return 0
	}
	if len(subs) == 0 {
		return 0
	}

	msg := push.Message{
		Title: ev.Title,
		Body:  ev.Body,
		URL:   ev.TargetURL,
		Tag:   dec.Trace.DedupKey,
		Data: map[string]any{
			"event_id":   ev.ID,
			"event_type": ev.EventType,
			"family":     dec.Trace.Family,
		},
	}
	if action, ok := cand.Payload["action"].(string); ok {
		msg.Actions = append(msg.Actions, push.Action{Action: action, Title: actionTitle(action)})
	}
	if token, err := e.Tokens.IssueActionToken(push.ActionClaims{
		User:          cand.UserID,
		EntityType:    cand.EntityKind,
		EntityID:      cand.EntityID,
		RouteFallback: ev.TargetURL,
		Family:        dec.Trace.Family,
	}); err == nil {
		msg.Data["action_token"] = token
	}

	delivered := 0
	for _, sub := range subs {
		err := e.Sender.Deliver(ctx, sub, msg)
		switch {
		case err == nil:
			delivered++
		case isPermanent(err):
			metrics.DeliveryFailures.WithLabelValues("permanent").Inc()
			if derr := e.Repo.DeleteSubscription(ctx, sub.ID); derr != nil {
				e.Log.Warn("subscription cleanup failed", zap.String("subscription", sub.ID), zap.Error(derr))
			} else {
				e.Log.Info("cleaned up dead subscription", zap.String("subscription", sub.ID), zap.String("user", cand.UserID))
			}
		default:
			metrics.DeliveryFailures.WithLabelValues("transient").Inc()
			e.Log.Warn("delivery failed", zap.String("subscription", sub.ID), zap.Error(err))
		}
	}
	return delivered
}

func isPermanent(err error) bool {
	return errors.Is(err, push.ErrSubscriptionGone)
}

func actionTitle(action string) string {
	switch action {
	case "checkin_now":
		return "Check in now"
	case "request_support":
		return "Ask for support"
	case "replan":
		return "Replan"
	default:
		return "Open"
	}
}
