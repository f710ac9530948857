package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/class-scheduler/internal/internaltypes"
	"github.com/example/class-scheduler/internal/timerule"
)

// Session is a booked session as the client sees it.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	Confirmed bool   `json:"confirmed"`
}

// AutoCancelRule cancels morning drills the user has not confirmed by the
// evening before. It only acts in the last Window before the session.
type AutoCancelRule struct {
	Location   *time.Location
	Marker     string
	CutoffHour int
	Window     time.Duration
}

func DefaultAutoCancelRule(loc *time.Location) AutoCancelRule {
	if loc == nil {
		loc = time.UTC
	}
	return AutoCancelRule{Location: loc, Marker: "drill", CutoffHour: 21, Window: 2 * time.Hour}
}

const (
	reasonConfirmed   = "Session is confirmed"
	reasonBeforeCut   = "Confirmation deadline not passed"
	reasonOutOfWindow = "Not within auto-cancel window"
	reasonIneligible  = "Not a morning drill session"
)

type Decision struct {
	Eligible bool
	Cancel   bool
	Reason   string
}

// Applies reports whether s is a morning session whose title carries the
// marker. Noon starts count as morning.
func (r AutoCancelRule) Applies(s Session) bool {
	if !strings.Contains(strings.ToLower(s.Title), strings.ToLower(r.Marker)) {
		return false
	}
	h, _, err := timerule.ParseClock(s.StartTime)
	return err == nil && h <= 12
}

func (r AutoCancelRule) firedReason() string {
	cutoff := time.Date(2000, 1, 1, r.CutoffHour, 0, 0, 0, time.UTC)
	return fmt.Sprintf("Auto-cancelled: Morning %s not confirmed by %s the night before", strings.ToLower(r.Marker), cutoff.Format("3 PM"))
}

// Evaluate decides whether s should be cancelled at now. It fires only when
// s is unconfirmed, the cutoff on the previous evening has passed and now is
// within Window before the start.
func (r AutoCancelRule) Evaluate(s Session, confirmed bool, now time.Time) (Decision, error) {
	if !r.Applies(s) {
		return Decision{Reason: reasonIneligible}, nil
	}
	start, err := timerule.EventInstant(s.Date, s.StartTime, r.Location)
	if err != nil {
		return Decision{}, err
	}
	prev := start.AddDate(0, 0, -1)
	deadline := time.Date(prev.Year(), prev.Month(), prev.Day(), r.CutoffHour, 0, 0, 0, r.Location)
	windowStart := start.Add(-r.Window)

	passed := now.After(deadline)
	inWindow := !now.Before(windowStart) && now.Before(start)

	d := Decision{Eligible: true}
	switch {
	case !confirmed && passed && inWindow:
		d.Cancel = true
		d.Reason = r.firedReason()
	case confirmed:
		d.Reason = reasonConfirmed
	case !passed:
		d.Reason = reasonBeforeCut
	default:
		d.Reason = reasonOutOfWindow
	}
	return d, nil
}

type AutoCancelResult struct {
	Cancelled bool           `json:"cancelled"`
	Reason    string         `json:"reason,omitempty"`
	Error     string         `json:"error,omitempty"`
	Outcome   *CancelOutcome `json:"outcome,omitempty"`
}

type sessionCanceller interface {
	Cancel(ctx context.Context, userID, sessionID string) (CancelOutcome, error)
}

type AutoCanceller struct {
	rule      AutoCancelRule
	canceller sessionCanceller
	options
}

func NewAutoCanceller(rule AutoCancelRule, c sessionCanceller, opts ...Option) *AutoCanceller {
	return &AutoCanceller{rule: rule, canceller: c, options: buildOptions(opts)}
}

// Run evaluates every session for userID and cancels those the rule fires
// on. Each session gets its own result; one failing does not stop the rest.
func (a *AutoCanceller) Run(ctx context.Context, userID string, sessions []Session) map[string]AutoCancelResult {
	now := a.now()
	out := make(map[string]AutoCancelResult, len(sessions))
	for _, s := range sessions {
		res := a.one(ctx, userID, s, now)
		switch {
		case res.Error != "":
			a.metrics.AutoCancel("error")
		case res.Cancelled:
			a.metrics.AutoCancel("cancelled")
		default:
			a.metrics.AutoCancel("kept")
		}
		out[s.ID] = res
	}
	return out
}

func (a *AutoCanceller) one(ctx context.Context, userID string, s Session, now time.Time) (res AutoCancelResult) {
	log := a.log.With(zap.String("session_id", s.ID), zap.String("user_id", userID))
	defer func() {
		if p := recover(); p != nil {
			log.Error("auto-cancel panicked", zap.Any("panic", p))
			res = AutoCancelResult{Error: fmt.Sprintf("internal error: %v", p)}
		}
	}()

	if s.ID == "" {
		return AutoCancelResult{Error: internaltypes.Validation("session id is required").Error()}
	}
	d, err := a.rule.Evaluate(s, s.Confirmed, now)
	if err != nil {
		return AutoCancelResult{Error: err.Error()}
	}
	if !d.Cancel {
		return AutoCancelResult{Reason: d.Reason}
	}
	outcome, err := a.canceller.Cancel(ctx, userID, s.ID)
	if err != nil {
		log.Error("auto-cancel failed", zap.Error(err))
		return AutoCancelResult{Reason: d.Reason, Error: err.Error()}
	}
	log.Info("auto-cancelled session", zap.Bool("already_absent", outcome.AlreadyAbsent))
	return AutoCancelResult{Cancelled: true, Reason: d.Reason, Outcome: &outcome}
}
