// Package booking turns a user's "book this class" request into a dispatch
// request: it resolves the session date, checks the user has provider
// credentials and assembles the bot payload.
package booking

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/class-scheduler/internal/credentials"
	"github.com/example/class-scheduler/internal/dispatch"
	"github.com/example/class-scheduler/internal/internaltypes"
	"github.com/example/class-scheduler/internal/timerule"
)

const DefaultSkillLevel = "All Levels"

var (
	subtitleLevelRe = regexp.MustCompile(`Skill Level:\s*([^(]*)`)
	numericLevelRe  = regexp.MustCompile(`(\d\.\d+\s*-\s*\d\.\d+|\d\.\d+[+-]?)`)
)

// SkillLevel reads the level from the subtitle ("Skill Level: 3.5+ (DUPR)")
// or, failing that, from keywords or a numeric rating in the title.
func SkillLevel(title, subtitle string) string {
	if strings.Contains(subtitle, "Skill Level:") {
		if m := subtitleLevelRe.FindStringSubmatch(subtitle); m != nil {
			if lvl := strings.TrimSpace(m[1]); lvl != "" {
				return lvl
			}
		}
		return DefaultSkillLevel
	}
	t := strings.ToLower(title)
	for _, kw := range []struct{ match, level string }{
		{"all levels", "All Levels"},
		{"beginner", "Beginner"},
		{"intermediate", "Intermediate"},
		{"advanced", "Advanced"},
	} {
		if strings.Contains(t, kw.match) {
			return kw.level
		}
	}
	if m := numericLevelRe.FindString(t); m != "" {
		return strings.ToUpper(m)
	}
	return DefaultSkillLevel
}

// Request is what a client sends to book a class. Either Date or
// DayOfMonth must be set; Day is the weekday name shown with the session.
type Request struct {
	SessionID     string `json:"sessionId"`
	Title         string `json:"title"`
	Subtitle      string `json:"subtitle,omitempty"`
	Day           string `json:"day,omitempty"`
	Date          string `json:"date,omitempty"`
	DayOfMonth    int    `json:"dayOfMonth,omitempty"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime,omitempty"`
	Location      string `json:"location,omitempty"`
	PrimaryName   string `json:"primaryName,omitempty"`
	SecondaryName string `json:"secondaryName,omitempty"`
	// Offset overrides the dispatch offset for this job.
	Offset *timerule.Offset `json:"offset,omitempty"`
}

type Result struct {
	dispatch.Handle
	SessionDate string `json:"sessionDate"`
	SkillLevel  string `json:"skillLevel"`
}

type scheduler interface {
	Schedule(ctx context.Context, req dispatch.Request) (dispatch.Handle, error)
}

type Service struct {
	creds     credentials.Provider
	scheduler scheduler
	loc       *time.Location
	now       func() time.Time
	log       *zap.Logger
}

func NewService(creds credentials.Provider, s scheduler, loc *time.Location, log *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{creds: creds, scheduler: s, loc: loc, now: time.Now, log: log}
}

// SetClock replaces the time source used to resolve day-of-month dates.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Book(ctx context.Context, userID string, req Request) (Result, error) {
	if req.SessionID == "" {
		return Result{}, internaltypes.Validation("sessionId is required")
	}
	if req.StartTime == "" {
		return Result{}, internaltypes.Validation("startTime is required")
	}
	date, err := s.sessionDate(req)
	if err != nil {
		return Result{}, err
	}
	c, err := s.creds.Get(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	level := SkillLevel(req.Title, req.Subtitle)
	primary, secondary := req.PrimaryName, req.SecondaryName
	if primary == "" {
		primary = c.PrimaryName
	}
	if secondary == "" {
		secondary = c.SecondaryName
	}
	payload := map[string]any{
		"credentials_ref": credentials.Ref(userID),
		"member_id":       c.MemberID,
		"primary_name":    primary,
		"secondary_name":  secondary,
		"title":           req.Title,
		"day":             req.Day,
		"date":            date,
		"min_start_time":  req.StartTime,
		"location":        req.Location,
		"desired_score":   level,
	}
	h, err := s.scheduler.Schedule(ctx, dispatch.Request{
		UserID:    userID,
		SessionID: req.SessionID,
		EventDate: date,
		EventTime: req.StartTime,
		Payload:   payload,
		Offset:    req.Offset,
	})
	if err != nil {
		return Result{}, err
	}
	s.log.Info("booking scheduled",
		zap.String("user_id", userID),
		zap.String("session_id", req.SessionID),
		zap.String("skill_level", level),
		zap.Bool("degraded", h.Degraded))
	return Result{Handle: h, SessionDate: date, SkillLevel: level}, nil
}

func (s *Service) sessionDate(req Request) (string, error) {
	if req.Date != "" {
		y, m, d, err := timerule.ParseDate(req.Date)
		if err != nil {
			return "", err
		}
		return time.Date(y, m, d, 0, 0, 0, 0, s.loc).Format(timerule.DateLayout), nil
	}
	if req.DayOfMonth == 0 {
		return "", internaltypes.Validation("date or dayOfMonth is required")
	}
	t, err := timerule.ResolveSessionDate(req.Day, req.DayOfMonth, s.now().In(s.loc))
	if err != nil {
		return "", err
	}
	return t.Format(timerule.DateLayout), nil
}
