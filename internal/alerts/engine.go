package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/database"
	"github.com/snarg/dispatch-intel/internal/metrics"
	"github.com/snarg/dispatch-intel/internal/transcribe"
)

// Rule condition shapes, keyed by alert_rules.rule_type.
type keywordConditions struct {
	Keywords []string `json:"keywords"`
}

type thresholdConditions struct {
	CallType          string `json:"call_type"`
	Threshold         int    `json:"threshold"`
	TimeWindowMinutes int    `json:"time_window_minutes"`
}

type anomalyConditions struct {
	Check             string `json:"check"`
	TimeWindowMinutes int    `json:"time_window_minutes"`
}

type patternConditions struct {
	CallType          string `json:"call_type"`
	Threshold         int    `json:"threshold"`
	TimeWindowMinutes int    `json:"time_window_minutes"`
}

// ruleActions templates the alert a rule produces.
type ruleActions struct {
	Type            string `json:"type"`
	Severity        string `json:"severity"`
	Category        string `json:"category"`
	Title           string `json:"title"`
	MessageTemplate string `json:"message_template"`
	ExpiresMinutes  int    `json:"expires_minutes"`
	SoundEnabled    bool   `json:"sound_enabled"`
	VisualHighlight bool   `json:"visual_highlight"`
}

// Notifier pushes alerts to connected clients.
type Notifier interface {
	NotifyAlert(a *database.AlertRow)
}

// Options configures the alert engine.
type Options struct {
	DB       *database.DB
	Notifier Notifier
	// ScanInterval is the periodic pattern-scan cadence (default 30s).
	ScanInterval time.Duration
	Log          zerolog.Logger
}

// Engine evaluates alert rules on every terminal call write and runs the
// periodic public-health scans. It owns the alerts and alert_rules rows.
type Engine struct {
	opts     Options
	cron     *cron.Cron
	suppress suppressed
	log      zerolog.Logger
}

func New(opts Options) *Engine {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = 30 * time.Second
	}
	return &Engine{
		opts: opts,
		cron: cron.New(),
		log:  opts.Log.With().Str("component", "alert-engine").Logger(),
	}
}

// Start schedules the periodic scans and the expired-alert sweep.
func (e *Engine) Start() error {
	spec := "@every " + e.opts.ScanInterval.String()
	if _, err := e.cron.AddFunc(spec, e.runScan); err != nil {
		return fmt.Errorf("schedule scan: %w", err)
	}
	if _, err := e.cron.AddFunc("@every 1m", e.sweepExpired); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	e.cron.Start()
	e.log.Info().Dur("interval", e.opts.ScanInterval).Msg("alert engine started")
	return nil
}

func (e *Engine) Stop() {
	ctx := e.cron.Stop()
	<-ctx.Done()
	e.log.Info().Msg("alert engine stopped")
}

// EvaluateCall runs the per-call rules against a freshly processed call,
// highest priority first. Pattern rules are deferred to the periodic scan.
func (e *Engine) EvaluateCall(ctx context.Context, pc transcribe.ProcessedCall) {
	rules, err := e.opts.DB.ActiveRules(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("load alert rules failed")
		return
	}

	for _, rule := range rules {
		matched, err := e.ruleMatches(ctx, &rule, pc)
		if err != nil {
			e.log.Warn().Err(err).Str("rule", rule.Name).Msg("rule evaluation failed")
			continue
		}
		if !matched {
			continue
		}
		e.fire(ctx, &rule, pc)
	}
}

func (e *Engine) ruleMatches(ctx context.Context, rule *database.AlertRuleRow, pc transcribe.ProcessedCall) (bool, error) {
	switch rule.RuleType {
	case "keyword":
		var c keywordConditions
		if err := json.Unmarshal(rule.Conditions, &c); err != nil {
			return false, err
		}
		return matchKeywords(c.Keywords, pc.Transcript, pc.CallType), nil

	case "threshold":
		var c thresholdConditions
		if err := json.Unmarshal(rule.Conditions, &c); err != nil {
			return false, err
		}
		if c.TimeWindowMinutes <= 0 || c.Threshold <= 0 {
			return false, nil
		}
		since := time.Now().Add(-time.Duration(c.TimeWindowMinutes) * time.Minute)
		n, err := e.opts.DB.CountCallsByTypeSince(ctx, c.CallType, since)
		if err != nil {
			return false, err
		}
		return n >= c.Threshold, nil

	case "anomaly":
		var c anomalyConditions
		if err := json.Unmarshal(rule.Conditions, &c); err != nil {
			return false, err
		}
		if c.Check != "checkDuplicateAddresses" || pc.Location == "" {
			return false, nil
		}
		window := time.Duration(c.TimeWindowMinutes) * time.Minute
		if window <= 0 {
			window = time.Hour
		}
		n, err := e.opts.DB.CountCallsMatchingLocation(ctx, pc.Location, time.Now().Add(-window))
		if err != nil {
			return false, err
		}
		return n > 1, nil

	case "pattern":
		// Evaluated by the periodic scan, not per call.
		return false, nil

	default:
		return false, fmt.Errorf("unknown rule type %q", rule.RuleType)
	}
}

func matchKeywords(keywords []string, transcript, callType string) bool {
	t := strings.ToLower(transcript)
	ct := strings.ToLower(callType)
	for _, kw := range keywords {
		k := strings.ToLower(kw)
		if k == "" {
			continue
		}
		if strings.Contains(t, k) || strings.Contains(ct, k) {
			return true
		}
	}
	return false
}

// fire materializes the rule's action template into an alert row.
func (e *Engine) fire(ctx context.Context, rule *database.AlertRuleRow, pc transcribe.ProcessedCall) {
	var act ruleActions
	if err := json.Unmarshal(rule.Actions, &act); err != nil {
		e.log.Warn().Err(err).Str("rule", rule.Name).Msg("bad rule actions")
		return
	}
	if act.Type == "" {
		act.Type = database.AlertTypeWarning
	}
	if act.Severity == "" {
		act.Severity = database.SeverityMedium
	}
	if act.Title == "" {
		act.Title = rule.Name
	}

	alert := &database.AlertRow{
		Type:            act.Type,
		Severity:        act.Severity,
		Category:        act.Category,
		Title:           act.Title,
		Message:         RenderTemplate(act.MessageTemplate, pc),
		RelatedCallID:   &pc.CallID,
		SoundEnabled:    act.SoundEnabled,
		VisualHighlight: act.VisualHighlight,
	}
	if act.ExpiresMinutes > 0 {
		exp := time.Now().Add(time.Duration(act.ExpiresMinutes) * time.Minute)
		alert.ExpiresAt = &exp
	}

	e.insert(ctx, alert)
	if err := e.opts.DB.IncrementRuleTriggerCount(ctx, rule.ID); err != nil {
		e.log.Warn().Err(err).Str("rule", rule.Name).Msg("trigger count update failed")
	}
}

func (e *Engine) insert(ctx context.Context, alert *database.AlertRow) {
	id, err := e.opts.DB.InsertAlert(ctx, alert)
	if err != nil {
		e.log.Warn().Err(err).Str("title", alert.Title).Msg("insert alert failed")
		return
	}
	alert.ID = id
	alert.CreatedAt = time.Now().UTC()
	metrics.AlertsFiredTotal.WithLabelValues(alert.Severity).Inc()
	e.log.Info().Str("severity", alert.Severity).Str("title", alert.Title).Msg("alert created")
	if e.opts.Notifier != nil {
		e.opts.Notifier.NotifyAlert(alert)
	}
}

func (e *Engine) sweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := e.opts.DB.DeleteExpiredAlerts(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("expired alert sweep failed")
		return
	}
	if n > 0 {
		e.log.Debug().Int64("deleted", n).Msg("expired alerts swept")
	}
}

// RenderTemplate substitutes {callType}, {location}, {time}, and
// {transcript} placeholders in an alert message template.
func RenderTemplate(tmpl string, pc transcribe.ProcessedCall) string {
	if tmpl == "" {
		tmpl = "{callType} at {location}"
	}
	r := strings.NewReplacer(
		"{callType}", pc.CallType,
		"{location}", pc.Location,
		"{time}", pc.CapturedAt.UTC().Format(time.RFC3339),
		"{transcript}", pc.Transcript,
	)
	return r.Replace(tmpl)
}
