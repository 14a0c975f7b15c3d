package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/snarg/dispatch-intel/internal/classify"
	"github.com/snarg/dispatch-intel/internal/database"
)

const (
	overdoseSpikeWindow    = 2 * time.Hour
	overdoseSpikeThreshold = 3
	areaWindow             = time.Hour
	areaThreshold          = 5
	callTypeSpikeThreshold = 4
	trendLookbackDays      = 30
	geoClusterMinSize      = 2
	geoClusterMinClusters  = 3

	// scanCooldown suppresses re-firing the same scan alert while the
	// condition persists across 30-second sweeps.
	scanCooldown = 30 * time.Minute
)

// suppressed tracks recently fired scan alerts by key.
type suppressed struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func (s *suppressed) shouldFire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		s.last = make(map[string]time.Time)
	}
	if t, ok := s.last[key]; ok && time.Since(t) < scanCooldown {
		return false
	}
	s.last[key] = time.Now()
	return true
}

// runScan is the periodic sweep: volume spikes, area concentration,
// pattern rules, public-health trend z-scores, and geo clustering.
func (e *Engine) runScan() {
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	e.scanOverdoseSpike(ctx)
	e.scanAreaConcentration(ctx)
	e.scanPatternRules(ctx)
	e.scanPublicHealthTrends(ctx)
	e.scanGeoClusters(ctx)
}

// scanOverdoseSpike fires when the overdose family crosses three calls in
// two hours.
func (e *Engine) scanOverdoseSpike(ctx context.Context) {
	since := time.Now().Add(-overdoseSpikeWindow)
	total := 0
	for _, ct := range classify.OverdoseTypes {
		n, err := e.opts.DB.CountCallsByTypeSince(ctx, ct, since)
		if err != nil {
			e.log.Warn().Err(err).Msg("overdose spike scan failed")
			return
		}
		total += n
	}
	if total < overdoseSpikeThreshold {
		return
	}
	if !e.suppress.shouldFire("overdose_spike") {
		return
	}
	e.insert(ctx, &database.AlertRow{
		Type:            database.AlertTypeAnomaly,
		Severity:        database.SeverityHigh,
		Category:        "public_health",
		Title:           "Overdose spike",
		Message:         fmt.Sprintf("%d overdose-related calls in the last 2 hours", total),
		SoundEnabled:    true,
		VisualHighlight: true,
	})
}

// scanAreaConcentration buckets recent calls by the leading location tokens
// and fires when one area accumulates five or more calls in an hour.
func (e *Engine) scanAreaConcentration(ctx context.Context) {
	located, err := e.opts.DB.RecentLocations(ctx, time.Now().Add(-areaWindow))
	if err != nil {
		e.log.Warn().Err(err).Msg("area concentration scan failed")
		return
	}

	buckets := make(map[string]int)
	for _, lc := range located {
		if key := areaKey(lc.Location); key != "" {
			buckets[key]++
		}
	}
	for key, n := range buckets {
		if n < areaThreshold {
			continue
		}
		if !e.suppress.shouldFire("area:" + key) {
			continue
		}
		e.insert(ctx, &database.AlertRow{
			Type:            database.AlertTypeAnomaly,
			Severity:        database.SeverityMedium,
			Category:        "geographic",
			Title:           "Area call concentration",
			Message:         fmt.Sprintf("%d calls near %s in the last hour", n, key),
			VisualHighlight: true,
		})
	}
}

// areaKey reduces a location to its first three tokens, lowercased.
func areaKey(location string) string {
	fields := strings.Fields(strings.ToLower(location))
	if len(fields) == 0 {
		return ""
	}
	if len(fields) > 3 {
		fields = fields[:3]
	}
	return strings.Join(fields, " ")
}

// scanPatternRules evaluates the pattern-type alert rules: a configured
// call type crossing a count threshold inside its window.
func (e *Engine) scanPatternRules(ctx context.Context) {
	rules, err := e.opts.DB.ActiveRules(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("pattern rule scan failed")
		return
	}
	for _, rule := range rules {
		if rule.RuleType != "pattern" {
			continue
		}
		var c patternConditions
		if err := json.Unmarshal(rule.Conditions, &c); err != nil {
			e.log.Warn().Err(err).Str("rule", rule.Name).Msg("bad pattern conditions")
			continue
		}
		if c.CallType == "" || c.TimeWindowMinutes <= 0 {
			continue
		}
		threshold := c.Threshold
		if threshold <= 0 {
			threshold = callTypeSpikeThreshold
		}
		since := time.Now().Add(-time.Duration(c.TimeWindowMinutes) * time.Minute)
		n, err := e.opts.DB.CountCallsByTypeSince(ctx, c.CallType, since)
		if err != nil {
			e.log.Warn().Err(err).Str("rule", rule.Name).Msg("pattern count failed")
			continue
		}
		if n < threshold {
			continue
		}
		if !e.suppress.shouldFire("pattern:" + rule.Name) {
			continue
		}
		var act ruleActions
		if err := json.Unmarshal(rule.Actions, &act); err != nil {
			act = ruleActions{}
		}
		if act.Severity == "" {
			act.Severity = database.SeverityMedium
		}
		if act.Title == "" {
			act.Title = rule.Name
		}
		e.insert(ctx, &database.AlertRow{
			Type:            database.AlertTypeAnomaly,
			Severity:        act.Severity,
			Category:        "pattern",
			Title:           act.Title,
			Message:         fmt.Sprintf("%d %s calls in the last %d minutes", n, c.CallType, c.TimeWindowMinutes),
			SoundEnabled:    act.SoundEnabled,
			VisualHighlight: act.VisualHighlight,
		})
		if err := e.opts.DB.IncrementRuleTriggerCount(ctx, rule.ID); err != nil {
			e.log.Warn().Err(err).Str("rule", rule.Name).Msg("trigger count update failed")
		}
	}
}

// scanPublicHealthTrends compares the last 24 hours against the 30-day
// daily baseline for the public-health call types. Alerts fire above
// z = 3 (high) and z = 4 (critical).
func (e *Engine) scanPublicHealthTrends(ctx context.Context) {
	for _, ct := range classify.PublicHealthTypes {
		trend, err := e.complaintTrend(ctx, ct)
		if err != nil {
			e.log.Warn().Err(err).Str("call_type", ct).Msg("trend scan failed")
			continue
		}
		if trend.ZScore <= 3 {
			continue
		}
		severity := database.SeverityHigh
		if trend.ZScore > 4 {
			severity = database.SeverityCritical
		}
		if !e.suppress.shouldFire("trend:" + ct) {
			continue
		}
		related, _ := json.Marshal(trend)
		e.insert(ctx, &database.AlertRow{
			Type:            database.AlertTypeAnomaly,
			Severity:        severity,
			Category:        "public_health",
			Title:           fmt.Sprintf("%s trend anomaly", ct),
			Message:         fmt.Sprintf("%d %s calls in 24h against a daily mean of %.1f (z=%.1f)", trend.Yesterday, ct, trend.DailyMean, trend.ZScore),
			RelatedData:     related,
			SoundEnabled:    severity == database.SeverityCritical,
			VisualHighlight: true,
		})
	}
}

// complaintTrend computes one call type's 30-day baseline, excluding the
// last 24 hours, and the z-score of the last 24-hour count against it.
func (e *Engine) complaintTrend(ctx context.Context, callType string) (database.ComplaintTrend, error) {
	now := time.Now()
	dayAgo := now.Add(-24 * time.Hour)
	from := dayAgo.AddDate(0, 0, -trendLookbackDays)

	daily, err := e.opts.DB.DailyCountsByType(ctx, callType, from, dayAgo)
	if err != nil {
		return database.ComplaintTrend{}, err
	}
	counts := fillDays(daily, trendLookbackDays)

	yesterday, err := e.opts.DB.CountCallsByTypeSince(ctx, callType, dayAgo)
	if err != nil {
		return database.ComplaintTrend{}, err
	}

	mean, stdev, z := zStats(counts, yesterday)
	total := yesterday
	for _, c := range counts {
		total += c
	}
	return database.ComplaintTrend{
		CallType:   callType,
		Total30d:   total,
		Yesterday:  yesterday,
		DailyMean:  mean,
		DailyStdev: stdev,
		ZScore:     z,
		IsSpike:    z > 2,
	}, nil
}

// fillDays pads sparse per-day counts to the full lookback so zero-call
// days pull the baseline down.
func fillDays(daily []database.DailyTypeCount, days int) []int {
	counts := make([]int, 0, days)
	for _, d := range daily {
		counts = append(counts, d.Count)
	}
	for len(counts) < days {
		counts = append(counts, 0)
	}
	return counts
}

// zStats returns the mean and population stdev of the baseline counts and
// the z-score of today's count against them. A flat baseline (stdev 0)
// yields z = 0 unless today deviates, in which case it is treated as a
// large excursion.
func zStats(baseline []int, today int) (mean, stdev, z float64) {
	if len(baseline) == 0 {
		return 0, 0, 0
	}
	sum := 0
	for _, c := range baseline {
		sum += c
	}
	mean = float64(sum) / float64(len(baseline))

	var variance float64
	for _, c := range baseline {
		d := float64(c) - mean
		variance += d * d
	}
	stdev = math.Sqrt(variance / float64(len(baseline)))

	if stdev == 0 {
		if float64(today) != mean {
			z = 10
		}
		return mean, stdev, z
	}
	z = (float64(today) - mean) / stdev
	return mean, stdev, z
}

// scanGeoClusters fires when three or more distinct geocoded clusters of
// the same call type appear inside 24 hours.
func (e *Engine) scanGeoClusters(ctx context.Context) {
	clusters, err := e.opts.DB.GeoClustersSince(ctx, time.Now().Add(-24*time.Hour), geoClusterMinSize)
	if err != nil {
		e.log.Warn().Err(err).Msg("geo cluster scan failed")
		return
	}

	byType := make(map[string][]database.GeoCluster)
	for _, c := range clusters {
		byType[c.CallType] = append(byType[c.CallType], c)
	}
	for ct, group := range byType {
		if len(group) < geoClusterMinClusters {
			continue
		}
		total := 0
		for _, c := range group {
			total += c.Count
		}
		severity := database.SeverityMedium
		if total > 10 {
			severity = database.SeverityHigh
		}
		if !e.suppress.shouldFire("geo:" + ct) {
			continue
		}
		e.insert(ctx, &database.AlertRow{
			Type:            database.AlertTypeAnomaly,
			Severity:        severity,
			Category:        "geographic",
			Title:           fmt.Sprintf("%s geographic clustering", ct),
			Message:         fmt.Sprintf("%d clusters of %s calls (%d calls total) in the last 24 hours", len(group), ct, total),
			VisualHighlight: true,
		})
	}
}

// BuildMedicalDirectorInsights assembles the SOR activity and complaint
// trend report served at /api/analytics/medical-director-insights.
func (e *Engine) BuildMedicalDirectorInsights(ctx context.Context) (*database.MedicalDirectorInsights, error) {
	since := time.Now().AddDate(0, 0, -trendLookbackDays)
	sor, err := e.opts.DB.SORConversationsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("sor conversations: %w", err)
	}

	physicians := make(map[string]int)
	for _, c := range sor {
		if c.SORPhysician != nil && *c.SORPhysician != "" {
			physicians[*c.SORPhysician]++
		}
	}

	trends := make([]database.ComplaintTrend, 0, len(classify.PublicHealthTypes))
	for _, ct := range classify.PublicHealthTypes {
		trend, err := e.complaintTrend(ctx, ct)
		if err != nil {
			return nil, fmt.Errorf("trend %s: %w", ct, err)
		}
		trends = append(trends, trend)
	}

	return &database.MedicalDirectorInsights{
		GeneratedAt:      time.Now().UTC(),
		SORConversations: sor,
		PhysicianCounts:  physicians,
		ComplaintTrends:  trends,
	}, nil
}
