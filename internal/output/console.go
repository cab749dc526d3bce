// Package output renders benchmark and health results for the terminal and
// as structured documents.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/rpcbench/internal/engine"
	"github.com/wesleyorama2/rpcbench/internal/health"
	"github.com/wesleyorama2/rpcbench/internal/regression"
	"github.com/wesleyorama2/rpcbench/internal/stats"
)

const ruleWidth = 56

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer io.Writer

	// Verbose adds per-method detail
	Verbose bool

	NoColor     bool
	ForceColors bool
}

// Console prints human-readable summaries.
type Console struct {
	w       io.Writer
	verbose bool
	noColor bool
	colors  *ColorScheme
}

// NewConsole creates a console printer. Colors are used only when the
// writer is a terminal, unless forced.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	useColors := config.ForceColors || (!config.NoColor && IsTerminal(config.Writer) && supportsColors())

	c := &Console{
		w:       config.Writer,
		verbose: config.Verbose,
		noColor: !useColors,
	}
	switch {
	case !useColors:
		c.colors = NoColorScheme()
	case config.ForceColors:
		c.colors = ForcedColorScheme()
	default:
		c.colors = DefaultColorScheme()
	}
	return c
}

// PrintRun prints the summary of a benchmark run.
func (c *Console) PrintRun(result *engine.RunResult) {
	status := c.colors.Good.Sprint("Completed " + SuccessIcon(true))
	switch {
	case result.Regressed():
		status = c.colors.Bad.Sprint("Regressed " + ErrorIcon(true))
	case result.Cancelled:
		status = c.colors.Warn.Sprint("Cancelled " + WarningIcon(true))
	}

	c.header(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), status))
	c.field("Run ID", result.ID.String())
	c.field("Duration", formatDuration(result.Duration))
	c.field("Endpoints", fmt.Sprintf("%d", len(result.Endpoints)))
	c.writeln("")

	scores := make(map[string]string, len(result.Score.Scores))
	for _, s := range result.Score.Scores {
		scores[s.Endpoint] = fmt.Sprintf("#%d, grade %s, score %.1f", s.Rank, s.Grade, s.Overall)
	}

	for _, ep := range result.Endpoints {
		c.printEndpoint(ep, scores[ep.Endpoint])
	}

	if len(result.Regressions) > 0 {
		c.writeln(c.colors.Title.Sprint("Regressions:"))
		for _, rep := range result.Regressions {
			c.printRegression(rep)
		}
		c.writeln("")
	}

	if len(result.Score.Recommendations) > 0 {
		c.writeln(c.colors.Title.Sprint("Recommendations:"))
		for _, rec := range result.Score.Recommendations {
			c.writeln("  • " + rec)
		}
		c.writeln("")
	}
}

func (c *Console) printEndpoint(ep engine.EndpointResult, score string) {
	line := c.colors.Endpoint.Sprint(ep.Endpoint)
	if score != "" {
		line += fmt.Sprintf(" [%s]", score)
	}
	c.writeln(line)

	if ep.Error != "" {
		c.writeln(fmt.Sprintf("  %s %s", c.icon(false), c.colors.Bad.Sprint("Excluded: "+ep.Error)))
	}

	c.printStats("  ", ep.Stats)

	var breakers []string
	for _, b := range ep.Breakers {
		breakers = append(breakers, fmt.Sprintf("%s=%s", b.Name, b.State))
	}
	if len(breakers) > 0 {
		c.field("  Breakers", strings.Join(breakers, ", "))
	}
	if ep.Limiter.Rejected > 0 || ep.Bulkhead.Rejected > 0 {
		c.field("  Admission", fmt.Sprintf("limiter rejected %s, bulkhead rejected %s",
			formatNumber(ep.Limiter.Rejected), formatNumber(ep.Bulkhead.Rejected)))
	}
	if ep.Health.TotalProbes > 0 {
		c.field("  Health", c.healthStatus(ep.Health))
	}

	if c.verbose {
		for _, m := range ep.Methods {
			c.writeln("  " + c.colors.Method.Sprint(m.Method))
			c.printStats("    ", m.Stats)
			if m.Apdex != nil {
				c.field("    Apdex", fmt.Sprintf("%.2f (T=%s)", m.Apdex.Score, formatDurationShort(m.Apdex.Threshold)))
			}
			if m.SLA != nil {
				c.field("    SLA", fmt.Sprintf("%s %.1f%% compliant", c.icon(m.SLA.Compliant), m.SLA.ComplianceRate*100))
			}
			if m.Trend != nil {
				c.field("    Trend", fmt.Sprintf("%s (r²=%.2f)", m.Trend.Direction, m.Trend.RSquared))
			}
			if m.Outliers > 0 {
				c.field("    Outliers", fmt.Sprintf("%d", m.Outliers))
			}
			if len(m.ChangePoints) > 0 {
				c.field("    Change points", fmt.Sprintf("%d", len(m.ChangePoints)))
			}
		}
	}
	c.writeln("")
}

func (c *Console) printStats(indent string, s stats.Stats) {
	c.field(indent+"Calls", fmt.Sprintf("%s (%d ok, %d failed, %d timed out, %d rejected)",
		formatNumber(int64(s.Count)), s.Successes, s.Failures, s.Timeouts, s.Rejected))

	if s.Attempted() > 0 {
		c.field(indent+"Success Rate", c.rate(s.SuccessRate))
		c.field(indent+"Throughput", fmt.Sprintf("%.1f req/s", s.Throughput))
	}
	if l := s.Latency; l != nil {
		c.field(indent+"Latency", fmt.Sprintf("p50 %s  p95 %s  p99 %s  max %s",
			formatDurationShort(l.P50), formatDurationShort(l.P95), formatDurationShort(l.P99), formatDurationShort(l.Max)))
	}
	if len(s.Rejections) > 0 {
		reasons := make([]string, 0, len(s.Rejections))
		for reason, n := range s.Rejections {
			reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
		}
		sort.Strings(reasons)
		c.field(indent+"Rejections", strings.Join(reasons, ", "))
	}
}

func (c *Console) printRegression(rep regression.Report) {
	icon := c.icon(!rep.Regressed)
	c.writeln(fmt.Sprintf("  %s %s %s: %s", icon, rep.Endpoint, c.colors.Method.Sprint(rep.Method), c.severity(rep.Severity)))
	for _, f := range rep.Findings {
		if f.Severity == regression.SeverityNone {
			continue
		}
		unit := "%"
		if f.Metric == regression.MetricSuccessRate {
			unit = "pp"
		}
		c.writeln(fmt.Sprintf("      %s: %.2f -> %.2f (%+.1f%s, %s)", f.Metric, f.Baseline, f.Current, f.Delta, unit, f.Severity))
	}
}

// PrintHealth prints one line per endpoint health summary.
func (c *Console) PrintHealth(summaries []engine.EndpointHealth) {
	c.header(c.colors.Title.Sprint("Endpoint Health"))
	for _, eh := range summaries {
		c.writeln(fmt.Sprintf("%s  %s", c.colors.Endpoint.Sprint(eh.Endpoint), c.healthStatus(eh.Summary)))
		s := eh.Summary
		c.field("  Probes", fmt.Sprintf("%d (%d healthy, %d skipped)", s.TotalProbes, s.HealthyProbes, s.SkippedProbes))
		if s.TotalProbes > s.SkippedProbes {
			c.field("  Avg Latency", formatDurationShort(s.AvgLatency))
		}
		if s.BreakerState != "" {
			c.field("  Breaker", string(s.BreakerState))
		}
		if !s.LastProbe.IsZero() {
			c.field("  Last Probe", s.LastProbe.Format(time.RFC3339))
		}
	}
	c.writeln("")
}

func (c *Console) healthStatus(s health.Summary) string {
	var status string
	switch s.Status {
	case health.StatusHealthy:
		status = c.colors.Good.Sprint(string(s.Status))
	case health.StatusDegraded:
		status = c.colors.Warn.Sprint(string(s.Status))
	case health.StatusUnhealthy:
		status = c.colors.Bad.Sprint(string(s.Status))
	default:
		return string(health.StatusUnknown)
	}
	return fmt.Sprintf("%s, %.2f%% uptime (%.1f nines), %d consecutive failures",
		status, s.AvailabilityPercent, s.Nines, s.ConsecutiveFailures)
}

func (c *Console) severity(s regression.Severity) string {
	switch {
	case s >= regression.SeverityHigh:
		return c.colors.Bad.Sprint(s.String())
	case s >= regression.SeverityLow:
		return c.colors.Warn.Sprint(s.String())
	default:
		return c.colors.Good.Sprint(s.String())
	}
}

func (c *Console) rate(r float64) string {
	text := fmt.Sprintf("%.1f%%", r*100)
	switch {
	case r < 0.95:
		return c.colors.Bad.Sprint(text)
	case r < 0.99:
		return c.colors.Warn.Sprint(text)
	default:
		return c.colors.Good.Sprint(text)
	}
}

func (c *Console) icon(ok bool) string {
	if ok {
		return SuccessIcon(c.noColor)
	}
	return ErrorIcon(c.noColor)
}

func (c *Console) header(title string) {
	rule := c.colors.Rule.Sprint(strings.Repeat("━", ruleWidth))
	c.writeln(rule)
	c.writeln(title)
	c.writeln(rule)
	c.writeln("")
}

func (c *Console) field(label, value string) {
	c.writeln(fmt.Sprintf("%-16s %s", label+":", value))
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.w, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
