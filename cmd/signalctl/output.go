package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matthewbaird/signalintel/internal/balance"
	"github.com/matthewbaird/signalintel/internal/calendar"
	"github.com/matthewbaird/signalintel/internal/engine"
	"github.com/matthewbaird/signalintel/internal/lifecycle"
	"github.com/matthewbaird/signalintel/internal/suppression"
	"github.com/matthewbaird/signalintel/internal/temporal"
	"github.com/matthewbaird/signalintel/internal/types"
)

// StatsResult is the result of a stats command.
type StatsResult struct {
	suppression.Stats
	Suppressed bool `json:"suppressed"`
}

// MaintenanceResult is the result of a maintenance subcommand.
type MaintenanceResult struct {
	Operation string `json:"operation"`
	Count     int    `json:"count"`
}

const timeLayout = "2006-01-02 15:04"

func outputResult(w io.Writer, result any, format string) error {
	switch format {
	case "json":
		return outputJSON(w, result)
	case "yaml":
		return outputYAML(w, result)
	default:
		return outputTable(w, result)
	}
}

func outputJSON(w io.Writer, result any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// outputYAML renders result through its JSON form so field names follow the
// json tags, keeping field order.
func outputYAML(w io.Writer, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	blockStyle(&node)
	out, err := yaml.Marshal(&node)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// blockStyle clears the flow and quoting styles yaml.v3 keeps when parsing
// JSON. Strings that need quotes to stay strings are still quoted.
func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle | yaml.DoubleQuotedStyle
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func outputTable(out io.Writer, result any) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	switch r := result.(type) {
	case *engine.CycleReport:
		return outputCycleTable(w, r)
	case types.SuppressionRecord:
		return outputSuppressionTable(w, r)
	case StatsResult:
		return outputStatsTable(w, r)
	case []lifecycle.Status:
		return outputLifecycleTable(w, r)
	case lifecycle.Status:
		return outputLifecycleTable(w, []lifecycle.Status{r})
	case balance.CheckStats:
		return outputBalanceTable(w, r)
	case types.Issue:
		return outputIssuesTable(w, []types.Issue{r})
	case []types.Issue:
		return outputIssuesTable(w, r)
	case MaintenanceResult:
		fmt.Fprintf(w, "%s:\t%d\n", strings.ToUpper(r.Operation), r.Count)
		return nil
	case calendar.DayContext:
		return outputDayTable(w, r)
	case temporal.Aging:
		return outputAgingTable(w, r)
	case types.EntitySummary:
		return outputSummaryTable(w, r)
	default:
		// Fall back to JSON for unknown types
		return outputJSON(out, result)
	}
}

func outputCycleTable(w *tabwriter.Writer, r *engine.CycleReport) error {
	fmt.Fprintf(w, "RESULT:\t%s\n", r.Result())
	fmt.Fprintf(w, "DURATION:\t%s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if d := r.Detection; d != nil {
		fmt.Fprintf(w, "DETECTORS:\t%d run, %d failed\n", d.DetectorsRun, d.DetectorsFailed)
		fmt.Fprintf(w, "SIGNALS:\t%d detected, %d stored, %d duplicate, %d error\n",
			d.SignalsDetected, d.SignalsStored, d.SignalsDuplicate, d.SignalsError)
	}
	fmt.Fprintf(w, "LIFECYCLE:\t%d updated, %d cleared\n", r.LifecycleUpdated, r.LifecycleCleared)
	fmt.Fprintf(w, "ESCALATIONS:\t%d\n", len(r.Escalations))
	fmt.Fprintf(w, "BALANCED:\t%d (issues transitioned: %d)\n", r.Balance.SignalsBalanced, r.Balance.IssuesTransitioned)
	fmt.Fprintf(w, "SUPPRESSIONS:\t%d active, %d expired\n", r.ActiveSuppressions, r.SuppressionsExpired)

	if d := r.Detection; d != nil && len(d.ByDetector) > 0 {
		ids := make([]string, 0, len(d.ByDetector))
		for id := range d.ByDetector {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Fprintln(w, "\nDETECTOR\tDETECTED\tSTORED\tDUPLICATE\tSTATUS")
		for _, id := range ids {
			ds := d.ByDetector[id]
			status := "ok"
			if ds.Failed {
				status = "failed: " + ds.Error
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", id, ds.SignalsDetected, ds.SignalsStored, ds.SignalsDuplicate, status)
		}
	}

	if len(r.Escalations) > 0 {
		fmt.Fprintln(w, "\nESCALATED\tFROM\tTO\tDAYS")
		for _, e := range r.Escalations {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", e.SignalKey, e.From, colorize(e.To), e.BusinessDaysActive)
		}
	}

	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "\nERRORS:")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "- %s\n", e)
		}
	}
	return nil
}

func outputSuppressionTable(w *tabwriter.Writer, r types.SuppressionRecord) error {
	fmt.Fprintf(w, "SIGNAL KEY:\t%s\n", r.SignalKey)
	fmt.Fprintf(w, "REASON:\t%s\n", r.Reason)
	fmt.Fprintf(w, "SUPPRESSED AT:\t%s\n", r.SuppressedAt.Format(timeLayout))
	fmt.Fprintf(w, "EXPIRES AT:\t%s\n", r.ExpiresAt.Format(timeLayout))
	fmt.Fprintf(w, "DISMISS COUNT:\t%d\n", r.DismissCount)
	return nil
}

func outputStatsTable(w *tabwriter.Writer, r StatsResult) error {
	fmt.Fprintf(w, "SIGNAL KEY:\t%s\n", r.SignalKey)
	fmt.Fprintf(w, "RAISED:\t%d\n", r.TotalRaised)
	fmt.Fprintf(w, "DISMISSED:\t%d\n", r.TotalDismissed)
	fmt.Fprintf(w, "DISMISS RATE:\t%.0f%%\n", r.DismissRate*100)
	fmt.Fprintf(w, "DEPRIORITIZED:\t%t\n", r.IsAutoDeprioritized)
	fmt.Fprintf(w, "SUPPRESSED:\t%t\n", r.Suppressed)
	return nil
}

func outputLifecycleTable(w *tabwriter.Writer, recs []lifecycle.Status) error {
	fmt.Fprintln(w, "SIGNAL KEY\tCLASSIFICATION\tSEVERITY\tDAYS\tDETECTIONS\tFIRST DETECTED")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.SignalKey, r.Classification, colorize(r.Severity),
			r.BusinessDaysActive, r.DetectionCount, r.FirstDetectedAt.Format(timeLayout))
	}
	return nil
}

func outputBalanceTable(w *tabwriter.Writer, r balance.CheckStats) error {
	fmt.Fprintf(w, "POSITIVES CHECKED:\t%d\n", r.PositivesChecked)
	fmt.Fprintf(w, "SIGNALS BALANCED:\t%d\n", r.SignalsBalanced)
	fmt.Fprintf(w, "ISSUES RECALCULATED:\t%d\n", r.IssuesRecalculated)
	fmt.Fprintf(w, "ISSUES TRANSITIONED:\t%d\n", r.IssuesTransitioned)
	return nil
}

func outputIssuesTable(w *tabwriter.Writer, issues []types.Issue) error {
	fmt.Fprintln(w, "ID\tTITLE\tSTATE\tSIGNALS\tNEGATIVE\tPOSITIVE\tNET")
	for _, i := range issues {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%.2f\t%.2f\n",
			i.ID, i.Title, i.State, len(i.SignalIDs),
			i.Balance.NegativeMagnitude, i.Balance.PositiveMagnitude, i.Balance.NetScore)
	}
	return nil
}

func outputDayTable(w *tabwriter.Writer, r calendar.DayContext) error {
	fmt.Fprintf(w, "DATE:\t%s (%s)\n", r.Date.Format("2006-01-02"), r.Date.Weekday())
	fmt.Fprintf(w, "DAY TYPE:\t%s\n", r.DayType)
	if r.HolidayName != "" {
		fmt.Fprintf(w, "HOLIDAY:\t%s\n", r.HolidayName)
	}
	if r.LunarDataAvailable {
		fmt.Fprintf(w, "RAMADAN:\t%t\n", r.IsRamadan)
		fmt.Fprintf(w, "EID:\t%t\n", r.IsEid)
	} else {
		fmt.Fprintf(w, "RAMADAN:\tunknown (no lunar data)\n")
	}
	fmt.Fprintf(w, "SEASON:\t%s\n", r.Season)
	if r.IsWorkingDay() {
		fmt.Fprintf(w, "WORKING HOURS:\t%02d:00-%02d:00 (%d min)\n", r.WorkStart, r.WorkEnd, r.WorkingMinutes)
	} else {
		fmt.Fprintf(w, "WORKING HOURS:\tnone\n")
	}
	return nil
}

func outputAgingTable(w *tabwriter.Writer, r temporal.Aging) error {
	fmt.Fprintf(w, "CALENDAR DAYS:\t%d\n", r.CalendarDays)
	fmt.Fprintf(w, "BUSINESS DAYS:\t%d (%.1f weeks)\n", r.BusinessDays, r.BusinessWeeks)
	fmt.Fprintf(w, "RAMADAN DAYS:\t%d\n", r.RamadanDaysCrossed)
	fmt.Fprintf(w, "EID DAYS:\t%d\n", r.EidDaysCrossed)
	if len(r.HolidaysCrossed) > 0 {
		fmt.Fprintf(w, "HOLIDAYS:\t%s\n", strings.Join(r.HolidaysCrossed, ", "))
	}
	return nil
}

func outputSummaryTable(w *tabwriter.Writer, r types.EntitySummary) error {
	fmt.Fprintf(w, "ENTITY:\t%s:%s\n", r.EntityType, r.EntityID)
	fmt.Fprintf(w, "SENTIMENT:\t%s (%s)\n", r.OverallSentiment, r.SentimentReason)
	fmt.Fprintf(w, "POLARITY:\t%s\n", r.DominantPolarity)
	fmt.Fprintf(w, "TREND:\t%s (score %.2f)\n\n", r.Trend, r.WeightedScore)

	names := make([]string, 0, len(r.Types))
	for name := range r.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "SIGNAL TYPE\tCOUNT")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\n", name, r.Types[name].SignalCount)
	}
	return nil
}

// severityColor returns the ANSI color code for severity (used in table output).
func severityColor(severity types.Severity) string {
	switch severity {
	case types.SeverityCritical:
		return "\033[31m" // Red
	case types.SeverityWarning:
		return "\033[33m" // Yellow
	case types.SeverityWatch:
		return "\033[36m" // Cyan
	default:
		return ""
	}
}

func colorize(severity types.Severity) string {
	c := severityColor(severity)
	if c == "" {
		return string(severity)
	}
	return c + string(severity) + "\033[0m"
}
