// Package display renders hunt reports and status views for the terminal.
package display

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sigmafold/alphahunt/internal/breaker"
	"github.com/sigmafold/alphahunt/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	reportStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 1)

	bullishStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#10B981"))

	bearishStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#EF4444"))

	neutralStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))
)

func directionStyle(d models.Direction) lipgloss.Style {
	switch d {
	case models.DirectionBullish:
		return bullishStyle
	case models.DirectionBearish:
		return bearishStyle
	default:
		return neutralStyle
	}
}

// RenderReport builds the full terminal view of a hunt report.
func RenderReport(report *models.HuntReport) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("ALPHA HUNT: %s", report.Topic)))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("hunt %s at %s", report.HuntID, report.Timestamp.Format(time.RFC3339))))
	b.WriteString("\n\n")

	consensus := directionStyle(report.Consensus).Render(strings.ToUpper(string(report.Consensus)))
	b.WriteString(headerStyle.Render("CONSENSUS"))
	b.WriteString(fmt.Sprintf("  %s at %.0f%% confidence\n", consensus, report.Confidence))
	b.WriteString(fmt.Sprintf("%s\n\n", report.Recommendation))

	b.WriteString(headerStyle.Render("SIGNALS"))
	b.WriteString("\n")
	for _, sig := range report.Signals {
		marker := "  "
		if sig.Excluded {
			marker = dimStyle.Render("x ")
		}
		line := fmt.Sprintf("%s%-12s %-8s %.2f",
			marker, sig.AgentKey,
			directionStyle(sig.Direction).Render(string(sig.Direction)),
			sig.Confidence)
		if sig.Excluded {
			line += dimStyle.Render("  (lost competition)")
		}
		b.WriteString(line + "\n")
	}

	if len(report.Competitions) > 0 {
		b.WriteString("\n")
		b.WriteString(headerStyle.Render("COMPETITIONS"))
		b.WriteString("\n")
		for _, comp := range report.Competitions {
			b.WriteString(fmt.Sprintf("  %s: %s beats %s (%.3f vs %.3f)\n",
				comp.Category, comp.Winner, comp.Loser, comp.WinnerRatio, comp.LoserRatio))
		}
	}

	if report.Staking != nil && len(report.Staking.Stakes) > 0 {
		b.WriteString("\n")
		b.WriteString(headerStyle.Render("STAKES"))
		b.WriteString("\n")
		for _, st := range report.Staking.Stakes {
			verdict := bullishStyle.Render("won")
			if !st.Agreed {
				verdict = bearishStyle.Render("slashed")
			}
			b.WriteString(fmt.Sprintf("  %-12s staked %s -> %s (%s)  rep %.3f -> %.3f\n",
				st.AgentKey, st.Staked.StringFixed(2), st.Returned.StringFixed(2),
				verdict, st.RepBefore, st.RepAfter))
		}
	}

	if len(report.Pricing) > 0 {
		b.WriteString("\n")
		b.WriteString(headerStyle.Render("PRICING"))
		b.WriteString("\n")
		for _, quote := range report.Pricing {
			b.WriteString(fmt.Sprintf("  %-12s base %s -> effective %s\n",
				quote.AgentKey, quote.Base.StringFixed(2), quote.Effective.StringFixed(2)))
		}
	}

	if len(report.Warnings) > 0 {
		b.WriteString("\n")
		for _, w := range report.Warnings {
			b.WriteString(warnStyle.Render("! "+w) + "\n")
		}
	}

	return reportStyle.Render(b.String())
}

// RenderStage renders one stream stage as a progress line.
func RenderStage(ev models.StageEvent) string {
	switch ev.Stage {
	case models.StageStart:
		return dimStyle.Render("> " + ev.Message)
	case models.StagePaying:
		return warnStyle.Render(fmt.Sprintf("$ settling payment for %s", ev.Agent))
	case models.StageResult:
		return fmt.Sprintf("+ %s answered", ev.Agent)
	case models.StageCompetition:
		return dimStyle.Render(fmt.Sprintf("~ competition resolved in favor of %s", ev.Agent))
	case models.StageError:
		return bearishStyle.Render("- " + ev.Message)
	case models.StageCached:
		return dimStyle.Render("cached as " + ev.Message)
	case models.StageDone:
		return dimStyle.Render("done")
	default:
		return ""
	}
}

// RenderAutopilot summarizes the scheduler state.
func RenderAutopilot(state models.AutopilotState) string {
	var b strings.Builder
	status := dimStyle.Render("stopped")
	if state.Running {
		status = bullishStyle.Render("running")
	}
	b.WriteString(fmt.Sprintf("autopilot %s  phase=%s  interval=%s  hunts=%d\n",
		status, state.Phase, state.Interval, state.HuntCount))
	if state.LastTopic != "" {
		b.WriteString(dimStyle.Render("last topic: "+state.LastTopic) + "\n")
	}
	for i := len(state.History) - 1; i >= 0 && i >= len(state.History)-5; i-- {
		ad := state.History[i]
		b.WriteString(fmt.Sprintf("  %s -> %s  %s\n", ad.OldInterval, ad.NewInterval, dimStyle.Render(ad.Reason)))
	}
	return b.String()
}

// RenderSettlements lists pending and completed settlements.
func RenderSettlements(pending []models.PendingSettlement, history []models.SettlementResult) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("PENDING"))
	b.WriteString("\n")
	if len(pending) == 0 {
		b.WriteString(dimStyle.Render("  none") + "\n")
	}
	for _, p := range pending {
		b.WriteString(fmt.Sprintf("  %s  %s via %s  snapshot %.2f  due %s\n",
			p.HuntID, p.Topic, p.AssetID, p.SnapshotPrice, p.SettleAt.Format(time.RFC3339)))
	}

	b.WriteString(headerStyle.Render("SETTLED"))
	b.WriteString("\n")
	for i := len(history) - 1; i >= 0 && i >= len(history)-10; i-- {
		res := history[i]
		verdict := bullishStyle.Render("consensus right")
		if !res.ConsensusCorrect {
			verdict = bearishStyle.Render("consensus wrong")
		}
		b.WriteString(fmt.Sprintf("  %s  %+.2f%% -> %s  %s\n",
			res.HuntID, res.ChangePct,
			directionStyle(res.Actual).Render(string(res.Actual)), verdict))
	}
	return b.String()
}

// RenderBreakers shows circuit state per agent.
func RenderBreakers(snapshots map[string]breaker.Snapshot) string {
	var b strings.Builder
	for _, key := range sortedKeys(snapshots) {
		snap := snapshots[key]
		style := bullishStyle
		if snap.State != breaker.StateClosed {
			style = bearishStyle
		}
		b.WriteString(fmt.Sprintf("  %-12s %s  failures=%d\n", key, style.Render(snap.State), snap.Failures))
	}
	if b.Len() == 0 {
		return dimStyle.Render("  no circuits yet") + "\n"
	}
	return b.String()
}

// RenderReputation shows the trust ledger.
func RenderReputation(records map[string]models.ReputationRecord) string {
	var b strings.Builder
	for _, key := range sortedKeys(records) {
		rec := records[key]
		b.WriteString(fmt.Sprintf("  %-12s score=%.3f  hunts=%d  correct=%d  pnl=%s\n",
			key, rec.Score, rec.Hunts, rec.Correct, rec.PnL.StringFixed(2)))
	}
	if b.Len() == 0 {
		return dimStyle.Render("  no reputation yet") + "\n"
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
