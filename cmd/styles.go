package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/scangate/internal/gate"
	"github.com/CosmoTheDev/scangate/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	passedStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	warningStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B"))
	failedStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
	inconclusiveStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6B7280"))

	sevCriticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626"))
	sevHighStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#EA580C"))
	sevMediumStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#D97706"))
	sevLowStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#2563EB"))
)

func gateStyle(status string) lipgloss.Style {
	switch status {
	case models.GatePassed:
		return passedStyle
	case models.GateWarning:
		return warningStyle
	case models.GateFailed:
		return failedStyle
	default:
		return inconclusiveStyle
	}
}

func severityStyle(s models.SeverityLevel) lipgloss.Style {
	switch s {
	case models.SeverityCritical:
		return sevCriticalStyle
	case models.SeverityHigh:
		return sevHighStyle
	case models.SeverityMedium:
		return sevMediumStyle
	case models.SeverityLow:
		return sevLowStyle
	default:
		return dimStyle
	}
}

// renderVerdict prints a gate verdict block to stdout.
func renderVerdict(v gate.Verdict) {
	style := gateStyle(v.Status)
	fmt.Printf("%s %s\n", headerStyle.Render("Gate:"), style.Render(strings.ToUpper(v.Status)))
	fmt.Printf("%s %s\n", headerStyle.Render("Reason:"), v.Reason)
}

// renderSummary prints the per-severity finding counts of a run.
func renderSummary(fs models.FindingsSummary) {
	if fs.Total() == 0 {
		fmt.Println(dimStyle.Render("No findings."))
		return
	}
	parts := make([]string, 0, 5)
	for _, sev := range models.AllSeverities() {
		if n := fs.Count(sev); n > 0 {
			parts = append(parts, severityStyle(sev).Render(fmt.Sprintf("%d %s", n, sev)))
		}
	}
	fmt.Printf("%s %s (%d total)\n", headerStyle.Render("Findings:"), strings.Join(parts, ", "), fs.Total())
}
