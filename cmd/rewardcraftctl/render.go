package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"rewardcraft/internal/model"
	"rewardcraft/pkg/rewardcraft"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	stageStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("#555555")).PaddingLeft(1)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
)

func renderBuild(d rewardcraft.BuildDetail) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("build "+d.Build.ID) + "\n")
	field(&b, "environment", d.Build.EnvironmentID)
	field(&b, "target", d.Build.TargetTask)
	field(&b, "status", string(d.Build.Status))
	field(&b, "created", d.Build.CreatedAtUTC.Format("2006-01-02 15:04:05Z"))
	field(&b, "attempts", strconv.Itoa(len(d.Build.Attempts)))
	if f := d.Build.Failure; f != nil {
		msg := f.Kind + ": " + f.Message
		if f.Task != "" {
			msg += " (task " + f.Task + ")"
		}
		b.WriteString(failedStyle.Render("failure  "+msg) + "\n")
	}
	if d.Curriculum == nil {
		return b.String()
	}
	field(&b, "fingerprint", d.Curriculum.Fingerprint)
	for _, st := range d.Curriculum.Stages {
		b.WriteString("\n")
		b.WriteString(stageStyle.Render(renderStage(st, len(d.Curriculum.Stages))) + "\n")
	}
	return b.String()
}

func renderStage(st model.Stage, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", headerStyle.Render(fmt.Sprintf("stage %d/%d", st.Index+1, total)), st.Task.Name)
	b.WriteString(st.Task.Description + "\n")
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("inputs"), strings.Join(st.Reward.Inputs, ", "))
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("components"), strings.Join(st.Reward.Components, ", "))
	weights := make([]string, 0, len(st.Reward.Weights))
	for _, name := range sortedKeys(st.Reward.Weights) {
		weights = append(weights, fmt.Sprintf("%s=%g", name, st.Reward.Weights[name]))
	}
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("weights"), strings.Join(weights, ", "))
	if st.Override.Variable != "" {
		value := "none"
		if st.Override.Value != nil {
			value = strconv.FormatFloat(*st.Override.Value, 'g', -1, 64)
		}
		fmt.Fprintf(&b, "%s %s=%s\n", labelStyle.Render("override"), st.Override.Variable, value)
	}
	if st.Reward.Signal {
		b.WriteString(labelStyle.Render("signal") + " yes")
	} else {
		b.WriteString(labelStyle.Render("signal") + " no")
	}
	return b.String()
}

func field(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-11s", label)), value)
}
