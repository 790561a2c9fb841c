package service

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

var goalCaptions = [domain.MaxGoal + 1]string{
	1: "Goal 1 reached. Primary exit point; secure the trade if you stay in.",
	2: "Goal 2 reached. Secure the trade.",
	3: "Goal 3 reached. Secure the trade.",
	4: "Goal 4 reached. Secure the trade.",
	5: "Goal 5 reached. Continuing past here is at your own risk.",
}

func contractLabel(p domain.Position) string {
	return fmt.Sprintf("%s $%s %s %s", p.Underlying, trimFloat(p.Strike), p.Kind, p.Expiration.UTC().Format("2006-01-02"))
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// entryAlert lists the five goal prices and the stop price.
func entryAlert(p domain.Position, tiers domain.Tiers, rules domain.ExitRules) domain.Alert {
	title := "New CALL entry"
	if p.Kind == domain.OptionKindPut {
		title = "New PUT entry"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nEntry: %.2f\n", contractLabel(p), p.EntryPrice)
	for g := 1; g <= domain.MaxGoal; g++ {
		fmt.Fprintf(&b, "Goal %d: %.2f\n", g, tiers.GoalPrice(p.EntryPrice, g))
	}
	fmt.Fprintf(&b, "Stop loss: %.2f", rules.StopPrice(p.EntryPrice))
	return domain.Alert{Title: title, Caption: b.String()}
}

func stopLossAlert(p domain.Position, exit float64) domain.Alert {
	return domain.Alert{
		Title:   "Stop loss hit",
		Caption: fmt.Sprintf("%s\n%s\nExit: %.2f (entry %.2f)", p.Symbol, contractLabel(p), exit, p.EntryPrice),
	}
}

func expiredAlert(p domain.Position, exit float64) domain.Alert {
	return domain.Alert{
		Title:   "Contract expired",
		Caption: fmt.Sprintf("%s\n%s\nExit: %.2f (entry %.2f)", p.Symbol, contractLabel(p), exit, p.EntryPrice),
	}
}

func manualCloseAlert(p domain.Position) domain.Alert {
	exit := p.CurrentPrice
	if p.ExitPrice != nil {
		exit = *p.ExitPrice
	}
	caption := fmt.Sprintf("%s\nExit: %.2f (entry %.2f)", contractLabel(p), exit, p.EntryPrice)
	if p.ClosedBy != "" {
		caption += "\nClosed by " + p.ClosedBy
	}
	return domain.Alert{Title: "Position closed", Caption: caption}
}

func milestoneAlert(p domain.Position, goal int) domain.Alert {
	caption := fmt.Sprintf("%s\nPeak: %.2f (entry %.2f)", contractLabel(p), p.PeakPrice, p.EntryPrice)
	if goal >= 1 && goal <= domain.MaxGoal {
		caption = goalCaptions[goal] + "\n" + caption
	}
	return domain.Alert{Title: fmt.Sprintf("Goal %d", goal), Caption: caption}
}
