package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/devbattle/internal/domain"
)

var battleResultTemplate = template.Must(template.New("battle_result").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; background-color: #0d1117; color: #e6edf3; margin: 0; padding: 40px 20px;">
    <div style="max-width: 600px; margin: 0 auto; border: 1px solid #30363d; border-radius: 12px; padding: 32px;">
        <h1 style="margin: 0 0 8px 0; font-size: 24px;">{{if .Won}}Victory against {{.OpponentName}}{{else}}Defeat against {{.OpponentName}}{{end}}</h1>
        <p style="color: #8b949e; margin: 0 0 24px 0;">Hi {{.Username}}, your developer battle has finished.</p>

        <table style="width: 100%; border-collapse: collapse; margin-bottom: 24px;">
            <tr><td style="padding: 6px 0;">Your score</td><td style="text-align: right;">{{printf "%.1f" .Score}}</td></tr>
            <tr><td style="padding: 6px 0;">{{.OpponentName}}</td><td style="text-align: right;">{{printf "%.1f" .OpponentScore}}</td></tr>
            <tr><td style="padding: 6px 0;">Rating</td><td style="text-align: right;">{{.RatingChange.Before}} &rarr; {{.RatingChange.After}} ({{.Delta}})</td></tr>
            <tr><td style="padding: 6px 0;">Tier</td><td style="text-align: right;">{{.TierLabel}}</td></tr>
        </table>

        {{if .Reason}}<p style="line-height: 1.6;">{{.Reason}}</p>{{end}}
        {{if .BattleURL}}
        <div style="text-align: center; margin: 30px 0;">
            <a href="{{.BattleURL}}" style="display: inline-block; background: #238636; color: white; text-decoration: none; padding: 12px 28px; border-radius: 6px; font-weight: 600;">View battle</a>
        </div>
        {{end}}
    </div>
</body>
</html>
`))

type battleResultView struct {
	domain.BattleNotification
	Delta     string
	TierLabel string
	BattleURL string
}

// RenderBattleResult returns the subject and HTML body for a result email
func RenderBattleResult(n domain.BattleNotification, frontendURL string) (string, string, error) {
	view := battleResultView{
		BattleNotification: n,
		Delta:              fmt.Sprintf("%+d", n.RatingChange.Change),
		TierLabel:          titleCase(string(n.Tier)),
	}
	if frontendURL != "" {
		view.BattleURL = fmt.Sprintf("%s/battles/%s", frontendURL, n.BattleID)
	}

	var buf bytes.Buffer
	if err := battleResultTemplate.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("rendering battle result email: %w", err)
	}

	subject := fmt.Sprintf("You lost your battle against %s", n.OpponentName)
	if n.Won {
		subject = fmt.Sprintf("You won your battle against %s", n.OpponentName)
	}
	return subject, buf.String(), nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
