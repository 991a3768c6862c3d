package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"

	"shorts-sampler/internal/models"
	"shorts-sampler/shared/config"
)

type Sender struct {
	config *config.EmailConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSender(cfg *config.EmailConfig) *Sender {
	return &Sender{
		config: cfg,
		send:   smtp.SendMail,
	}
}

var runReportTemplate = template.Must(template.New("run-report").Funcs(template.FuncMap{
	"percent": func(collected, target int) float64 {
		if target == 0 {
			return 0
		}
		return float64(collected) * 100 / float64(target)
	},
}).Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
<h2>Shorts sampler run {{.Outcome}}</h2>
<p>Run {{.RunID}} on {{.Date.Format "Jan 2, 2006 15:04 MST"}} took {{.Duration}}.</p>
{{if .Error}}<p style="color: #b00020;">Error: {{.Error}}</p>{{end}}
<table cellpadding="4" style="border-collapse: collapse;">
<tr><th align="left">Tier</th><th align="right">Collected</th><th align="right">Target</th><th align="right">Progress</th></tr>
{{range .Tiers}}<tr><td>{{.Name}}</td><td align="right">{{.Collected}}</td><td align="right">{{.Target}}</td><td align="right">{{printf "%.1f" (percent .Collected .Target)}}%</td></tr>
{{end}}</table>
<p>This run: {{.Searches}} searches, {{.DetailsFetched}} details, {{.Recorded}} recorded, {{.Duplicates}} duplicates skipped, {{.Rejected}} rejected.</p>
<p>Quota: {{.QuotaUsed}} / {{.QuotaLimit}} units. Dataset: {{.TotalRecords}} records{{if .ExportPath}} in {{.ExportPath}}{{end}}.</p>
</body>
</html>
`))

// SendRunReport mails the summary of a collection run.
func (s *Sender) SendRunReport(report *models.RunReport) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	subject := fmt.Sprintf("Shorts sampler: %s, %d new videos (%s)",
		report.Outcome, report.Recorded, report.Date.Format("Jan 2, 2006"))

	body, err := generateRunReportBody(report)
	if err != nil {
		return fmt.Errorf("failed to generate email body: %w", err)
	}

	return s.SendHTML(subject, body)
}

// SendHTML sends an email with custom HTML content
func (s *Sender) SendHTML(subject, htmlBody string) error {
	return s.sendViaSMTP(subject, htmlBody)
}

func (s *Sender) sendViaSMTP(subject, body string) error {
	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.SMTPServer)

	to := []string{s.config.ToEmail}
	msg := []byte(fmt.Sprintf(`To: %s
From: %s
Subject: %s
MIME-Version: 1.0
Content-Type: text/html; charset=UTF-8

%s`, s.config.ToEmail, s.config.FromEmail, subject, body))

	addr := fmt.Sprintf("%s:%d", s.config.SMTPServer, s.config.SMTPPort)
	return s.send(addr, auth, s.config.FromEmail, to, msg)
}

func generateRunReportBody(report *models.RunReport) (string, error) {
	var buf bytes.Buffer
	if err := runReportTemplate.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}
