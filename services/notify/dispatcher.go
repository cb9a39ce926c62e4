// Package notify emails lifecycle changes to the configured recipients.
package notify

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	texttmpl "text/template"
	"time"

	"github.com/trezcool/masomo-lifecycle/core"
	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

var templates = texttmpl.Must(texttmpl.New("notify").Funcs(texttmpl.FuncMap{
	"date": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 MST") },
}).Parse(`
{{define "overdue_flagged"}}Approval request #{{.RequestID}} is past its deadline ({{.Meta.deadline}}).
Priority: {{.Meta.priority}}
Flagged on {{date .OccurredAt}}.
{{if .Link}}
Review it: {{.Link}}
{{end}}{{end}}

{{define "approval_delegated"}}Approval request #{{.RequestID}} was delegated to user #{{.Meta.delegate_id}} until {{.Meta.expires_at}}.
Reason: {{.Meta.reason}}
{{if .Link}}
Review it: {{.Link}}
{{end}}{{end}}

{{define "auto_archived"}}Survey #{{.SurveyID}} was archived automatically on {{date .OccurredAt}}.
Reason: {{.Meta.reason}}
Collected responses: {{.Meta.collected_responses}}
{{end}}
`))

var subjects = map[lifecycle.EventType]string{
	lifecycle.EventOverdueFlagged:    "Approval request #%d is overdue",
	lifecycle.EventApprovalDelegated: "Approval request #%d was delegated",
	lifecycle.EventAutoArchived:      "Survey #%d was archived",
}

type templateData struct {
	RequestID  int64
	SurveyID   int64
	OccurredAt time.Time
	Meta       lifecycle.Metadata
	Link       string
}

// Dispatcher turns published lifecycle changes into notification emails.
// Event types without a template are ignored.
type Dispatcher struct {
	mailer     core.EmailService
	recipients []mail.Address
	baseURL    string
	logger     core.Logger
}

func NewDispatcher(mailer core.EmailService, conf *core.Config, logger core.Logger) *Dispatcher {
	return &Dispatcher{
		mailer:     mailer,
		recipients: conf.NotifyAddresses(),
		baseURL:    strings.TrimRight(conf.FrontendBaseURL, "/"),
		logger:     logger,
	}
}

// Subscribe registers the dispatcher on bus.
func (d *Dispatcher) Subscribe(bus *lifecycle.EventBus) {
	bus.Subscribe(d.Notify)
}

func (d *Dispatcher) Notify(_ context.Context, ev lifecycle.ChangeEvent) {
	if len(d.recipients) == 0 {
		return
	}
	subject, ok := subjects[ev.Type]
	tmpl := templates.Lookup(string(ev.Type))
	if !ok || tmpl == nil {
		return
	}

	data := templateData{OccurredAt: ev.OccurredAt, Meta: ev.Metadata}
	entityID := int64(0)
	if ev.SurveyID != nil {
		data.SurveyID = *ev.SurveyID
		entityID = data.SurveyID
	}
	if ev.ApprovalRequestID != nil {
		data.RequestID = *ev.ApprovalRequestID
		entityID = data.RequestID
		if d.baseURL != "" {
			data.Link = fmt.Sprintf("%s/approvals/%d", d.baseURL, data.RequestID)
		}
	}

	d.logger.Debug("sending lifecycle notification", map[string]interface{}{
		"event_type": string(ev.Type),
		"id":         entityID,
	})
	d.mailer.SendMessages(&core.EmailMessage{
		To:           d.recipients,
		Subject:      fmt.Sprintf(subject, entityID),
		Template:     tmpl,
		TemplateData: data,
	})
}
