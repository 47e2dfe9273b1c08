package handover

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"shiftrelay/core/store"
)

type templateData struct {
	IncidentID    int64
	Title         string
	Priority      string
	Description   string
	FromEngineer  string
	ToEngineer    string
	InitiatedAt   string
	TimePending   string
	RejectionNote string
	IncidentURL   string
}

var mailTemplates = template.Must(template.New("mail").Parse(`
{{define "pending_handover"}}
<p>Hello {{.ToEngineer}},</p>
<p>Incident <b>#{{.IncidentID}} {{.Title}}</b> ({{.Priority}}) has been handed over to you{{if .FromEngineer}} by {{.FromEngineer}}{{end}}.</p>
{{if .Description}}<p>{{.Description}}</p>{{end}}
<p>Please accept or reject the handover: <a href="{{.IncidentURL}}">{{.IncidentURL}}</a></p>
{{end}}

{{define "reminder"}}
<p>Hello {{.ToEngineer}},</p>
<p>Incident <b>#{{.IncidentID}} {{.Title}}</b> ({{.Priority}}) is still awaiting your handover decision. It has been pending for {{.TimePending}}.</p>
<p>Accept or reject here: <a href="{{.IncidentURL}}">{{.IncidentURL}}</a></p>
{{end}}

{{define "escalation"}}
<p>The handover of incident <b>#{{.IncidentID}} {{.Title}}</b> ({{.Priority}}) to {{.ToEngineer}} is overdue. It has been pending for {{.TimePending}} without a response.</p>
<p>Immediate attention is required: <a href="{{.IncidentURL}}">{{.IncidentURL}}</a></p>
{{end}}

{{define "acceptance_confirmation"}}
<p>Hello {{.ToEngineer}},</p>
<p>Incident <b>#{{.IncidentID}} {{.Title}}</b> has been accepted{{if .FromEngineer}} by {{.FromEngineer}}{{end}} and is no longer assigned to you.</p>
{{end}}

{{define "rejection_notification"}}
<p>Hello {{.ToEngineer}},</p>
<p>The handover of incident <b>#{{.IncidentID}} {{.Title}}</b> was rejected{{if .FromEngineer}} by {{.FromEngineer}}{{end}}.</p>
{{if .RejectionNote}}<p>Reason: {{.RejectionNote}}</p>{{end}}
<p>The incident remains with you: <a href="{{.IncidentURL}}">{{.IncidentURL}}</a></p>
{{end}}
`))

func subjectFor(kind string, inc *store.Incident) (string, error) {
	switch kind {
	case store.NotifyPendingHandover:
		return fmt.Sprintf("Incident Handover Required: %s", inc.Title), nil
	case store.NotifyReminder:
		return fmt.Sprintf("Reminder: Incident Handover Pending - %s", inc.Title), nil
	case store.NotifyEscalation:
		return fmt.Sprintf("ESCALATION: Overdue Incident Handover - %s", inc.Title), nil
	case store.NotifyAcceptanceConfirmation:
		return fmt.Sprintf("Incident Handover Accepted: %s", inc.Title), nil
	case store.NotifyRejectionNotification:
		return fmt.Sprintf("Incident Handover Rejected: %s", inc.Title), nil
	default:
		return "", fmt.Errorf("unknown notification type %q", kind)
	}
}

func renderNotification(intent *NotificationIntent, baseURL string, now time.Time) (subject, body string, err error) {
	inc := intent.Incident
	subject, err = subjectFor(intent.Kind, inc)
	if err != nil {
		return "", "", err
	}
	data := templateData{
		IncidentID:  inc.ID,
		Title:       inc.Title,
		Priority:    inc.Priority,
		Description: inc.Description,
		ToEngineer:  intent.Recipient,
		IncidentURL: fmt.Sprintf("%s/incidents/%d", baseURL, inc.ID),
	}
	if inc.HandoverInitiatedAt != nil {
		data.InitiatedAt = inc.HandoverInitiatedAt.UTC().Format("2006-01-02 15:04 MST")
		data.TimePending = formatTimePending(now.Sub(*inc.HandoverInitiatedAt))
	}
	switch intent.Kind {
	case store.NotifyPendingHandover:
		data.FromEngineer = inc.AssignedTo
	case store.NotifyAcceptanceConfirmation:
		if inc.HandoverActionedBy != nil {
			data.FromEngineer = *inc.HandoverActionedBy
		}
	case store.NotifyRejectionNotification:
		if inc.HandoverActionedBy != nil {
			data.FromEngineer = *inc.HandoverActionedBy
		}
		if inc.HandoverRejectionNote != nil {
			data.RejectionNote = *inc.HandoverRejectionNote
		}
	}
	var buf bytes.Buffer
	if err := mailTemplates.ExecuteTemplate(&buf, intent.Kind, data); err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}

// formatTimePending renders a duration as "2h 5m" or "45m".
func formatTimePending(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	mins := int(d.Minutes())
	if mins < 60 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dh %dm", mins/60, mins%60)
}
