package mail

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/uclinic/notifyd/internal/domain/notification"
)

// Template selection is a closed lookup keyed by notification kind. The
// variant set is small and fixed, so a table beats polymorphic dispatch.

const layoutHead = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <style>
    body { font-family: 'Helvetica Neue', Helvetica, Arial, sans-serif; background-color: #F2F4F7; margin: 0; padding: 0; }
    .container { max-width: 600px; margin: 20px auto; background-color: #FFFFFF; border-radius: 16px; overflow: hidden; box-shadow: 0 4px 6px rgba(0,0,0,0.05); }
    .header { background-color: #154734; padding: 30px; text-align: center; }
    .content { padding: 40px 30px; color: #1D2939; line-height: 1.6; }
    .btn { display: inline-block; background-color: #E37222; color: #FFFFFF; padding: 12px 24px; text-decoration: none; border-radius: 50px; font-weight: bold; margin-top: 20px; }
    .footer { background-color: #f9fafb; padding: 20px; text-align: center; font-size: 12px; color: #6b7280; border-top: 1px solid #e5e7eb; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <div style="font-size: 24px; font-weight: bold; color: #FFFFFF;">
        U <span style="color: #E37222">Health System</span>
      </div>
    </div>
    <div class="content">
`

const layoutFoot = `
    </div>
    <div class="footer">
      This is an automated message, please do not reply to this email.
    </div>
  </div>
</body>
</html>
`

type renderData struct {
	Name string
	Date string
	Link string
}

type emailTemplate struct {
	subject string
	body    *template.Template
}

func mustTemplate(name, content string) *template.Template {
	return template.Must(template.New(name).Parse(layoutHead + content + layoutFoot))
}

var templates = map[notification.Kind]emailTemplate{
	notification.KindAwaitingConfirmation: {
		subject: "Appointment request received",
		body: mustTemplate("awaiting_confirmation", `
        <h2 style="color: #154734; margin-top: 0;">Appointment Request Received</h2>
        <p>Hello <strong>{{.Name}}</strong>,</p>
        <p>You have received a new appointment request for {{.Date}}.</p>
        <p>Please review your availability and update the appointment status.</p>
        <center><a href="{{.Link}}/doctor/dashboard" class="btn">View My Appointments</a></center>
`),
	},
	notification.KindReminder: {
		subject: "Reminder: your medical appointment is coming up",
		body: mustTemplate("reminder", `
        <h2 style="color: #154734; margin-top: 0;">Appointment Reminder</h2>
        <p>Hello <strong>{{.Name}}</strong>,</p>
        <p>This is a friendly reminder of your upcoming medical appointment on {{.Date}}.</p>
        <p>Please arrive 10 minutes early.</p>
`),
	},
	notification.KindCancelled: {
		subject: "Appointment cancellation notice",
		body: mustTemplate("cancelled", `
        <h2 style="color: #ef4444; margin-top: 0;">Appointment Cancelled</h2>
        <p>Hello <strong>{{.Name}}</strong>,</p>
        <p>Your scheduled appointment has been cancelled.</p>
        <p>If this was a mistake or you wish to reschedule, please sign in to the system.</p>
        <center><a href="{{.Link}}/student/dashboard" class="btn">Reschedule</a></center>
`),
	},
	notification.KindEncounterPatient: {
		subject: "Visit complete - review your instructions",
		body: mustTemplate("encounter_patient", `
        <h2 style="color: #154734; margin-top: 0;">Visit Complete</h2>
        <p>Hello <strong>{{.Name}}</strong>,</p>
        <p>Your medical visit has been completed.</p>
        <p>Your doctor has recorded the diagnosis and treatment instructions in your record.</p>
        <p style="background: #e0f2f1; padding: 15px; border-radius: 8px; border-left: 4px solid #E37222; color: #154734;">
          <strong>Note:</strong> for privacy, medical details are only available inside the platform.
        </p>
        <center><a href="{{.Link}}/student/results" class="btn">View My Results</a></center>
`),
	},
	notification.KindEncounterProvider: {
		subject: "Encounter closed successfully",
		body: mustTemplate("encounter_provider", `
        <h2 style="color: #154734; margin-top: 0;">Encounter Closed</h2>
        <p>Hello Dr. <strong>{{.Name}}</strong>,</p>
        <p>The visit has been recorded and the patient's record has been updated.</p>
        <p>The patient has been notified to review their instructions.</p>
        <center><a href="{{.Link}}/doctor/dashboard" class="btn">Back to Schedule</a></center>
`),
	},
}

var genericTemplate = mustTemplate("generic", `
        <p>Hello {{.Name}}, you have a new notification in the system.</p>
`)

// Render returns the subject and HTML body for a kind. Unknown kinds fall
// back to a generic body rather than failing the delivery.
func Render(kind notification.Kind, data notification.TemplateData, clientURL string) (string, string, error) {
	t, ok := templates[kind]
	if !ok {
		t = emailTemplate{subject: "You have a new notification", body: genericTemplate}
	}

	rd := renderData{
		Name: data.Name,
		Date: data.Date.Format("Monday, 2 January 2006 at 15:04"),
		Link: clientURL,
	}
	if data.Link != "" {
		rd.Link = data.Link
	}

	var buf bytes.Buffer
	if err := t.body.Execute(&buf, rd); err != nil {
		return "", "", fmt.Errorf("render %s: %w", kind, err)
	}
	return t.subject, buf.String(), nil
}
