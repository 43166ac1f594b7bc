// Package notifysvc tells researchers about the approval of their submissions.
package notifysvc

import (
	"fmt"
	htmltmpl "html/template"
	"net/mail"
	texttmpl "text/template"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/approval"
	"github.com/trezcool/convoca/core/submission"
)

var (
	textTmpl = texttmpl.Must(texttmpl.New("approval.txt").Parse(`Hello,

Your {{.Kind}} "{{.Event.ProjectTitle}}" has been {{.Outcome}}.
{{if .ProposalURL}}
You can now complete the full proposal: {{.ProposalURL}}
{{end}}
The {{.AppName}} team
`))

	htmlTmpl = htmltmpl.Must(htmltmpl.New("approval.html").Parse(`<p>Hello,</p>
<p>Your {{.Kind}} <strong>{{.Event.ProjectTitle}}</strong> has been {{.Outcome}}.</p>
{{if .ProposalURL}}<p><a href="{{.ProposalURL}}">Complete the full proposal</a></p>{{end}}
<p>The {{.AppName}} team</p>
`))
)

type emailData struct {
	Event       approval.Event
	Kind        string
	Outcome     string
	ProposalURL string
	AppName     string
}

// EmailNotifier emails the owner of an approved submission.
type EmailNotifier struct {
	mailSvc         core.EmailService
	appName         string
	frontendBaseURL string
	logger          core.Logger
}

var _ approval.Notifier = (*EmailNotifier)(nil) // interface compliance check

func NewEmailNotifier(conf *core.Config, mailSvc core.EmailService, logger core.Logger) *EmailNotifier {
	return &EmailNotifier{
		mailSvc:         mailSvc,
		appName:         conf.AppName,
		frontendBaseURL: conf.FrontendBaseURL,
		logger:          logger,
	}
}

// Message builds the email sent for evt. It returns nil when the owner has no valid email address.
func (n *EmailNotifier) Message(evt approval.Event) *core.EmailMessage {
	to, err := mail.ParseAddress(evt.OwnerEmail)
	if err != nil {
		return nil
	}
	data := emailData{Event: evt, AppName: n.appName}
	switch evt.Target.Kind {
	case submission.KindExpression:
		data.Kind = "expression of interest"
		data.Outcome = "approved"
	default:
		data.Kind = "proposal"
		data.Outcome = "approved for funding"
	}
	if evt.ProposalID != "" {
		data.ProposalURL = fmt.Sprintf("%s/proposals/%s", n.frontendBaseURL, evt.ProposalID)
	}
	return &core.EmailMessage{
		To:           []mail.Address{*to},
		Subject:      fmt.Sprintf("Your %s has been %s", data.Kind, data.Outcome),
		TextTemplate: textTmpl,
		HTMLTemplate: htmlTmpl,
		TemplateData: data,
	}
}

func (n *EmailNotifier) Notify(evt approval.Event) {
	msg := n.Message(evt)
	if msg == nil {
		n.logger.Warn(fmt.Sprintf("notify: %s has no valid owner email (%q)", evt.Target, evt.OwnerEmail))
		return
	}
	n.mailSvc.SendMessages(msg)
}
