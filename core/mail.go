package core

import (
	"bytes"
	htmltmpl "html/template"
	"net/mail"
	texttmpl "text/template"

	"github.com/pkg/errors"
)

type (
	// EmailMessage is rendered from its templates right before being sent.
	EmailMessage struct {
		To      []mail.Address
		Subject string

		TextTemplate *texttmpl.Template
		HTMLTemplate *htmltmpl.Template
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages without blocking the caller
		SendMessages(messages ...*EmailMessage)
	}
)

// Render executes the templates of m into its contents. Contents without a template are left as is.
func (m *EmailMessage) Render() error {
	var buf bytes.Buffer
	if m.TextTemplate != nil {
		if err := m.TextTemplate.Execute(&buf, m.TemplateData); err != nil {
			return errors.Wrap(err, "rendering text template")
		}
		m.TextContent = buf.String()
	}
	if m.HTMLTemplate != nil {
		buf.Reset()
		if err := m.HTMLTemplate.Execute(&buf, m.TemplateData); err != nil {
			return errors.Wrap(err, "rendering html template")
		}
		m.HTMLContent = buf.String()
	}
	return nil
}

// Sendable reports whether m has someone to go to and something to say.
func (m *EmailMessage) Sendable() bool {
	return len(m.To) > 0 && (m.TextContent != "" || m.HTMLContent != "")
}
