/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package channel

import (
	"context"
	"fmt"
	"html"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/NVIDIA/OSMO-sub000/pkg/common/notification/model"
)

type EmailChannel struct {
	cfg *EmailConfig
}

func (e *EmailChannel) Name() string {
	return model.ChannelEmail
}

func (e *EmailChannel) Init(cfg Config) error {
	if cfg.Email == nil {
		return fmt.Errorf("email config not provided")
	}
	e.cfg = cfg.Email
	return nil
}

// Send renders the event into an html mail and delivers it over smtp.
func (e *EmailChannel) Send(ctx context.Context, event *model.WorkflowEvent) error {
	if e.cfg == nil {
		return fmt.Errorf("email channel not initialized")
	}
	if event == nil {
		return fmt.Errorf("workflow event is nil")
	}
	if len(event.Recipients) == 0 {
		return fmt.Errorf("no recipients for workflow %s", event.WorkflowId)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.cfg.From)
	m.SetHeader("To", event.Recipients...)
	m.SetHeader("Subject", emailSubject(event))
	m.SetBody("text/html", emailBody(event))

	d := gomail.NewDialer(e.cfg.SMTPHost, e.cfg.SMTPPort, e.cfg.Username, e.cfg.Password)
	d.SSL = e.cfg.UseTLS // true = 465 SSL, false = 587 STARTTLS

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func emailSubject(event *model.WorkflowEvent) string {
	return fmt.Sprintf("[OSMO] workflow %s: %s", event.WorkflowId, event.Status)
}

func emailBody(event *model.WorkflowEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow <b>%s</b> finished with status <b>%s</b>.",
		html.EscapeString(event.WorkflowId), html.EscapeString(event.Status))
	if event.FailureMessage != "" {
		fmt.Fprintf(&b, "<br/>Failure: %s", html.EscapeString(event.FailureMessage))
	}
	if event.LogsPrefix != "" {
		fmt.Fprintf(&b, "<br/>Logs and events: <code>%s</code>", html.EscapeString(event.LogsPrefix))
	}
	return b.String()
}
