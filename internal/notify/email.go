// Package notify holds the alert notification channels: SMTP email, a log-only
// fallback and a fan-out that combines several channels.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"smartpay/internal/core"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Configured reports whether credentials are present. Without them the email
// channel skips every notification.
func (c SMTPConfig) Configured() bool {
	return strings.TrimSpace(c.Username) != "" && c.Password != ""
}

func (c SMTPConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends one HTML message per alert through an SMTP relay.
type Email struct {
	cfg  SMTPConfig
	send sendFunc
}

func NewEmail(cfg SMTPConfig) *Email {
	if cfg.Host == "" {
		cfg.Host = "smtp.gmail.com"
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Email{cfg: cfg, send: sendMail}
}

// sendMail is smtp.SendMail bounded by ctx: the dial honours ctx, the
// connection deadline follows ctx's deadline and the connection is closed as
// soon as ctx ends.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(dl); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	host, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return withContextErr(ctx, err)
	}
	defer c.Close()

	if err := deliver(c, host, a, from, to, msg); err != nil {
		return withContextErr(ctx, err)
	}
	return c.Quit()
}

func deliver(c *smtp.Client, host string, a smtp.Auth, from string, to []string, msg []byte) error {
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}

// withContextErr reports ctx's error when the failure came from ctx ending.
func withContextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

var severityMarks = map[core.Severity]string{
	core.SeverityLow:      "🔵",
	core.SeverityMedium:   "🟡",
	core.SeverityHigh:     "🔴",
	core.SeverityCritical: "⚠️",
}

var alertTemplate = template.Must(template.New("alert").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background: #667eea; padding: 20px; text-align: center; color: white; border-radius: 10px 10px 0 0;">
    <h1 style="margin: 0; font-size: 24px;">SmartPay Alert</h1>
  </div>
  <div style="background: white; padding: 30px; border: 1px solid #e0e0e0; border-radius: 0 0 10px 10px;">
    <div style="text-align: center; margin-bottom: 30px;">
      <span style="font-size: 48px;">{{.Mark}}</span>
      <h2 style="color: #333; margin: 10px 0;">{{.Title}} Alert</h2>
    </div>
    <p style="color: #333; font-size: 16px;">Hi {{.Name}},</p>
    <div style="background: #f8f9fa; padding: 20px; border-left: 4px solid #667eea; margin: 20px 0;">
      <p style="color: #333; font-size: 16px; margin: 0;">{{.Message}}</p>
    </div>
    <p style="color: #666; font-size: 14px;">This alert was triggered on {{.Date}} at {{.Time}}.</p>
  </div>
</div>
`))

type alertView struct {
	Mark    string
	Title   string
	Name    string
	Message string
	Date    string
	Time    string
}

func subjectFor(a core.Alert) string {
	return fmt.Sprintf("SmartPay Alert: %s Notification", a.Type.Title())
}

// renderAlert builds the full RFC 5322 message, headers included.
func (e *Email) renderAlert(to, name string, a core.Alert) ([]byte, error) {
	var body bytes.Buffer
	view := alertView{
		Mark:    severityMarks[a.Severity],
		Title:   a.Type.Title(),
		Name:    name,
		Message: a.Message,
		Date:    a.CreatedAt.UTC().Format("Jan 2, 2006"),
		Time:    a.CreatedAt.UTC().Format("15:04 MST"),
	}
	if err := alertTemplate.Execute(&body, view); err != nil {
		return nil, fmt.Errorf("render alert email: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subjectFor(a)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func (e *Email) Notify(ctx context.Context, email, name string, a core.Alert) error {
	if !e.cfg.Configured() {
		slog.InfoContext(ctx, "Email service not configured, skipping notification", "alert_id", a.ID)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := e.renderAlert(email, name, a)
	if err != nil {
		return err
	}

	auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	if err := e.send(ctx, e.cfg.addr(), auth, e.cfg.From, []string{email}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	slog.InfoContext(ctx, "Alert email sent", "alert_id", a.ID, "alert_type", a.Type)
	return nil
}
