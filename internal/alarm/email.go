package alarm

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/healthstack/healthwatch/internal/models"
)

// EmailChannel sends alarms over SMTP.
type EmailChannel struct {
	addr    string
	host    string
	auth    smtp.Auth
	from    string
	to      []string
	timeout time.Duration

	// send is swapped in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel builds the channel. host and from/to are required; auth is
// used only when username is set. timeout bounds the whole SMTP exchange so a
// hung server cannot stall the delivery loop.
func NewEmailChannel(host string, port int, username, password, from string, to []string, timeout time.Duration) (*EmailChannel, error) {
	if host == "" {
		return nil, errors.New("smtp host is required")
	}
	if from == "" || len(to) == 0 {
		return nil, errors.New("smtp from and to addresses are required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	c := &EmailChannel{
		addr:    fmt.Sprintf("%s:%d", host, port),
		host:    host,
		auth:    auth,
		from:    from,
		to:      to,
		timeout: timeout,
	}
	c.send = c.dialAndSend
	return c, nil
}

func (c *EmailChannel) Name() string { return "email" }

// Send delivers the alarm as a plain-text mail.
func (c *EmailChannel) Send(_ context.Context, msg models.AlarmMessage) error {
	subject := fmt.Sprintf("[%s] alarm from %s", strings.ToUpper(string(msg.Level)), msg.Origin)
	body := msg.Message
	if msg.ExceptionText != "" {
		body += "\r\n\r\n" + msg.ExceptionText
	}
	return c.mail(subject, body)
}

// SendAggregated delivers the summary mail with the repeat count and span.
func (c *EmailChannel) SendAggregated(_ context.Context, agg Aggregate) error {
	subject := fmt.Sprintf("[%s] aggregated alarm from %s", strings.ToUpper(string(agg.Alarm.Level)), agg.Alarm.Origin)
	body := agg.Alarm.Message
	if agg.Count > 1 {
		body += fmt.Sprintf("\r\n\r\nrepeated %d times between %s and %s",
			agg.Count,
			agg.FirstSeen.UTC().Format(time.RFC3339),
			agg.LastSeen.UTC().Format(time.RFC3339))
	}
	return c.mail(subject, body)
}

func (c *EmailChannel) mail(subject, body string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")

	if err := c.send(c.addr, c.auth, c.from, c.to, []byte(b.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// dialAndSend is smtp.SendMail with a connection deadline: net/smtp itself
// offers no timeout hook, so the dial and every subsequent read and write are
// bounded by a deadline on the raw connection.
func (c *EmailChannel) dialAndSend(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}

	client, err := smtp.NewClient(conn, c.host)
	if err != nil {
		return err
	}
	defer client.Close()

	if a != nil {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: c.host}); err != nil {
				return err
			}
		}
		if err := client.Auth(a); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
