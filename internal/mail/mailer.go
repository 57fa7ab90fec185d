// Package mail delivers notification emails over SMTP with the subject and
// HTML body looked up by notification kind.
package mail

import (
	"context"
	"crypto/tls"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uclinic/notifyd/internal/domain/notification"
)

type Config struct {
	Addr       string        `mapstructure:"addr"`
	From       string        `mapstructure:"from"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SubjPrefix string        `mapstructure:"subj_prefix"`
	ClientURL  string        `mapstructure:"client_url"`
}

var _ notification.Mailer = (*Mailer)(nil)

type Mailer struct {
	addr       string
	auth       smtp.Auth
	useTLS     bool
	timeout    time.Duration
	from       string
	subjPrefix string
	clientURL  string

	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Mailer {
	var auth smtp.Auth
	if cfg.User != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, host(cfg.Addr))
	}
	return &Mailer{
		addr:       cfg.Addr,
		auth:       auth,
		useTLS:     cfg.UseTLS,
		timeout:    cfg.Timeout,
		from:       cfg.From,
		subjPrefix: cfg.SubjPrefix,
		clientURL:  cfg.ClientURL,
		log:        log.With(zap.String("component", "mailer")),
	}
}

// Send renders the template for kind and pushes the message through SMTP. The
// context deadline, when shorter, bounds the dial and the SMTP exchange so a
// hanging relay cannot stall a dispatch batch.
func (m *Mailer) Send(ctx context.Context, to string, kind notification.Kind, data notification.TemplateData) error {
	subject, body, err := Render(kind, data, m.clientURL)
	if err != nil {
		return err
	}

	subj := strings.TrimSpace(m.subjPrefix + " " + subject)
	msg := []byte(
		"From: " + m.from + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subj + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=utf-8\r\n" +
			"\r\n" + body + "\r\n")

	start := time.Now()
	log := m.log.With(
		zap.String("smtp_addr", m.addr),
		zap.Bool("tls", m.useTLS),
		zap.String("to", to),
		zap.String("kind", string(kind)),
	)

	// One deadline covers the dial and the whole MAIL/RCPT/DATA exchange, so
	// a relay that accepts and then goes silent cannot hold Send open past it.
	deadline, bounded := sendDeadline(ctx, m.timeout)
	dialer := net.Dialer{Deadline: deadline}

	if m.useTLS {
		conn, err := tls.DialWithDialer(&dialer, "tcp", m.addr, &tls.Config{InsecureSkipVerify: true})
		if err != nil {
			log.Error("tls dial failed", zap.Error(err))
			return err
		}
		if bounded {
			_ = conn.SetDeadline(deadline)
		}
		c, err := smtp.NewClient(conn, host(m.addr))
		if err != nil {
			log.Error("smtp client failed", zap.Error(err))
			return err
		}
		defer func() { _ = c.Close() }()

		if m.auth != nil {
			if ok, _ := c.Extension("AUTH"); ok {
				if err := c.Auth(m.auth); err != nil {
					log.Error("smtp auth failed", zap.Error(err))
					return err
				}
			}
		}
		if err := m.submit(c, to, msg); err != nil {
			log.Error("smtp submit failed", zap.Error(err))
			return err
		}
		log.Info("email sent (TLS)", zap.Duration("elapsed", time.Since(start)))
		return nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		log.Error("dial failed", zap.Error(err))
		return err
	}
	if bounded {
		_ = conn.SetDeadline(deadline)
	}
	c, err := smtp.NewClient(conn, host(m.addr))
	if err != nil {
		log.Error("smtp client failed", zap.Error(err))
		return err
	}
	defer func() { _ = c.Close() }()

	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(m.auth); err != nil {
				log.Error("smtp auth failed", zap.Error(err))
				return err
			}
		}
	}
	if err := m.submit(c, to, msg); err != nil {
		log.Error("smtp submit failed", zap.Error(err))
		return err
	}
	log.Info("email sent", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (m *Mailer) submit(c *smtp.Client, to string, msg []byte) error {
	if err := c.Mail(m.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// sendDeadline picks the earlier of the context deadline and now+timeout.
// A zero return with ok=false means the exchange runs unbounded.
func sendDeadline(ctx context.Context, timeout time.Duration) (time.Time, bool) {
	dl, ok := ctx.Deadline()
	if timeout > 0 {
		if alt := time.Now().Add(timeout); !ok || alt.Before(dl) {
			return alt, true
		}
	}
	return dl, ok
}

func host(addr string) string {
	if i := strings.Index(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}
