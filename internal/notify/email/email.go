package email

import (
	"bytes"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/charmbracelet/log"
	"github.com/wirelessalien/moviesync/internal/config"
	mail "github.com/xhit/go-simple-mail/v2"
)

// NotificationService sends reminder emails.
type NotificationService struct {
	config *config.EmailConfig
}

// Release is an upcoming episode or movie.
type Release struct {
	Title  string
	Detail string
	AirsAt time.Time
	When   string
}

// ReminderDigest is the content of one reminder email.
type ReminderDigest struct {
	Releases    []Release
	GeneratedAt time.Time
}

// New creates a new email notification service.
func New(cfg *config.EmailConfig) *NotificationService {
	return &NotificationService{
		config: cfg,
	}
}

// SendReminderDigest sends one email listing all upcoming releases.
func (n *NotificationService) SendReminderDigest(digest ReminderDigest) error {
	if !n.config.Enabled {
		log.Debug("Email notifications are disabled, skipping notification")
		return nil
	}
	if len(digest.Releases) == 0 {
		return nil
	}
	if n.config.To == "" {
		log.Warn("Email recipient is empty, skipping notification")
		return nil
	}

	subject := fmt.Sprintf("[moviesync] %d upcoming releases", len(digest.Releases))
	if len(digest.Releases) == 1 {
		subject = fmt.Sprintf("[moviesync] Upcoming: %s", digest.Releases[0].Title)
	}

	body, err := n.generateEmailBody(digest)
	if err != nil {
		return fmt.Errorf("failed to generate email body: %w", err)
	}

	return n.sendEmail(n.config.To, subject, body)
}

//go:embed templates/*.html
var templatesFS embed.FS

// generateEmailBody creates the HTML email body.
func (n *NotificationService) generateEmailBody(digest ReminderDigest) (string, error) {
	t, err := template.New("").Funcs(template.FuncMap{
		"datetime": func(t time.Time) string { return t.UTC().Format("Mon, 02 Jan 2006 15:04 MST") },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "reminder.html", digest); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// sendEmail sends an email using go-simple-mail.
func (n *NotificationService) sendEmail(to, subject, body string) error {
	server := mail.NewSMTPClient()
	server.Host = n.config.SMTPHost
	server.Port = n.config.SMTPPort
	server.Username = n.config.Username
	server.Password = n.config.Password

	switch {
	case n.config.UseSSL:
		server.Encryption = mail.EncryptionSSLTLS
	case n.config.UseTLS:
		server.Encryption = mail.EncryptionSTARTTLS
	default:
		server.Encryption = mail.EncryptionNone
	}

	if n.config.InsecureSkipVerify {
		server.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	server.KeepAlive = false
	server.ConnectTimeout = 10 * time.Second
	server.SendTimeout = 10 * time.Second

	smtpClient, err := server.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() {
		if closeErr := smtpClient.Close(); closeErr != nil {
			log.Warn("Failed to close SMTP client", "error", closeErr)
		}
	}()

	email := mail.NewMSG()

	fromName := n.config.FromName
	if fromName == "" {
		fromName = "moviesync"
	}
	email.SetFrom(fmt.Sprintf("%s <%s>", fromName, n.config.FromEmail))
	email.AddTo(to)
	email.SetSubject(subject)
	email.SetBody(mail.TextHTML, body)

	if email.Error != nil {
		return fmt.Errorf("failed to build email: %w", email.Error)
	}

	if err := email.Send(smtpClient); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Info("Email notification sent successfully", "to", to, "subject", subject)
	return nil
}
