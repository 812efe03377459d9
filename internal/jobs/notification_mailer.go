// notification_mailer.go implements the NotificationMailer background job,
// which drains the notification outbox and delivers emails over SMTP. The
// workflow engine only enqueues events; delivery happens here, asynchronously,
// so a slow or unreachable mail server can never stall a transition. Delivery
// state is persisted per event (status + retry_count) so a restart resumes
// where the previous process left off. The job is a no-op when
// notifications.enabled is false or the SMTP host is not configured, so it is
// always safe to start regardless of deployment environment.
package jobs

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/procureflow/procureflow/internal/config"
	"github.com/procureflow/procureflow/internal/db/models"
	"github.com/procureflow/procureflow/internal/db/repositories"
	"github.com/procureflow/procureflow/internal/telemetry"
)

// NotificationMailer polls the outbox for pending events and emails the users
// holding the event's recipient workflow roles on the requisition's project.
type NotificationMailer struct {
	notifRepo   *repositories.NotificationRepository
	reqRepo     *repositories.RequisitionRepository
	projectRepo *repositories.ProjectRepository
	userRepo    *repositories.UserRepository
	cfg         *config.NotificationsConfig
	logger      *slog.Logger
	stopChan    chan struct{}

	// sendMail is swappable for tests.
	sendMail func(event *models.NotificationEvent, toEmail string) error
}

// NewNotificationMailer creates a new NotificationMailer.
func NewNotificationMailer(
	notifRepo *repositories.NotificationRepository,
	reqRepo *repositories.RequisitionRepository,
	projectRepo *repositories.ProjectRepository,
	userRepo *repositories.UserRepository,
	cfg *config.NotificationsConfig,
) *NotificationMailer {
	m := &NotificationMailer{
		notifRepo:   notifRepo,
		reqRepo:     reqRepo,
		projectRepo: projectRepo,
		userRepo:    userRepo,
		cfg:         cfg,
		logger:      slog.Default().With("component", "notification_mailer"),
		stopChan:    make(chan struct{}),
	}
	m.sendMail = m.sendSMTP
	return m
}

// Start begins the background delivery loop. It drains the outbox once
// immediately, then repeats on the configured poll interval. The loop exits
// when ctx is cancelled or Stop() is called.
func (m *NotificationMailer) Start(ctx context.Context) {
	if !m.cfg.Enabled {
		m.logger.Info("notification mailer disabled", "reason", "notifications.enabled=false")
		return
	}
	if m.cfg.SMTP.Host == "" {
		m.logger.Info("notification mailer disabled", "reason", "notifications.smtp.host not set")
		return
	}

	interval := m.cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("notification mailer started",
		"poll_interval", interval,
		"batch_size", m.cfg.BatchSize,
		"max_retries", m.cfg.MaxRetries)

	m.drainOutbox(ctx)

	for {
		select {
		case <-ticker.C:
			m.drainOutbox(ctx)
		case <-m.stopChan:
			m.logger.Info("notification mailer stopped")
			return
		case <-ctx.Done():
			m.logger.Info("notification mailer context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (m *NotificationMailer) Stop() {
	close(m.stopChan)
}

// drainOutbox delivers one batch of pending events.
func (m *NotificationMailer) drainOutbox(ctx context.Context) {
	batchSize := m.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	events, err := m.notifRepo.ListPending(ctx, batchSize)
	if err != nil {
		m.logger.Error("failed to list pending notifications", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	m.logger.Info("delivering pending notifications", "count", len(events))

	for _, event := range events {
		m.deliver(ctx, event)
	}
}

// deliver resolves recipients and sends the event, then records the outcome.
// An event that exhausts its retries is marked failed and never retried again;
// it stays visible via the notifications API for manual follow-up.
func (m *NotificationMailer) deliver(ctx context.Context, event *models.NotificationEvent) {
	recipients, err := m.resolveRecipients(ctx, event)
	if err != nil {
		m.recordFailure(ctx, event, err)
		return
	}
	if len(recipients) == 0 {
		// Nobody holds the recipient roles on this project. Mark sent rather
		// than retrying forever; the audit trail still carries the event.
		m.logger.Warn("notification has no recipients",
			"event_id", event.ID,
			"event_type", event.EventType,
			"recipient_roles", event.RecipientRoles)
		if err := m.notifRepo.UpdateStatus(ctx, event.ID, models.NotificationSent, event.RetryCount); err != nil {
			m.logger.Error("failed to update notification status", "event_id", event.ID, "error", err)
		}
		return
	}

	for _, email := range recipients {
		if err := m.sendMail(event, email); err != nil {
			m.recordFailure(ctx, event, err)
			return
		}
	}

	if err := m.notifRepo.UpdateStatus(ctx, event.ID, models.NotificationSent, event.RetryCount); err != nil {
		m.logger.Error("failed to update notification status", "event_id", event.ID, "error", err)
		return
	}
	telemetry.NotificationsSentTotal.WithLabelValues("sent").Inc()
}

// recordFailure bumps the retry count, or marks the event failed once the
// retry budget is exhausted.
func (m *NotificationMailer) recordFailure(ctx context.Context, event *models.NotificationEvent, cause error) {
	retries := event.RetryCount + 1
	maxRetries := m.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	status := models.NotificationPending
	if retries >= maxRetries {
		status = models.NotificationFailed
		telemetry.NotificationsSentTotal.WithLabelValues("failed").Inc()
	}

	m.logger.Error("notification delivery failed",
		"event_id", event.ID,
		"event_type", event.EventType,
		"retry_count", retries,
		"status", status,
		"error", cause)

	if err := m.notifRepo.UpdateStatus(ctx, event.ID, status, retries); err != nil {
		m.logger.Error("failed to update notification status", "event_id", event.ID, "error", err)
	}
}

// resolveRecipients maps the event's recipient workflow roles to user email
// addresses via the role grants on the requisition's project.
func (m *NotificationMailer) resolveRecipients(ctx context.Context, event *models.NotificationEvent) ([]string, error) {
	req, err := m.reqRepo.GetRequisition(ctx, event.RequisitionID)
	if err != nil {
		return nil, fmt.Errorf("load requisition %s: %w", event.RequisitionID, err)
	}
	if req == nil {
		return nil, nil
	}

	roles, err := m.projectRepo.ListProjectRoles(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list project roles for %s: %w", req.ProjectID, err)
	}

	wanted := make(map[string]bool, len(event.RecipientRoles))
	for _, r := range event.RecipientRoles {
		wanted[r] = true
	}

	seen := make(map[string]bool)
	var emails []string
	for _, grant := range roles {
		if !wanted[string(grant.Role)] || seen[grant.UserID] {
			continue
		}
		seen[grant.UserID] = true

		user, err := m.userRepo.GetByID(ctx, grant.UserID)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", grant.UserID, err)
		}
		if user == nil || user.Email == "" {
			continue
		}
		emails = append(emails, user.Email)
	}
	return emails, nil
}

// sendSMTP composes and delivers a plain-text event email.
func (m *NotificationMailer) sendSMTP(event *models.NotificationEvent, toEmail string) error {
	subject := fmt.Sprintf("[ProcureFlow] %s (requisition %s)", event.EventType, event.RequisitionID)

	lines := []string{
		fmt.Sprintf("Event:       %s", event.EventType),
		fmt.Sprintf("Requisition: %s", event.RequisitionID),
	}
	if title, ok := event.Payload["title"].(string); ok && title != "" {
		lines = append(lines, fmt.Sprintf("Title:       %s", title))
	}
	if actor, ok := event.Payload["actor_id"].(string); ok && actor != "" {
		lines = append(lines, fmt.Sprintf("Actor:       %s", actor))
	}
	if note, ok := event.Payload["note"].(string); ok && note != "" {
		lines = append(lines, "", "Note:", note)
	}
	lines = append(lines, "", "Open ProcureFlow to review this requisition.", "", "— ProcureFlow")
	body := strings.Join(lines, "\r\n")

	smtpCfg := &m.cfg.SMTP
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		smtpCfg.From, toEmail, subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)
	auth := smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)

	if smtpCfg.UseTLS {
		return sendMailTLS(addr, smtpCfg.Host, auth, smtpCfg.From, []string{toEmail}, msg)
	}
	return smtp.SendMail(addr, auth, smtpCfg.From, []string{toEmail}, msg)
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a message.
// For port 587 STARTTLS, smtp.SendMail handles the upgrade automatically; this
// path exists so UseTLS=true always means an encrypted connection.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		// Fall back to STARTTLS via the standard smtp.SendMail path.
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Close()

	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt to %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return c.Quit()
}
