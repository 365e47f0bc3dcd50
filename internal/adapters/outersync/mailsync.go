package outersync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/config"
	"github.com/ferrite-id/ferrite/internal/core"
)

// MailSyncOptions groups dependencies for the mail_sync method.
type MailSyncOptions struct {
	Credentials core.CredentialRepository // Required
	Config      config.OuterSyncConfig
	Evaluator   DiffEvaluator // Optional
	Client      *http.Client  // Optional
	Logger      *slog.Logger  // Optional
}

// MailSync mirrors local passwords into an external mail system through its
// admin HTTP API. The external username is the user's full email address.
type MailSync struct {
	*mirror

	baseURL string
	token   string
	client  *http.Client
}

var _ core.OuterSyncCapable = (*MailSync)(nil)

// NewMailSync constructs the mail_sync method.
func NewMailSync(opts MailSyncOptions) (*MailSync, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.Config.MailAPIURL), "/")
	if baseURL == "" {
		return nil, errors.New("mail API URL is required")
	}

	hc := opts.Client
	if hc == nil {
		hc = &http.Client{Timeout: defaultCallTimeout}
	}

	m := &MailSync{
		baseURL: baseURL,
		token:   opts.Config.MailAPIToken,
		client:  hc,
	}

	mir, err := newMirror(mirrorOptions{
		Name:        core.MethodName(m),
		Backend:     m,
		Credentials: opts.Credentials,
		Config:      opts.Config,
		Evaluator:   opts.Evaluator,
		Username:    func(email string) string { return strings.ToLower(email) },
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	m.mirror = mir
	return m, nil
}

// UserExists asks the admin API whether an account with this address exists.
func (m *MailSync) UserExists(ctx context.Context, username string) (bool, error) {
	status, err := m.call(ctx, http.MethodGet, m.accountURL(username), nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, apperrors.OuterSyncComm(fmt.Sprintf("mail API returned status %d", status))
	}
}

// CreateExternalUser provisions a mailbox with the given password.
func (m *MailSync) CreateExternalUser(ctx context.Context, username, password string) error {
	body := map[string]string{"address": username, "password": password}
	status, err := m.call(ctx, http.MethodPost, m.baseURL+"/accounts", body)
	if err != nil {
		return err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return apperrors.OuterSyncComm(fmt.Sprintf("mail API returned status %d", status))
	}
	return nil
}

// DeleteExternalUser removes the mailbox. An already-absent account is fine.
func (m *MailSync) DeleteExternalUser(ctx context.Context, username string) error {
	status, err := m.call(ctx, http.MethodDelete, m.accountURL(username), nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return apperrors.OuterSyncComm(fmt.Sprintf("mail API returned status %d", status))
	}
	return nil
}

// UpdateExternalPassword sets a new mailbox password.
func (m *MailSync) UpdateExternalPassword(ctx context.Context, username, password string) error {
	body := map[string]string{"password": password}
	status, err := m.call(ctx, http.MethodPut, m.accountURL(username)+"/password", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return apperrors.OuterSyncComm(fmt.Sprintf("mail API returned status %d", status))
	}
	return nil
}

func (m *MailSync) accountURL(username string) string {
	return m.baseURL + "/accounts/" + url.PathEscape(username)
}

// call performs one admin API request and returns the status code. Transport
// failures come back as communication errors so the retry policy applies.
func (m *MailSync) call(ctx context.Context, method, target string, payload any) (int, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode mail API payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, fmt.Errorf("build mail API request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeOuterSyncComm, "mail API request failed")
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusInternalServerError {
		return 0, apperrors.OuterSyncComm(fmt.Sprintf("mail API returned status %d", resp.StatusCode))
	}
	return resp.StatusCode, nil
}
