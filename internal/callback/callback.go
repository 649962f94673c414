// Package callback delivers completed-session records to the logging backend.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/session"
	log "github.com/sirupsen/logrus"
)

const (
	// SecretHeader carries the shared secret expected by the backend.
	SecretHeader = "x-callback-secret"

	// UnknownUser is reported when nobody was recognized.
	UnknownUser = "Unknown"

	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"

	DefaultTimeout = 5 * time.Second

	DefaultUTCOffsetHours = 7
	DefaultNote           = "Face recognized via camera"
)

var logFields = log.Fields{"component": "callback"}

// Payload is the JSON body POSTed to the backend.
type Payload struct {
	Date          string `json:"date"`
	Time          string `json:"time"`
	UserName      string `json:"user_name"`
	FingerprintID string `json:"fingerprint_id"`
	Note          string `json:"note"`
}

// NewPayload builds the record for one session finished at `at`.
// An empty userName becomes UnknownUser.
func NewPayload(at time.Time, loc *time.Location, userName, requestID, note string) Payload {
	if loc != nil {
		at = at.In(loc)
	}
	if userName == "" {
		userName = UnknownUser
	}
	return Payload{
		Date:          at.Format(DateLayout),
		Time:          at.Format(TimeLayout),
		UserName:      userName,
		FingerprintID: requestID,
		Note:          note,
	}
}

// Zone returns a fixed UTC offset location, e.g. Zone(7) for UTC+7.
func Zone(hours float64) *time.Location {
	secs := int(hours * 3600)
	return time.FixedZone(fmt.Sprintf("UTC%+g", hours), secs)
}

// Client posts payloads to one backend URL. It does not retry.
type Client struct {
	url        string
	secret     string
	httpClient *http.Client
}

// NewClient creates a callback client with a request timeout.
func NewClient(url, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts p and returns an error for transport failures and non-2xx answers.
func (c *Client) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	log.WithFields(logFields).WithField("status", resp.StatusCode).Info("Log sent to backend")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected callback status: %d, body: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// Reporter adapts a Client to the session controller.
type Reporter struct {
	Client   *Client
	Location *time.Location
	Note     string
}

// Report sends the session to the backend.
func (r *Reporter) Report(ctx context.Context, s session.Session) error {
	p := NewPayload(s.CompletedAt, r.Location, s.UserName(), s.RequestID, r.Note)
	if err := r.Client.Send(ctx, p); err != nil {
		log.WithFields(logFields).WithError(err).WithField("request_id", s.RequestID).Error("❌ Failed to send log to backend")
		return err
	}
	return nil
}
