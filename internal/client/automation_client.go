package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
	"github.com/Jorge-Gabriel97/Timesend/internal/session"
)

// AutomationClient drives the browser-automation runner over HTTP. It both
// delivers messages and polls the login screen while a session pairs.
type AutomationClient struct {
	baseURL string
	client  *http.Client
}

func NewAutomationClient(baseURL string, timeout time.Duration) *AutomationClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AutomationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type deliverResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

// Deliver asks the runner to send one message. The runner accepts with 202
// and the id of the message it sent.
func (c *AutomationClient) Deliver(ctx context.Context, d model.Delivery) (string, error) {
	reqBody, err := json.Marshal(d)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/deliveries", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "deliver")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return "", errors.Newf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var dr deliverResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return "", errors.Wrapf(err, "failed to decode json body=%q", string(body))
	}
	if dr.MessageID == "" {
		return "", errors.Newf("missing messageId in response body=%q", string(body))
	}

	return dr.MessageID, nil
}

type pairingResponse struct {
	Paired bool   `json:"paired"`
	QRCode []byte `json:"qrCode"`
}

// CapturePairingCode reads the current login state of a session. QRCode is
// the base64 PNG of the code to scan while the session is not yet paired.
func (c *AutomationClient) CapturePairingCode(ctx context.Context, ref session.Ref) (session.Capture, error) {
	u := c.baseURL + "/sessions/" + url.PathEscape(ref.Name) + "/pairing?" +
		url.Values{"profileDir": {ref.ProfileDir}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return session.Capture{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return session.Capture{}, errors.Wrap(err, "capture pairing code")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return session.Capture{}, errors.Newf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var pr pairingResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return session.Capture{}, errors.Wrapf(err, "failed to decode json body=%q", string(body))
	}
	return session.Capture{Paired: pr.Paired, QRCode: pr.QRCode}, nil
}
