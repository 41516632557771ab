package remote

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	registerBackoffStart = 2 * time.Second
	registerBackoffMax   = 60 * time.Second
)

// RegisterRequest is the body a remote POSTs to the HQ on startup.
type RegisterRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

// RegisterWithHQ announces this instance to an HQ, retrying with
// exponential backoff until it succeeds or the context is cancelled.
func RegisterWithHQ(ctx context.Context, hqURL string, reg RegisterRequest) error {
	client := &http.Client{Timeout: healthTimeout}
	backoff := registerBackoffStart
	for {
		err := registerOnce(ctx, client, hqURL, reg)
		if err == nil {
			logrus.WithFields(logrus.Fields{"hq": hqURL, "id": reg.ID}).Info("Registered with HQ")
			return nil
		}
		logrus.Warnf("HQ registration failed (retrying in %s): %v", backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > registerBackoffMax {
			backoff = registerBackoffMax
		}
	}
}

func registerOnce(ctx context.Context, client *http.Client, hqURL string, reg RegisterRequest) error {
	body, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hqURL+"/api/remotes/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if reg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+reg.Token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HQ returned status %d", resp.StatusCode)
	}
	return nil
}
