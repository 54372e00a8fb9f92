package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crowd-density/common/config"
	"crowd-density/common/log"
	"crowd-density/store"
)

const notifierTimeout = 10 * time.Second

// AlertRequest is the payload posted to the external alert platform.
type AlertRequest struct {
	RequestID string `json:"request_id"`
	ZoneID    uint   `json:"zone_id"`
	ZoneName  string `json:"zone_name"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// PlatformNotifier forwards opened alerts to the configured management
// platform. Delivery is best-effort: failures are logged and never block
// or fail the job that opened the alert.
type PlatformNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

func NewPlatformNotifier(settings *config.Settings) *PlatformNotifier {
	return &PlatformNotifier{
		url:     settings.AlertPlatformURL,
		enabled: settings.AlertEnabled && settings.AlertPlatformURL != "",
		client: &http.Client{
			Timeout: notifierTimeout,
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		},
	}
}

// AlertOpened implements pipeline.AlertNotifier.
func (n *PlatformNotifier) AlertOpened(alert *store.Alert, zone *store.Zone) {
	if !n.enabled {
		return
	}
	go n.send(alert, zone)
}

func (n *PlatformNotifier) send(alert *store.Alert, zone *store.Zone) {
	req := AlertRequest{
		RequestID: uuid.New().String(),
		ZoneID:    zone.ID,
		ZoneName:  zone.Name,
		Severity:  string(alert.Severity),
		Message:   alert.Message,
		Timestamp: alert.CreatedAt.Format(time.RFC3339),
	}

	body, err := json.Marshal(req)
	if err != nil {
		log.Warn("marshaling alert notification", zap.Error(err))
		return
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Warn("posting alert to platform",
			zap.String("url", n.url),
			zap.Uint("alert_id", alert.ID),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Warn("alert platform rejected notification",
			zap.Uint("alert_id", alert.ID),
			zap.String("status", fmt.Sprintf("%d", resp.StatusCode)))
		return
	}
	log.Info("alert forwarded to platform",
		zap.Uint("alert_id", alert.ID),
		zap.String("zone", zone.Name),
		zap.String("severity", string(alert.Severity)))
}
