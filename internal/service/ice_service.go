package service

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/spec-kit/call-signaling/internal/config"
)

// ICEService hands browsers the STUN/TURN servers for their peer connection.
type ICEService struct {
	cfg config.RTCConfig
	now func() time.Time
}

// NewICEService constructs the service.
func NewICEService(cfg config.RTCConfig) *ICEService {
	if cfg.TurnTTL <= 0 {
		cfg.TurnTTL = 12 * time.Hour
	}
	return &ICEService{cfg: cfg, now: time.Now}
}

// Servers returns the ICE servers for userID. TURN entries carry short-lived
// credentials in the TURN REST API form: username "<expiry>:<user>",
// password base64(HMAC-SHA1(secret, username)).
func (s *ICEService) Servers(userID string) ([]webrtc.ICEServer, time.Time) {
	servers := make([]webrtc.ICEServer, 0, 2)
	if len(s.cfg.StunURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: s.cfg.StunURLs})
	}

	var expiresAt time.Time
	if len(s.cfg.TurnURLs) > 0 && s.cfg.TurnSecret != "" {
		expiresAt = s.now().Add(s.cfg.TurnTTL).Truncate(time.Second)
		username := fmt.Sprintf("%d:%s", expiresAt.Unix(), userID)
		servers = append(servers, webrtc.ICEServer{
			URLs:           s.cfg.TurnURLs,
			Username:       username,
			Credential:     turnPassword(s.cfg.TurnSecret, username),
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return servers, expiresAt
}

func turnPassword(secret, username string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
