package dto

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// ICEServersResponse lists the servers a browser passes to RTCPeerConnection.
type ICEServersResponse struct {
	ICEServers []webrtc.ICEServer `json:"ice_servers"`
	ExpiresAt  *time.Time         `json:"expires_at,omitempty"`
}
