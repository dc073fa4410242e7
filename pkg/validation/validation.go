package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// PeerIDRegex validates peer ID format (snowflakes, uuids, slugs)
	PeerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

	// RoomRegex validates call room names
	RoomRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
)

// ValidatePeerID validates peer ID
func ValidatePeerID(peerID string) error {
	if peerID == "" {
		return fmt.Errorf("peer ID is required")
	}
	if len(peerID) > 128 {
		return fmt.Errorf("peer ID is too long (max 128 characters)")
	}
	if !PeerIDRegex.MatchString(peerID) {
		return fmt.Errorf("invalid peer ID format")
	}
	return nil
}

// ValidateRoom validates a call room name
func ValidateRoom(room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return fmt.Errorf("room is required")
	}
	if len(room) > 128 {
		return fmt.Errorf("room is too long (max 128 characters)")
	}
	if !RoomRegex.MatchString(room) {
		return fmt.Errorf("invalid room format")
	}
	return nil
}

// ValidateSignalURL validates the websocket URL of a signaling relay
func ValidateSignalURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be ws or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateSDP performs a shallow structural check of a session description.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if !strings.HasPrefix(sdp, "v=") {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	for _, field := range []string{"o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}
