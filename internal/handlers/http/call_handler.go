package http

import (
	"errors"
	"net/http"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	apperrors "callmesh/pkg/errors"
	"callmesh/pkg/validation"

	"github.com/gin-gonic/gin"
)

const maxCallRequestBytes = 64 << 10

// TrackStats reports what a peer has received from each remote peer.
type TrackStats interface {
	Tracks(peerID domain.PeerID) int
	Packets(peerID domain.PeerID) uint64
}

// CallHandler exposes the call orchestrator of a headless peer.
type CallHandler struct {
	calls  ports.CallService
	tracks TrackStats
	self   domain.PeerID
	room   string
}

func NewCallHandler(calls ports.CallService, tracks TrackStats, self domain.PeerID, room string) *CallHandler {
	return &CallHandler{
		calls:  calls,
		tracks: tracks,
		self:   self,
		room:   room,
	}
}

func (h *CallHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/status", h.ListStatuses)
	router.GET("/status/:peer", h.GetStatus)
	router.POST("/calls", h.StartCall)
}

type peerStatus struct {
	PeerID      domain.PeerID `json:"peer_id"`
	ICEState    string        `json:"ice_state"`
	Negotiation string        `json:"negotiation"`
	Waiting     bool          `json:"waiting"`
	Status      string        `json:"status"`
	Tracks      int           `json:"tracks"`
	Packets     uint64        `json:"packets"`
}

func (h *CallHandler) view(s domain.CallStatus) peerStatus {
	v := peerStatus{
		PeerID:      s.Peer,
		ICEState:    s.ICEState.String(),
		Negotiation: s.Negotiation.String(),
		Waiting:     s.Waiting,
		Status:      s.Text,
	}
	if h.tracks != nil {
		v.Tracks = h.tracks.Tracks(s.Peer)
		v.Packets = h.tracks.Packets(s.Peer)
	}
	return v
}

func (h *CallHandler) ListStatuses(c *gin.Context) {
	statuses := h.calls.Statuses()
	peers := make([]peerStatus, 0, len(statuses))
	for _, s := range statuses {
		peers = append(peers, h.view(s))
	}

	c.JSON(http.StatusOK, gin.H{
		"peer_id": h.self,
		"room":    h.room,
		"peers":   peers,
	})
}

func (h *CallHandler) GetStatus(c *gin.Context) {
	peerID := c.Param("peer")
	if err := validation.ValidatePeerID(peerID); err != nil {
		_ = c.Error(apperrors.InvalidInput(err.Error()))
		return
	}

	status, ok := h.calls.Status(domain.PeerID(peerID))
	if !ok {
		_ = c.Error(apperrors.NotFound("peer").With("peer_id", peerID))
		return
	}
	c.JSON(http.StatusOK, h.view(status))
}

// StartCall invites the given peers and answers once every invite has
// settled.
func (h *CallHandler) StartCall(c *gin.Context) {
	var req struct {
		Peers []string `json:"peers" binding:"required,min=1"`
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCallRequestBytes)
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = c.Error(apperrors.TooLarge(tooLarge.Limit))
			return
		}
		_ = c.Error(apperrors.InvalidInput(err.Error()))
		return
	}

	roster := make([]domain.PeerID, 0, len(req.Peers))
	for _, id := range req.Peers {
		if err := validation.ValidatePeerID(id); err != nil {
			_ = c.Error(apperrors.InvalidInput(err.Error()).With("peer_id", id))
			return
		}
		roster = append(roster, domain.PeerID(id))
	}

	if err := h.calls.StartCall(c.Request.Context(), roster); err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeUnavailable, "some peers could not be reached"))
		return
	}

	peers := make([]peerStatus, 0, len(roster))
	for _, id := range roster {
		if s, ok := h.calls.Status(id); ok {
			peers = append(peers, h.view(s))
		}
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}
