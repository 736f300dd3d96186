package domain

import "github.com/pion/webrtc/v3"

// SignalType names the peer-to-peer signaling relays.
type SignalType string

const (
	SignalOffer  SignalType = "offer"
	SignalAnswer SignalType = "answer"
	SignalICE    SignalType = "ice-candidate"
)

// SignalMessage carries WebRTC signaling between two members of the same
// room. The server never inspects SDP or candidate contents; it stamps
// SenderID from the connection index and forwards the message to TargetID.
type SignalMessage struct {
	Type      SignalType                 `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	SenderID  string                     `json:"sender_id,omitempty"`
	TargetID  string                     `json:"target_id"`
	Payload   map[string]any             `json:"payload,omitempty"`
}
