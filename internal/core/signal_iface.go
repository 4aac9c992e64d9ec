package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkeye/audiostream/internal/domain"
)

const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// ICECandidate mirrors the browser RTCIceCandidateInit dictionary.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// SignalPayload is the text users copy between peers. The shape is the one
// produced by simple-peer so browsers and this tool can talk to each other.
type SignalPayload struct {
	Type      string        `json:"type"`
	SDP       string        `json:"sdp,omitempty"`
	Candidate *ICECandidate `json:"candidate,omitempty"`
}

// ParseSignal decodes pasted signaling text.
func ParseSignal(text string) (SignalPayload, error) {
	var p SignalPayload
	text = strings.TrimSpace(text)
	if text == "" {
		return p, fmt.Errorf("%w: empty input", domain.ErrBadSignal)
	}
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return p, fmt.Errorf("%w: %v", domain.ErrBadSignal, err)
	}
	switch p.Type {
	case SignalOffer, SignalAnswer:
		if p.SDP == "" {
			return p, fmt.Errorf("%w: %s without sdp", domain.ErrBadSignal, p.Type)
		}
	case SignalCandidate:
		if p.Candidate == nil {
			return p, fmt.Errorf("%w: candidate without body", domain.ErrBadSignal)
		}
	default:
		return p, fmt.Errorf("%w: unknown type %q", domain.ErrBadSignal, p.Type)
	}
	return p, nil
}

// Encode renders p as a single line of JSON.
func (p SignalPayload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
