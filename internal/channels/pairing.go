package channels

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"sync"
	"time"
)

// pairingCodeTTL is how long an unapproved pairing code remains valid.
const pairingCodeTTL = 15 * time.Minute

// pairingReplyDebounce bounds how often a channel will resend a pairing
// prompt to the same sender/chat.
const pairingReplyDebounce = 60 * time.Second

// PairingService issues and tracks pairing codes for the "pairing" DM/group
// policy: an unrecognized sender gets a short code, and the owner approves
// it out of band (CLI) before the sender's messages reach the agent.
type PairingService interface {
	RequestPairing(senderID, channel, chatID, label string) (code string, err error)
	IsPaired(senderID, channel string) bool
	Approve(code string) error
}

type pairingRequest struct {
	senderID  string
	channel   string
	chatID    string
	label     string
	createdAt time.Time
}

// InMemoryPairingService is the default PairingService: codes and approvals
// live only in process memory, matching the single-workspace, single-process
// runtime this system assumes (no multi-tenant pairing ledger).
type InMemoryPairingService struct {
	mu       sync.Mutex
	pending  map[string]pairingRequest // code -> request
	approved map[string]bool           // "channel:senderID" -> true
}

func NewInMemoryPairingService() *InMemoryPairingService {
	return &InMemoryPairingService{
		pending:  make(map[string]pairingRequest),
		approved: make(map[string]bool),
	}
}

func (s *InMemoryPairingService) RequestPairing(senderID, channel, chatID, label string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := channel + ":" + senderID
	if s.approved[key] {
		return "", fmt.Errorf("already paired")
	}

	// Reuse an existing unexpired code for this sender rather than minting a new one.
	for code, req := range s.pending {
		if req.senderID == senderID && req.channel == channel && time.Since(req.createdAt) < pairingCodeTTL {
			return code, nil
		}
	}

	code, err := generatePairingCode()
	if err != nil {
		return "", err
	}
	s.pending[code] = pairingRequest{senderID: senderID, channel: channel, chatID: chatID, label: label, createdAt: time.Now()}
	return code, nil
}

func (s *InMemoryPairingService) IsPaired(senderID, channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approved[channel+":"+senderID]
}

func (s *InMemoryPairingService) Approve(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.pending[code]
	if !ok {
		return fmt.Errorf("unknown or expired pairing code %q", code)
	}
	if time.Since(req.createdAt) >= pairingCodeTTL {
		delete(s.pending, code)
		return fmt.Errorf("pairing code %q has expired", code)
	}
	s.approved[req.channel+":"+req.senderID] = true
	delete(s.pending, code)
	return nil
}

func generatePairingCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)[:8], nil
}
