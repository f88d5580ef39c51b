package session

import (
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Tickets are opaque shareable strings: a fixed prefix followed by the
// base32 of a small JSON body naming the document and at least one endpoint
// that already holds it. The prefix doubles as a format version.
const ticketPrefix = "scrawl1"

var ticketEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrInvalidTicket is returned for anything that does not decode cleanly:
// wrong prefix, truncated base32, or a body missing required fields.
var ErrInvalidTicket = errors.New("invalid ticket")

// Ticket carries everything a newcomer needs to locate the document.
type Ticket struct {
	DocID     string   `json:"doc"`
	Endpoints []string `json:"eps,omitempty"`
}

// Encode renders the ticket as a shareable token string.
func (t Ticket) Encode() string {
	raw, _ := json.Marshal(t)
	return ticketPrefix + ticketEncoding.EncodeToString(raw)
}

// DecodeTicket parses a token. Malformed input fails with ErrInvalidTicket
// in the chain; no partial state is produced.
func DecodeTicket(s string) (Ticket, error) {
	body, ok := strings.CutPrefix(strings.TrimSpace(s), ticketPrefix)
	if !ok {
		return Ticket{}, fmt.Errorf("%w: missing %q prefix", ErrInvalidTicket, ticketPrefix)
	}
	raw, err := ticketEncoding.DecodeString(body)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	var t Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if t.DocID == "" {
		return Ticket{}, fmt.Errorf("%w: no document id", ErrInvalidTicket)
	}
	return t, nil
}
