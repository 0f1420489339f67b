// Package endpoint adapts the closure's abstract Message/Endpoint/Writer
// collaborators to concrete mail stores: an IMAP mailbox the daemon polls
// or IDLEs on, and alternative destination stores such as S3.
package endpoint

import (
	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"

	"github.com/kivikakk/recogedor/script"
)

// RawAddress is one address as parsed out of a message's To/Cc/Bcc header,
// before any normalization.
type RawAddress struct {
	Mailbox string
	Host    string
}

// Message wraps one fetched IMAP message and implements script.Message.
// Label comparison and recipient host comparison are normalized before
// they reach the core's byte-exact ASCII fold, so that composed/decomposed
// Unicode flag names and internationalized domain names in headers still
// compare sensibly against an operator-authored, ASCII script.
type Message struct {
	uid        uint32
	labels     map[script.Label]struct{}
	recipients []script.Recipient
	rawBody    []byte
}

// NewMessage builds a Message from raw IMAP flags and raw To/Cc/Bcc
// addresses. Host names are normalized to their ASCII/punycode form via
// IDNA; a host that fails to convert (already ASCII, or not a valid IDNA
// label) is kept as-is. Mailbox local parts are NFC-normalized the same
// way flags are, so a composed/decomposed Unicode local part in a header
// still compares equal to an operator-authored script pattern. rawBody is
// the literal bytes fetched for BODY[], kept verbatim for re-APPENDing to
// a destination mailbox.
func NewMessage(uid uint32, rawFlags []string, rawRecipients []RawAddress, rawBody []byte) *Message {
	labels := make(map[script.Label]struct{}, len(rawFlags))
	for _, f := range rawFlags {
		labels[script.Label(normalizeLabel(f))] = struct{}{}
	}
	recipients := make([]script.Recipient, 0, len(rawRecipients))
	for _, r := range rawRecipients {
		recipients = append(recipients, script.Recipient{
			Mailbox: normalizeLabel(r.Mailbox),
			Host:    normalizeHost(r.Host),
		})
	}
	return &Message{uid: uid, labels: labels, recipients: recipients, rawBody: rawBody}
}

// RawBody returns the message's raw bytes, as satisfied to
// destination writers that need to re-APPEND the message elsewhere.
func (m *Message) RawBody() []byte { return m.rawBody }

func normalizeLabel(s string) string {
	return norm.NFC.String(s)
}

func normalizeHost(host string) string {
	ascii, err := idna.ToASCII(host)
	if err != nil {
		return host
	}
	return ascii
}

func (m *Message) UID() uint32 { return m.uid }

func (m *Message) HasLabel(label script.Label) bool {
	_, ok := m.labels[script.Label(normalizeLabel(string(label)))]
	return ok
}

func (m *Message) ReceivedBy(pattern script.RecipientPattern) bool {
	for _, r := range m.recipients {
		if pattern.Match(r) {
			return true
		}
	}
	return false
}
