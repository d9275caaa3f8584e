// Package pairing sends the outbound side of the first-contact pairing
// challenge spec.md §4.5 describes: a one-line instruction reply on
// first unauthorized contact, and a fixed approval notice once an
// operator approves out-of-band.
package pairing

import (
	"context"
	"fmt"

	"github.com/chatbridge/xmppchannel/internal/hostapi"
	"github.com/chatbridge/xmppchannel/internal/xerr"
)

// Sender is the minimal outbound capability this package needs; the
// monitor supplies it, typically backed by outbound.SendMessage.
type Sender interface {
	SendMessage(ctx context.Context, to, text string) error
}

// Notifier sends pairing replies for one account.
type Notifier struct {
	Store  hostapi.PairingStore
	Sender Sender
}

// ChallengeIfNeeded upserts a pairing request for bareJID and, when this
// is the first time the store has seen it, sends the pairing
// instruction reply carrying the store-issued code. Duplicate requests
// are no-ops (spec.md §4.5). A store failure is reported but never
// escalated to a fatal error — per spec.md §7, a PairingStoreError only
// means the reply is skipped; the caller still drops the inbound
// message.
func (n *Notifier) ChallengeIfNeeded(ctx context.Context, bareJID string) error {
	created, code, err := n.Store.UpsertPairingRequest("xmpp", bareJID)
	if err != nil {
		return xerr.New(xerr.KindPairingStore, "upsert pairing request", err)
	}
	if !created {
		return nil
	}

	text := fmt.Sprintf(
		"To use this assistant, an operator must approve your XMPP address: %s\nPairing code: %s",
		bareJID, code,
	)
	if err := n.Sender.SendMessage(ctx, bareJID, text); err != nil {
		return xerr.New(xerr.KindDispatch, "send pairing reply", err)
	}
	return nil
}

// NotifyApproval sends the fixed approval message once an operator
// approves a pending pairing request out-of-band (spec.md §4.5).
func (n *Notifier) NotifyApproval(ctx context.Context, bareJID string) error {
	if err := n.Sender.SendMessage(ctx, bareJID, "Your XMPP address has been approved."); err != nil {
		return xerr.New(xerr.KindDispatch, "send approval notice", err)
	}
	return nil
}
