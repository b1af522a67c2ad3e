// Package delivery: Whatsmeow-backed WhatsApp adapter.
package delivery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/openinbox/inboxd/internal/models"
	"github.com/openinbox/inboxd/internal/store"
)

// JIDSuffix is the WhatsApp JID suffix for regular users.
const JIDSuffix = "s.whatsapp.net"

// WhatsAppAdapter sends messages through a paired WhatsApp session.
type WhatsAppAdapter struct {
	waClient *whatsmeow.Client
}

// Compile-time check that WhatsAppAdapter implements Adapter.
var _ Adapter = (*WhatsAppAdapter)(nil)

// WhatsAppOpts holds configuration for the WhatsApp adapter.
type WhatsAppOpts struct {
	// DBDSN is the whatsmeow session database connection string.
	DBDSN string
	// QRPath, when set, receives the pairing QR code instead of stdout.
	QRPath string
}

// NewWhatsAppAdapter initializes the whatsmeow session store, pairs the
// device if needed (rendering the login QR code), and connects.
func NewWhatsAppAdapter(cfg WhatsAppOpts) (*WhatsAppAdapter, error) {
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("whatsapp session DSN not set")
	}
	dbDriver := store.DetectDSNType(cfg.DBDSN)

	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, cfg.DBDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize whatsapp session store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from whatsapp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	if waClient.Store.ID == nil {
		slog.Info("WhatsAppAdapter: login required, starting QR pairing flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to whatsapp during pairing: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
			} else {
				slog.Debug("WhatsAppAdapter: pairing event", "event", evt.Event)
			}
		}
	} else {
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to whatsapp: %w", err)
		}
	}
	slog.Info("WhatsAppAdapter: connected")
	return &WhatsAppAdapter{waClient: waClient}, nil
}

// Send delivers the message to the conversation's peer phone number.
func (a *WhatsAppAdapter) Send(ctx context.Context, conv *models.Conversation, text, objectKey string) (string, error) {
	if conv.PeerRef == "" {
		return "", fmt.Errorf("conversation %s has no peer reference", conv.ID)
	}

	body := text
	if objectKey != "" {
		// Attachments are delivered as a link to the stored object; the
		// API layer resolves objectKey to a presigned URL before enqueue.
		body = text + "\n" + objectKey
	}

	jid := types.NewJID(conv.PeerRef, JIDSuffix)
	resp, err := a.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body})
	if err != nil {
		return "", fmt.Errorf("failed to send whatsapp message to %s: %w", conv.PeerRef, err)
	}
	slog.Debug("WhatsAppAdapter.Send: message sent", "conversationID", conv.ID, "externalID", string(resp.ID))
	return string(resp.ID), nil
}

// Disconnect closes the WhatsApp connection.
func (a *WhatsAppAdapter) Disconnect() {
	a.waClient.Disconnect()
}
