// Package delivery defines the per-platform send capability consumed by
// the outbox worker.
//
// Each chat platform implements Adapter; the Registry selects the adapter
// from the platform prefix of a conversation's channel id.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/openinbox/inboxd/internal/models"
)

// ErrUnknownPlatform is returned when no adapter is registered for a
// conversation's platform prefix.
var ErrUnknownPlatform = errors.New("no delivery adapter for platform")

// Adapter sends one outgoing message to its platform. Implementations are
// responsible for their own timeouts; the worker treats any returned error
// as a failed attempt.
type Adapter interface {
	// Send delivers text (and an optional attachment reference) to the
	// conversation's peer and returns the platform's message id.
	Send(ctx context.Context, conv *models.Conversation, text, objectKey string) (externalMessageID string, err error)
}

// Registry maps platform prefixes to adapters. It is populated once at
// startup and read-only afterwards.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds an adapter to a platform prefix (e.g. "telegram").
func (r *Registry) Register(platform string, adapter Adapter) {
	r.adapters[platform] = adapter
}

// ForConversation resolves the adapter for a conversation's channel id.
func (r *Registry) ForConversation(conv *models.Conversation) (Adapter, string, error) {
	platform, err := conv.Platform()
	if err != nil {
		return nil, "", err
	}
	adapter, ok := r.adapters[platform]
	if !ok {
		return nil, platform, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	return adapter, platform, nil
}

// Platforms lists the registered platform prefixes.
func (r *Registry) Platforms() []string {
	platforms := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		platforms = append(platforms, p)
	}
	return platforms
}
