package session

import (
	"context"
	"fmt"

	"github.com/tjfontaine/storefront-studio/internal/storage"
	"github.com/tjfontaine/storefront-studio/internal/storefront"
)

// TemplateSaver pushes a confirmed patch to the shop backend.
// *shop.Client implements it.
type TemplateSaver interface {
	SaveTemplate(ctx context.Context, shopID string, patch storefront.Configuration) error
}

// TemplatePersister merges confirmed patches into the session's draft
// template and, once the shop exists, into the shop's template.
type TemplatePersister struct {
	Drafts  storage.TemplateStore
	Backend TemplateSaver
}

var _ Persister = (*TemplatePersister)(nil)

// PersistTemplate writes the draft first so a backend failure can be retried
// with the same patch.
func (p *TemplatePersister) PersistTemplate(ctx context.Context, sessionID, shopID string, patch storefront.Configuration) error {
	if p.Drafts != nil {
		if err := p.Drafts.SaveTemplatePatch(ctx, sessionID, patch); err != nil {
			return fmt.Errorf("save draft template: %w", err)
		}
	}
	if shopID != "" && p.Backend != nil {
		if err := p.Backend.SaveTemplate(ctx, shopID, patch); err != nil {
			return fmt.Errorf("save shop template: %w", err)
		}
	}
	return nil
}
