// Package interaction implements the two-phase apply-profile-cards command:
// Execute opens the edit dialog and suspends, Resume dispatches the bulk
// apply job once the dialog reports a change.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/louisbranch/profilecards/internal/platform/errors"
	"github.com/louisbranch/profilecards/internal/platform/id"
	"github.com/louisbranch/profilecards/internal/platform/requestctx"
	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
	"github.com/louisbranch/profilecards/internal/services/profilecards/job"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage"
)

// DefaultDialogURL is the profile cards edit dialog.
const DefaultDialogURL = "/shell/xaml/profile-cards-form"

// DefaultSlotTTL bounds how long a suspended interaction may wait.
const DefaultSlotTTL = 30 * time.Minute

// Invocation is one Execute request.
type Invocation struct {
	Identity domain.Identity
	Database string
	ItemID   string
	Locale   string
	// Version overrides the anchor's version in the dialog parameters.
	Version    int
	PageEditor bool
	// SearchURL carries the saved search the command was launched from.
	SearchURL string
}

// Suspension is returned by Execute. The client opens DialogURL and later
// resumes with Handle.
type Suspension struct {
	Handle    string
	DialogURL string
	Params    map[string]string
	ExpiresAt time.Time
}

// Signal is the resume event sent back by the client.
type Signal struct {
	// Modified reports that the dialog changed the attribute.
	Modified bool
}

// OutcomeKind says what Resume did.
type OutcomeKind string

const (
	OutcomeDispatched OutcomeKind = "dispatched"
	OutcomeDiscarded  OutcomeKind = "discarded"
	OutcomeReload     OutcomeKind = "reload"
)

// Outcome is returned by Resume.
type Outcome struct {
	Kind  OutcomeKind
	JobID string
}

// Command is a suspendable interactive command.
type Command interface {
	Execute(ctx context.Context, inv Invocation) (Suspension, error)
	Resume(ctx context.Context, identity domain.Identity, handle string, signal Signal) (Outcome, error)
}

// ItemReader loads items.
type ItemReader interface {
	GetItem(ctx context.Context, database, id string) (*domain.Item, error)
}

// WriteGate decides whether an identity may write an item.
type WriteGate interface {
	CanWrite(ctx context.Context, item *domain.Item, identity domain.Identity) bool
}

// SlotStore keeps suspended interactions keyed by (principal, handle).
type SlotStore interface {
	PutSlot(ctx context.Context, slot storage.Slot) error
	TakeSlot(ctx context.Context, principal, handle string, now time.Time) (storage.Slot, error)
	DeleteExpiredSlots(ctx context.Context, now time.Time) (int64, error)
}

// JobStarter dispatches bulk apply runs.
type JobStarter interface {
	Start(ctx context.Context, args job.BulkApplyArgs) (*job.Handle, error)
}

// Config tunes the controller.
type Config struct {
	AttributeKey  string
	DialogURL     string
	SlotTTL       time.Duration
	RestoreAnchor bool
	Now           func() time.Time
}

// Controller is the apply-profile-cards command.
type Controller struct {
	items ItemReader
	gate  WriteGate
	slots SlotStore
	jobs  JobStarter
	cfg   Config
}

var _ Command = (*Controller)(nil)

// NewController builds the command.
func NewController(items ItemReader, gate WriteGate, slots SlotStore, jobs JobStarter, cfg Config) *Controller {
	if cfg.AttributeKey == "" {
		cfg.AttributeKey = domain.DefaultAttributeKey
	}
	if cfg.DialogURL == "" {
		cfg.DialogURL = DefaultDialogURL
	}
	if cfg.SlotTTL <= 0 {
		cfg.SlotTTL = DefaultSlotTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{items: items, gate: gate, slots: slots, jobs: jobs, cfg: cfg}
}

// Execute resolves the anchor, checks the caller may edit it, stores its
// current attribute value and suspends awaiting the dialog.
func (c *Controller) Execute(ctx context.Context, inv Invocation) (Suspension, error) {
	if inv.Identity.IsZero() {
		return Suspension{}, apperrors.WithMetadata(apperrors.CodeInvalidParameters, "principal is required", map[string]string{"field": "principal"})
	}
	inv.Database = strings.TrimSpace(inv.Database)
	inv.ItemID = strings.TrimSpace(inv.ItemID)
	if inv.Database == "" {
		return Suspension{}, apperrors.WithMetadata(apperrors.CodeInvalidParameters, "database is required", map[string]string{"field": domain.ParamDatabase})
	}
	if inv.ItemID == "" {
		return Suspension{}, apperrors.WithMetadata(apperrors.CodeInvalidParameters, "item id is required", map[string]string{"field": domain.ParamID})
	}
	ctx = requestctx.WithPrincipal(ctx, inv.Identity.Name)

	anchor, err := c.resolveAnchor(ctx, inv.Database, inv.ItemID)
	if err != nil {
		return Suspension{}, err
	}
	if anchor.ReadOnly || !c.gate.CanWrite(ctx, anchor, inv.Identity) {
		return Suspension{}, apperrors.WithMetadata(apperrors.CodePermissionDenied, "no rights to edit "+anchor.ID, map[string]string{"item_id": anchor.ID})
	}

	language := strings.TrimSpace(inv.Locale)
	if language == "" {
		language = anchor.Language
	}
	version := anchor.Version
	if inv.Version > 0 {
		version = inv.Version
	}
	params := domain.Params{
		ItemID:       anchor.ID,
		Language:     language,
		Version:      version,
		Database:     anchor.Database,
		PageEditor:   inv.PageEditor,
		SearchString: domain.CleanSearchString(inv.SearchURL),
	}
	handle, err := id.NewID()
	if err != nil {
		return Suspension{}, fmt.Errorf("generate handle: %w", err)
	}
	now := c.cfg.Now().UTC()
	slot := storage.Slot{
		Principal:    inv.Identity.Name,
		Handle:       handle,
		Params:       params.Encode(),
		PreEditValue: anchor.Attribute(c.cfg.AttributeKey),
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.cfg.SlotTTL),
	}
	if err := c.slots.PutSlot(ctx, slot); err != nil {
		return Suspension{}, fmt.Errorf("store interaction: %w", err)
	}
	return Suspension{
		Handle:    handle,
		DialogURL: c.dialogURL(params),
		Params:    slot.Params,
		ExpiresAt: slot.ExpiresAt,
	}, nil
}

// Resume consumes the suspended interaction. Without the modified flag it
// discards it; in page-editor mode it asks the client to reload; otherwise
// it re-reads the anchor and starts the bulk apply job without waiting.
func (c *Controller) Resume(ctx context.Context, identity domain.Identity, handle string, signal Signal) (Outcome, error) {
	if identity.IsZero() {
		return Outcome{}, apperrors.WithMetadata(apperrors.CodeInvalidParameters, "principal is required", map[string]string{"field": "principal"})
	}
	ctx = requestctx.WithPrincipal(ctx, identity.Name)

	notFound := apperrors.WithMetadata(apperrors.CodeContinuationNotFound, "no suspended interaction "+handle, map[string]string{"handle": handle})
	if !id.Valid(handle) {
		return Outcome{}, notFound
	}
	slot, err := c.slots.TakeSlot(ctx, identity.Name, handle, c.cfg.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return Outcome{}, notFound
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load interaction: %w", err)
	}
	if !signal.Modified {
		return Outcome{Kind: OutcomeDiscarded}, nil
	}
	params, err := domain.DecodeParams(slot.Params)
	if err != nil {
		return Outcome{}, err
	}
	if params.PageEditor {
		return Outcome{Kind: OutcomeReload}, nil
	}

	anchor, err := c.resolveAnchor(ctx, params.Database, params.ItemID)
	if err != nil {
		return Outcome{}, err
	}
	args := job.BulkApplyArgs{
		Anchor:       anchor,
		SearchString: params.SearchString,
		AttributeKey: c.cfg.AttributeKey,
		Value:        anchor.Attribute(c.cfg.AttributeKey),
		Identity:     identity,
		Locale:       localeFor(ctx, params),
	}
	if c.cfg.RestoreAnchor {
		previous := slot.PreEditValue
		args.Restore = &previous
	}
	started, err := c.jobs.Start(ctx, args)
	if err != nil {
		// A busy anchor keeps the interaction so the client can retry.
		if apperrors.HasCode(err, apperrors.CodeBulkApplyInProgress) {
			if putErr := c.slots.PutSlot(context.WithoutCancel(ctx), slot); putErr != nil {
				log.Printf("restore interaction %s for %s: %v", handle, identity.Name, putErr)
			}
		}
		return Outcome{}, err
	}
	log.Printf("bulk apply %s started by %s for %s/%s", started.ID(), identity.Name, anchor.Database, anchor.ID)
	return Outcome{Kind: OutcomeDispatched, JobID: started.ID()}, nil
}

// Sweep deletes suspended interactions that expired.
func (c *Controller) Sweep(ctx context.Context) (int64, error) {
	return c.slots.DeleteExpiredSlots(ctx, c.cfg.Now().UTC())
}

func (c *Controller) resolveAnchor(ctx context.Context, database, itemID string) (*domain.Item, error) {
	anchor, err := c.items.GetItem(ctx, database, itemID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && anchor == nil) {
		return nil, apperrors.WithMetadata(apperrors.CodeResolutionFailed, "anchor "+itemID+" cannot be resolved", map[string]string{"item_id": itemID})
	}
	if err != nil {
		return nil, fmt.Errorf("load anchor: %w", err)
	}
	return anchor, nil
}

func (c *Controller) dialogURL(params domain.Params) string {
	values := url.Values{}
	values.Set("itemid", params.ItemID)
	values.Set("databasename", params.Database)
	values.Set("la", params.Language)
	separator := "?"
	if strings.Contains(c.cfg.DialogURL, "?") {
		separator = "&"
	}
	return c.cfg.DialogURL + separator + values.Encode()
}

func localeFor(ctx context.Context, params domain.Params) string {
	if locale := requestctx.LocaleFromContext(ctx); locale != "" {
		return locale
	}
	return params.Language
}
