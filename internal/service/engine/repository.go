package engine

import (
	"context"

	"github.com/ignite/campaign-engine/internal/archive"
	"github.com/ignite/campaign-engine/internal/condition"
	"github.com/ignite/campaign-engine/internal/crm"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/render"
	"github.com/ignite/campaign-engine/internal/repository"
	"github.com/ignite/campaign-engine/internal/tenant"
	"github.com/ignite/campaign-engine/internal/transport"
)

// Repository is the persistence contract of the processor. *repository.Store
// implements it. Implementations must be safe for concurrent use.
type Repository interface {
	CreateMultiTenantBatch(ctx context.Context, b *domain.MultiTenantBatch) error
	GetMultiTenantBatch(ctx context.Context, id string) (*domain.MultiTenantBatch, error)
	// UpdateMultiTenantBatch applies fn to the latest stored batch; fn may be
	// called more than once on concurrent modification.
	UpdateMultiTenantBatch(ctx context.Context, id string, fn func(*domain.MultiTenantBatch) error) (*domain.MultiTenantBatch, error)
	UpdateTenantResult(ctx context.Context, batchID, tenantID string, fn func(*domain.TenantExecutionResult)) (*domain.MultiTenantBatch, error)
	ListMultiTenantBatches(ctx context.Context, statuses []domain.BatchStatus, page repository.Page) ([]*domain.MultiTenantBatch, error)

	SaveCampaign(ctx context.Context, c *domain.WorkflowCampaign) error
	GetCampaign(ctx context.Context, id string) (*domain.WorkflowCampaign, error)

	SaveCampaignBatch(ctx context.Context, b *domain.CampaignBatch) error
	GetCampaignBatch(ctx context.Context, id string) (*domain.CampaignBatch, error)
	ListCampaignBatches(ctx context.Context, multiTenantBatchID string, statuses []domain.BatchStatus, page repository.Page) ([]*domain.CampaignBatch, error)

	SaveJourney(ctx context.Context, j *domain.RecipientJourney) error
	GetJourney(ctx context.Context, id string) (*domain.RecipientJourney, error)
	ListJourneys(ctx context.Context, campaignBatchID string, statuses []domain.JourneyStatus, page repository.Page) ([]*domain.RecipientJourney, error)

	SaveDelivery(ctx context.Context, d *domain.MessageDelivery) error
	GetDelivery(ctx context.Context, id string) (*domain.MessageDelivery, error)
	ListDeliveries(ctx context.Context, journeyID string) ([]*domain.MessageDelivery, error)
	// UpdateDelivery applies fn to the latest stored delivery. Status changes
	// of existing deliveries go through here because provider callbacks race
	// with the processor.
	UpdateDelivery(ctx context.Context, id string, fn func(*domain.MessageDelivery) error) (*domain.MessageDelivery, error)
}

// RecipientSource fetches a tenant's recipients matching segment criteria.
type RecipientSource interface {
	ListRecipients(ctx context.Context, scope tenant.Scope, criteria map[string]interface{}, page crm.Page) ([]crm.Recipient, error)
}

// ContentRenderer personalizes a stage's content for one recipient.
type ContentRenderer interface {
	Render(ctx context.Context, scope tenant.Scope, stage domain.StageDefinition, data map[string]interface{}) (render.Content, error)
}

// Transport hands a message to its channel provider. Errors satisfying
// transport.IsPermanent are not retried.
type Transport interface {
	Send(ctx context.Context, msg transport.Message) (transport.Receipt, error)
}

// Conditions evaluates stage predicates and validates workflows.
type Conditions interface {
	Evaluate(c *domain.ConditionalLogic, in condition.Input) (bool, error)
	ValidateWorkflow(w *domain.WorkflowCampaign) domain.ValidationErrors
}

// Archiver stores summaries of finished batches.
type Archiver interface {
	ArchiveBatch(ctx context.Context, s archive.Summary) error
}

// Suppressions is the tenant opt-out list. RecordDelivery suppresses the
// recipient when the delivery's status calls for it.
type Suppressions interface {
	IsSuppressed(ctx context.Context, tenantID, recipientID string) (bool, error)
	RecordDelivery(ctx context.Context, d *domain.MessageDelivery) (bool, error)
}
