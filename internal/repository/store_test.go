package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/repository"
	"github.com/ignite/campaign-engine/internal/repository/memory"
	"github.com/ignite/campaign-engine/internal/schedule"
)

var now = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

func template() domain.WorkflowCampaign {
	return domain.WorkflowCampaign{
		ID:           "tpl-1",
		Name:         "onboarding",
		WorkflowType: domain.WorkflowSequential,
		Stages: []domain.StageDefinition{
			{ID: "welcome", SequenceOrder: 1, Channel: domain.ChannelEmail, ContentRef: "welcome"},
			{ID: "nudge", SequenceOrder: 2, Channel: domain.ChannelInApp,
				WaitConfig: &schedule.WaitConfig{Duration: 2, Unit: schedule.UnitDays, RespectTimeWindow: true},
				TimeWindow: &schedule.TimeWindow{Weekdays: []time.Weekday{time.Monday}, StartHour: 9, EndHour: 17, Timezone: "Europe/Berlin"},
				ConditionalLogic: &domain.ConditionalLogic{Type: domain.ConditionAttribute, Attribute: "plan", Operator: domain.OpEquals, Value: "free"},
			},
		},
		Settings:  domain.WorkflowSettings{MaxRetries: 2},
		Analytics: map[string]interface{}{"utm": "spring"},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(memory.New())

	mtb := domain.NewMultiTenantBatch("mtb-1", template(), []string{"t1", "t2"}, domain.BatchOptions{SkipTenants: []string{"t2"}}, now)
	mtb.Result("t1").MarkProcessing(now)
	require.NoError(t, store.CreateMultiTenantBatch(ctx, mtb))
	gotMTB, err := store.GetMultiTenantBatch(ctx, "mtb-1")
	require.NoError(t, err)
	assert.Equal(t, mtb.TenantIDs, gotMTB.TenantIDs)
	assert.Equal(t, domain.TenantProcessing, gotMTB.TenantResults["t1"].Status)
	assert.Equal(t, "Europe/Berlin", gotMTB.CampaignTemplate.Stages[1].TimeWindow.Timezone)
	assert.Equal(t, []string{"t2"}, gotMTB.Options.SkipTenants)

	camp := mtb.CampaignTemplate.Bind("t1", mtb.ID, now)
	require.NoError(t, store.SaveCampaign(ctx, camp))
	gotCamp, err := store.GetCampaign(ctx, camp.ID)
	require.NoError(t, err)
	assert.Equal(t, "t1", gotCamp.TenantID)
	assert.Equal(t, "spring", gotCamp.Analytics["utm"])
	assert.Equal(t, schedule.UnitDays, gotCamp.Stages[1].WaitConfig.Unit)

	cb := domain.NewCampaignBatch("t1", camp.ID, mtb.ID, 0, now)
	j := domain.NewJourney("t1", cb.ID, camp.ID, "r1", map[string]interface{}{"plan": "free"}, now)
	cb.AddRecipients(j.ID)
	require.NoError(t, store.SaveCampaignBatch(ctx, cb))
	gotCB, err := store.GetCampaignBatch(ctx, cb.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{j.ID}, gotCB.JourneyIDs)

	require.NoError(t, j.Start("welcome", now))
	exec := domain.NewStageExecution(j.ID, "welcome", 1, now)
	require.NoError(t, j.AddStageExecution(exec))
	require.NoError(t, store.SaveJourney(ctx, j))
	gotJ, err := store.GetJourney(ctx, j.ID)
	require.NoError(t, err)
	require.NotNil(t, gotJ.OpenExecution())
	assert.Equal(t, exec.ID, gotJ.OpenExecution().ID)

	d := domain.NewMessageDelivery(j, &exec, domain.ChannelEmail, 0, now)
	require.NoError(t, d.Transition(domain.DeliverySent, now))
	require.NoError(t, store.SaveDelivery(ctx, d))
	deliveries, err := store.ListDeliveries(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	sentAt, ok := deliveries[0].SentAt()
	require.True(t, ok)
	assert.True(t, sentAt.Equal(now))
}

func TestStore_CreateTwice(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(memory.New())
	mtb := domain.NewMultiTenantBatch("mtb-1", template(), []string{"t1"}, domain.BatchOptions{}, now)
	require.NoError(t, store.CreateMultiTenantBatch(ctx, mtb))
	assert.ErrorIs(t, store.CreateMultiTenantBatch(ctx, mtb), repository.ErrAlreadyExists)
}

func TestStore_GetMissing(t *testing.T) {
	_, err := repository.NewStore(memory.New()).GetJourney(context.Background(), "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_ConcurrentTenantResults(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(memory.New())
	tenants := make([]string, 6)
	for i := range tenants {
		tenants[i] = fmt.Sprintf("t%d", i)
	}
	require.NoError(t, store.CreateMultiTenantBatch(ctx, domain.NewMultiTenantBatch("mtb-1", template(), tenants, domain.BatchOptions{}, now)))

	var wg sync.WaitGroup
	for _, id := range tenants {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := store.UpdateTenantResult(ctx, "mtb-1", id, func(r *domain.TenantExecutionResult) {
				r.MarkCompleted(now)
			})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	got, err := store.GetMultiTenantBatch(ctx, "mtb-1")
	require.NoError(t, err)
	assert.Len(t, got.TenantResults, len(tenants), "no concurrent update was lost")
	assert.True(t, got.AllTerminal())
}

func TestStore_UpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(memory.New())
	require.NoError(t, store.CreateMultiTenantBatch(ctx, domain.NewMultiTenantBatch("mtb-1", template(), []string{"t1"}, domain.BatchOptions{}, now)))

	boom := errors.New("boom")
	_, err := store.UpdateMultiTenantBatch(ctx, "mtb-1", func(b *domain.MultiTenantBatch) error {
		b.StatusReason = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, _ := store.GetMultiTenantBatch(ctx, "mtb-1")
	assert.Empty(t, got.StatusReason)
}

func TestStore_ListFilters(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(memory.New())
	for i, status := range []domain.BatchStatus{domain.BatchProcessing, domain.BatchCompleted, domain.BatchProcessing} {
		cb := domain.NewCampaignBatch("t1", fmt.Sprintf("c%d", i), "mtb-1", 0, now)
		cb.Status = status
		require.NoError(t, store.SaveCampaignBatch(ctx, cb))
	}
	other := domain.NewCampaignBatch("t1", "c9", "mtb-2", 0, now)
	other.Status = domain.BatchProcessing
	require.NoError(t, store.SaveCampaignBatch(ctx, other))

	processing, err := store.ListCampaignBatches(ctx, "", []domain.BatchStatus{domain.BatchProcessing}, repository.Page{})
	require.NoError(t, err)
	assert.Len(t, processing, 3)

	inParent, err := store.ListCampaignBatches(ctx, "mtb-1", nil, repository.Page{})
	require.NoError(t, err)
	assert.Len(t, inParent, 3)

	paged, err := store.ListCampaignBatches(ctx, "mtb-1", nil, repository.Page{Limit: 1, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, paged, 1)
}
