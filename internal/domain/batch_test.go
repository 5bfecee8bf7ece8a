package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batchWithRecipients(n int) *CampaignBatch {
	b := NewCampaignBatch("t1", "c1", "mtb", 0, t0)
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("j-%d", i)
	}
	b.AddRecipients(ids...)
	return b
}

func TestCampaignBatch_AddRecipientsDeduplicates(t *testing.T) {
	b := batchWithRecipients(3)
	b.AddRecipients("j-0", "j-9")
	assert.Equal(t, 4, b.TotalRecipients)
}

func TestCampaignBatch_CountsInvariant(t *testing.T) {
	b := batchWithRecipients(10)
	require.NoError(t, b.Transition(BatchValidating, t0))
	require.NoError(t, b.Transition(BatchQueued, t0))
	require.NoError(t, b.Transition(BatchProcessing, t0))

	steps := [][2]int{{2, 0}, {0, 1}, {3, 1}}
	for _, s := range steps {
		require.NoError(t, b.UpdateRecipientCounts(s[0], s[1], t0))
		assert.Equal(t, b.SuccessfulRecipients+b.FailedRecipients, b.ProcessedRecipients)
		assert.Equal(t, BatchProcessing, b.Status)
	}
	assert.Equal(t, 3, b.Remaining())
}

func TestCampaignBatch_CompletesExactlyAtTotal(t *testing.T) {
	b := batchWithRecipients(10)
	require.NoError(t, b.UpdateRecipientCounts(7, 3, t0))
	assert.Equal(t, BatchCompleted, b.Status, "failures do not block completion")
	assert.Equal(t, 10, b.ProcessedRecipients)
	require.NotNil(t, b.CompletedAt)

	err := b.UpdateRecipientCounts(7, 3, t0)
	assert.ErrorIs(t, err, ErrCountsExceedTotal)
	assert.Equal(t, 10, b.ProcessedRecipients)
	assert.Equal(t, 7, b.SuccessfulRecipients)
	assert.Equal(t, 3, b.FailedRecipients)
}

func TestCampaignBatch_CompletionWalksAllowedEdges(t *testing.T) {
	for _, from := range []BatchStatus{BatchCreated, BatchValidating, BatchQueued, BatchPaused, BatchProcessing} {
		b := batchWithRecipients(2)
		for _, step := range []BatchStatus{BatchValidating, BatchQueued, BatchPaused} {
			if b.Status == from {
				break
			}
			require.NoError(t, b.Transition(step, t0))
		}
		if from == BatchProcessing {
			require.NoError(t, b.Transition(BatchProcessing, t0))
		}
		require.Equal(t, from, b.Status)

		require.NoError(t, b.UpdateRecipientCounts(1, 1, t0), from)
		assert.Equal(t, BatchCompleted, b.Status, from)
		assert.NotNil(t, b.StartedAt, from)
		assert.NotNil(t, b.CompletedAt, from)
	}
}

func TestCampaignBatch_CompletionNeverLeavesTerminal(t *testing.T) {
	b := batchWithRecipients(2)
	require.NoError(t, b.Transition(BatchCancelled, t0))
	require.NoError(t, b.UpdateRecipientCounts(2, 0, t0))
	assert.Equal(t, BatchCancelled, b.Status)
}

func TestCampaignBatch_RejectsNegative(t *testing.T) {
	b := batchWithRecipients(2)
	assert.ErrorIs(t, b.UpdateRecipientCounts(-1, 0, t0), ErrNegativeCount)
}

func TestCampaignBatch_RecordError(t *testing.T) {
	b := batchWithRecipients(2)
	b.RecordError("tenant store unreachable", t0)
	assert.Equal(t, BatchFailed, b.Status)
	assert.Equal(t, 1, b.ErrorCount)
	assert.Equal(t, "tenant store unreachable", b.LastError)
}

func TestCampaignBatch_TransitionTable(t *testing.T) {
	b := batchWithRecipients(1)
	assert.ErrorIs(t, b.Transition(BatchCompleted, t0), ErrInvalidTransition)
	require.NoError(t, b.Transition(BatchValidating, t0))
	require.NoError(t, b.Transition(BatchQueued, t0))
	require.NoError(t, b.Transition(BatchPaused, t0))
	require.NoError(t, b.Transition(BatchProcessing, t0))
	require.NotNil(t, b.StartedAt)
	require.NoError(t, b.Transition(BatchCancelled, t0))
	assert.ErrorIs(t, b.Transition(BatchProcessing, t0), ErrInvalidTransition)
}

func TestMultiTenantBatch_Results(t *testing.T) {
	b := NewMultiTenantBatch("mtb-1", WorkflowCampaign{Name: "tpl"}, []string{"t1", "t2", "t1", ""}, BatchOptions{}, t0)
	assert.Equal(t, []string{"t1", "t2"}, b.TenantIDs)
	assert.Empty(t, b.TenantResults, "results are created lazily")
	assert.False(t, b.AllTerminal())

	r1 := b.Result("t1")
	assert.Equal(t, TenantPending, r1.Status)
	assert.Same(t, r1, b.Result("t1"))

	r1.MarkProcessing(t0)
	assert.Equal(t, 1, r1.Attempts)
	r1.MarkCompleted(t0)
	b.Result("t2").MarkFailed("", t0)
	assert.Equal(t, "unknown error", b.TenantResults["t2"].ErrorMessage)

	assert.Len(t, b.TenantResults, 2)
	assert.True(t, b.AllTerminal())

	counts := b.Counts()
	assert.Equal(t, 1, counts[TenantCompleted])
	assert.Equal(t, 1, counts[TenantFailed])
}

func TestMultiTenantBatch_Transition(t *testing.T) {
	b := NewMultiTenantBatch("mtb-1", WorkflowCampaign{Name: "tpl"}, []string{"t1"}, BatchOptions{}, t0)
	require.NoError(t, b.Transition(BatchValidating, "", t0))
	require.NoError(t, b.Transition(BatchQueued, "", t0))
	require.NoError(t, b.Transition(BatchProcessing, "", t0))
	require.NoError(t, b.Transition(BatchPaused, "maintenance", t0))
	assert.Equal(t, "maintenance", b.StatusReason)
	require.NoError(t, b.Transition(BatchProcessing, "", t0))
	require.NoError(t, b.Transition(BatchCompleted, "", t0))
	require.NotNil(t, b.CompletedAt)
	assert.ErrorIs(t, b.Transition(BatchPaused, "", t0), ErrInvalidTransition)
}
