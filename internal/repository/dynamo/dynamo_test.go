package dynamo

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/repository"
)

// fakeDynamo understands exactly the expressions the backend issues.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	puts  int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func str(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[str(in.Key["PK"])]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := str(in.Item["PK"])
	current, exists := f.items[pk]
	switch aws.ToString(in.ConditionExpression) {
	case "attribute_not_exists(PK)":
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case "Version = :expected":
		if !exists || str(current["Version"]) != str(in.ExpressionAttributeValues[":expected"]) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("version")}
		}
	}
	f.items[pk] = in.Item
	f.puts++
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attr := in.ExpressionAttributeNames["#k"]
	want := str(in.ExpressionAttributeValues[":v"])
	var out []map[string]types.AttributeValue
	for _, it := range f.items {
		if v, ok := it[attr]; ok && str(v) == want {
			out = append(out, it)
		}
	}
	return &dynamodb.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func TestBackend_PutGetVersions(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	b := NewWithClient(fake, "engine")

	doc := &repository.Document{Kind: repository.KindJourney, ID: "j1", TenantID: "t1", ParentID: "cb1", Status: "active", Body: []byte(`{"id":"j1"}`), UpdatedAt: time.Now()}
	require.NoError(t, b.Put(ctx, doc, 0))
	assert.Equal(t, int64(1), doc.Version)

	err := b.Put(ctx, &repository.Document{Kind: repository.KindJourney, ID: "j1"}, 0)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	got, err := b.Get(ctx, repository.KindJourney, "j1")
	require.NoError(t, err)
	assert.Equal(t, "cb1", got.ParentID)
	assert.JSONEq(t, `{"id":"j1"}`, string(got.Body))
	assert.Equal(t, "1", str(fake.items["journey#j1"]["Version"]))
	assert.Equal(t, "journey#cb1", str(fake.items["journey#j1"]["ParentKey"]))

	require.NoError(t, b.Put(ctx, doc, 1))
	assert.Equal(t, int64(2), doc.Version)
	assert.ErrorIs(t, b.Put(ctx, doc, 1), repository.ErrVersionConflict)

	require.NoError(t, b.Put(ctx, doc, repository.AnyVersion))
	assert.Equal(t, int64(3), doc.Version)

	_, err = b.Get(ctx, repository.KindJourney, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestBackend_EmptyIndexKeysAreOmitted(t *testing.T) {
	fake := newFakeDynamo()
	b := NewWithClient(fake, "engine")
	require.NoError(t, b.Put(context.Background(), &repository.Document{Kind: repository.KindCampaign, ID: "c1", Body: []byte(`{}`)}, 0))
	item := fake.items["campaign#c1"]
	assert.NotContains(t, item, "ParentKey")
	assert.NotContains(t, item, "StatusKey")
}

func TestBackend_StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(NewWithClient(newFakeDynamo(), "engine"))
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		mtb := domain.NewMultiTenantBatch("mtb-"+strconv.Itoa(i), domain.WorkflowCampaign{Name: "tpl"}, []string{"t1"}, domain.BatchOptions{}, now)
		require.NoError(t, store.CreateMultiTenantBatch(ctx, mtb))
	}
	_, err := store.UpdateMultiTenantBatch(ctx, "mtb-1", func(b *domain.MultiTenantBatch) error {
		return b.Transition(domain.BatchValidating, "", now)
	})
	require.NoError(t, err)

	created, err := store.ListMultiTenantBatches(ctx, []domain.BatchStatus{domain.BatchCreated}, repository.Page{})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "mtb-0", created[0].ID)
	assert.Equal(t, "mtb-2", created[1].ID)

	all, err := store.ListMultiTenantBatches(ctx, nil, repository.Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "mtb-1", all[0].ID)
	assert.Equal(t, domain.BatchValidating, all[0].Status)

	j := domain.NewJourney("t1", "cb1", "wf", "r1", map[string]interface{}{"email": "a@example.com"}, now)
	require.NoError(t, store.SaveJourney(ctx, j))
	journeys, err := store.ListJourneys(ctx, "cb1", nil, repository.Page{})
	require.NoError(t, err)
	require.Len(t, journeys, 1)
	assert.Equal(t, "a@example.com", journeys[0].RecipientData["email"])
}
