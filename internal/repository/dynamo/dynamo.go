// Package dynamo stores engine documents in a single DynamoDB table.
//
// Table layout:
//
//	PK = "<kind>#<id>", SK = "DOC"
//	KindIndex   (Kind, ID)
//	ParentIndex (ParentKey = "<kind>#<parent id>", ID)
//	StatusIndex (StatusKey = "<kind>#<status>", ID)
//
// Data holds the JSON body; Version drives conditional writes.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/campaign-engine/internal/repository"
)

const (
	sortKey     = "DOC"
	kindIndex   = "KindIndex"
	parentIndex = "ParentIndex"
	statusIndex = "StatusIndex"
)

// API is the subset of the DynamoDB client the backend needs.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Item is the stored shape of a document.
type Item struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Kind      string `dynamodbav:"Kind"`
	ID        string `dynamodbav:"ID"`
	TenantID  string `dynamodbav:"TenantID,omitempty"`
	ParentID  string `dynamodbav:"ParentID,omitempty"`
	ParentKey string `dynamodbav:"ParentKey,omitempty"`
	Status    string `dynamodbav:"Status,omitempty"`
	StatusKey string `dynamodbav:"StatusKey,omitempty"`
	Version   int64  `dynamodbav:"Version"`
	Data      string `dynamodbav:"Data"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

// Backend implements repository.Backend on DynamoDB.
type Backend struct {
	client    API
	tableName string
}

// Config selects the table and AWS credentials.
type Config struct {
	TableName string
	Region    string
	Profile   string
	// Endpoint overrides the service endpoint (DynamoDB Local).
	Endpoint string
}

// New loads the default AWS config and connects to the table.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.TableName), nil
}

// NewWithClient uses an existing client.
func NewWithClient(client API, tableName string) *Backend {
	return &Backend{client: client, tableName: tableName}
}

func partitionKey(kind repository.Kind, id string) string {
	return string(kind) + "#" + id
}

func itemKey(kind repository.Kind, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: partitionKey(kind, id)},
		"SK": &types.AttributeValueMemberS{Value: sortKey},
	}
}

func toItem(doc *repository.Document) Item {
	it := Item{
		PK:        partitionKey(doc.Kind, doc.ID),
		SK:        sortKey,
		Kind:      string(doc.Kind),
		ID:        doc.ID,
		TenantID:  doc.TenantID,
		ParentID:  doc.ParentID,
		Status:    doc.Status,
		Version:   doc.Version,
		Data:      string(doc.Body),
		UpdatedAt: doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if doc.ParentID != "" {
		it.ParentKey = partitionKey(doc.Kind, doc.ParentID)
	}
	if doc.Status != "" {
		it.StatusKey = partitionKey(doc.Kind, doc.Status)
	}
	return it
}

func fromItem(it Item) *repository.Document {
	updated, _ := time.Parse(time.RFC3339Nano, it.UpdatedAt)
	return &repository.Document{
		Kind:      repository.Kind(it.Kind),
		ID:        it.ID,
		TenantID:  it.TenantID,
		ParentID:  it.ParentID,
		Status:    it.Status,
		Version:   it.Version,
		Body:      []byte(it.Data),
		UpdatedAt: updated,
	}
}

// Get implements repository.Backend.
func (b *Backend) Get(ctx context.Context, kind repository.Kind, id string) (*repository.Document, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.tableName),
		Key:            itemKey(kind, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting %s %s from DynamoDB: %w", kind, id, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s %s", repository.ErrNotFound, kind, id)
	}
	var it Item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshaling %s %s: %w", kind, id, err)
	}
	return fromItem(it), nil
}

// Put implements repository.Backend with a conditional PutItem.
func (b *Backend) Put(ctx context.Context, doc *repository.Document, expectedVersion int64) error {
	in := &dynamodb.PutItemInput{TableName: aws.String(b.tableName)}

	switch {
	case expectedVersion == repository.AnyVersion:
		current, err := b.Get(ctx, doc.Kind, doc.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			doc.Version = 1
		case err != nil:
			return err
		default:
			doc.Version = current.Version + 1
		}
	case expectedVersion == 0:
		doc.Version = 1
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	default:
		doc.Version = expectedVersion + 1
		in.ConditionExpression = aws.String("Version = :expected")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprint(expectedVersion)},
		}
	}

	av, err := attributevalue.MarshalMap(toItem(doc))
	if err != nil {
		return fmt.Errorf("marshaling %s %s: %w", doc.Kind, doc.ID, err)
	}
	in.Item = av

	if _, err := b.client.PutItem(ctx, in); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s %s", repository.ErrVersionConflict, doc.Kind, doc.ID)
		}
		return fmt.Errorf("putting %s %s to DynamoDB: %w", doc.Kind, doc.ID, err)
	}
	return nil
}

// Query implements repository.Backend. It reads the narrowest index for
// the query and applies the remaining filters client side.
func (b *Backend) Query(ctx context.Context, q repository.Query) ([]*repository.Document, error) {
	var inputs []*dynamodb.QueryInput
	switch {
	case q.ParentID != "":
		inputs = append(inputs, b.indexQuery(parentIndex, "ParentKey", partitionKey(q.Kind, q.ParentID)))
	case len(q.Statuses) > 0:
		for _, s := range q.Statuses {
			inputs = append(inputs, b.indexQuery(statusIndex, "StatusKey", partitionKey(q.Kind, s)))
		}
	default:
		inputs = append(inputs, b.indexQuery(kindIndex, "Kind", string(q.Kind)))
	}

	seen := map[string]struct{}{}
	var docs []*repository.Document
	for _, in := range inputs {
		p := dynamodb.NewQueryPaginator(b.client, in)
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("querying %s on %s: %w", q.Kind, aws.ToString(in.IndexName), err)
			}
			for _, raw := range page.Items {
				var it Item
				if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
					return nil, fmt.Errorf("unmarshaling %s item: %w", q.Kind, err)
				}
				doc := fromItem(it)
				if _, dup := seen[doc.ID]; dup || !q.Matches(doc) {
					continue
				}
				seen[doc.ID] = struct{}{}
				docs = append(docs, doc)
			}
		}
	}
	sort.Slice(docs, func(i, j int) bool { return strings.Compare(docs[i].ID, docs[j].ID) < 0 })
	return q.Page(docs), nil
}

func (b *Backend) indexQuery(index, attr, value string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(b.tableName),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("#k = :v"),
		ExpressionAttributeNames: map[string]string{
			"#k": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
	}
}
