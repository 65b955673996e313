package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/abrezinsky/eventxp/internal/models"
)

// DynamoAPI is the subset of the DynamoDB client the store uses
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoConfig locates the tables backing a DynamoRepository
type DynamoConfig struct {
	Region       string
	Endpoint     string
	EventsTable  string
	LedgersTable string
}

// DynamoRepository stores event and ledger documents in DynamoDB.
// Events are guarded by a Version attribute; ledgers use ADD updates.
type DynamoRepository struct {
	client       DynamoAPI
	eventsTable  string
	ledgersTable string
	maxRetries   int
	now          func() time.Time
}

// eventItem is the DynamoDB shape of an event document
type eventItem struct {
	PK            string `dynamodbav:"PK"`
	Status        string `dynamodbav:"Status"`
	RequestedBy   string `dynamodbav:"RequestedBy"`
	ParentEventID string `dynamodbav:"ParentEventID,omitempty"`
	Body          string `dynamodbav:"Body"`
	Version       int64  `dynamodbav:"Version"`
	CreatedAt     string `dynamodbav:"CreatedAt"`
}

const ledgerAwardedAttr = "AwardedEvents"

// NewDynamo builds a DynamoRepository from the default AWS credential chain
func NewDynamo(ctx context.Context, cfg DynamoConfig, opts ...Option) (*DynamoRepository, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewDynamoRepository(client, cfg.EventsTable, cfg.LedgersTable, opts...), nil
}

// NewDynamoRepository wraps an existing client
func NewDynamoRepository(client DynamoAPI, eventsTable, ledgersTable string, opts ...Option) *DynamoRepository {
	o := buildOptions(opts)
	return &DynamoRepository{
		client:       client,
		eventsTable:  eventsTable,
		ledgersTable: ledgersTable,
		maxRetries:   o.maxRetries,
		now:          o.now,
	}
}

// Ping checks that the events table is reachable
func (d *DynamoRepository) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.eventsTable)})
	return err
}

// Close is a no-op; the SDK client holds no long-lived connection
func (d *DynamoRepository) Close() error {
	return nil
}

func eventKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: id}}
}

// GetEvent retrieves an event document by id
func (d *DynamoRepository) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.eventsTable),
		Key:            eventKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var item eventItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal event item: %w", err)
	}
	return decodeEvent(item.Body, item.Version)
}

func (d *DynamoRepository) marshalEvent(ev *models.Event) (map[string]types.AttributeValue, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return attributevalue.MarshalMap(eventItem{
		PK:            ev.ID,
		Status:        string(ev.Status),
		RequestedBy:   ev.RequestedBy,
		ParentEventID: ev.ParentEventID,
		Body:          string(body),
		Version:       ev.Version,
		CreatedAt:     ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// newItemPut stamps ev as a fresh version-1 document
func (d *DynamoRepository) newItemPut(ev *models.Event) (*types.Put, error) {
	now := d.now()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	ev.Version = 1

	item, err := d.marshalEvent(ev)
	if err != nil {
		return nil, err
	}
	return &types.Put{
		TableName:           aws.String(d.eventsTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}, nil
}

// versionedPut writes ev only if the stored Version still equals expected
func (d *DynamoRepository) versionedPut(ev *models.Event, expected int64) (*types.Put, error) {
	ev.Version = expected + 1
	ev.UpdatedAt = d.now()

	item, err := d.marshalEvent(ev)
	if err != nil {
		return nil, err
	}
	return &types.Put{
		TableName:           aws.String(d.eventsTable),
		Item:                item,
		ConditionExpression: aws.String("Version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	}, nil
}

// CreateEvent inserts a new event document at version 1
func (d *DynamoRepository) CreateEvent(ctx context.Context, ev *models.Event) error {
	put, err := d.newItemPut(ev)
	if err != nil {
		return err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           put.TableName,
		Item:                put.Item,
		ConditionExpression: put.ConditionExpression,
	})
	if isConditionFailed(err) {
		return ErrAlreadyExists
	}
	return err
}

// UpdateEvent runs fn against a fresh copy of the event and writes it with a
// Version condition. fn may run more than once.
func (d *DynamoRepository) UpdateEvent(ctx context.Context, id string, fn UpdateFunc) (*models.Event, error) {
	ctx, span := tracer.Start(ctx, "dynamo.UpdateEvent", trace.WithAttributes(attribute.String("event.id", id)))
	defer span.End()

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		current, err := d.GetEvent(ctx, id)
		if err != nil {
			return nil, endSpan(span, err)
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}

		put, err := d.versionedPut(next, current.Version)
		if err != nil {
			return nil, endSpan(span, err)
		}
		_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 put.TableName,
			Item:                      put.Item,
			ConditionExpression:       put.ConditionExpression,
			ExpressionAttributeValues: put.ExpressionAttributeValues,
		})
		if err == nil {
			return next, nil
		}
		if !isConditionFailed(err) {
			return nil, endSpan(span, err)
		}
		span.AddEvent("version conflict", trace.WithAttributes(attribute.Int("attempt", attempt)))
	}
	return nil, endSpan(span, ErrVersionConflict)
}

// CreateChildEvent updates the parent through fn and inserts child in one transaction
func (d *DynamoRepository) CreateChildEvent(ctx context.Context, parentID string, child *models.Event, fn UpdateFunc) (*models.Event, error) {
	ctx, span := tracer.Start(ctx, "dynamo.CreateChildEvent", trace.WithAttributes(attribute.String("event.parent_id", parentID)))
	defer span.End()

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		parent, err := d.GetEvent(ctx, parentID)
		if err != nil {
			return nil, endSpan(span, err)
		}

		next := parent.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}

		parentPut, err := d.versionedPut(next, parent.Version)
		if err != nil {
			return nil, endSpan(span, err)
		}
		childPut, err := d.newItemPut(child)
		if err != nil {
			return nil, endSpan(span, err)
		}

		_, err = d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{{Put: parentPut}, {Put: childPut}},
		})
		if err == nil {
			return next, nil
		}
		switch cancelledAt(err) {
		case 0:
			continue
		case 1:
			return nil, endSpan(span, ErrAlreadyExists)
		default:
			return nil, endSpan(span, err)
		}
	}
	return nil, endSpan(span, ErrVersionConflict)
}

// DeleteEvent removes the event if guard accepts it. A child is also removed
// from its parent's child list in the same transaction.
func (d *DynamoRepository) DeleteEvent(ctx context.Context, id string, guard UpdateFunc) error {
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		current, err := d.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(current.Clone()); err != nil {
				return err
			}
		}

		del := &types.Delete{
			TableName:           aws.String(d.eventsTable),
			Key:                 eventKey(id),
			ConditionExpression: aws.String("Version = :expected"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(current.Version, 10)},
			},
		}

		var parent *models.Event
		if current.ParentEventID != "" {
			parent, err = d.GetEvent(ctx, current.ParentEventID)
			if err != nil && err != ErrNotFound {
				return err
			}
		}

		if parent == nil {
			_, err = d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:                 del.TableName,
				Key:                       del.Key,
				ConditionExpression:       del.ConditionExpression,
				ExpressionAttributeValues: del.ExpressionAttributeValues,
			})
			if err == nil {
				return nil
			}
			if !isConditionFailed(err) {
				return err
			}
			continue
		}

		expected := parent.Version
		parent.ChildEventIDs = removeString(parent.ChildEventIDs, id)
		parentPut, err := d.versionedPut(parent, expected)
		if err != nil {
			return err
		}
		_, err = d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{{Delete: del}, {Put: parentPut}},
		})
		if err == nil {
			return nil
		}
		if cancelledAt(err) < 0 {
			return err
		}
	}
	return ErrVersionConflict
}

// QueryEvents scans the events table and filters in memory
func (d *DynamoRepository) QueryEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	items, err := d.scanAll(ctx, d.eventsTable)
	if err != nil {
		return nil, err
	}

	events := []models.Event{}
	for _, raw := range items {
		var item eventItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshal event item: %w", err)
		}
		ev, err := decodeEvent(item.Body, item.Version)
		if err != nil {
			return nil, err
		}
		if filter.Matches(ev) {
			events = append(events, *ev)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if filter.NewestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if filter.NewestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[:filter.Limit]
	}
	return events, nil
}

func (d *DynamoRepository) scanAll(ctx context.Context, table string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var lastEvaluatedKey map[string]types.AttributeValue
	for {
		out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(table),
			ExclusiveStartKey: lastEvaluatedKey,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil {
			return items, nil
		}
		lastEvaluatedKey = out.LastEvaluatedKey
	}
}

// ApplyAward adds deltas with a single ADD update guarded on the awarded event set
func (d *DynamoRepository) ApplyAward(ctx context.Context, userID, eventID string, deltas map[string]int64) (bool, error) {
	fields := make([]string, 0, len(deltas))
	for field := range deltas {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	names := map[string]string{"#awarded": ledgerAwardedAttr}
	values := map[string]types.AttributeValue{
		":eventSet": &types.AttributeValueMemberSS{Value: []string{eventID}},
		":event":    &types.AttributeValueMemberS{Value: eventID},
	}
	expr := "ADD #awarded :eventSet"
	for i, field := range fields {
		name := fmt.Sprintf("#f%d", i)
		value := fmt.Sprintf(":v%d", i)
		names[name] = field
		values[value] = &types.AttributeValueMemberN{Value: strconv.FormatInt(deltas[field], 10)}
		expr += fmt.Sprintf(", %s %s", name, value)
	}

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.ledgersTable),
		Key:                       eventKey(userID),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_not_exists(#awarded) OR NOT contains(#awarded, :event)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetLedger returns a user's ledger. A user who never earned anything has an empty ledger.
func (d *DynamoRepository) GetLedger(ctx context.Context, userID string) (*models.Ledger, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.ledgersTable),
		Key:            eventKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return &models.Ledger{UserID: userID, Fields: map[string]int64{}}, nil
	}
	return decodeLedger(out.Item)
}

// Leaderboard scans every ledger and ranks by total XP
func (d *DynamoRepository) Leaderboard(ctx context.Context, limit int) ([]models.Ledger, error) {
	if limit <= 0 {
		limit = 10
	}
	items, err := d.scanAll(ctx, d.ledgersTable)
	if err != nil {
		return nil, err
	}

	board := make([]models.Ledger, 0, len(items))
	for _, item := range items {
		ledger, err := decodeLedger(item)
		if err != nil {
			return nil, err
		}
		board = append(board, *ledger)
	}

	sort.Slice(board, func(i, j int) bool {
		ti, tj := board[i].TotalXP(), board[j].TotalXP()
		if ti != tj {
			return ti > tj
		}
		return board[i].UserID < board[j].UserID
	})
	if len(board) > limit {
		board = board[:limit]
	}
	return board, nil
}

func decodeLedger(item map[string]types.AttributeValue) (*models.Ledger, error) {
	ledger := &models.Ledger{Fields: map[string]int64{}}
	for name, value := range item {
		switch name {
		case "PK":
			if err := attributevalue.Unmarshal(value, &ledger.UserID); err != nil {
				return nil, fmt.Errorf("unmarshal ledger key: %w", err)
			}
		case ledgerAwardedAttr:
			if set, ok := value.(*types.AttributeValueMemberSS); ok {
				ledger.AwardedEvents = append([]string(nil), set.Value...)
				sort.Strings(ledger.AwardedEvents)
			}
		default:
			n, ok := value.(*types.AttributeValueMemberN)
			if !ok {
				continue
			}
			v, err := strconv.ParseInt(n.Value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("ledger field %s: %w", name, err)
			}
			ledger.Fields[name] = v
		}
	}
	return ledger, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return err != nil && stderrors.As(err, &ccf)
}

// cancelledAt returns the index of the first transaction item whose condition
// failed, or -1 when err is not a conditional cancellation.
func cancelledAt(err error) int {
	var tce *types.TransactionCanceledException
	if !stderrors.As(err, &tce) {
		return -1
	}
	for i, reason := range tce.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return i
		}
	}
	return -1
}
