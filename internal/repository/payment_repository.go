package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/fulplan/Shattawale/internal/domain"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrAlreadyResolved means the conditional write lost the race: some other
	// writer moved the payment out of PENDING first. Nothing was written.
	ErrAlreadyResolved = errors.New("payment already resolved")
)

type PaymentRepository struct {
	client    *dynamodb.Client
	tableName string
}

func NewPaymentRepository(client *dynamodb.Client, tableName string) *PaymentRepository {
	return &PaymentRepository{
		client:    client,
		tableName: tableName,
	}
}

type paymentRecord struct {
	PaymentID       string    `dynamodbav:"payment_id"`
	OrderID         string    `dynamodbav:"order_id"`
	IdempotencyKey  string    `dynamodbav:"idempotency_key"`
	ExternalID      string    `dynamodbav:"external_id"`
	Provider        string    `dynamodbav:"provider"`
	Amount          string    `dynamodbav:"amount"`
	Currency        string    `dynamodbav:"currency"`
	Status          string    `dynamodbav:"status"`
	ProviderRef     string    `dynamodbav:"provider_ref,omitempty"`
	Phone           string    `dynamodbav:"phone"`
	ProviderPayload string    `dynamodbav:"provider_payload,omitempty"`
	WebhookPayload  string    `dynamodbav:"webhook_payload,omitempty"`
	FailureReason   string    `dynamodbav:"failure_reason,omitempty"`
	CreatedAt       time.Time `dynamodbav:"created_at"`
	UpdatedAt       time.Time `dynamodbav:"updated_at"`
	ExpiresAt       time.Time `dynamodbav:"expires_at"`
}

func toPaymentRecord(p *domain.Payment) paymentRecord {
	return paymentRecord{
		PaymentID:       p.PaymentID,
		OrderID:         p.OrderID,
		IdempotencyKey:  p.IdempotencyKey,
		ExternalID:      p.ExternalID,
		Provider:        p.Provider,
		Amount:          p.Amount.String(),
		Currency:        p.Currency,
		Status:          string(p.Status),
		ProviderRef:     p.ProviderRef,
		Phone:           p.Phone,
		ProviderPayload: p.ProviderPayload,
		WebhookPayload:  p.WebhookPayload,
		FailureReason:   p.FailureReason,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		ExpiresAt:       p.ExpiresAt,
	}
}

func fromPaymentRecord(rec paymentRecord) (*domain.Payment, error) {
	amount, err := decimal.NewFromString(rec.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse payment amount: %w", err)
	}
	return &domain.Payment{
		PaymentID:       rec.PaymentID,
		OrderID:         rec.OrderID,
		IdempotencyKey:  rec.IdempotencyKey,
		ExternalID:      rec.ExternalID,
		Provider:        rec.Provider,
		Amount:          amount,
		Currency:        rec.Currency,
		Status:          domain.PaymentStatus(rec.Status),
		ProviderRef:     rec.ProviderRef,
		Phone:           rec.Phone,
		ProviderPayload: rec.ProviderPayload,
		WebhookPayload:  rec.WebhookPayload,
		FailureReason:   rec.FailureReason,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
		ExpiresAt:       rec.ExpiresAt,
	}, nil
}

// marshalPaymentItem builds the full DynamoDB item including the GSI keys
// used for the pending scan and the webhook correlation lookups.
func marshalPaymentItem(p *domain.Payment) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(toPaymentRecord(p))
	if err != nil {
		return nil, fmt.Errorf("marshal payment: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: fmt.Sprintf("PAYMENT#%s", p.PaymentID)}
	item["SK"] = &types.AttributeValueMemberS{Value: "METADATA"}
	item["GSI1PK"] = &types.AttributeValueMemberS{Value: fmt.Sprintf("PAYSTATUS#%s", p.Status)}
	item["GSI1SK"] = &types.AttributeValueMemberS{Value: p.CreatedAt.UTC().Format(time.RFC3339Nano)}
	item["GSI3PK"] = &types.AttributeValueMemberS{Value: fmt.Sprintf("PAYEXT#%s", p.ExternalID)}
	item["GSI4PK"] = &types.AttributeValueMemberS{Value: fmt.Sprintf("PAYIDEM#%s", p.IdempotencyKey)}
	if p.ProviderRef != "" {
		item["GSI2PK"] = &types.AttributeValueMemberS{Value: fmt.Sprintf("PAYREF#%s", p.ProviderRef)}
	}
	return item, nil
}

func (r *PaymentRepository) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("PAYMENT#%s", id)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, ErrPaymentNotFound
	}

	var rec paymentRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, err
	}
	return fromPaymentRecord(rec)
}

// GetPendingPayments returns every PENDING payment, oldest first. The batch
// is unbounded; fine at this system's volume.
func (r *PaymentRepository) GetPendingPayments(ctx context.Context) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	var startKey map[string]types.AttributeValue

	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			IndexName:              aws.String(indexStatus),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("PAYSTATUS#%s", domain.PaymentStatusPending)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query pending payments: %w", err)
		}

		for _, item := range out.Items {
			var rec paymentRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, err
			}
			p, err := fromPaymentRecord(rec)
			if err != nil {
				return nil, err
			}
			payments = append(payments, p)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return payments, nil
}

func (r *PaymentRepository) GetPaymentByReference(ctx context.Context, referenceID string) (*domain.Payment, error) {
	return r.queryOne(ctx, indexReference, "GSI2PK", fmt.Sprintf("PAYREF#%s", referenceID))
}

func (r *PaymentRepository) GetPaymentByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	return r.queryOne(ctx, indexExternal, "GSI3PK", fmt.Sprintf("PAYEXT#%s", externalID))
}

func (r *PaymentRepository) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	return r.queryOne(ctx, indexIdempotency, "GSI4PK", fmt.Sprintf("PAYIDEM#%s", key))
}

func (r *PaymentRepository) queryOne(ctx context.Context, index, keyAttr, keyValue string) (*domain.Payment, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(fmt.Sprintf("%s = :pk", keyAttr)),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: keyValue},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", index, err)
	}
	if len(out.Items) == 0 {
		return nil, ErrPaymentNotFound
	}

	var rec paymentRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return nil, err
	}
	return fromPaymentRecord(rec)
}

// AttachProviderRef records the provider-assigned reference once the
// collection request is accepted, and makes the payment findable by it.
func (r *PaymentRepository) AttachProviderRef(ctx context.Context, id, referenceID, rawPayload string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("PAYMENT#%s", id)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
		UpdateExpression:    aws.String("SET provider_ref = :ref, GSI2PK = :gsi2, provider_payload = :raw, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref":  &types.AttributeValueMemberS{Value: referenceID},
			":gsi2": &types.AttributeValueMemberS{Value: fmt.Sprintf("PAYREF#%s", referenceID)},
			":raw":  &types.AttributeValueMemberS{Value: rawPayload},
			":now":  &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrPaymentNotFound
		}
		return fmt.Errorf("attach provider ref: %w", err)
	}
	return nil
}

// ResolveFields carries the terminal-transition payload persisted alongside
// the status flip.
type ResolveFields struct {
	FailureReason   string
	ProviderPayload string
	WebhookPayload  string
}

// ResolvePayment flips a payment from PENDING to a terminal status. The write
// is conditional on the payment still being PENDING, so of two racing writers
// exactly one succeeds; the loser gets ErrAlreadyResolved and no write.
func (r *PaymentRepository) ResolvePayment(ctx context.Context, id string, status domain.PaymentStatus, fields ResolveFields) error {
	expr := "SET #st = :status, GSI1PK = :gsi1, updated_at = :now"
	values := map[string]types.AttributeValue{
		":status":  &types.AttributeValueMemberS{Value: string(status)},
		":gsi1":    &types.AttributeValueMemberS{Value: fmt.Sprintf("PAYSTATUS#%s", status)},
		":now":     &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		":pending": &types.AttributeValueMemberS{Value: string(domain.PaymentStatusPending)},
	}
	if fields.FailureReason != "" {
		expr += ", failure_reason = :reason"
		values[":reason"] = &types.AttributeValueMemberS{Value: fields.FailureReason}
	}
	if fields.ProviderPayload != "" {
		expr += ", provider_payload = :ppay"
		values[":ppay"] = &types.AttributeValueMemberS{Value: fields.ProviderPayload}
	}
	if fields.WebhookPayload != "" {
		expr += ", webhook_payload = :wpay"
		values[":wpay"] = &types.AttributeValueMemberS{Value: fields.WebhookPayload}
	}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("PAYMENT#%s", id)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
		UpdateExpression:    aws.String(expr),
		ConditionExpression: aws.String("#st = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrAlreadyResolved
		}
		return fmt.Errorf("resolve payment: %w", err)
	}
	return nil
}
