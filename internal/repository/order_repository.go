package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/fulplan/Shattawale/internal/domain"
)

var ErrOrderNotFound = errors.New("order not found")

type OrderRepository struct {
	client    *dynamodb.Client
	tableName string
}

func NewOrderRepository(client *dynamodb.Client, tableName string) *OrderRepository {
	return &OrderRepository{
		client:    client,
		tableName: tableName,
	}
}

type orderRecord struct {
	OrderID         string                 `dynamodbav:"order_id"`
	OrderNumber     string                 `dynamodbav:"order_number"`
	CustomerID      string                 `dynamodbav:"customer_id"`
	ChatID          string                 `dynamodbav:"chat_id"`
	Status          string                 `dynamodbav:"status"`
	TotalAmount     string                 `dynamodbav:"total_amount"`
	ShippingAmount  string                 `dynamodbav:"shipping_amount"`
	DeliveryAddress domain.DeliveryAddress `dynamodbav:"delivery_address"`
	Phone           string                 `dynamodbav:"phone"`
	Notes           string                 `dynamodbav:"notes,omitempty"`
	TrackingNumber  string                 `dynamodbav:"tracking_number,omitempty"`
	CreatedAt       time.Time              `dynamodbav:"created_at"`
	UpdatedAt       time.Time              `dynamodbav:"updated_at"`
}

func toOrderRecord(o *domain.Order) orderRecord {
	return orderRecord{
		OrderID:         o.OrderID,
		OrderNumber:     o.OrderNumber,
		CustomerID:      o.CustomerID,
		ChatID:          o.ChatID,
		Status:          string(o.Status),
		TotalAmount:     o.TotalAmount.String(),
		ShippingAmount:  o.ShippingAmount.String(),
		DeliveryAddress: o.DeliveryAddress,
		Phone:           o.Phone,
		Notes:           o.Notes,
		TrackingNumber:  o.TrackingNumber,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func fromOrderRecord(rec orderRecord) (*domain.Order, error) {
	total, err := decimal.NewFromString(rec.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("parse total amount: %w", err)
	}
	shipping, err := decimal.NewFromString(rec.ShippingAmount)
	if err != nil {
		return nil, fmt.Errorf("parse shipping amount: %w", err)
	}
	return &domain.Order{
		OrderID:         rec.OrderID,
		OrderNumber:     rec.OrderNumber,
		CustomerID:      rec.CustomerID,
		ChatID:          rec.ChatID,
		Status:          domain.OrderStatus(rec.Status),
		TotalAmount:     total,
		ShippingAmount:  shipping,
		DeliveryAddress: rec.DeliveryAddress,
		Phone:           rec.Phone,
		Notes:           rec.Notes,
		TrackingNumber:  rec.TrackingNumber,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}, nil
}

// NextOrderNumber reserves the next sequence number for the calendar day via
// an atomic counter item and formats it ORD-YYYYMMDD-NNNN. Concurrent
// checkouts never observe the same sequence.
func (r *OrderRepository) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("COUNTER#ORDER#%s", day)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
		UpdateExpression: aws.String("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return "", fmt.Errorf("increment order counter: %w", err)
	}

	seqAttr, ok := out.Attributes["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return "", fmt.Errorf("order counter returned no sequence")
	}
	seq, err := strconv.ParseInt(seqAttr.Value, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse order counter: %w", err)
	}

	return fmt.Sprintf("ORD-%s-%04d", day, seq), nil
}

// CreateCheckout writes the order and its payment in one transaction so a
// crashed checkout never leaves one without the other.
func (r *OrderRepository) CreateCheckout(ctx context.Context, order *domain.Order, payment *domain.Payment) error {
	orderItem, err := attributevalue.MarshalMap(toOrderRecord(order))
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	orderItem["PK"] = &types.AttributeValueMemberS{Value: fmt.Sprintf("ORDER#%s", order.OrderID)}
	orderItem["SK"] = &types.AttributeValueMemberS{Value: "METADATA"}

	paymentItem, err := marshalPaymentItem(payment)
	if err != nil {
		return err
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(r.tableName),
					Item:                orderItem,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(r.tableName),
					Item:                paymentItem,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create checkout: %w", err)
	}

	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("ORDER#%s", id)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, ErrOrderNotFound
	}

	var rec orderRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, err
	}
	return fromOrderRecord(rec)
}

// UpdateOrderStatus stamps the new status and updated-at on an existing
// order. Updating an unknown order is ErrOrderNotFound, not an upsert.
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("ORDER#%s", id)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
		UpdateExpression:    aws.String("SET #st = :status, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
			":now":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}
