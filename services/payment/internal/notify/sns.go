package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"example.com/order-payments/pkg/circuitbreaker"
)

// snsAPI — часть sns.Client, используемая SNSNotifier.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier публикует письма в SNS топик (альтернатива Kafka).
type SNSNotifier struct {
	client   snsAPI
	topicARN string
	breaker  *circuitbreaker.Breaker
}

// NewSNSNotifier создаёт SNSNotifier с конфигурацией AWS по умолчанию
// (переменные окружения, shared config, IAM роль).
func NewSNSNotifier(ctx context.Context, topicARN string) (*SNSNotifier, error) {
	if topicARN == "" {
		return nil, fmt.Errorf("не задан ARN SNS топика")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	return newSNSNotifier(sns.NewFromConfig(cfg), topicARN), nil
}

func newSNSNotifier(client snsAPI, topicARN string) *SNSNotifier {
	return &SNSNotifier{
		client:   client,
		topicARN: topicARN,
		breaker:  circuitbreaker.New("sns", nil),
	}
}

// SendOrderConfirmation публикует письмо о подтверждении заказа.
func (n *SNSNotifier) SendOrderConfirmation(ctx context.Context, msg OrderConfirmation) error {
	return n.publish(ctx, EventOrderConfirmation, msg.OrderNumber,
		newEmailMessage(TemplateOrderConfirmation, msg.Email, msg))
}

// SendPromptGuide публикует письмо с инструкцией по промпту.
func (n *SNSNotifier) SendPromptGuide(ctx context.Context, msg PromptGuide) error {
	return n.publish(ctx, EventPromptGuide, msg.OrderNumber,
		newEmailMessage(TemplatePromptGuide, msg.Email, msg))
}

func (n *SNSNotifier) publish(ctx context.Context, eventType, orderNumber string, payload emailMessage) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации %s: %w", eventType, err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(eventType),
			},
			"order_number": {
				DataType:    aws.String("String"),
				StringValue: aws.String(orderNumber),
			},
		},
	}

	_, err = circuitbreaker.Execute(n.breaker, func() (*sns.PublishOutput, error) {
		return n.client.Publish(ctx, input)
	})
	if err != nil {
		return fmt.Errorf("ошибка публикации %s в SNS: %w", eventType, err)
	}
	return nil
}
