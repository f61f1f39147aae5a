package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snsTypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// Provider delivers one emergency message and returns its delivery reference.
type Provider interface {
	Name() string
	Addressing() Addressing
	Send(ctx context.Context, msg Message) (string, error)
}

type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

type TwilioProvider struct {
	api        messageCreator
	fromNumber string
}

func NewTwilioProvider(accountSID, authToken, fromNumber string) *TwilioProvider {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioProvider{api: client.Api, fromNumber: fromNumber}
}

func (t *TwilioProvider) Name() string           { return "twilio" }
func (t *TwilioProvider) Addressing() Addressing { return AddressPhone }

func (t *TwilioProvider) Send(_ context.Context, msg Message) (string, error) {
	params := &api.CreateMessageParams{}
	params.SetTo(msg.Recipient)
	params.SetFrom(t.fromNumber)
	params.SetBody(msg.Body)

	resp, err := t.api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("twilio send: %w", err)
	}
	if resp.Sid == nil {
		return "", nil
	}
	return *resp.Sid, nil
}

type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSProvider struct {
	client snsPublisher
}

func NewSNSProvider(ctx context.Context, region string) (*SNSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNSProvider{client: sns.NewFromConfig(cfg)}, nil
}

func (a *SNSProvider) Name() string           { return "sns" }
func (a *SNSProvider) Addressing() Addressing { return AddressPhone }

func (a *SNSProvider) Send(ctx context.Context, msg Message) (string, error) {
	resp, err := a.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(msg.Recipient),
		Message:     aws.String(msg.Body),
		MessageAttributes: map[string]snsTypes.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("sns publish: %w", err)
	}
	return aws.ToString(resp.MessageId), nil
}

type publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// QueueProvider hands the alert to the email dispatcher over RabbitMQ.
type QueueProvider struct {
	pub      publisher
	exchange string
}

func NewQueueProvider(pub publisher, exchange string) *QueueProvider {
	return &QueueProvider{pub: pub, exchange: exchange}
}

func (q *QueueProvider) Name() string           { return "amqp" }
func (q *QueueProvider) Addressing() Addressing { return AddressEmail }

func (q *QueueProvider) Send(ctx context.Context, msg Message) (string, error) {
	ref := uuid.NewString()
	body, err := json.Marshal(struct {
		ID string `json:"id"`
		Message
	}{ID: ref, Message: msg})
	if err != nil {
		return "", err
	}
	if err := q.pub.Publish(ctx, q.exchange, "emergency", body); err != nil {
		return "", err
	}
	return ref, nil
}

// LogProvider only writes the alert to the log. It is the default when no
// delivery provider is configured.
type LogProvider struct {
	log logrus.FieldLogger
}

func NewLogProvider(log logrus.FieldLogger) *LogProvider {
	return &LogProvider{log: log}
}

func (l *LogProvider) Name() string           { return "log" }
func (l *LogProvider) Addressing() Addressing { return AddressEmail }

func (l *LogProvider) Send(_ context.Context, msg Message) (string, error) {
	l.log.WithFields(logrus.Fields{
		"trip_id":   msg.TripID,
		"recipient": msg.Recipient,
	}).Warn(msg.Body)
	return "", nil
}
