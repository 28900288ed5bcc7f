package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/astrocoach/services/insight/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"
)

// ScenarioRequestPayload is the body of a scenario request message. Kind
// selects the simulation; the remaining fields are interpreted per kind.
type ScenarioRequestPayload struct {
	Kind               string             `json:"kind"`
	UserIDs            []string           `json:"user_ids,omitempty"`
	FeatureDeltas      map[string]float64 `json:"feature_deltas,omitempty"`
	InterventionEffect map[string]float64 `json:"intervention_effect,omitempty"`
	MinProbability     float64            `json:"min_probability,omitempty"`
	Capacity           int                `json:"capacity,omitempty"`
	Budget             float64            `json:"budget,omitempty"`
	UnitCost           float64            `json:"unit_cost,omitempty"`
	Clamp              bool               `json:"clamp,omitempty"`
	RevenuePerUser     float64            `json:"revenue_per_user,omitempty"`
}

// ScenarioCompletedPayload is published after a scenario result is persisted
type ScenarioCompletedPayload struct {
	ScenarioID      string  `json:"scenario_id"`
	ScenarioKind    string  `json:"scenario_kind"`
	Delta           float64 `json:"delta"`
	PopulationSize  int     `json:"population_size"`
	BaselineMetric  float64 `json:"baseline_metric"`
	SimulatedMetric float64 `json:"simulated_metric"`
}

// ServiceBusClient is an interface for Azure Service Bus send operations
type ServiceBusClient interface {
	SendMessage(ctx context.Context, body interface{}) error
	Close() error
}

// serviceBusClient implements the ServiceBusClient interface
type serviceBusClient struct {
	client     *azservicebus.Client
	sender     *azservicebus.Sender
	queueName  string
	clientType string
}

// NewServiceBusClient creates a new Azure Service Bus sender for a queue
func NewServiceBusClient(cfg config.AzureConfig, queueName, clientType string) (ServiceBusClient, error) {
	if cfg.QueueConnStr == "" {
		return nil, fmt.Errorf("Azure Service Bus connection string is empty")
	}

	// Create the Service Bus client
	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	// Create a sender for the queue
	sender, err := client.NewSender(queueName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	return &serviceBusClient{
		client:     client,
		sender:     sender,
		queueName:  queueName,
		clientType: clientType,
	}, nil
}

// SendMessage sends a message to the Service Bus queue
func (s *serviceBusClient) SendMessage(ctx context.Context, body interface{}) error {
	// Convert the body to JSON
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message body: %w", err)
	}

	// Create the message
	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": s.clientType,
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	// Send the message
	return s.sender.SendMessage(ctx, msg, nil)
}

// Close closes the Service Bus client
func (s *serviceBusClient) Close() error {
	// Close the sender
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}

	// Close the client
	if s.client != nil {
		return s.client.Close(context.Background())
	}

	return nil
}

// RequestHandler processes a decoded scenario request
type RequestHandler func(ctx context.Context, payload *ScenarioRequestPayload) error

// RequestProcessor consumes scenario requests from a Service Bus queue
type RequestProcessor struct {
	client    *azservicebus.Client
	queueName string
}

// NewRequestProcessor creates a consumer for the scenario request queue
func NewRequestProcessor(cfg config.AzureConfig) (*RequestProcessor, error) {
	if cfg.QueueConnStr == "" {
		return nil, fmt.Errorf("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	return &RequestProcessor{
		client:    client,
		queueName: cfg.RequestQueue,
	}, nil
}

// ProcessMessages receives scenario requests in batches until the context
// is cancelled. Failed messages are abandoned back to the queue.
func (p *RequestProcessor) ProcessMessages(ctx context.Context, handler RequestHandler) error {
	receiver, err := p.client.NewReceiverForQueue(p.queueName, nil)
	if err != nil {
		return fmt.Errorf("failed to create Service Bus receiver: %w", err)
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("error closing Service Bus receiver")
		}
	}()

	log.Info().Msgf("Starting consumer for queue %s", p.queueName)

	for {
		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to receive messages: %w", err)
		}

		for _, message := range messages {
			payload, err := decodeScenarioRequest(message.Body)
			if err == nil {
				err = handler(ctx, payload)
			}
			if err != nil {
				log.Error().Err(err).Msgf("Error processing message '%s'", message.MessageID)
				// Return the message to the queue
				if err := receiver.AbandonMessage(context.Background(), message, nil); err != nil {
					log.Error().Err(err).Msgf("(AbandonMessage) err: %v", err)
				}
				continue
			}

			if err := receiver.CompleteMessage(context.Background(), message, nil); err != nil {
				log.Error().Err(err).Msgf("(CompleteMessage) err: %v", err)
			}
		}
	}
}

// Close closes the processor's underlying client
func (p *RequestProcessor) Close() error {
	if p.client != nil {
		return p.client.Close(context.Background())
	}
	return nil
}

func decodeScenarioRequest(body []byte) (*ScenarioRequestPayload, error) {
	var payload ScenarioRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scenario request: %w", err)
	}
	if payload.Kind == "" {
		return nil, fmt.Errorf("scenario request has no kind")
	}
	return &payload, nil
}
