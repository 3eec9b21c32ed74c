// Package transport is the outbound delivery collaborator: the client of the
// messaging-network gateway that actually puts messages on the wire. The
// routing core only depends on the Transport interface; the gateway protocol
// lives entirely in this package.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeliveryReceipt is the gateway's acknowledgment of an accepted send.
type DeliveryReceipt struct {
	ExternalID string    `json:"external_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// TextSend is a plain text delivery request.
type TextSend struct {
	TicketID  int64     `json:"ticket_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Number    string    `json:"number"`
	Body      string    `json:"body"`
}

// MediaSend is a single-attachment delivery request. One attachment per
// call — the orchestrator fans multi-attachment sends out itself so partial
// failures stay independent.
type MediaSend struct {
	TicketID  int64     `json:"ticket_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Number    string    `json:"number"`
	MediaURL  string    `json:"media_url"`
	MediaType string    `json:"media_type"`
	Caption   string    `json:"caption"`
}

// Transport delivers outbound messages. Errors are terminal from the core's
// point of view; any retry policy lives behind this interface.
type Transport interface {
	SendText(ctx context.Context, req TextSend) (*DeliveryReceipt, error)
	SendMedia(ctx context.Context, req MediaSend) (*DeliveryReceipt, error)
}

// GatewayClient talks JSON over HTTP to the messaging gateway sidecar.
type GatewayClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewGatewayClient(baseURL string, logger *zap.Logger) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (g *GatewayClient) SendText(ctx context.Context, req TextSend) (*DeliveryReceipt, error) {
	return g.post(ctx, "/v1/send/text", req)
}

func (g *GatewayClient) SendMedia(ctx context.Context, req MediaSend) (*DeliveryReceipt, error) {
	return g.post(ctx, "/v1/send/media", req)
}

func (g *GatewayClient) post(ctx context.Context, path string, body any) (*DeliveryReceipt, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var receipt DeliveryReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decode delivery receipt: %w", err)
	}
	return &receipt, nil
}
