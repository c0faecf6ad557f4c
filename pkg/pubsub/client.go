package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kitchenops/kitchenops-backend/pkg/config"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

// Attribute keys set on every lifecycle message.
const (
	AttrEventType = "event_type"
	AttrVersion   = "version"
)

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	lifecycle *pubsub.Publisher
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub lifecycle topic is required")
)

// NewClient creates a Pub/Sub v2 client and verifies the lifecycle topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	var opts []option.ClientOption
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	c, err := newClient(ctx, gcp.ProjectID, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}
	return c, nil
}

func newClient(ctx context.Context, projectID string, cfg config.PubSubConfig, opts ...option.ClientOption) (*Client, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errProjectIDRequired
	}
	if !cfg.Enabled() {
		return nil, errTopicRequired
	}

	psClient, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: projectID,
		cfg:       cfg,
	}
	if err := c.ensureTopicExists(ctx, cfg.LifecycleTopic); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	c.lifecycle = psClient.Publisher(c.topicResourceName(cfg.LifecycleTopic))
	return c, nil
}

func (c *Client) ensureTopicExists(ctx context.Context, name string) error {
	fullName := c.topicResourceName(name)
	if fullName == "" {
		return fmt.Errorf("topic %q not configured", name)
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", name)
		}
		return fmt.Errorf("checking topic %q: %w", name, err)
	}
	return nil
}

// PublishLifecycle publishes a tenant lifecycle event and waits for the server id.
func (c *Client) PublishLifecycle(ctx context.Context, eventType string, version int, data []byte) (string, error) {
	if c == nil || c.lifecycle == nil {
		return "", errors.New("pubsub lifecycle publisher not initialized")
	}
	res := c.lifecycle.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrEventType: eventType,
			AttrVersion:   fmt.Sprintf("%d", version),
		},
	})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", eventType, err)
	}
	return id, nil
}

// Ping verifies Pub/Sub connectivity by checking the lifecycle topic.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("pubsub client not initialized")
	}
	return c.ensureTopicExists(ctx, c.cfg.LifecycleTopic)
}

// Close flushes pending messages and releases client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.lifecycle != nil {
		c.lifecycle.Stop()
	}
	return c.client.Close()
}

func (c *Client) topicResourceName(name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}
