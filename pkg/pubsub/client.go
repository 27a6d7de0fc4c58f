// Package pubsub owns the Pub/Sub v2 client used by the outbox publisher.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/formpay/pkg/config"
	"github.com/angelmondragon/formpay/pkg/logger"
)

const emulatorHostEnv = "PUBSUB_EMULATOR_HOST"

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("pubsub topic name is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// topicAdmin is the part of the topic admin API the client calls.
type topicAdmin interface {
	GetTopic(ctx context.Context, req *pubsubpb.GetTopicRequest) (*pubsubpb.Topic, error)
	CreateTopic(ctx context.Context, req *pubsubpb.Topic) (*pubsubpb.Topic, error)
}

type Client struct {
	client    *pubsub.Client
	admin     topicAdmin
	projectID string
	cfg       config.PubSubConfig
	logg      *logger.Logger
}

// NewClient connects to Pub/Sub (or the emulator when PUBSUB_EMULATOR_HOST
// is set) and checks that the payment events topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		admin:     adminAdapter{psClient},
		projectID: gcp.ProjectID,
		cfg:       cfg,
		logg:      logg,
	}
	if err := c.ensureTopics(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project_id": gcp.ProjectID,
			"topics":     topicNames(cfg),
			"emulator":   os.Getenv(emulatorHostEnv) != "",
		}), "pubsub client initialized")
	}
	return c, nil
}

// clientOptions prefers inline credentials, then a credentials file, then
// application default credentials. The emulator needs none.
func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if os.Getenv(emulatorHostEnv) != "" {
		return nil
	}
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

func topicNames(cfg config.PubSubConfig) []string {
	var names []string
	if name := strings.TrimSpace(cfg.PaymentEventsTopic); name != "" {
		names = append(names, name)
	}
	return names
}

func (c *Client) ensureTopics(ctx context.Context) error {
	names := topicNames(c.cfg)
	if len(names) == 0 {
		return errNoTopics
	}
	for _, name := range names {
		if err := c.ensureTopic(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// ensureTopic fails on a missing topic unless CreateTopics is set, in which
// case the topic is created. A concurrent create counts as success.
func (c *Client) ensureTopic(ctx context.Context, name string) error {
	fullName := topicResourceName(c.projectID, name)
	if fullName == "" {
		return fmt.Errorf("topic %q not configured", name)
	}

	_, err := c.admin.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	switch {
	case err == nil:
		return nil
	case status.Code(err) != codes.NotFound:
		return fmt.Errorf("checking topic %q: %w", name, err)
	case !c.cfg.CreateTopics:
		return fmt.Errorf("topic %q does not exist", name)
	}

	_, err = c.admin.CreateTopic(ctx, &pubsubpb.Topic{Name: fullName})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("creating topic %q: %w", name, err)
	}
	if c.logg != nil {
		c.logg.Info(c.logg.WithField(ctx, "topic", fullName), "pubsub topic created")
	}
	return nil
}

// Publisher returns a batching publisher for the topic ID or resource name.
// Callers Stop it when done.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := topicResourceName(c.projectID, name)
	if fullName == "" {
		return nil
	}
	pub := c.client.Publisher(fullName)
	applyPublishSettings(&pub.PublishSettings, c.cfg)
	return pub
}

func applyPublishSettings(settings *pubsub.PublishSettings, cfg config.PubSubConfig) {
	if cfg.PublishDelayMS > 0 {
		settings.DelayThreshold = time.Duration(cfg.PublishDelayMS) * time.Millisecond
	}
	if cfg.PublishCount > 0 {
		settings.CountThreshold = cfg.PublishCount
	}
}

// Ping checks the configured topics are still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.admin == nil {
		return errNotInitialized
	}
	return c.ensureTopics(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func topicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}

type adminAdapter struct {
	client *pubsub.Client
}

func (a adminAdapter) GetTopic(ctx context.Context, req *pubsubpb.GetTopicRequest) (*pubsubpb.Topic, error) {
	return a.client.TopicAdminClient.GetTopic(ctx, req)
}

func (a adminAdapter) CreateTopic(ctx context.Context, req *pubsubpb.Topic) (*pubsubpb.Topic, error) {
	return a.client.TopicAdminClient.CreateTopic(ctx, req)
}
