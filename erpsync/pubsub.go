package erpsync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
)

func PublishSyncRun(ctx context.Context, payload SyncRunPayload) error {
	topicName := strings.TrimSpace(os.Getenv("CATALOG_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "catalog-sync"
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if envBoolDefault("CATALOG_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler consumes push deliveries from the sync subscription.
// It always answers 204 so malformed messages are dropped instead of
// redelivered forever.
func PubSubPushHandler(hook PostSyncHook) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_CATALOG_SYNC_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncRunPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.SyncRunId == "" || payload.BusinessId == "" {
			c.Status(204)
			return
		}

		_ = ProcessSyncRun(c.Request.Context(), payload, hook)
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
