package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tripcraft-pipeline/internal/config"
	"tripcraft-pipeline/internal/models"
	"tripcraft-pipeline/internal/pkg/logger"
)

const (
	workflowStateTTL = 24 * time.Hour
	documentTTL      = 24 * time.Hour
	stageStreamMax   = 1024
)

// RedisService backs three concerns with two logical databases: stage
// progress streams and workflow state on the streams client, rendered
// documents on the memory client.
type RedisService struct {
	streams *redis.Client
	memory  *redis.Client
	logger  *logger.Logger
	config  config.RedisConfig
}

func NewRedisService(cfg config.RedisConfig, log *logger.Logger) (*RedisService, error) {
	streamsOpt, err := redis.ParseURL(cfg.StreamsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis streams URL: %w", err)
	}

	memoryOpt, err := redis.ParseURL(cfg.MemoryURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis memory URL: %w", err)
	}

	configureRedisOptions(streamsOpt, cfg)
	configureRedisOptions(memoryOpt, cfg)

	service := &RedisService{
		streams: redis.NewClient(streamsOpt),
		memory:  redis.NewClient(memoryOpt),
		logger:  log,
		config:  cfg,
	}

	if err := service.testConnection(); err != nil {
		return nil, fmt.Errorf("connection to Redis failed: %w", err)
	}

	log.Info("Redis service initialized",
		"streams_url", cfg.StreamsURL,
		"memory_url", cfg.MemoryURL,
		"pool_size", cfg.PoolSize)

	return service, nil
}

func configureRedisOptions(opt *redis.Options, cfg config.RedisConfig) {
	opt.PoolSize = cfg.PoolSize
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout
	opt.DialTimeout = cfg.DialTimeout
}

func (service *RedisService) testConnection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := service.streams.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("streams ping failed: %w", err)
	}
	if err := service.memory.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("memory ping failed: %w", err)
	}

	return nil
}

// PublishStageUpdate appends one stage transition to the workflow's
// progress stream. The stream is capped; consumers that fall behind lose
// history, not correctness.
func (service *RedisService) PublishStageUpdate(ctx context.Context, update *models.StageUpdate) error {
	streamName := fmt.Sprintf("workflow:%s:stage_updates", update.WorkflowID)

	updateData := map[string]interface{}{
		"type":        "stage_update",
		"workflow_id": update.WorkflowID,
		"request_id":  update.RequestID,
		"stage":       update.Stage,
		"status":      string(update.Status),
		"message":     update.Message,
		"progress":    fmt.Sprintf("%.2f", update.Progress),
		"timestamp":   update.Timestamp.Format(time.RFC3339),
		"retryable":   update.Retryable,
	}

	if update.Data != nil {
		if dataJSON, err := json.Marshal(update.Data); err == nil {
			updateData["data"] = string(dataJSON)
		} else {
			service.logger.WithError(err).Warn("failed to marshal stage update data")
		}
	}

	if update.Error != "" {
		updateData["error"] = update.Error
	}

	result, err := service.streams.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: updateData,
		MaxLen: stageStreamMax,
	}).Result()
	if err != nil {
		service.logger.LogService("redis", "publish_stage_update", 0, map[string]interface{}{
			"stream_name": streamName,
			"stage":       update.Stage,
			"workflow_id": update.WorkflowID,
		}, err)
		return models.NewExternalError("REDIS_PUBLISH_FAILED", "failed to publish stage update").WithCause(err)
	}

	service.logger.WithFields(logger.Fields{
		"stream_name": streamName,
		"message_id":  result,
		"stage":       update.Stage,
		"status":      update.Status,
		"workflow_id": update.WorkflowID,
	}).Debug("stage update published")

	return nil
}

// StoreWorkflowState persists the full workflow context so status queries
// survive process restarts.
func (service *RedisService) StoreWorkflowState(ctx context.Context, wc *models.TripWorkflowContext) error {
	startTime := time.Now()
	key := fmt.Sprintf("workflow:%s:state", wc.ID)

	payload, err := json.Marshal(wc)
	if err != nil {
		return models.NewInternalError("REDIS_MARSHAL_FAILED", "failed to marshal workflow state").WithCause(err)
	}

	if err := service.streams.Set(ctx, key, payload, workflowStateTTL).Err(); err != nil {
		service.logger.LogService("redis", "store_workflow_state", time.Since(startTime), map[string]interface{}{
			"workflow_id": wc.ID,
		}, err)
		return models.NewExternalError("REDIS_SET_FAILED", "failed to store workflow state").WithCause(err)
	}

	return nil
}

func (service *RedisService) GetWorkflowState(ctx context.Context, workflowID string) (*models.TripWorkflowContext, error) {
	startTime := time.Now()
	key := fmt.Sprintf("workflow:%s:state", workflowID)

	payload, err := service.streams.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrWorkflowNotFound
	}
	if err != nil {
		service.logger.LogService("redis", "get_workflow_state", time.Since(startTime), map[string]interface{}{
			"workflow_id": workflowID,
		}, err)
		return nil, models.NewExternalError("REDIS_GET_FAILED", "failed to get workflow state").WithCause(err)
	}

	var wc models.TripWorkflowContext
	if err := json.Unmarshal(payload, &wc); err != nil {
		return nil, models.NewInternalError("REDIS_UNMARSHAL_FAILED", "failed to decode workflow state").WithCause(err)
	}

	return &wc, nil
}

// StoreDocument keeps the rendered PDF so the document endpoint can serve
// it after the workflow goroutine has finished.
func (service *RedisService) StoreDocument(ctx context.Context, workflowID string, doc *models.RenderedDocument) error {
	startTime := time.Now()
	key := fmt.Sprintf("workflow:%s:document", workflowID)

	envelope := struct {
		Payload     []byte `json:"payload"`
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	}{
		Payload:     doc.Payload,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return models.NewInternalError("REDIS_MARSHAL_FAILED", "failed to marshal rendered document").WithCause(err)
	}

	if err := service.memory.Set(ctx, key, payload, documentTTL).Err(); err != nil {
		service.logger.LogService("redis", "store_document", time.Since(startTime), map[string]interface{}{
			"workflow_id": workflowID,
			"bytes":       len(doc.Payload),
		}, err)
		return models.NewExternalError("REDIS_SET_FAILED", "failed to store rendered document").WithCause(err)
	}

	service.logger.LogService("redis", "store_document", time.Since(startTime), map[string]interface{}{
		"workflow_id": workflowID,
		"bytes":       len(doc.Payload),
	}, nil)

	return nil
}

func (service *RedisService) GetDocument(ctx context.Context, workflowID string) (*models.RenderedDocument, error) {
	key := fmt.Sprintf("workflow:%s:document", workflowID)

	payload, err := service.memory.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrDocumentNotFound
	}
	if err != nil {
		return nil, models.NewExternalError("REDIS_GET_FAILED", "failed to get rendered document").WithCause(err)
	}

	var envelope struct {
		Payload     []byte `json:"payload"`
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, models.NewInternalError("REDIS_UNMARSHAL_FAILED", "failed to decode rendered document").WithCause(err)
	}

	return &models.RenderedDocument{
		Payload:     envelope.Payload,
		Filename:    envelope.Filename,
		ContentType: envelope.ContentType,
	}, nil
}

func (service *RedisService) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := service.streams.Ping(checkCtx).Err(); err != nil {
		return fmt.Errorf("streams health check failed: %w", err)
	}
	if err := service.memory.Ping(checkCtx).Err(); err != nil {
		return fmt.Errorf("memory health check failed: %w", err)
	}

	return nil
}

func (service *RedisService) Close() error {
	service.logger.Info("closing Redis service")

	var closeErrors []error
	if err := service.streams.Close(); err != nil {
		closeErrors = append(closeErrors, fmt.Errorf("close streams failed: %w", err))
	}
	if err := service.memory.Close(); err != nil {
		closeErrors = append(closeErrors, fmt.Errorf("close memory failed: %w", err))
	}

	if len(closeErrors) > 0 {
		return fmt.Errorf("error closing Redis connections: %v", closeErrors)
	}

	return nil
}
