/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
)

// Interactive request kinds routed to a running task.
const (
	ActionExec        = "exec"
	ActionPortForward = "port_forward"
	ActionRsync       = "rsync"
	ActionWebServer   = "web_server"
	ActionCancel      = "cancel"
)

// ActionRequest is one interactive request queued for a task. Key pairs the
// request with its response stream on the router; Cookie authenticates the
// requester to the agent.
type ActionRequest struct {
	Action        string          `json:"action"`
	Key           string          `json:"key"`
	RouterAddress string          `json:"router_address"`
	Cookie        string          `json:"cookie"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ActionChannel is the redis-backed per-task request queue. Requests live in
// a list keyed by task uuid whose TTL equals the request's total timeout, so
// abandoned requests disappear with their task.
type ActionChannel struct {
	client redis.UniversalClient
}

func NewActionChannel(client redis.UniversalClient) *ActionChannel {
	return &ActionChannel{client: client}
}

func actionKey(taskUuid string) string {
	return "osmo:actions:" + taskUuid
}

// Publish enqueues a request for the task and refreshes the queue TTL.
func (c *ActionChannel) Publish(ctx context.Context, taskUuid string,
	request *ActionRequest, ttl time.Duration) error {
	if request.Action == "" {
		return commonerrors.NewBadRequest("action is required")
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		return err
	}
	key := actionKey(taskUuid)
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, encoded)
	pipe.Expire(ctx, key, ttl)
	if _, err = pipe.Exec(ctx); err != nil {
		return commonerrors.NewInternalError(fmt.Sprintf(
			"failed to publish %s action for task %s: %v", request.Action, taskUuid, err))
	}
	return nil
}

// Receive blocks until a request arrives for the task or the wait elapses.
// A nil request with nil error means the wait timed out.
func (c *ActionChannel) Receive(ctx context.Context, taskUuid string,
	wait time.Duration) (*ActionRequest, error) {
	result, err := c.client.BLPop(ctx, wait, actionKey(taskUuid)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BLPop returns [key, value]
	request := &ActionRequest{}
	if err = json.Unmarshal([]byte(result[1]), request); err != nil {
		return nil, commonerrors.NewInternalError(fmt.Sprintf(
			"malformed action request for task %s: %v", taskUuid, err))
	}
	return request, nil
}

// Pending returns the queued requests without consuming them.
func (c *ActionChannel) Pending(ctx context.Context, taskUuid string) ([]*ActionRequest, error) {
	values, err := c.client.LRange(ctx, actionKey(taskUuid), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	requests := make([]*ActionRequest, 0, len(values))
	for _, value := range values {
		request := &ActionRequest{}
		if err = json.Unmarshal([]byte(value), request); err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, nil
}

// Drop discards the task's queue, e.g. when the task reaches a terminal
// state before its requests are served.
func (c *ActionChannel) Drop(ctx context.Context, taskUuid string) error {
	return c.client.Del(ctx, actionKey(taskUuid)).Err()
}
