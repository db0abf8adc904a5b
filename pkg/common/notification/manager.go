/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package notification

import (
	"context"

	"k8s.io/klog/v2"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	commonconfig "github.com/NVIDIA/OSMO-sub000/pkg/common/config"
	"github.com/NVIDIA/OSMO-sub000/pkg/common/notification/channel"
	"github.com/NVIDIA/OSMO-sub000/pkg/common/notification/model"
	"github.com/NVIDIA/OSMO-sub000/pkg/common/s3"
)

var singleton *Manager

// GetNotificationManager returns the singleton manager; nil when
// notifications are disabled.
func GetNotificationManager() *Manager {
	return singleton
}

// InitNotificationManager initializes channels from the config file and
// starts the delivery loop.
func InitNotificationManager(ctx context.Context) error {
	if !commonconfig.IsNotificationEnable() {
		return nil
	}
	configFile := commonconfig.GetNotificationConfigFile()
	klog.Infof("notification manager initializing with config file: %s", configFile)
	conf, err := channel.ReadConfigFromFile(configFile)
	if err != nil {
		return err
	}
	channels, err := channel.InitChannels(ctx, conf)
	if err != nil {
		return err
	}
	singleton = &Manager{
		channels: channels,
		queue:    make(chan *model.WorkflowEvent, 256),
	}
	singleton.Start(ctx)
	return nil
}

type Manager struct {
	channels map[string]channel.Channel
	queue    chan *model.WorkflowEvent
}

// NotifyWorkflowFinished enqueues a terminal-status notification to the
// submitting user. Delivery is best effort; a full queue drops the event
// rather than blocking the state machine.
func (m *Manager) NotifyWorkflowFinished(workflowId, user string,
	status v1.WorkflowStatus, failureMessage string) {
	if m == nil {
		return
	}
	event := &model.WorkflowEvent{
		WorkflowId:     workflowId,
		Status:         string(status),
		FailureMessage: failureMessage,
		LogsPrefix:     s3.WorkflowPrefix(workflowId),
		Recipients:     []string{user},
	}
	select {
	case m.queue <- event:
	default:
		klog.Warningf("notification queue full, dropping event for workflow %s", workflowId)
	}
}

func (m *Manager) Start(ctx context.Context) {
	go m.deliver(ctx)
}

func (m *Manager) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			klog.Infof("notification manager stopping")
			return
		case event := <-m.queue:
			m.send(ctx, event)
		}
	}
}

// send fans the event out to every configured channel.
func (m *Manager) send(ctx context.Context, event *model.WorkflowEvent) {
	for name, ch := range m.channels {
		if err := ch.Send(ctx, event); err != nil {
			klog.Errorf("failed to deliver workflow %s event to channel %s: %v",
				event.WorkflowId, name, err)
		}
	}
}
