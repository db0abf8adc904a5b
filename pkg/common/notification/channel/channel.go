/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package channel

import (
	"context"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/NVIDIA/OSMO-sub000/pkg/common/notification/model"
)

type Config struct {
	Email *EmailConfig `json:"email,omitempty"`
}

type EmailConfig struct {
	SMTPHost string `json:"smtp_host"`
	SMTPPort int    `json:"smtp_port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	UseTLS   bool   `json:"use_tls"`
}

// ReadConfigFromFile reads the channel configuration from a yaml file.
func ReadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := &Config{}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Channel delivers workflow events over one transport, rendering the event
// into the transport's message form.
type Channel interface {
	Init(cfg Config) error
	Name() string
	Send(ctx context.Context, event *model.WorkflowEvent) error
}

// InitChannels initializes every channel the configuration enables.
func InitChannels(ctx context.Context, conf *Config) (map[string]Channel, error) {
	channels := make(map[string]Channel)
	if conf.Email != nil {
		emailChannel := &EmailChannel{}
		if err := emailChannel.Init(*conf); err != nil {
			return nil, err
		}
		channels[emailChannel.Name()] = emailChannel
	}
	return channels, nil
}
