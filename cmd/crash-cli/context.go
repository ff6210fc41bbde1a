package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"crashd/internal/bus"
	"crashd/internal/config"
	"crashd/internal/daemonctl"
)

const dialTimeout = 2 * time.Second

type commandContext struct {
	socketFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	return &commandContext{socketFlag: socketFlag, configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, _, _, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) socketPath() (string, error) {
	if c.socketFlag != nil && strings.TrimSpace(*c.socketFlag) != "" {
		return strings.TrimSpace(*c.socketFlag), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return cfg.Paths.SocketPath, nil
}

// withClient connects to the daemon for the duration of fn.
func (c *commandContext) withClient(ctx context.Context, fn func(*bus.Client) error) error {
	socket, err := c.socketPath()
	if err != nil {
		return err
	}
	client, err := daemonctl.Connect(ctx, socket, dialTimeout)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}
