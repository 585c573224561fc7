package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"reelchain/internal/apiclient"
	"reelchain/internal/config"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiBind() string {
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		return strings.TrimSpace(*c.apiFlag)
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return cfg.Paths.APIBind
	}
	return ""
}

func (c *commandContext) apiClient() (*apiclient.Client, error) {
	var token string
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		token = cfg.Paths.APIToken
	}
	client, err := apiclient.New(c.apiBind(), token)
	if err != nil {
		return nil, wrapAPIError(err, c.apiBind())
	}
	return client, nil
}

func (c *commandContext) withClient(fn func(*apiclient.Client) error) error {
	client, err := c.apiClient()
	if err != nil {
		return err
	}
	return wrapAPIError(fn(client), c.apiBind())
}

func wrapAPIError(err error, bind string) error {
	if err == nil {
		return nil
	}
	var apiErr *apiclient.APIError
	switch {
	case apiclient.IsAPIUnavailable(err):
		return fmt.Errorf("connect to daemon at %s: not reachable; start it with `reelchain daemon`", bind)
	case errors.As(err, &apiErr) && apiErr.Status == 401:
		return errors.New("daemon rejected the request: set paths.api_token (or REELCHAIN_API_TOKEN) to the daemon's token")
	default:
		return err
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
