// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/internalwiki/assistant/anthropic"
	"github.com/internalwiki/assistant/bedrock"
	"github.com/internalwiki/assistant/cache"
	"github.com/internalwiki/assistant/contract"
	"github.com/internalwiki/assistant/embeddings"
	"github.com/internalwiki/assistant/llm"
	"github.com/internalwiki/assistant/openai"
)

// DatabaseConfig is the Postgres connection and embedding schema settings.
type DatabaseConfig struct {
	DSN                 string `json:"dsn"`
	EmbeddingDimensions int    `json:"embeddingDimensions"`
}

// RetrievalConfig tunes chunking and search caching.
type RetrievalConfig struct {
	ChunkSize            int `json:"chunkSize"`
	ChunkOverlap         int `json:"chunkOverlap"`
	SearchCacheTTLSecond int `json:"searchCacheTTLSeconds"`
}

// ServerConfig is the HTTP listener settings.
type ServerConfig struct {
	Address string `json:"address"`
}

// EvalsConfig sets the benchmark regression gate.
type EvalsConfig struct {
	ThresholdGoodPct float64 `json:"thresholdGoodPct"`
}

type Config struct {
	Services       []llm.ServiceConfig `json:"services"`
	DefaultService string              `json:"defaultService"`
	Database       DatabaseConfig      `json:"database"`
	Redis          cache.RedisConfig   `json:"redis"`
	Retrieval      RetrievalConfig     `json:"retrieval"`
	Contract       contract.Policy     `json:"contract"`
	Evals          EvalsConfig         `json:"evals"`
	Server         ServerConfig        `json:"server"`
	LogLevel       string              `json:"logLevel"`
}

// Default returns a config with every tunable at its production default.
// Loaded files override on top of it.
func Default() *Config {
	return &Config{
		Services: []llm.ServiceConfig{
			{ID: "mock", Name: "Deterministic mock", Type: llm.ServiceTypeMock},
		},
		DefaultService: "mock",
		Database: DatabaseConfig{
			EmbeddingDimensions: embeddings.DimensionsOpenAI,
		},
		Retrieval: RetrievalConfig{
			ChunkSize:            1000,
			ChunkOverlap:         150,
			SearchCacheTTLSecond: 300,
		},
		Contract: contract.DefaultPolicy(),
		Evals: EvalsConfig{
			ThresholdGoodPct: 75,
		},
		Server: ServerConfig{
			Address: ":8065",
		},
		LogLevel: "info",
	}
}

// LoadFile reads a JSON config file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Clone() *Config {
	clone, err := DeepCopyJSON(*c)
	if err != nil {
		panic(fmt.Sprintf("failed to clone configuration: %v", err))
	}

	return &clone
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	if len(c.Services) == 0 {
		return errors.New("at least one service must be configured")
	}

	seen := map[string]bool{}
	for _, service := range c.Services {
		if service.ID == "" {
			return errors.New("every service needs an id")
		}
		if seen[service.ID] {
			return errors.Errorf("duplicate service id %q", service.ID)
		}
		seen[service.ID] = true

		switch service.Type {
		case llm.ServiceTypeMock, llm.ServiceTypeOpenAI, llm.ServiceTypeOpenAICompatible,
			llm.ServiceTypeAzure, llm.ServiceTypeAnthropic, llm.ServiceTypeBedrock:
		default:
			return errors.Errorf("service %q has unknown type %q", service.ID, service.Type)
		}
	}

	if c.DefaultService == "" {
		return errors.New("a default service must be set")
	}
	if !seen[c.DefaultService] {
		return errors.Errorf("default service %q is not configured", c.DefaultService)
	}

	if c.Database.EmbeddingDimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}

	return nil
}

// GetServiceByID returns the service configuration for the given ID.
func (c *Config) GetServiceByID(id string) (llm.ServiceConfig, bool) {
	for i := range c.Services {
		if c.Services[i].ID == id {
			return c.Services[i], true
		}
	}
	return llm.ServiceConfig{}, false
}

type UpdateListener func()

// Container holds the live configuration behind an atomic pointer so readers
// never block and hot reloads swap atomically.
type Container struct {
	cfg       atomic.Pointer[Config]
	listeners []UpdateListener
}

// Config returns the whole configuration readonly.
func (c *Container) Config() *Config {
	return c.cfg.Load()
}

// GetServiceByID returns the service configuration for the given ID.
func (c *Container) GetServiceByID(id string) (llm.ServiceConfig, bool) {
	cfg := c.cfg.Load()
	if cfg == nil {
		return llm.ServiceConfig{}, false
	}
	return cfg.GetServiceByID(id)
}

// DefaultServiceConfig returns the configured default service.
func (c *Container) DefaultServiceConfig() (llm.ServiceConfig, bool) {
	cfg := c.cfg.Load()
	if cfg == nil {
		return llm.ServiceConfig{}, false
	}
	return cfg.GetServiceByID(cfg.DefaultService)
}

// RegisterUpdateListener adds a callback run after every Update. Register
// during startup, before the first Update.
func (c *Container) RegisterUpdateListener(listener UpdateListener) {
	c.listeners = append(c.listeners, listener)
}

// Update swaps the current configuration. The new configuration is
// deep-copied so the new and old configurations stay independent.
func (c *Container) Update(newConfig *Config) {
	if newConfig == nil {
		c.cfg.Store(nil)
		return
	}

	clone, err := DeepCopyJSON(*newConfig)
	if err != nil {
		panic(fmt.Sprintf("failed to deep copy configuration: %v", err))
	}

	c.cfg.Store(&clone)

	for _, listener := range c.listeners {
		listener()
	}
}

// DeepCopyJSON creates a deep copy of JSON-serializable structs.
func DeepCopyJSON[T any](src T) (T, error) {
	var dst T
	data, err := json.Marshal(src)
	if err != nil {
		return dst, err
	}
	err = json.Unmarshal(data, &dst)
	return dst, err
}

// OpenAIConfigFromServiceConfig maps a generic service entry onto the OpenAI
// client config.
func OpenAIConfigFromServiceConfig(serviceConfig llm.ServiceConfig) openai.Config {
	return openai.Config{
		APIKey:           serviceConfig.APIKey,
		APIURL:           serviceConfig.APIURL,
		OrgID:            serviceConfig.OrgID,
		DefaultModel:     serviceConfig.DefaultModel,
		OutputTokenLimit: serviceConfig.OutputTokenLimit,
		RequestTimeout:   30 * time.Second,
	}
}

// NewProviderForService constructs the answer provider a service entry
// describes.
func NewProviderForService(serviceConfig llm.ServiceConfig, httpClient *http.Client) (llm.Provider, error) {
	switch serviceConfig.Type {
	case llm.ServiceTypeMock:
		return llm.NewMock(), nil
	case llm.ServiceTypeOpenAI:
		return openai.New(OpenAIConfigFromServiceConfig(serviceConfig), httpClient), nil
	case llm.ServiceTypeOpenAICompatible:
		return openai.NewCompatible(OpenAIConfigFromServiceConfig(serviceConfig), httpClient), nil
	case llm.ServiceTypeAzure:
		return openai.NewAzure(OpenAIConfigFromServiceConfig(serviceConfig), httpClient), nil
	case llm.ServiceTypeAnthropic:
		return anthropic.New(serviceConfig, httpClient), nil
	case llm.ServiceTypeBedrock:
		return bedrock.New(serviceConfig, httpClient)
	default:
		return nil, errors.Errorf("unknown service type %q", serviceConfig.Type)
	}
}
