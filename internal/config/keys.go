package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

// keychainService is the secret store service name for every secret key.
const keychainService = "replyd"

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// account is the secret store account name, e.g. crm.api_key -> crm_api_key.
func (s keySpec) account() string {
	return strings.ReplaceAll(s.key, ".", "_")
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "REPLYD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_stdio", typ: kBool, env: "REPLYD_SERVER_MCP_STDIO",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPStdio = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPStdio },
	},
	{
		key: "storage.data_dir", typ: kString, env: "REPLYD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "REPLYD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "engine.provider", typ: kString, env: "REPLYD_ENGINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "engine.model", typ: kString, env: "REPLYD_ENGINE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Model },
	},
	{
		key: "ollama.base_url", typ: kString, env: "REPLYD_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "REPLYD_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "gemini.api_key", typ: kString, env: "REPLYD_GEMINI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "scheduler.fetch_interval", typ: kDuration, env: "REPLYD_SCHEDULER_FETCH_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.FetchInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scheduler.FetchInterval },
	},
	{
		key: "scheduler.sweep_interval", typ: kDuration, env: "REPLYD_SCHEDULER_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.SweepInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scheduler.SweepInterval },
	},
	{
		key: "scheduler.lookback", typ: kDuration, env: "REPLYD_SCHEDULER_LOOKBACK",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.Lookback = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scheduler.Lookback },
	},
	{
		key: "scheduler.overlap", typ: kDuration, env: "REPLYD_SCHEDULER_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.Overlap = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scheduler.Overlap },
	},
	{
		key: "scheduler.parallel", typ: kBool, env: "REPLYD_SCHEDULER_PARALLEL",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.Parallel = v.(bool) },
		extract: func(cfg Config) any { return cfg.Scheduler.Parallel },
	},
	{
		key: "scheduler.error_threshold", typ: kInt, env: "REPLYD_SCHEDULER_ERROR_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.ErrorThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Scheduler.ErrorThreshold },
	},
	{
		key: "scheduler.disable_base", typ: kDuration, env: "REPLYD_SCHEDULER_DISABLE_BASE",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.DisableBase = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scheduler.DisableBase },
	},
	{
		key: "scheduler.restart_delay", typ: kDuration, env: "REPLYD_SCHEDULER_RESTART_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.RestartDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scheduler.RestartDelay },
	},
	{
		key: "scheduler.max_post_attempts", typ: kInt, env: "REPLYD_SCHEDULER_MAX_POST_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.MaxPostAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Scheduler.MaxPostAttempts },
	},
	{
		key: "policy.auto_approve_confidence", typ: kFloat, env: "REPLYD_POLICY_AUTO_APPROVE_CONFIDENCE",
		apply:   func(cfg *Config, v any) { cfg.Policy.AutoApproveConfidence = v.(float64) },
		extract: func(cfg Config) any { return cfg.Policy.AutoApproveConfidence },
	},
	{
		key: "policy.high_value_workflows", typ: kString, env: "REPLYD_POLICY_HIGH_VALUE_WORKFLOWS",
		apply:   func(cfg *Config, v any) { cfg.Policy.HighValueWorkflows = v.(string) },
		extract: func(cfg Config) any { return cfg.Policy.HighValueWorkflows },
	},
	{
		key: "voice.profile_file", typ: kString, env: "REPLYD_VOICE_PROFILE_FILE",
		apply:   func(cfg *Config, v any) { cfg.Voice.ProfileFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Voice.ProfileFile },
	},
	{
		key: "crm.base_url", typ: kString, env: "REPLYD_CRM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.CRM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.CRM.BaseURL },
	},
	{
		key: "crm.location_id", typ: kString, env: "REPLYD_CRM_LOCATION_ID",
		apply:   func(cfg *Config, v any) { cfg.CRM.LocationID = v.(string) },
		extract: func(cfg Config) any { return cfg.CRM.LocationID },
	},
	{
		key: "crm.api_key", typ: kString, env: "REPLYD_CRM_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.CRM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.CRM.APIKey },
	},
	{
		key: "crm.workflow_ids", typ: kString, env: "REPLYD_CRM_WORKFLOW_IDS",
		apply:   func(cfg *Config, v any) { cfg.CRM.WorkflowIDs = v.(string) },
		extract: func(cfg Config) any { return cfg.CRM.WorkflowIDs },
	},
	{
		key: "youtube.channel_id", typ: kString, env: "REPLYD_YOUTUBE_CHANNEL_ID",
		apply:   func(cfg *Config, v any) { cfg.YouTube.ChannelID = v.(string) },
		extract: func(cfg Config) any { return cfg.YouTube.ChannelID },
	},
	{
		key: "youtube.api_key", typ: kString, env: "REPLYD_YOUTUBE_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.YouTube.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.YouTube.APIKey },
	},
	{
		key: "youtube.oauth_token", typ: kString, env: "REPLYD_YOUTUBE_OAUTH_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.YouTube.OAuthToken = v.(string) },
		extract: func(cfg Config) any { return cfg.YouTube.OAuthToken },
	},
	{
		key: "facebook.page_id", typ: kString, env: "REPLYD_FACEBOOK_PAGE_ID",
		apply:   func(cfg *Config, v any) { cfg.Facebook.PageID = v.(string) },
		extract: func(cfg Config) any { return cfg.Facebook.PageID },
	},
	{
		key: "facebook.access_token", typ: kString, env: "REPLYD_FACEBOOK_ACCESS_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Facebook.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Facebook.AccessToken },
	},
	{
		key: "instagram.account_id", typ: kString, env: "REPLYD_INSTAGRAM_ACCOUNT_ID",
		apply:   func(cfg *Config, v any) { cfg.Instagram.AccountID = v.(string) },
		extract: func(cfg Config) any { return cfg.Instagram.AccountID },
	},
	{
		key: "instagram.access_token", typ: kString, env: "REPLYD_INSTAGRAM_ACCESS_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Instagram.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Instagram.AccessToken },
	},
	{
		key: "linkedin.organization_id", typ: kString, env: "REPLYD_LINKEDIN_ORGANIZATION_ID",
		apply:   func(cfg *Config, v any) { cfg.LinkedIn.OrganizationID = v.(string) },
		extract: func(cfg Config) any { return cfg.LinkedIn.OrganizationID },
	},
	{
		key: "linkedin.access_token", typ: kString, env: "REPLYD_LINKEDIN_ACCESS_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.LinkedIn.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.LinkedIn.AccessToken },
	},
	{
		key: "twitter.user_id", typ: kString, env: "REPLYD_TWITTER_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.Twitter.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.Twitter.UserID },
	},
	{
		key: "twitter.bearer_token", typ: kString, env: "REPLYD_TWITTER_BEARER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Twitter.BearerToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Twitter.BearerToken },
	},
	{
		key: "twitter.user_token", typ: kString, env: "REPLYD_TWITTER_USER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Twitter.UserToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Twitter.UserToken },
	},
	{
		key: "telegram.bot_token", typ: kString, env: "REPLYD_TELEGRAM_BOT_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Telegram.BotToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.BotToken },
	},
	{
		key: "telegram.chat_id", typ: kString, env: "REPLYD_TELEGRAM_CHAT_ID",
		apply:   func(cfg *Config, v any) { cfg.Telegram.ChatID = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.ChatID },
	},
}

func specByKey(key string) keySpec {
	for _, s := range specs {
		if s.key == key {
			return s
		}
	}
	return keySpec{key: key}
}

// parseValue converts a raw string into the Go type of the key.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Lookup(s.key)
		if err != nil {
			return fmt.Errorf("reading %s from %s: %w", s.key, b.Location(), err)
		}
		if !ok {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			warnf("ignoring %s=%q from %s: %v", s.key, raw, b.Location(), err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			warnf("ignoring %s=%q: %v", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
