package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Well-known chain-id -> block-time (seconds) defaults, used only when a
// chain config omits block_time. Explicit config always wins.
var defaultBlockTimeSeconds = map[uint64]int{
	1:     12, // Ethereum mainnet
	10:    2,  // OP Mainnet
	137:   2,  // Polygon PoS
	42161: 1,  // Arbitrum One
	8453:  2,  // Base
	11155111: 12, // Sepolia
}

const (
	StrategyPrimaryOnly   = "primary_only"
	StrategyRoundRobin    = "round_robin"
	StrategyWeightedOrder = "weighted_order"

	ErrorHandlingFailFast       = "fail_fast"
	ErrorHandlingRetry          = "retry"
	ErrorHandlingCircuitBreaker = "circuit_breaker"

	CacheDisabled = "disabled"
	CacheLocal    = "local"
	CacheRedis    = "redis"

	MethodFilterAll       = "all"
	MethodFilterWhitelist = "whitelist"
	MethodFilterBlacklist = "blacklist"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c *ServerConfig) setDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}

	if c.Port == 0 {
		c.Port = 8080
	}
}

type LoadBalancingConfig struct {
	Strategy string `yaml:"strategy"`
}

func (c *LoadBalancingConfig) setDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyPrimaryOnly
	}
}

func (c *LoadBalancingConfig) isValid() bool {
	switch c.Strategy {
	case StrategyPrimaryOnly, StrategyRoundRobin, StrategyWeightedOrder:
		return true
	default:
		zap.L().Error("Unknown load_balancing.strategy.", zap.String("strategy", c.Strategy))
		return false
	}
}

type HealthChecksConfig struct {
	Enabled         *bool `yaml:"enabled"`
	IntervalSeconds int   `yaml:"interval_seconds"`
}

func (c *HealthChecksConfig) setDefaults() {
	if c.Enabled == nil {
		t := true
		c.Enabled = &t
	}

	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 300
	}
}

func (c *HealthChecksConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *HealthChecksConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

type ErrorHandlingConfig struct {
	Jitter            *bool  `yaml:"jitter"`
	Type              string `yaml:"type"`
	MaxRetries        int    `yaml:"max_retries"`
	RetryDelaySeconds int    `yaml:"retry_delay_seconds"`
}

func (c *ErrorHandlingConfig) setDefaults() {
	if c.Type == "" {
		c.Type = ErrorHandlingFailFast
	}

	if c.Type == ErrorHandlingRetry {
		if c.MaxRetries == 0 {
			c.MaxRetries = 3
		}

		if c.RetryDelaySeconds == 0 {
			c.RetryDelaySeconds = 1
		}

		if c.Jitter == nil {
			t := true
			c.Jitter = &t
		}
	}
}

func (c *ErrorHandlingConfig) isValid() bool {
	switch c.Type {
	case ErrorHandlingFailFast, ErrorHandlingCircuitBreaker:
		return true
	case ErrorHandlingRetry:
		if c.MaxRetries < 1 {
			zap.L().Error("error_handling.retry.max_retries must be >= 1.", zap.Int("maxRetries", c.MaxRetries))
			return false
		}

		return true
	default:
		zap.L().Error("Unknown error_handling.type.", zap.String("type", c.Type))
		return false
	}
}

func (c *ErrorHandlingConfig) JitterEnabled() bool {
	return c.Jitter != nil && *c.Jitter
}

func (c *ErrorHandlingConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

type CacheConfig struct {
	Type      string `yaml:"type"`
	Capacity  int    `yaml:"capacity"`
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
}

func (c *CacheConfig) setDefaults() {
	if c.Type == "" {
		c.Type = CacheDisabled
	}

	if c.Type == CacheLocal && c.Capacity == 0 {
		c.Capacity = 10000
	}

	if c.Type == CacheRedis && c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379"
	}
}

func (c *CacheConfig) isValid() bool {
	switch c.Type {
	case CacheDisabled, CacheLocal, CacheRedis:
		return true
	default:
		zap.L().Error("Unknown cache.type.", zap.String("type", c.Type))
		return false
	}
}

type CannedMethodsConfig struct {
	Web3ClientVersion *bool `yaml:"web3_client_version"`
	EthChainID        *bool `yaml:"eth_chain_id"`
}

type CannedResponseConfig struct {
	Enabled *bool               `yaml:"enabled"`
	Methods CannedMethodsConfig `yaml:"methods"`
}

func (c *CannedResponseConfig) setDefaults() {
	setBoolDefault(&c.Enabled, true)
	setBoolDefault(&c.Methods.Web3ClientVersion, true)
	setBoolDefault(&c.Methods.EthChainID, true)
}

func (c *CannedResponseConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *CannedResponseConfig) IsMethodEnabled(flag *bool) bool {
	return c.IsEnabled() && (flag == nil || *flag)
}

type MethodFilterConfig struct {
	Type    string   `yaml:"type"`
	Methods []string `yaml:"methods"`
}

func (f *MethodFilterConfig) ShouldCoalesce(method string) bool {
	switch f.Type {
	case MethodFilterWhitelist:
		for _, m := range f.Methods {
			if m == method {
				return true
			}
		}

		return false
	case MethodFilterBlacklist:
		for _, m := range f.Methods {
			if m == method {
				return false
			}
		}

		return true
	default:
		return true
	}
}

type RequestCoalescingConfig struct {
	Enabled      *bool               `yaml:"enabled"`
	MethodFilter MethodFilterConfig `yaml:"method_filter"`
}

func (c *RequestCoalescingConfig) setDefaults() {
	setBoolDefault(&c.Enabled, true)

	if c.MethodFilter.Type == "" {
		c.MethodFilter.Type = MethodFilterAll
	}
}

func (c *RequestCoalescingConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *RequestCoalescingConfig) isValid() bool {
	switch c.MethodFilter.Type {
	case MethodFilterAll, MethodFilterWhitelist, MethodFilterBlacklist:
		return true
	default:
		zap.L().Error("Unknown request_coalescing.method_filter.type.", zap.String("type", c.MethodFilter.Type))
		return false
	}
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

func (c *MetricsConfig) setDefaults() {
	setBoolDefault(&c.Enabled, true)

	if c.Host == "" {
		c.Host = "127.0.0.1"
	}

	if c.Port == 0 {
		c.Port = 8082
	}
}

func (c *MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type CORSConfig struct {
	AllowAnyOrigin  *bool    `yaml:"allow_any_origin"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	AllowAnyHeader  *bool    `yaml:"allow_any_header"`
	AllowedHeaders  []string `yaml:"allowed_headers"`
	AllowAnyMethod  *bool    `yaml:"allow_any_method"`
	AllowedMethods  []string `yaml:"allowed_methods"`
	ExposeAnyHeader *bool    `yaml:"expose_any_header"`
	MaxAgeSeconds   int      `yaml:"max_age_seconds"`
}

func (c *CORSConfig) setDefaults() {
	setBoolDefault(&c.AllowAnyOrigin, true)
	setBoolDefault(&c.AllowAnyHeader, true)
	setBoolDefault(&c.AllowAnyMethod, true)
	setBoolDefault(&c.ExposeAnyHeader, true)

	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = []string{"Content-Type", "Authorization"}
	}

	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{"POST", "OPTIONS"}
	}

	if c.MaxAgeSeconds == 0 {
		c.MaxAgeSeconds = 3600
	}
}

type UpstreamConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Weight         int    `yaml:"weight"`
}

func (c *UpstreamConfig) setDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}

	if c.Weight == 0 {
		c.Weight = 1
	}
}

func (c *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *UpstreamConfig) isValid() bool {
	isValid := true

	if c.URL == "" {
		zap.L().Error("upstream url cannot be empty.", zap.Any("config", c))
		isValid = false
	}

	if c.TimeoutSeconds <= 0 {
		zap.L().Error("upstream timeout_seconds must be > 0.", zap.Any("config", c))
		isValid = false
	}

	if c.Weight <= 0 {
		zap.L().Error("upstream weight must be > 0.", zap.Any("config", c))
		isValid = false
	}

	return isValid
}

type ChainConfig struct {
	BlockTimeSeconds *int             `yaml:"block_time_seconds"`
	Upstreams        []UpstreamConfig `yaml:"upstreams"`
}

func (c *ChainConfig) setDefaults(chainID uint64) {
	for i := range c.Upstreams {
		c.Upstreams[i].setDefaults()
	}

	if c.BlockTimeSeconds == nil {
		if d, ok := defaultBlockTimeSeconds[chainID]; ok {
			c.BlockTimeSeconds = &d
		}
	}
}

// HasBlockTime reports whether this chain has a usable block time, required
// for any cache TTL math beyond "not cacheable".
func (c *ChainConfig) HasBlockTime() bool {
	return c.BlockTimeSeconds != nil && *c.BlockTimeSeconds > 0
}

func (c *ChainConfig) BlockTime() time.Duration {
	if !c.HasBlockTime() {
		return 0
	}

	return time.Duration(*c.BlockTimeSeconds) * time.Second
}

func (c *ChainConfig) isValid(chainID uint64) bool {
	isValid := len(c.Upstreams) > 0

	if !isValid {
		zap.L().Error("chain must have at least one upstream.", zap.Uint64("chainID", chainID))
	}

	for i := range c.Upstreams {
		isValid = c.Upstreams[i].isValid() && isValid
	}

	return isValid
}

type ProjectConfig struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

const DefaultProjectName = "default"

type Config struct {
	Chains            map[uint64]ChainConfig  `yaml:"chains"`
	Server            ServerConfig            `yaml:"server"`
	LoadBalancing     LoadBalancingConfig     `yaml:"load_balancing"`
	UpstreamHealthChecks HealthChecksConfig   `yaml:"upstream_health_checks"`
	ErrorHandling     ErrorHandlingConfig     `yaml:"error_handling"`
	Cache             CacheConfig             `yaml:"cache"`
	CannedResponses   CannedResponseConfig    `yaml:"canned_responses"`
	RequestCoalescing RequestCoalescingConfig `yaml:"request_coalescing"`
	Metrics           MetricsConfig           `yaml:"metrics"`
	CORS              CORSConfig              `yaml:"cors"`
	Projects          []ProjectConfig         `yaml:"projects"`
}

func setBoolDefault(field **bool, value bool) {
	if *field == nil {
		v := value
		*field = &v
	}
}

func substituteEnvVar(s string) string {
	if strings.HasPrefix(s, "$") {
		return os.Getenv(strings.TrimPrefix(s, "$"))
	}

	return s
}

// normalizeUpstreamURL forces a trailing slash, matching the behavior
// upstream HTTP clients rely on when joining request paths.
func normalizeUpstreamURL(url string) string {
	if url == "" || strings.HasSuffix(url, "/") {
		return url
	}

	return url + "/"
}

func (c *Config) processEnvVars() {
	for id, chain := range c.Chains {
		for i := range chain.Upstreams {
			chain.Upstreams[i].URL = normalizeUpstreamURL(substituteEnvVar(chain.Upstreams[i].URL))
		}

		c.Chains[id] = chain
	}

	for i := range c.Projects {
		c.Projects[i].Key = substituteEnvVar(c.Projects[i].Key)
	}
}

func (c *Config) setDefaults() {
	c.Server.setDefaults()
	c.LoadBalancing.setDefaults()
	c.UpstreamHealthChecks.setDefaults()
	c.ErrorHandling.setDefaults()
	c.Cache.setDefaults()
	c.CannedResponses.setDefaults()
	c.RequestCoalescing.setDefaults()
	c.Metrics.setDefaults()
	c.CORS.setDefaults()

	for id, chain := range c.Chains {
		chain.setDefaults(id)
		c.Chains[id] = chain
	}

	c.ensureDefaultProject()
}

func (c *Config) ensureDefaultProject() {
	for _, p := range c.Projects {
		if p.Name == DefaultProjectName {
			return
		}
	}

	c.Projects = append(c.Projects, ProjectConfig{Name: DefaultProjectName})
}

// ProjectByName returns the project record with the given name, if any.
func (c *Config) ProjectByName(name string) (ProjectConfig, bool) {
	for _, p := range c.Projects {
		if p.Name == name {
			return p, true
		}
	}

	return ProjectConfig{}, false
}

func (c *Config) isValid() bool {
	isValid := len(c.Chains) > 0
	if !isValid {
		zap.L().Error("At least one chain must be configured.")
	}

	for id, chain := range c.Chains {
		isValid = chain.isValid(id) && isValid

		if c.Cache.Type != CacheDisabled && !chain.HasBlockTime() {
			zap.L().Error("Chain has no block_time and caching is enabled; TTLs for this chain will be unavailable.", zap.Uint64("chainID", id))
		}
	}

	isValid = c.LoadBalancing.isValid() && isValid
	isValid = c.ErrorHandling.isValid() && isValid
	isValid = c.Cache.isValid() && isValid
	isValid = c.RequestCoalescing.isValid() && isValid

	return isValid
}

func LoadConfig(configFilePath string) (*Config, error) {
	configBytes, err := os.ReadFile(configFilePath)
	if err != nil {
		return nil, err
	}

	return parseConfig(configBytes)
}

func parseConfig(configBytes []byte) (*Config, error) {
	cfg := &Config{}

	if err := yaml.Unmarshal(configBytes, cfg); err != nil {
		return nil, err
	}

	cfg.processEnvVars()
	cfg.setDefaults()

	if !cfg.isValid() {
		return cfg, errors.New("invalid config found")
	}

	return cfg, nil
}
