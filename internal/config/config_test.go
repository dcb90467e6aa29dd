package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_InvalidConfigs(t *testing.T) {
	for _, testCase := range []struct {
		name   string
		config string
	}{
		{
			name: "No chains configured.",
			config: `
server:
  port: 8080
`,
		},
		{
			name: "Chain with no upstreams.",
			config: `
chains:
  1:
    upstreams: []
`,
		},
		{
			name: "Upstream without url.",
			config: `
chains:
  1:
    upstreams:
      - timeout_seconds: 10
        weight: 1
`,
		},
		{
			name: "Retry error handling with max_retries below 1.",
			config: `
chains:
  1:
    upstreams:
      - url: "https://example.com"
error_handling:
  type: retry
  max_retries: -1
`,
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := parseConfig([]byte(testCase.config))
			assert.Error(t, err)
		})
	}
}

func TestParseConfig_ValidConfig(t *testing.T) {
	config := `
server:
  host: 0.0.0.0
  port: 9090

chains:
  1:
    block_time_seconds: 12
    upstreams:
      - url: "https://eth-mainnet.example.com/"
        timeout_seconds: 5
        weight: 10
      - url: "https://eth-mainnet-backup.example.com/"
        weight: 5

cache:
  type: local
  capacity: 500

projects:
  - name: acme
    key: "top-secret"
`

	parsedConfig, err := parseConfig([]byte(config))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", parsedConfig.Server.Host)
	assert.Equal(t, 9090, parsedConfig.Server.Port)

	chain, ok := parsedConfig.Chains[1]
	require.True(t, ok)
	assert.Equal(t, 12, *chain.BlockTimeSeconds)
	require.Len(t, chain.Upstreams, 2)
	assert.Equal(t, "https://eth-mainnet.example.com/", chain.Upstreams[0].URL)
	assert.Equal(t, 5, chain.Upstreams[0].TimeoutSeconds)
	assert.Equal(t, 10, chain.Upstreams[0].Weight)
	// Second upstream has no timeout_seconds, so it gets the default timeout.
	assert.Equal(t, "https://eth-mainnet-backup.example.com/", chain.Upstreams[1].URL)
	assert.Equal(t, 10, chain.Upstreams[1].TimeoutSeconds)

	assert.Equal(t, 500, parsedConfig.Cache.Capacity)
	assert.Equal(t, StrategyPrimaryOnly, parsedConfig.LoadBalancing.Strategy)

	acme, ok := parsedConfig.ProjectByName("acme")
	require.True(t, ok)
	assert.Equal(t, "top-secret", acme.Key)

	_, ok = parsedConfig.ProjectByName(DefaultProjectName)
	assert.True(t, ok, "default project must always be present")
}

func TestParseConfig_EnvVarSubstitution(t *testing.T) {
	require.NoError(t, os.Setenv("GATEWAY_TEST_PROJECT_KEY", "from-env"))

	defer func() { _ = os.Unsetenv("GATEWAY_TEST_PROJECT_KEY") }()

	config := `
chains:
  1:
    upstreams:
      - url: "https://example.com"
projects:
  - name: acme
    key: "$GATEWAY_TEST_PROJECT_KEY"
`

	parsedConfig, err := parseConfig([]byte(config))
	require.NoError(t, err)

	acme, ok := parsedConfig.ProjectByName("acme")
	require.True(t, ok)
	assert.Equal(t, "from-env", acme.Key)
}

func TestParseConfig_InvalidYaml(t *testing.T) {
	config := `
chains:
		invalid yaml
`
	_, err := parseConfig([]byte(config))
	assert.Error(t, err)
}

func TestMethodFilterConfig_ShouldCoalesce(t *testing.T) {
	all := MethodFilterConfig{Type: MethodFilterAll}
	assert.True(t, all.ShouldCoalesce("eth_getBalance"))

	whitelist := MethodFilterConfig{Type: MethodFilterWhitelist, Methods: []string{"eth_getBalance"}}
	assert.True(t, whitelist.ShouldCoalesce("eth_getBalance"))
	assert.False(t, whitelist.ShouldCoalesce("eth_call"))

	blacklist := MethodFilterConfig{Type: MethodFilterBlacklist, Methods: []string{"eth_getBalance"}}
	assert.False(t, blacklist.ShouldCoalesce("eth_getBalance"))
	assert.True(t, blacklist.ShouldCoalesce("eth_call"))
}
