package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{}
	require.ErrorIs(t, cfg.Validate(), ErrURLRequired)

	cfg.URL = "redis://localhost:6379/2"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultPrefix, cfg.Prefix)

	opts, asynqOpts, err := cfg.ClientOptions()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, opts.Addr, asynqOpts.Addr)
	assert.Equal(t, opts.DB, asynqOpts.DB)
}

func TestConfig_Options_InvalidURL(t *testing.T) {
	cfg := &Config{URL: "not a url"}

	_, err := cfg.Options()
	require.Error(t, err)
}

func TestConfig_Prefix(t *testing.T) {
	tests := []struct {
		name      string
		prefix    string
		wantKey   string
		wantQueue string
	}{
		{name: "prefixed", prefix: "dynalloc", wantKey: "dynalloc:campaigns", wantQueue: "dynalloc:allocation"},
		{name: "bare", prefix: "", wantKey: "campaigns", wantQueue: "allocation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Prefix: tt.prefix}
			assert.Equal(t, tt.wantKey, cfg.PrefixKey("campaigns"))
			assert.Equal(t, tt.wantQueue, cfg.PrefixQueue("allocation"))
		})
	}
}
