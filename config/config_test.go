package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rly/kachery/digest"
)

func TestDefaultsAlgorithmSHA1(t *testing.T) {
	assert.Equal(t, digest.SHA1, defaults().Algorithm)
}

func TestSetAndGetRoundTrip(t *testing.T) {
	orig := Get()
	defer Set(orig)

	Set(Config{URL: "https://example.com", Channel: "ch", Algorithm: digest.MD5})
	got := Get()
	assert.Equal(t, "https://example.com", got.URL)
	assert.Equal(t, digest.MD5, got.Algorithm)
}

func TestResolveDoesNotMutateSingleton(t *testing.T) {
	orig := Get()
	defer Set(orig)

	Set(Config{Algorithm: digest.SHA1})
	resolved := Resolve(WithAlgorithm(digest.MD5))
	assert.Equal(t, digest.MD5, resolved.Algorithm)
	assert.Equal(t, digest.SHA1, Get().Algorithm)
}

func TestUseRemoteOnlyImpliesUseRemote(t *testing.T) {
	resolved := Resolve(WithUseRemoteOnly(true))
	assert.True(t, resolved.UseRemote)
	assert.True(t, resolved.UseRemoteOnly)
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	t.Setenv("KACHERY_URL", "https://env.example.com")
	t.Setenv("KACHERY_CHANNEL", "env-channel")
	t.Setenv("KACHERY_PASSWORD", "secret")

	c := defaults()
	applyEnv(&c)
	assert.Equal(t, "https://env.example.com", c.URL)
	assert.Equal(t, "env-channel", c.Channel)
	assert.Equal(t, "secret", c.Password)
}
