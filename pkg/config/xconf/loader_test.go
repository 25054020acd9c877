package xconf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retrySection struct {
	MaxRetries int           `koanf:"max_retries"`
	BaseDelay  time.Duration `koanf:"base_delay"`
	Conditions []string      `koanf:"conditions"`
}

type sample struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
	Retry   retrySection  `koanf:"retry"`
}

const sampleYAML = `
base_url: https://api.example.com
retry:
  max_retries: 5
  base_delay: 250ms
  conditions: [network, server_error]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]Format{
		"a.yaml": FormatYAML,
		"a.YML":  FormatYAML,
		"a.json": FormatJSON,
	} {
		got, err := FormatOf(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got)
	}
	_, err := FormatOf("a.toml")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNew_UnmarshalKeepsDefaults(t *testing.T) {
	l, err := New(writeFile(t, "client.yaml", sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, l.Format())

	cfg := sample{Timeout: 30 * time.Second}
	require.NoError(t, l.Unmarshal("", &cfg))
	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout, "missing key keeps preset value")
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, []string{"network", "server_error"}, cfg.Retry.Conditions)

	var rs retrySection
	require.NoError(t, l.Unmarshal("retry", &rs))
	assert.Equal(t, 5, rs.MaxRetries)
}

func TestNew_Errors(t *testing.T) {
	_, err := New("")
	require.ErrorIs(t, err, ErrEmptyPath)

	_, err = New(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, ErrLoadFailed)

	_, err = New(writeFile(t, "bad.json", "{not json"))
	require.ErrorIs(t, err, ErrParseFailed)
}

func TestNewFromBytes(t *testing.T) {
	l, err := NewFromBytes([]byte(`{"base_url":"http://x","timeout":"2s"}`), FormatJSON)
	require.NoError(t, err)
	var cfg sample
	require.NoError(t, l.Unmarshal("", &cfg))
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Empty(t, l.Path())
	require.ErrorIs(t, l.Reload(), ErrNotReloadable)

	l, err = NewFromBytes(nil, FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, l.Koanf().Keys())

	_, err = NewFromBytes([]byte("a: 1"), Format("toml"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestUnmarshal_TypeMismatch(t *testing.T) {
	l, err := NewFromBytes([]byte("retry:\n  base_delay: soon\n"), FormatYAML)
	require.NoError(t, err)
	var cfg sample
	require.ErrorIs(t, l.Unmarshal("", &cfg), ErrUnmarshalFailed)
}

func TestReload_KeepsOldOnFailure(t *testing.T) {
	path := writeFile(t, "client.yaml", sampleYAML)
	l, err := New(path)
	require.NoError(t, err)
	old := l.Koanf()

	require.NoError(t, os.WriteFile(path, []byte("base_url: [unterminated"), 0o600))
	require.ErrorIs(t, l.Reload(), ErrParseFailed)
	assert.Same(t, old, l.Koanf())

	require.NoError(t, os.WriteFile(path, []byte("base_url: http://new\n"), 0o600))
	require.NoError(t, l.Reload())
	assert.Equal(t, "http://new", l.Koanf().String("base_url"))
	assert.Equal(t, "https://api.example.com", old.String("base_url"))
}

func TestWithDelimAndTag(t *testing.T) {
	type tagged struct {
		URL string `json:"base_url"`
	}
	l, err := NewFromBytes([]byte("base_url: http://x\nretry:\n  max_retries: 2\n"), FormatYAML,
		WithDelim("/"), WithTag("json"))
	require.NoError(t, err)
	assert.Equal(t, 2, l.Koanf().Int("retry/max_retries"))

	var cfg tagged
	require.NoError(t, l.Unmarshal("", &cfg))
	assert.Equal(t, "http://x", cfg.URL)
}
