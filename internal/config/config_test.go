package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "hostlink", cfg.App.Name)
	assert.Equal(t, TransportTCP, cfg.Link.Transport)
	assert.Equal(t, 2048, cfg.Link.Capacity)
	assert.Equal(t, ":9000", cfg.Link.TCP.Addr)
	assert.Equal(t, "DADA", cfg.Device.HardwareVersion)
	assert.Equal(t, "noop", cfg.Power.Mode)
	assert.True(t, cfg.HTTP.Enable)
	assert.True(t, cfg.Logging.Console)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_File(t *testing.T) {
	content := `
app:
  name: hostlink-test
link:
  transport: mem
  capacity: 512
device:
  firmwareVersion: fw-9
slots:
  manifest: /tmp/slots.yaml
power:
  mode: exec
  command: ["/bin/echo", "reboot"]
`
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hostlink-test", cfg.App.Name)
	assert.Equal(t, TransportMem, cfg.Link.Transport)
	assert.Equal(t, 512, cfg.Link.Capacity)
	assert.Equal(t, "fw-9", cfg.Device.FirmwareVersion)
	assert.Equal(t, []string{"/bin/echo", "reboot"}, cfg.Power.Command)
	// 未覆盖的键保留默认值
	assert.Equal(t, 115200, cfg.Link.Serial.BaudRate)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HOSTLINK_LINK_CAPACITY", "4096")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.Link.Capacity)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Link.Capacity = 4
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Link.Capacity = 1 << 20
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Link.Transport = "pigeon"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Link.Transport = TransportSerial
	cfg.Link.Serial.Device = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Link.Transport = TransportSerial
	cfg.Link.Serial.Device = "/dev/ttyUSB0"
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Power.Mode = "halt"
	assert.Error(t, cfg.Validate())
}
