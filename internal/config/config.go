package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 链路传输方式
const (
	TransportMem    = "mem"
	TransportTCP    = "tcp"
	TransportSerial = "serial"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// LinkConfig 总线链路配置
type LinkConfig struct {
	Transport string             `mapstructure:"transport"` // mem | tcp | serial
	Capacity  int                `mapstructure:"capacity"`
	TCP       TCPBridgeConfig    `mapstructure:"tcp"`
	Serial    SerialBridgeConfig `mapstructure:"serial"`
}

// TCPBridgeConfig TCP 桥接配置
type TCPBridgeConfig struct {
	Addr        string  `mapstructure:"addr"`
	AcceptRate  float64 `mapstructure:"acceptRate"`
	AcceptBurst int     `mapstructure:"acceptBurst"`
}

// SerialBridgeConfig 串口桥接配置
type SerialBridgeConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baudRate"`
	DataBits int           `mapstructure:"dataBits"`
	StopBits int           `mapstructure:"stopBits"`
	Parity   string        `mapstructure:"parity"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DeviceConfig 设备标识，状态查询原样上报
type DeviceConfig struct {
	HardwareVersion string `mapstructure:"hardwareVersion"`
	FirmwareVersion string `mapstructure:"firmwareVersion"`
}

// SlotsConfig 启动分区清单位置
type SlotsConfig struct {
	Manifest string `mapstructure:"manifest"`
}

// PowerConfig 重启方式
type PowerConfig struct {
	Mode    string   `mapstructure:"mode"` // exec | noop
	Command []string `mapstructure:"command"`
}

// HTTPConfig 运维 HTTP 服务配置
type HTTPConfig struct {
	Enable       bool          `mapstructure:"enable"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level   string           `mapstructure:"level"`
	Format  string           `mapstructure:"format"`
	Console bool             `mapstructure:"console"`
	File    LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config 顶层配置结构
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Link    LinkConfig    `mapstructure:"link"`
	Device  DeviceConfig  `mapstructure:"device"`
	Slots   SlotsConfig   `mapstructure:"slots"`
	Power   PowerConfig   `mapstructure:"power"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 HOSTLINK_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = v.GetString("HOSTLINK_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	// 默认值
	setDefaults(v)

	// 环境变量覆盖：前缀 HOSTLINK_，并将点号替换为下划线
	v.SetEnvPrefix("HOSTLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if fmt.Sprintf("%T", err) != fmt.Sprintf("%T", notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验链路配置
func (c *Config) Validate() error {
	// 帧头7字节，容量至少要放得下帧头和1字节载荷
	if c.Link.Capacity < 8 {
		return fmt.Errorf("link.capacity %d too small", c.Link.Capacity)
	}
	if c.Link.Capacity > 65535 {
		return fmt.Errorf("link.capacity %d exceeds bridge frame limit", c.Link.Capacity)
	}
	switch c.Link.Transport {
	case TransportMem, TransportTCP, TransportSerial:
	default:
		return fmt.Errorf("unknown link.transport %q", c.Link.Transport)
	}
	if c.Link.Transport == TransportSerial && c.Link.Serial.Device == "" {
		return fmt.Errorf("link.serial.device required for serial transport")
	}
	switch c.Power.Mode {
	case "exec", "noop":
	default:
		return fmt.Errorf("unknown power.mode %q", c.Power.Mode)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "hostlink")
	v.SetDefault("app.env", "dev")

	v.SetDefault("link.transport", "tcp")
	v.SetDefault("link.capacity", 2048)
	v.SetDefault("link.tcp.addr", ":9000")
	v.SetDefault("link.tcp.acceptRate", 5.0)
	v.SetDefault("link.tcp.acceptBurst", 5)
	v.SetDefault("link.serial.device", "")
	v.SetDefault("link.serial.baudRate", 115200)
	v.SetDefault("link.serial.dataBits", 8)
	v.SetDefault("link.serial.stopBits", 1)
	v.SetDefault("link.serial.parity", "N")
	v.SetDefault("link.serial.timeout", "5s")

	v.SetDefault("device.hardwareVersion", "DADA")
	v.SetDefault("device.firmwareVersion", "hostlink-1.0.0")

	v.SetDefault("slots.manifest", "/var/lib/hostlink/slots.yaml")

	v.SetDefault("power.mode", "noop")
	v.SetDefault("power.command", []string{})

	v.SetDefault("http.enable", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file.filename", "logs/hostlinkd.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}
