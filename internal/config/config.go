package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
type Config struct {
	// 组播通信配置
	Multicast struct {
		Group             string        `mapstructure:"group"`              // 组播目标地址
		Port              int           `mapstructure:"port"`               // UDP端口
		TTL               int           `mapstructure:"ttl"`                // 组播跳数限制
		BroadcastInterval time.Duration `mapstructure:"broadcast_interval"` // 广播周期
		BroadcastDelay    time.Duration `mapstructure:"broadcast_delay"`    // 首次广播前的额外等待时间
		ReceiveTimeout    time.Duration `mapstructure:"receive_timeout"`    // 接收超时，同时决定停止响应粒度
		BufferSize        int           `mapstructure:"buffer_size"`        // 最大数据报读取大小
	} `mapstructure:"multicast"`

	// 服务发现配置
	Discovery struct {
		ServiceTimeout time.Duration `mapstructure:"service_timeout"` // 服务存活窗口
		SweepInterval  time.Duration `mapstructure:"sweep_interval"`  // 过期条目物理清理周期
		TypeFilter     string        `mapstructure:"type_filter"`     // 服务类型过滤器（子串匹配，空表示不过滤）
	} `mapstructure:"discovery"`

	// 管理API配置
	Admin struct {
		Enabled       bool   `mapstructure:"enabled"`
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
	} `mapstructure:"admin"`

	// DNS网关配置
	DNS struct {
		Enabled       bool   `mapstructure:"enabled"`
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
		Domain        string `mapstructure:"domain"` // 本地域名后缀
	} `mapstructure:"dns"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果指定了配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 设置配置文件名和路径
		v.SetConfigName("config")                 // 配置文件名（无扩展名）
		v.AddConfigPath(".")                      // 当前目录
		v.AddConfigPath("./configs")              // configs目录
		v.AddConfigPath("$HOME/.vault-discovery") // 用户目录
		v.AddConfigPath("/etc/vault-discovery")   // 系统目录
	}

	// 配置文件格式
	v.SetConfigType("yaml")

	// 尝试从配置文件加载
	if err := v.ReadInConfig(); err != nil {
		// 如果找不到配置文件，仅使用默认值和环境变量；其他错误则返回
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvPrefix("VAULT_DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	return &config, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 组播默认配置
	v.SetDefault("multicast.group", "224.1.1.1")
	v.SetDefault("multicast.port", 5004)
	v.SetDefault("multicast.ttl", 2)
	v.SetDefault("multicast.broadcast_interval", "2s")
	v.SetDefault("multicast.broadcast_delay", "0s")
	v.SetDefault("multicast.receive_timeout", "2s")
	v.SetDefault("multicast.buffer_size", 1400)

	// 服务发现默认配置
	v.SetDefault("discovery.service_timeout", "30s")
	v.SetDefault("discovery.sweep_interval", "5s")
	v.SetDefault("discovery.type_filter", "")

	// 管理API默认配置
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.listen_address", "0.0.0.0")
	v.SetDefault("admin.port", 8080)

	// DNS网关默认配置
	v.SetDefault("dns.enabled", false)
	v.SetDefault("dns.listen_address", "0.0.0.0")
	v.SetDefault("dns.port", 5353)
	v.SetDefault("dns.domain", "vault.local")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}
