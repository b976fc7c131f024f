package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// 从默认位置加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载默认配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证默认值
	assert.Equal(t, "224.1.1.1", config.Multicast.Group, "组播地址应为224.1.1.1")
	assert.Equal(t, 5004, config.Multicast.Port, "组播端口应为5004")
	assert.Equal(t, 2, config.Multicast.TTL, "组播TTL应为2")
	assert.Equal(t, 2*time.Second, config.Multicast.BroadcastInterval, "广播周期应为2秒")
	assert.Equal(t, 2*time.Second, config.Multicast.ReceiveTimeout, "接收超时应为2秒")
	assert.Equal(t, 1400, config.Multicast.BufferSize, "缓冲区大小应为1400")
	assert.Equal(t, 30*time.Second, config.Discovery.ServiceTimeout, "服务存活窗口应为30秒")
	assert.Equal(t, 5*time.Second, config.Discovery.SweepInterval, "清理周期应为5秒")
	assert.Equal(t, 8080, config.Admin.Port, "管理API端口应为8080")
	assert.Equal(t, 5353, config.DNS.Port, "DNS端口应为5353")
	assert.Equal(t, "vault.local", config.DNS.Domain, "DNS域名后缀应为vault.local")
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	// 设置环境变量
	os.Setenv("VAULT_DISCOVERY_MULTICAST_PORT", "15004")
	os.Setenv("VAULT_DISCOVERY_DISCOVERY_SERVICE_TIMEOUT", "60s")
	defer func() {
		os.Unsetenv("VAULT_DISCOVERY_MULTICAST_PORT")
		os.Unsetenv("VAULT_DISCOVERY_DISCOVERY_SERVICE_TIMEOUT")
	}()

	// 加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证环境变量覆盖
	assert.Equal(t, 15004, config.Multicast.Port, "环境变量应正确覆盖组播端口")
	assert.Equal(t, 60*time.Second, config.Discovery.ServiceTimeout, "环境变量应正确覆盖服务存活窗口")

	// 确认其他值不受影响
	assert.Equal(t, "224.1.1.1", config.Multicast.Group, "组播地址不应被环境变量影响")
}

func TestLoadConfigWithMissingFile(t *testing.T) {
	// 尝试从不存在的文件加载配置
	config, err := LoadConfig("non_existent_file.yaml")

	// 应该返回错误
	assert.Error(t, err, "从不存在的文件加载配置应该失败")

	// 不应该返回配置对象
	assert.Nil(t, config, "加载不存在的配置文件应该返回nil配置")
}
