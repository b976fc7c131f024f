package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/vault-discovery/internal/admin"
	"github.com/hewenyu/vault-discovery/internal/config"
	"github.com/hewenyu/vault-discovery/internal/dnsgateway"
	"github.com/hewenyu/vault-discovery/internal/sweeper"
	"github.com/hewenyu/vault-discovery/pkg/multicast"
	"github.com/hewenyu/vault-discovery/pkg/registry"
)

var (
	logger     config.Logger
	configFile string
	appConfig  *config.Config
)

func init() {
	// 解析命令行参数
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	var err error
	appConfig, err = config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err = config.NewLogger(appConfig.Log.Level, appConfig.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	// 打印启动信息
	logger.Info("Vault Discovery Service Starting...",
		zap.String("version", "0.1.0"),
		zap.String("multicast_group", appConfig.Multicast.Group),
		zap.Int("multicast_port", appConfig.Multicast.Port),
		zap.Duration("service_timeout", appConfig.Discovery.ServiceTimeout),
		zap.Int("admin_api_port", appConfig.Admin.Port),
	)

	// 创建服务注册表
	reg := registry.NewRegistry(appConfig.Discovery.ServiceTimeout)

	// 创建组播监听器，新公告以日志形式可见
	listener, err := multicast.NewListener(
		multicast.ListenerConfigFromApp(appConfig),
		reg,
		nil,
		logger,
	)
	if err != nil {
		logger.Error("创建组播监听器失败", zap.Error(err))
		os.Exit(1)
	}
	if err := listener.Start(); err != nil {
		logger.Error("启动组播监听器失败", zap.Error(err))
		os.Exit(1)
	}

	// 启动注册表清理器
	sw := sweeper.NewSweeper(reg, appConfig.Discovery.SweepInterval, logger)
	sw.Start()

	// 启动管理API
	var adminServer admin.Server
	if appConfig.Admin.Enabled {
		adminServer = admin.NewServer(appConfig, logger, reg, listener)
		if err := adminServer.Start(); err != nil {
			logger.Error("启动管理API失败", zap.Error(err))
			os.Exit(1)
		}
	}

	// 启动DNS网关
	var dnsServer dnsgateway.Server
	if appConfig.DNS.Enabled {
		dnsServer = dnsgateway.NewDNSGateway(appConfig, logger, reg)
		if err := dnsServer.Start(); err != nil {
			logger.Error("启动DNS网关失败", zap.Error(err))
			os.Exit(1)
		}
	}

	// 等待信号以优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("接收到关闭信号，正在优雅关闭...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if dnsServer != nil {
		if err := dnsServer.Shutdown(ctx); err != nil {
			logger.Error("关闭DNS网关失败", zap.Error(err))
		}
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(ctx); err != nil {
			logger.Error("关闭管理API失败", zap.Error(err))
		}
	}

	sw.Stop()

	if err := listener.Stop(5 * time.Second); err != nil {
		logger.Error("停止组播监听器失败", zap.Error(err))
	}

	logger.Info("服务已退出")
}
