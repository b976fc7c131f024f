package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/vault-discovery/internal/config"
	sdk "github.com/hewenyu/vault-discovery/sdk/go"
)

var (
	configFile     string
	serviceType    string
	serviceName    string
	serviceAddr    string
	serviceVersion string
)

func init() {
	flag.StringVar(&configFile, "config", "", "配置文件路径")
	flag.StringVar(&serviceType, "type", "", "服务类型（必填）")
	flag.StringVar(&serviceName, "name", "", "服务名称")
	flag.StringVar(&serviceAddr, "addr", "", "服务地址，如 192.168.1.5:2004（必填）")
	flag.StringVar(&serviceVersion, "version", "", "服务版本")
}

func main() {
	flag.Parse()

	// 加载配置
	appConfig, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err := config.NewLogger(appConfig.Log.Level, appConfig.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	announcer, err := sdk.NewAnnouncer(&sdk.AnnouncerConfig{
		Group:          appConfig.Multicast.Group,
		Port:           appConfig.Multicast.Port,
		TTL:            appConfig.Multicast.TTL,
		Interval:       appConfig.Multicast.BroadcastInterval,
		Delay:          appConfig.Multicast.BroadcastDelay,
		ServiceType:    serviceType,
		ServiceName:    serviceName,
		ServiceAddr:    serviceAddr,
		ServiceVersion: serviceVersion,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "创建公告方失败: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	if err := announcer.Start(); err != nil {
		logger.Error("启动公告失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务公告已启动",
		zap.String("type", serviceType),
		zap.String("addr", serviceAddr),
		zap.String("instance_id", announcer.InstanceID()),
		zap.String("group", appConfig.Multicast.Group),
		zap.Int("port", appConfig.Multicast.Port),
		zap.Duration("interval", appConfig.Multicast.BroadcastInterval),
	)

	// 等待信号以优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("接收到关闭信号，正在停止公告...")
	if err := announcer.Stop(5 * time.Second); err != nil {
		logger.Error("停止公告失败", zap.Error(err))
	}

	snap := announcer.Metrics()
	logger.Info("公告已停止",
		zap.Int64("packets_sent", snap.PacketsSent),
		zap.Int64("bytes_sent", snap.BytesSent),
	)
}
