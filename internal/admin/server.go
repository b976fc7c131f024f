package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/hewenyu/vault-discovery/internal/config"
	"github.com/hewenyu/vault-discovery/pkg/metrics"
	"github.com/hewenyu/vault-discovery/pkg/registry"
)

// MetricsSource 提供指标快照和清零能力，由监听器实现
type MetricsSource interface {
	Metrics() metrics.Snapshot
	ResetMetrics()
}

// Server 定义管理API接口
type Server interface {
	// Start 启动管理API服务
	Start() error

	// Shutdown 优雅关闭管理API服务
	Shutdown(ctx context.Context) error
}

// EchoServer 实现Server接口
type EchoServer struct {
	echo     *echo.Echo
	cfg      *config.Config
	logger   config.Logger
	registry *registry.Registry
	source   MetricsSource
}

// NewServer 创建管理API服务
func NewServer(cfg *config.Config, logger config.Logger, reg *registry.Registry, source MetricsSource) Server {
	return &EchoServer{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		source:   source,
	}
}

// Start 启动管理API服务
func (s *EchoServer) Start() error {
	s.logger.Info("启动管理API服务",
		zap.String("address", s.cfg.Admin.ListenAddress),
		zap.Int("port", s.cfg.Admin.Port))

	// 创建Echo实例
	s.echo = echo.New()
	s.echo.HideBanner = true

	// 添加中间件
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.Logger())

	// 注册路由
	s.registerRoutes()

	// 启动服务（非阻塞）
	go func() {
		addr := fmt.Sprintf("%s:%d", s.cfg.Admin.ListenAddress, s.cfg.Admin.Port)
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Error("管理API服务启动失败", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown 优雅关闭管理API服务
func (s *EchoServer) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭管理API服务...")

	if s.echo != nil {
		if err := s.echo.Shutdown(ctx); err != nil {
			s.logger.Error("关闭管理API服务出错", zap.Error(err))
			return err
		}
	}
	return nil
}

// registerRoutes 注册管理API路由
func (s *EchoServer) registerRoutes() {
	// 健康检查端点
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
			"service":   "vault-discovery-admin-api",
		})
	})

	// 指标端点
	s.echo.GET("/admin/metrics", s.getMetricsHandler)
	s.echo.POST("/admin/metrics/reset", s.resetMetricsHandler)

	// 服务注册表端点
	s.echo.GET("/admin/services", s.getServicesHandler)
	s.echo.GET("/admin/services/:addr", s.getServiceDetailHandler)
	s.echo.POST("/admin/services/sweep", s.sweepServicesHandler)
	s.echo.DELETE("/admin/services", s.clearServicesHandler)
}

// MetricsResponse 定义指标响应结构
type MetricsResponse struct {
	Success   bool              `json:"success"`           // 是否成功
	Metrics   *metrics.Snapshot `json:"metrics,omitempty"` // 指标快照
	Message   string            `json:"message,omitempty"` // 可选消息
	Timestamp string            `json:"timestamp"`         // 时间戳
}

// ServiceListResponse 定义服务列表响应结构
type ServiceListResponse struct {
	Success   bool                     `json:"success"`           // 是否成功
	Services  []*registry.ServiceEntry `json:"services"`          // 活跃服务列表
	Count     int                      `json:"count"`             // 服务数量
	Message   string                   `json:"message,omitempty"` // 可选消息
	Timestamp string                   `json:"timestamp"`         // 时间戳
}

// ServiceDetailResponse 定义服务详情响应结构
type ServiceDetailResponse struct {
	Success   bool                   `json:"success"`           // 是否成功
	Service   *registry.ServiceEntry `json:"service,omitempty"` // 服务条目
	Message   string                 `json:"message,omitempty"` // 可选消息
	Timestamp string                 `json:"timestamp"`         // 时间戳
}

// SweepResponse 定义清理操作响应结构
type SweepResponse struct {
	Success   bool   `json:"success"`           // 是否成功
	Removed   int    `json:"removed"`           // 删除的条目数
	Message   string `json:"message,omitempty"` // 可选消息
	Timestamp string `json:"timestamp"`         // 时间戳
}

// getMetricsHandler 处理获取指标快照的请求
func (s *EchoServer) getMetricsHandler(c echo.Context) error {
	snap := s.source.Metrics()
	return c.JSON(http.StatusOK, &MetricsResponse{
		Success:   true,
		Metrics:   &snap,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// resetMetricsHandler 处理清零指标的请求
func (s *EchoServer) resetMetricsHandler(c echo.Context) error {
	s.source.ResetMetrics()
	s.logger.Info("指标已清零")
	return c.JSON(http.StatusOK, &MetricsResponse{
		Success:   true,
		Message:   "指标已清零",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// getServicesHandler 处理获取活跃服务列表的请求
func (s *EchoServer) getServicesHandler(c echo.Context) error {
	services := s.registry.ActiveSnapshot()
	return c.JSON(http.StatusOK, &ServiceListResponse{
		Success:   true,
		Services:  services,
		Count:     len(services),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// getServiceDetailHandler 处理获取单个服务详情的请求
func (s *EchoServer) getServiceDetailHandler(c echo.Context) error {
	addr := c.Param("addr")
	if addr == "" {
		return c.JSON(http.StatusBadRequest, &ServiceDetailResponse{
			Success:   false,
			Message:   "请求参数无效：服务地址是必需的",
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}

	entry, ok := s.registry.Get(addr, time.Now())
	if !ok {
		return c.JSON(http.StatusNotFound, &ServiceDetailResponse{
			Success:   false,
			Message:   "未找到指定的服务: " + addr,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}

	return c.JSON(http.StatusOK, &ServiceDetailResponse{
		Success:   true,
		Service:   entry,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// sweepServicesHandler 处理手动清理过期服务的请求
func (s *EchoServer) sweepServicesHandler(c echo.Context) error {
	removed := s.registry.Sweep(time.Now())
	s.logger.Info("手动清理过期服务", zap.Int("removed", removed))
	return c.JSON(http.StatusOK, &SweepResponse{
		Success:   true,
		Removed:   removed,
		Message:   "过期服务清理完成",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// clearServicesHandler 处理清空注册表的请求（重新搜索前的手动刷新）
func (s *EchoServer) clearServicesHandler(c echo.Context) error {
	s.registry.Reset()
	s.source.ResetMetrics()
	s.logger.Info("服务注册表已清空")
	return c.JSON(http.StatusOK, &SweepResponse{
		Success:   true,
		Message:   "服务注册表已清空",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
