package dnsgateway

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/hewenyu/vault-discovery/internal/config"
	"github.com/hewenyu/vault-discovery/pkg/registry"
)

// Server 定义DNS网关接口
type Server interface {
	// Start 启动DNS网关
	Start() error

	// Shutdown 优雅关闭DNS网关
	Shutdown(ctx context.Context) error
}

// DNSGateway 把服务注册表暴露为本地DNS域。
// 已发现的服务可通过 <服务名>.<域名后缀> 解析为A/SRV/TXT记录。
type DNSGateway struct {
	udpServer *dns.Server
	cfg       *config.Config
	logger    config.Logger
	registry  *registry.Registry
	domain    string
}

// NewDNSGateway 创建DNS网关
func NewDNSGateway(cfg *config.Config, logger config.Logger, reg *registry.Registry) Server {
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &DNSGateway{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		domain:   strings.TrimSuffix(cfg.DNS.Domain, "."),
	}
}

// Start 启动DNS网关
func (s *DNSGateway) Start() error {
	s.logger.Info("启动DNS网关",
		zap.String("address", s.cfg.DNS.ListenAddress),
		zap.Int("port", s.cfg.DNS.Port),
		zap.String("domain", s.domain))

	// 创建DNS处理器
	handler := dns.NewServeMux()
	handler.HandleFunc(".", s.handleDNSRequest)

	addr := net.JoinHostPort(s.cfg.DNS.ListenAddress, strconv.Itoa(s.cfg.DNS.Port))
	s.udpServer = &dns.Server{
		Addr:    addr,
		Net:     "udp",
		Handler: handler,
	}

	// 在后台启动UDP服务器
	go func() {
		if err := s.udpServer.ListenAndServe(); err != nil {
			// miekg/dns没有ErrServerClosed，我们需要自己判断服务关闭情况
			s.logger.Error("DNS网关错误", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown 优雅关闭DNS网关
func (s *DNSGateway) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭DNS网关...")

	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			s.logger.Error("关闭DNS网关出错", zap.Error(err))
			return err
		}
		s.logger.Info("DNS网关已关闭")
	}
	return nil
}

// handleDNSRequest 处理DNS请求
func (s *DNSGateway) handleDNSRequest(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	// 遍历所有的问题
	answered := false
	for _, q := range r.Question {
		s.logger.Debug("收到DNS查询",
			zap.String("name", q.Name),
			zap.String("type", dns.TypeToString[q.Qtype]))

		if s.handleQuery(q, m) {
			answered = true
		}
	}

	// 所有问题都无答案时才设置NXDOMAIN，避免返回携带答案的NXDOMAIN响应
	if !answered {
		m.SetRcode(r, dns.RcodeNameError)
	}

	if err := w.WriteMsg(m); err != nil {
		s.logger.Error("发送DNS响应失败", zap.Error(err))
	}
}

// handleQuery 处理单个DNS查询问题
func (s *DNSGateway) handleQuery(q dns.Question, m *dns.Msg) bool {
	// 移除尾部的点号并转换为小写
	name := strings.TrimSuffix(strings.ToLower(q.Name), ".")

	// 只回答本地域内的查询
	suffix := "." + s.domain
	if !strings.HasSuffix(name, suffix) {
		return false
	}
	serviceName := strings.TrimSuffix(name, suffix)
	if serviceName == "" {
		return false
	}

	// 从注册表查找同名的活跃服务
	entry := s.lookup(serviceName)
	if entry == nil {
		return false
	}

	host, portStr, err := net.SplitHostPort(entry.Addr)
	if err != nil {
		// 地址不含端口时按纯主机处理
		host, portStr = entry.Addr, "0"
	}

	switch q.Qtype {
	case dns.TypeA:
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			return false
		}
		rr, err := dns.NewRR(fmt.Sprintf("%s. 30 A %s", name, ip.String()))
		if err != nil {
			s.logger.Error("创建A记录失败", zap.Error(err))
			return false
		}
		m.Answer = append(m.Answer, rr)
		return true

	case dns.TypeSRV:
		rr, err := dns.NewRR(fmt.Sprintf("%s. 30 SRV 0 0 %s %s.", name, portStr, name))
		if err != nil {
			s.logger.Error("创建SRV记录失败", zap.Error(err))
			return false
		}
		m.Answer = append(m.Answer, rr)
		return true

	case dns.TypeTXT:
		rr, err := dns.NewRR(fmt.Sprintf("%s. 30 TXT \"type=%s\" \"addr=%s\" \"last_seen=%s\"",
			name, entry.Descriptor.Type, entry.Addr, entry.LastSeen.UTC().Format(time.RFC3339)))
		if err != nil {
			s.logger.Error("创建TXT记录失败", zap.Error(err))
			return false
		}
		m.Answer = append(m.Answer, rr)
		return true

	default:
		s.logger.Debug("不支持的DNS记录类型",
			zap.String("name", name),
			zap.String("type", dns.TypeToString[q.Qtype]))
		return false
	}
}

// lookup 在活跃服务快照中按服务名查找，未命名的服务回退到类型匹配
func (s *DNSGateway) lookup(serviceName string) *registry.ServiceEntry {
	for _, entry := range s.registry.ActiveSnapshot() {
		if strings.EqualFold(entry.Descriptor.Name, serviceName) {
			return entry
		}
	}
	for _, entry := range s.registry.ActiveSnapshot() {
		if entry.Descriptor.Name == "" && strings.EqualFold(entry.Descriptor.Type, serviceName) {
			return entry
		}
	}
	return nil
}
