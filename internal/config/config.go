package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host         string        // 监听地址，默认 "0.0.0.0"
	Port         int           // 监听端口，默认 8080
	MaxBodyBytes int64         // 请求体大小上限
	ReadTimeout  time.Duration // 读超时
	WriteTimeout time.Duration // 写超时
}

// MailboxConfig 定义邮箱分配相关配置
type MailboxConfig struct {
	AllowedDomains    []string // 允许创建邮箱的域名列表，第一个为默认域名
	DefaultTTLHours   int      // 未指定有效期时使用的小时数
	MaxTTLHours       int      // 允许的最大有效期（小时）
	MaxPerIP          int      // 单个 IP 同时存活的邮箱上限，0 表示不限制
	CreateRatePerHour int      // 单个 IP 每小时可创建的邮箱数，0 表示不限制
}

// RetentionConfig 定义清理引擎配置
type RetentionConfig struct {
	Enabled         bool          // 是否在 server 进程内定时清理
	SweepInterval   time.Duration // 定时清理间隔
	EmailMaxAge     time.Duration // 邮件最长保留时间，默认 24 小时
	SweepReadEmails bool          // 是否清理已读邮件
}

// StorageConfig 定义记录写入策略
type StorageConfig struct {
	AtomicAttachmentWrites bool // 附件行与分块是否在同一事务中写入
}

// DatabaseConfig 定义数据库连接配置（支持 PostgreSQL、MySQL 和 SQLite）
type DatabaseConfig struct {
	Type            string // 数据库类型: "postgres"、"mysql"、"sqlite"，为空时使用内存存储
	DSN             string // 数据库连接字符串
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool // 启动时执行内嵌的 goose 迁移
}

// RedisConfig 定义 Redis 配置，Address 为空表示不启用
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// SMTPConfig 定义 SMTP 收信服务配置
type SMTPConfig struct {
	Enabled              bool
	BindAddr             string // 监听地址，格式 "host:port"
	Domain               string // HELO/EHLO 使用的域名
	MaxMessageBytes      int64
	MaxRecipients        int
	MaxConnections       int     // 全局并发连接上限
	ConnectionsPerSecond float64 // 单个 IP 每秒新建连接数
	ConnectionBurst      int
}

// InboundConfig 定义 HTTP 收信入口配置
type InboundConfig struct {
	Token string // X-Inbound-Token 共享密钥，为空表示关闭该入口
}

// OutboundConfig 定义外发邮件配置
type OutboundConfig struct {
	Mode         string // "", "api" 或 "smtp"
	APIURL       string
	APIKey       string
	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
	Timeout      time.Duration
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // debug, info, warn, error
	Development bool
	File        string // 日志文件路径，为空只输出到标准输出
	MaxSize     int    // 单个文件大小上限（MB）
	MaxBackups  int
	MaxAge      int // 保留天数
	Compress    bool
}

// JWTConfig 定义管理接口令牌配置，Secret 为空时关闭管理接口
type JWTConfig struct {
	Secret       string
	Issuer       string
	AccessExpiry time.Duration
}

// Config 是系统配置的根结构体
type Config struct {
	Server    ServerConfig
	Mailbox   MailboxConfig
	Retention RetentionConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	SMTP      SMTPConfig
	Inbound   InboundConfig
	Outbound  OutboundConfig
	CORS      CORSConfig
	Log       LogConfig
	JWT       JWTConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TEMPINBOX_，例如 TEMPINBOX_DATABASE_TYPE
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("tempinbox")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	domainList := parseDomains(v.GetString("mailbox.allowed_domains"))
	if len(domainList) == 0 {
		return nil, fmt.Errorf("mailbox.allowed_domains must not be empty")
	}

	defaultTTL := v.GetInt("mailbox.default_ttl_hours")
	maxTTL := v.GetInt("mailbox.max_ttl_hours")
	if defaultTTL <= 0 || maxTTL <= 0 || defaultTTL > maxTTL {
		return nil, fmt.Errorf("invalid mailbox ttl: default=%d max=%d", defaultTTL, maxTTL)
	}

	durations := map[string]time.Duration{}
	for _, key := range []string{
		"server.read_timeout", "server.write_timeout",
		"retention.sweep_interval", "retention.email_max_age",
		"database.conn_max_lifetime", "outbound.timeout", "jwt.access_expiry",
	} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = d
	}
	if durations["retention.sweep_interval"] <= 0 {
		return nil, fmt.Errorf("retention.sweep_interval must be positive")
	}

	dbType := strings.ToLower(v.GetString("database.type"))
	switch dbType {
	case "", "memory", "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported database.type: %s", dbType)
	}
	if dbType == "memory" {
		dbType = ""
	}
	if dbType != "" && v.GetString("database.dsn") == "" {
		return nil, fmt.Errorf("database.dsn is required for database.type=%s", dbType)
	}

	outboundMode := strings.ToLower(v.GetString("outbound.mode"))
	switch outboundMode {
	case "":
	case "api":
		if v.GetString("outbound.api_url") == "" {
			return nil, fmt.Errorf("outbound.api_url is required for outbound.mode=api")
		}
	case "smtp":
		if v.GetString("outbound.smtp_addr") == "" {
			return nil, fmt.Errorf("outbound.smtp_addr is required for outbound.mode=smtp")
		}
	default:
		return nil, fmt.Errorf("unsupported outbound.mode: %s", outboundMode)
	}

	jwtSecret := v.GetString("jwt.secret")
	if jwtSecret != "" && len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			MaxBodyBytes: v.GetInt64("server.max_body_bytes"),
			ReadTimeout:  durations["server.read_timeout"],
			WriteTimeout: durations["server.write_timeout"],
		},
		Mailbox: MailboxConfig{
			AllowedDomains:    domainList,
			DefaultTTLHours:   defaultTTL,
			MaxTTLHours:       maxTTL,
			MaxPerIP:          v.GetInt("mailbox.max_per_ip"),
			CreateRatePerHour: v.GetInt("mailbox.create_rate_per_hour"),
		},
		Retention: RetentionConfig{
			Enabled:         v.GetBool("retention.enabled"),
			SweepInterval:   durations["retention.sweep_interval"],
			EmailMaxAge:     durations["retention.email_max_age"],
			SweepReadEmails: v.GetBool("retention.sweep_read_emails"),
		},
		Storage: StorageConfig{
			AtomicAttachmentWrites: v.GetBool("storage.atomic_attachment_writes"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: durations["database.conn_max_lifetime"],
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		SMTP: SMTPConfig{
			Enabled:              v.GetBool("smtp.enabled"),
			BindAddr:             v.GetString("smtp.bind_addr"),
			Domain:               v.GetString("smtp.domain"),
			MaxMessageBytes:      v.GetInt64("smtp.max_message_bytes"),
			MaxRecipients:        v.GetInt("smtp.max_recipients"),
			MaxConnections:       v.GetInt("smtp.max_connections"),
			ConnectionsPerSecond: v.GetFloat64("smtp.connections_per_second"),
			ConnectionBurst:      v.GetInt("smtp.connection_burst"),
		},
		Inbound: InboundConfig{
			Token: v.GetString("inbound.token"),
		},
		Outbound: OutboundConfig{
			Mode:         outboundMode,
			APIURL:       v.GetString("outbound.api_url"),
			APIKey:       v.GetString("outbound.api_key"),
			SMTPAddr:     v.GetString("outbound.smtp_addr"),
			SMTPUsername: v.GetString("outbound.smtp_username"),
			SMTPPassword: v.GetString("outbound.smtp_password"),
			Timeout:      durations["outbound.timeout"],
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
			MaxSize:     v.GetInt("log.max_size"),
			MaxBackups:  v.GetInt("log.max_backups"),
			MaxAge:      v.GetInt("log.max_age"),
			Compress:    v.GetBool("log.compress"),
		},
		JWT: JWTConfig{
			Secret:       jwtSecret,
			Issuer:       v.GetString("jwt.issuer"),
			AccessExpiry: durations["jwt.access_expiry"],
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("mailbox.allowed_domains", "temp.mail")
	v.SetDefault("mailbox.default_ttl_hours", 24)
	v.SetDefault("mailbox.max_ttl_hours", 72)
	v.SetDefault("mailbox.max_per_ip", 10)
	v.SetDefault("mailbox.create_rate_per_hour", 30)
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.sweep_interval", "10m")
	v.SetDefault("retention.email_max_age", "24h")
	v.SetDefault("retention.sweep_read_emails", true)
	v.SetDefault("storage.atomic_attachment_writes", true)
	v.SetDefault("database.type", "") // 默认为空，使用内存存储
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("smtp.enabled", true)
	v.SetDefault("smtp.bind_addr", ":25")
	v.SetDefault("smtp.domain", "temp.mail")
	v.SetDefault("smtp.max_message_bytes", 25<<20)
	v.SetDefault("smtp.max_recipients", 50)
	v.SetDefault("smtp.max_connections", 100)
	v.SetDefault("smtp.connections_per_second", 5)
	v.SetDefault("smtp.connection_burst", 10)
	v.SetDefault("inbound.token", "")
	v.SetDefault("outbound.mode", "")
	v.SetDefault("outbound.api_url", "")
	v.SetDefault("outbound.api_key", "")
	v.SetDefault("outbound.smtp_addr", "")
	v.SetDefault("outbound.smtp_username", "")
	v.SetDefault("outbound.smtp_password", "")
	v.SetDefault("outbound.timeout", "10s")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "tempinbox")
	v.SetDefault("jwt.access_expiry", "1h")
}

// Addr 返回 HTTP 监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组
func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载当前目录或父目录的 .env，文件不存在时静默跳过。
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
