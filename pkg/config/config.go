package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Log      LogConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Runner   RunnerConfig
	Catalog  CatalogConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type LogConfig struct {
	Level      string
	FilePath   string
	MaxSize    int    // MB
	MaxBackups int    // 保留的备份文件数
	MaxAge     int    // 保留天数
	Compress   bool   // 是否压缩
	Format     string // json 或 text
}

type RedisConfig struct {
	Host     string // Redis主机地址
	Port     int    // Redis端口
	Password string // Redis密码
	DB       int    // Redis数据库编号
	Prefix   string // 队列键前缀
}

type CORSConfig struct {
	AllowOrigins     []string // 允许的源
	AllowMethods     []string // 允许的HTTP方法
	AllowHeaders     []string // 允许的请求头
	ExposeHeaders    []string // 暴露的响应头
	AllowCredentials bool     // 是否允许携带凭证
	MaxAge           int      // 预检请求缓存时间（小时）
}

// RunnerConfig ansible-playbook 执行配置
type RunnerConfig struct {
	Binary      string        // ansible-playbook 可执行文件
	WorkDir     string        // 执行时的工作目录
	PlaybookDir string        // playbook_result_<runID> 目录的父目录
	LogDir      string        // 执行日志目录
	TaskDir     string        // 检查模块（任务文件）目录
	Verbosity   int           // -v 的个数
	Forks       int           // 并发数，0 表示使用 ansible 默认值
	PollTimeout time.Duration // 调用方轮询输出通道的超时
	RunTimeout  time.Duration // 单次执行超时，0 表示不限制
	SkipFacts   bool          // 不收集 facts，检查模块依赖 facts 时不要开启
}

// CatalogConfig 检查项目录文件
type CatalogConfig struct {
	CategoriesFile string
	MappingFile    string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// 全局配置实例和同步锁
var (
	globalConfig *Config
	once         sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		var err error
		globalConfig, err = LoadConfig()
		if err != nil {
			panic("Failed to load config: " + err.Error())
		}
	})
	return globalConfig
}

// 获取环境变量，如果不存在则使用默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// 获取环境变量转换为int
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// 获取环境变量转换为bool
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

// 获取环境变量转换为时间间隔，如 "500ms"、"2h"
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// 获取环境变量转换为字符串数组（逗号分隔）
func getEnvAsStringArray(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

func LoadConfig() (*Config, error) {
	// .env 不存在时直接使用环境变量
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Mode: getEnv("SERVER_MODE", "debug"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "askable"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			FilePath:   getEnv("LOG_FILE_PATH", "logs/app.log"),
			MaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 7),
			MaxAge:     getEnvAsInt("LOG_MAX_AGE", 30),
			Compress:   getEnvAsBool("LOG_COMPRESS", true),
			Format:     getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "askable:queue"),
		},
		CORS: CORSConfig{
			AllowOrigins:     getEnvAsStringArray("CORS_ALLOW_ORIGINS", []string{"*"}),
			AllowMethods:     getEnvAsStringArray("CORS_ALLOW_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowHeaders:     getEnvAsStringArray("CORS_ALLOW_HEADERS", []string{"Origin", "Content-Type", "Accept", "X-Requested-With"}),
			ExposeHeaders:    getEnvAsStringArray("CORS_EXPOSE_HEADERS", []string{"Content-Length", "Content-Type"}),
			AllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getEnvAsInt("CORS_MAX_AGE", 12),
		},
		Runner: RunnerConfig{
			Binary:      getEnv("RUNNER_BINARY", "ansible-playbook"),
			WorkDir:     getEnv("RUNNER_WORK_DIR", "."),
			PlaybookDir: getEnv("RUNNER_PLAYBOOK_DIR", "playbooks"),
			LogDir:      getEnv("RUNNER_LOG_DIR", "logs"),
			TaskDir:     getEnv("RUNNER_TASK_DIR", "tasks"),
			Verbosity:   getEnvAsInt("RUNNER_VERBOSITY", 1),
			Forks:       getEnvAsInt("RUNNER_FORKS", 5),
			PollTimeout: getEnvAsDuration("RUNNER_POLL_TIMEOUT", 500*time.Millisecond),
			RunTimeout:  getEnvAsDuration("RUNNER_RUN_TIMEOUT", 0),
			SkipFacts:   getEnvAsBool("RUNNER_SKIP_FACTS", false),
		},
		Catalog: CatalogConfig{
			CategoriesFile: getEnv("CATALOG_CATEGORIES_FILE", "vulnerability_categories.json"),
			MappingFile:    getEnv("CATALOG_MAPPING_FILE", "filename_mapping.json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// validateConfig 验证配置
func validateConfig(cfg *Config) error {
	if cfg.Runner.Binary == "" {
		return fmt.Errorf("RUNNER_BINARY不能为空")
	}
	if cfg.Runner.PollTimeout <= 0 {
		return fmt.Errorf("RUNNER_POLL_TIMEOUT必须大于0")
	}
	if cfg.Runner.RunTimeout < 0 {
		return fmt.Errorf("RUNNER_RUN_TIMEOUT不能为负数")
	}
	if cfg.Runner.Verbosity < 0 || cfg.Runner.Verbosity > 4 {
		return fmt.Errorf("RUNNER_VERBOSITY必须在0-4之间")
	}
	if cfg.Catalog.CategoriesFile == "" || cfg.Catalog.MappingFile == "" {
		return fmt.Errorf("检查项目录文件未配置")
	}
	return nil
}
