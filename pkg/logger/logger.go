package logger

import (
	"askable/pkg/config"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger *logrus.Logger

// Initialize 初始化日志
func Initialize(cfg *config.Config) error {
	log, err := New(cfg.Log)
	if err != nil {
		return err
	}
	Logger = log
	return nil
}

// New 根据日志配置创建日志实例
func New(cfg config.LogConfig) (*logrus.Logger, error) {
	log := logrus.New()

	// 设置日志等级
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// 设置日志格式
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	}

	if cfg.FilePath == "" {
		log.SetOutput(os.Stdout)
		return log, nil
	}

	// 创建日志目录
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, err
	}

	// 配置日志轮转
	rotateLogger := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	// 同时输出到文件和控制台
	log.SetOutput(io.MultiWriter(os.Stdout, rotateLogger))
	return log, nil
}

// GetLogger 获取日志实例，未初始化时返回标准输出日志
func GetLogger() *logrus.Logger {
	if Logger == nil {
		return logrus.StandardLogger()
	}
	return Logger
}

// Discard 返回丢弃所有输出的日志实例
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
