package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 初始化全局 logger：dev 环境输出彩色控制台格式，其余环境输出 JSON。
func Init(env string) {
	InitWriter(env, os.Stdout)
}

// InitWriter 与 Init 相同，但写入指定的 w。终端客户端用它把日志写到文件，避免干扰界面。
func InitWriter(env string, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if env == "dev" {
		level = zerolog.DebugLevel
	}
	if env == "dev" && w == os.Stdout {
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(cw).Level(level).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}
