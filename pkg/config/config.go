package config

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	appConf     App
	apiConf     Api
	channelConf Channel
	chatConf    Chat
	serverConf  Server
)

type App struct {
	RunMode  string `mapstructure:"run_mode"`
	LogLevel string `mapstructure:"log_level"`
}

type settings struct {
	App     App     `mapstructure:"app"`
	Api     Api     `mapstructure:"api"`
	Channel Channel `mapstructure:"channel"`
	Chat    Chat    `mapstructure:"chat"`
	Server  Server  `mapstructure:"server"`
	Openai  Openai  `mapstructure:"openai"`
}

// Init 加载配置文件（可为空）并叠加 XIAOLE_ 前缀的环境变量
func Init(path string) error {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("XIAOLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	appConf = s.App
	apiConf = s.Api
	channelConf = s.Channel
	chatConf = s.Chat
	serverConf = s.Server
	myopenai = s.Openai

	setupLog(appConf)
	log.WithField("run_mode", appConf.RunMode).Info("config loaded")
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.run_mode", "dev")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.chat_timeout", 120*time.Second)
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.retry_delay", time.Second)
	v.SetDefault("api.health_interval", 30*time.Second)
	v.SetDefault("api.health_timeout", 8*time.Second)

	v.SetDefault("channel.url", "")
	v.SetDefault("channel.page_origin", "http://localhost:8000")
	v.SetDefault("channel.heartbeat_interval", 30*time.Second)
	v.SetDefault("channel.reconnect_delay", 5*time.Second)
	v.SetDefault("channel.handshake_timeout", 10*time.Second)

	v.SetDefault("chat.user_id", "default_user")
	v.SetDefault("chat.response_style", "balanced")
	v.SetDefault("chat.thinking_base", 350*time.Millisecond)
	v.SetDefault("chat.thinking_per_char", 4*time.Millisecond)
	v.SetDefault("chat.thinking_max", 2*time.Second)
	v.SetDefault("chat.thinking_char_cap", 400)
	v.SetDefault("chat.reveal_steps", 60)
	v.SetDefault("chat.reveal_tick", 16*time.Millisecond)

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.upload_dir", "uploads")

	v.SetDefault("openai.apikey", "")
	v.SetDefault("openai.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("openai.model", "qwen-plus")
	v.SetDefault("openai.prompt", "{{history}}\n{{input_question}}")
}

func GetRunMode() string {
	return appConf.RunMode
}

func GetAppConf() App {
	return appConf
}
