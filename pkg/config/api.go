package config

import "time"

// Api 后端 HTTP 接口配置
type Api struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ChatTimeout    time.Duration `mapstructure:"chat_timeout"` // 非流式对话单独放宽
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"` // 第 n 次重试等待 n*RetryDelay
	HealthInterval time.Duration `mapstructure:"health_interval"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout"`
}

func GetApiConf() Api {
	return apiConf
}

// Channel 推送通道（WebSocket）配置
type Channel struct {
	URL               string        `mapstructure:"url"`
	PageOrigin        string        `mapstructure:"page_origin"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
}

func GetChannelConf() Channel {
	return channelConf
}

// Chat 对话状态机配置
type Chat struct {
	UserID          string        `mapstructure:"user_id"`
	ResponseStyle   string        `mapstructure:"response_style"`
	ThinkingBase    time.Duration `mapstructure:"thinking_base"`
	ThinkingPerChar time.Duration `mapstructure:"thinking_per_char"`
	ThinkingMax     time.Duration `mapstructure:"thinking_max"`
	ThinkingCharCap int           `mapstructure:"thinking_char_cap"`
	RevealSteps     int           `mapstructure:"reveal_steps"`
	RevealTick      time.Duration `mapstructure:"reveal_tick"`
}

func GetChatConf() Chat {
	return chatConf
}

// Server 本地开发后端配置
type Server struct {
	Addr      string `mapstructure:"addr"`
	UploadDir string `mapstructure:"upload_dir"`
}

func GetServerConf() Server {
	return serverConf
}
