package config

var myopenai Openai

type Openai struct {
	ApiKey  string `mapstructure:"apikey"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	Prompt  string `mapstructure:"prompt"`
}

func GetOpenaiConf() Openai {
	return myopenai
}
