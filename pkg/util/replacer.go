package util

import "strings"

// StringReplacer 提示词模板替换接口
type StringReplacer interface {
	// Render 将模板中的 {{key}} 替换为 vars[key]
	Render(template string, vars map[string]string) string
}

// PromptReplacer 基于 strings.Replacer 的实现，未提供的占位符保持原样
type PromptReplacer struct{}

func NewPromptReplacer() *PromptReplacer {
	return &PromptReplacer{}
}

func (r *PromptReplacer) Render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
