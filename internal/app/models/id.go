package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ID 消息/会话标识。后端有时返回数字，有时返回字符串，统一按字符串保存
type ID string

const TempIDPrefix = "temp-"

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*id = ""
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*id = ID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", s, err)
	}
	*id = ID(n.String())
	return nil
}

// IsTemporary 客户端生成的临时 ID，等待服务端确认
func (id ID) IsTemporary() bool {
	return strings.HasPrefix(string(id), TempIDPrefix)
}

func (id ID) String() string {
	return string(id)
}
