package util

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
)

func GetJson(v interface{}) string {
	marshal, _ := json.Marshal(v)
	return string(marshal)
}

// TruncateRunes 按字符截断，超长时追加 suffix
func TruncateRunes(s string, n int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + suffix
}

// CalculateMD5 计算内容的MD5值，上传的图片按内容去重
func CalculateMD5(r io.Reader) (string, error) {
	hash := md5.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
