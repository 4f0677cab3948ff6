package utils

import (
	"strings"
	"unicode/utf8"
)

// MaxErrorTextLength 结果和日志中错误文本的最大字符数
const MaxErrorTextLength = 100

// TruncateText 按字符(非字节)截断,超出部分丢弃
func TruncateText(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// ErrorText 错误的单行截断文本,nil返回空串
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	return TruncateText(msg, MaxErrorTextLength)
}

