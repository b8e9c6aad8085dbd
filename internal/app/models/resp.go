package models

type RespInfo struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type RespValue struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

// ErrorBody 错误响应体，detail 字段与后端保持一致
type ErrorBody struct {
	Detail string `json:"detail"`
}
