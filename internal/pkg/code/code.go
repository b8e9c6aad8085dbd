package code

const (
	Success       = 200
	ParamErr      = 400
	NotFound      = 404
	HTTPStatusErr = 500
)

const (
	MsgSuccess  = "success"
	MsgParamErr = "参数错误"
	MsgNotFound = "会话不存在"
	MsgInternal = "服务器内部错误"
)
