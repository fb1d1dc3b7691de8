package command

import "errors"

// 定义命令解析与分发阶段的通用错误，便于统一处理提示文案。
var (
	// ErrCommandNotFound 表示输入命令在注册表中不存在。
	ErrCommandNotFound = errors.New("command not found")
	// ErrCommandRequired 表示未提供任何命令关键字。
	ErrCommandRequired = errors.New("command required")
	// ErrUnknownModel 表示 /model 指定的模型未配置。
	ErrUnknownModel = errors.New("unknown model")
	// ErrBackendUnavailable 表示命令依赖的对话服务未注入。
	ErrBackendUnavailable = errors.New("chat backend not configured")
)
