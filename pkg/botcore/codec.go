package botcore

// 平台接入的两端：
//
//	平台原始消息 --Adapter.Normalize--> Update --PipelineInvoker--> StreamChunk(快照)
//	                                                                   |
//	平台响应体   <--Emitter.Encode-----------------------------------+
//
// 两端都只处理单条消息，会话状态由平台实现自行维护。

// Adapter 将平台原始消息映射为标准 Update。
// 无需回复的事件应返回 Text 为空的 Update。
type Adapter interface {
	Normalize(raw any) (Update, error)
}

// AdapterFunc 允许直接以函数形式实现 Adapter。
type AdapterFunc func(raw any) (Update, error)

// Normalize 实现 Adapter 接口。
func (f AdapterFunc) Normalize(raw any) (Update, error) {
	if f == nil {
		return Update{}, nil
	}
	return f(raw)
}

// Emitter 将一个快照编码为平台响应体。
// 同一 streamID 会被多次调用，每次都应输出完整内容而非增量。
type Emitter interface {
	Encode(update Update, streamID string, chunk StreamChunk) (any, error)
}

// EmitterFunc 允许直接以函数形式实现 Emitter。
type EmitterFunc func(update Update, streamID string, chunk StreamChunk) (any, error)

// Encode 实现 Emitter 接口。
func (f EmitterFunc) Encode(update Update, streamID string, chunk StreamChunk) (any, error) {
	if f == nil {
		return nil, nil
	}
	return f(update, streamID, chunk)
}
