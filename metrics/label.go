package metrics

// 常见的标签
const (
	LabelEndpoint = "endpoint"
	LabelResult   = "result"
	LabelType     = "type"
	LabelState    = "state"
)

// 常见的结果
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Label 指标标签
//
// 标签值应相对稳定，避免请求 ID 这类高基数取值。
type Label struct {
	Key   string
	Value string
}

// L 便捷构造函数
//
//	counter.Inc(ctx, metrics.L("result", metrics.OutcomeSuccess))
func L(key, value string) Label {
	return Label{
		Key:   key,
		Value: value,
	}
}

// Outcome 根据 err 返回 success 或 error
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
