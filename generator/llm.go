package generator

import (
	"context"
	"encoding/json"
)

// Invoker 执行一次模型对话轮次；模型发起的工具调用先经 req.Tools 分发，
// 再返回最终输出。
type Invoker interface {
	InvokeTurn(ctx context.Context, req TurnRequest) (TurnResult, error)
}

// TurnRequest 一次轮次的输入。
type TurnRequest struct {
	// Stage 用于日志和脚本化的 Invoker。
	Stage          string
	Instructions   string
	Input          string
	Tools          *ToolSet
	Model          string
	PreviousHandle string
}

// TurnResult 原始输出以及用于续接的 handle。
// 文本轮次 Output 为 string，结构化轮次为原生值。
type TurnResult struct {
	Output any
	Handle string
}

// Text 把 Output 转成文本。
func (r TurnResult) Text() string {
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// LLMSettings 提供给具体实现的基础配置。
type LLMSettings struct {
	Provider      string
	Model         string
	APIKey        string
	BaseURL       string
	MaxToolRounds int
	// CallTimeoutSeconds 限制单轮内每个 HTTP 请求的时长。
	CallTimeoutSeconds int
}

// DocumentStore 按 key 存取文档；upsert 按字段合并。
type DocumentStore interface {
	GetDocument(ctx context.Context, collection, key string) (map[string]any, bool, error)
	UpsertDocument(ctx context.Context, collection, key string, fields map[string]any) error
}

// ImageGenerator 根据提示词生成图片 URL。
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// BlobArchiver 把 sourceURL 指向的内容保存到持久化的 blob 存储。
type BlobArchiver interface {
	StoreBlob(ctx context.Context, sourceURL string, metadata map[string]string) (string, error)
}

// ImageArchiver 把临时图片 URL 换成持久地址；同一个 URL 归档两次结果相同。
type ImageArchiver interface {
	ArchiveImage(ctx context.Context, sourceURL string, metadata map[string]string) (string, error)
}

// SignalSource 获取外部趋势或新闻条目。
type SignalSource interface {
	FetchSignal(ctx context.Context, query string) ([]string, error)
}
