package clog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// withBuffer 测试专用选项，将日志输出写入指定的缓冲区
func withBuffer(buf *bytes.Buffer) Option {
	return func(o *options) {
		o.buffer = buf
	}
}

// newBufferLogger 创建 json 格式、输出到 buf 的 Logger
func newBufferLogger(t *testing.T, level string, buf *bytes.Buffer, opts ...Option) Logger {
	t.Helper()
	opts = append(opts, withBuffer(buf))
	logger, err := New(&Config{Level: level, Format: "json", Output: "buffer"}, opts...)
	require.NoError(t, err)
	return logger
}

// decodeLines 将 json 日志逐行解析
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	raw := strings.TrimSpace(buf.String())
	if raw == "" {
		return nil
	}
	var entries []map[string]any
	for _, line := range strings.Split(raw, "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "line is not valid JSON: %s", line)
		entries = append(entries, entry)
	}
	return entries
}
