package naming

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// configState 一个配置订阅最近一次处理的结果
type configState struct {
	md5     string
	present bool
}

// detectConfig 根据上次的内容摘要判断推送是否构成变更
//
// 删除信号只有在之前存储过内容时才产生 CONFIG_DELETED，同时清空状态；
// 摘要与上次一致的推送直接丢弃。返回值 ok 为 false 表示无事件，next 为新的状态。
func detectConfig(key Key, prev configState, content, pushedMD5 string, deleted bool) (ev Event, next configState, ok bool) {
	info := ConfigInfo{Namespace: key.Namespace, Group: key.Group, DataID: key.Name}

	if deleted {
		if !prev.present {
			return Event{}, configState{}, false
		}
		info.MD5 = prev.md5
		return Event{Type: ConfigDeleted, Key: key, Config: info}, configState{}, true
	}

	sum := strings.ToLower(strings.TrimSpace(pushedMD5))
	if sum == "" {
		sum = contentMD5(content)
	}
	if prev.present && prev.md5 == sum {
		return Event{}, prev, false
	}

	info.Content = content
	info.MD5 = sum
	return Event{Type: ConfigUpdated, Key: key, Config: info}, configState{md5: sum, present: true}, true
}

// contentMD5 内容的 MD5 十六进制小写表示
func contentMD5(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}
