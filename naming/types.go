package naming

import (
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
)

// KeyKind 订阅对象的类型
type KeyKind int

const (
	// KindService 服务订阅，Name 为服务名
	KindService KeyKind = iota + 1
	// KindConfig 配置订阅，Name 为 dataId
	KindConfig
)

func (k KeyKind) String() string {
	switch k {
	case KindService:
		return "service"
	case KindConfig:
		return "config"
	default:
		return fmt.Sprintf("KeyKind(%d)", int(k))
	}
}

// Key 订阅键
//
// Namespace、Group 为空时使用 Config 中的默认值。
type Key struct {
	Kind      KeyKind
	Namespace string
	Group     string
	Name      string
}

// ServiceKey 构造服务订阅键，命名空间取默认值
func ServiceKey(group, name string) Key {
	return Key{Kind: KindService, Group: group, Name: name}
}

// ConfigKey 构造配置订阅键，命名空间取默认值
func ConfigKey(group, dataID string) Key {
	return Key{Kind: KindConfig, Group: group, Name: dataID}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s/%s/%s", k.Kind, k.Namespace, k.Group, k.Name)
}

// NodeInfo 服务的一个节点，(IP, Port) 决定节点身份
type NodeInfo struct {
	IP       string            `json:"ip"`
	Port     int               `json:"port"`
	Healthy  bool              `json:"healthy"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Address 节点身份 ip:port
func (n NodeInfo) Address() string {
	return net.JoinHostPort(n.IP, strconv.Itoa(n.Port))
}

// sameAttributes 身份相同的两个节点属性是否一致
func (n NodeInfo) sameAttributes(o NodeInfo) bool {
	return n.Healthy == o.Healthy && maps.Equal(n.Metadata, o.Metadata)
}

func (n NodeInfo) clone() NodeInfo {
	n.Metadata = maps.Clone(n.Metadata)
	return n
}

// ServiceInfo 某一时刻服务的全部节点
type ServiceInfo struct {
	Namespace string     `json:"namespace"`
	Group     string     `json:"group"`
	Name      string     `json:"name"`
	Nodes     []NodeInfo `json:"nodes"`
}

// ConfigInfo 某一时刻的配置内容
type ConfigInfo struct {
	Namespace string `json:"namespace"`
	Group     string `json:"group"`
	DataID    string `json:"dataId"`
	Content   string `json:"content"`
	MD5       string `json:"md5"`
}

// EventType 变更事件类型
type EventType int

const (
	ServiceAdded EventType = iota + 1
	ServiceUpdated
	ServiceDeleted
	NodeAdded
	NodeUpdated
	NodeRemoved
	ConfigUpdated
	ConfigDeleted
)

func (t EventType) String() string {
	switch t {
	case ServiceAdded:
		return "SERVICE_ADDED"
	case ServiceUpdated:
		return "SERVICE_UPDATED"
	case ServiceDeleted:
		return "SERVICE_DELETED"
	case NodeAdded:
		return "NODE_ADDED"
	case NodeUpdated:
		return "NODE_UPDATED"
	case NodeRemoved:
		return "NODE_REMOVED"
	case ConfigUpdated:
		return "CONFIG_UPDATED"
	case ConfigDeleted:
		return "CONFIG_DELETED"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// IsService 是否为服务或节点事件
func (t EventType) IsService() bool {
	return t >= ServiceAdded && t <= NodeRemoved
}

// Event 一次变更
//
// 服务事件填充 Service 与 AllNodes，NODE_* 额外填充 Node；配置事件填充 Config。
// AllNodes 是应用该事件之后的节点列表，SERVICE_DELETED 与 NODE_REMOVED
// 例外，为删除之前的列表。
type Event struct {
	Type     EventType
	Key      Key
	Service  ServiceInfo
	AllNodes []NodeInfo
	Node     *NodeInfo
	Config   ConfigInfo
}

// ConnectionState 连接状态
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDisconnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// sortNodes 按节点身份排序，保证输出与输入顺序无关
func sortNodes(nodes []NodeInfo) {
	slices.SortFunc(nodes, func(a, b NodeInfo) int {
		if c := strings.Compare(a.IP, b.IP); c != 0 {
			return c
		}
		return a.Port - b.Port
	})
}
