package transport

import "fmt"

// RequestKind 请求类型
type RequestKind int

const (
	RequestSubscribe RequestKind = iota + 1
	RequestUnsubscribe
	RequestHeartbeat
	RequestRegister
	RequestDeregister
)

func (k RequestKind) String() string {
	switch k {
	case RequestSubscribe:
		return "SUBSCRIBE"
	case RequestUnsubscribe:
		return "UNSUBSCRIBE"
	case RequestHeartbeat:
		return "HEARTBEAT"
	case RequestRegister:
		return "REGISTER"
	case RequestDeregister:
		return "DEREGISTER"
	default:
		return fmt.Sprintf("RequestKind(%d)", int(k))
	}
}

// Target 订阅对象类型
type Target int

const (
	TargetService Target = iota + 1
	TargetConfig
)

func (t Target) String() string {
	switch t {
	case TargetService:
		return "service"
	case TargetConfig:
		return "config"
	default:
		return fmt.Sprintf("Target(%d)", int(t))
	}
}

// MessageKind 入站消息类型
type MessageKind int

const (
	// MessageServiceSnapshot 服务的全量节点列表
	MessageServiceSnapshot MessageKind = iota + 1
	// MessageConfigPush 配置内容推送，Deleted 为 true 表示配置被删除
	MessageConfigPush
	MessageHeartbeatAck
	// MessageAck 请求结果，Code 非空表示被拒绝
	MessageAck
	// MessageGoAway 服务端主动关闭
	MessageGoAway
)

func (k MessageKind) String() string {
	switch k {
	case MessageServiceSnapshot:
		return "SERVICE_SNAPSHOT"
	case MessageConfigPush:
		return "CONFIG_PUSH"
	case MessageHeartbeatAck:
		return "HEARTBEAT_ACK"
	case MessageAck:
		return "ACK"
	case MessageGoAway:
		return "GOAWAY"
	default:
		return fmt.Sprintf("MessageKind(%d)", int(k))
	}
}

// Instance 服务实例的线上表示
type Instance struct {
	IP       string            `msgpack:"ip" json:"ip"`
	Port     int               `msgpack:"port" json:"port"`
	Healthy  bool              `msgpack:"healthy" json:"healthy"`
	Metadata map[string]string `msgpack:"metadata,omitempty" json:"metadata,omitempty"`
}

// Request 客户端发出的请求
type Request struct {
	ID        string            `msgpack:"id"`
	Kind      RequestKind       `msgpack:"kind"`
	Target    Target            `msgpack:"target,omitempty"`
	Namespace string            `msgpack:"namespace,omitempty"`
	Group     string            `msgpack:"group,omitempty"`
	Name      string            `msgpack:"name,omitempty"`
	Instance  *Instance         `msgpack:"instance,omitempty"`
	Metadata  map[string]string `msgpack:"metadata,omitempty"`
}

// Message 服务端推送的消息
type Message struct {
	Kind      MessageKind `msgpack:"kind"`
	RequestID string      `msgpack:"request_id,omitempty"`
	Code      string      `msgpack:"code,omitempty"`
	Error     string      `msgpack:"error,omitempty"`

	Namespace string     `msgpack:"namespace,omitempty"`
	Group     string     `msgpack:"group,omitempty"`
	Name      string     `msgpack:"name,omitempty"`
	Instances []Instance `msgpack:"instances,omitempty"`

	Content string `msgpack:"content,omitempty"`
	MD5     string `msgpack:"md5,omitempty"`
	Deleted bool   `msgpack:"deleted,omitempty"`
}

// Rejected 判断 Ack 是否表示请求被拒绝
func (m *Message) Rejected() bool {
	return m.Kind == MessageAck && m.Code != ""
}

// Ack 构造请求 id 对应的成功应答
func Ack(requestID string) *Message {
	return &Message{Kind: MessageAck, RequestID: requestID}
}

// Reject 构造请求 id 对应的拒绝应答
func Reject(requestID, code, reason string) *Message {
	return &Message{Kind: MessageAck, RequestID: requestID, Code: code, Error: reason}
}
