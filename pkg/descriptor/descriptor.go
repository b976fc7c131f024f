package descriptor

import (
	"encoding/json"
	"fmt"
	"time"
)

// 描述符必需字段
const (
	FieldType = "type"
	FieldAddr = "addr"
)

// Descriptor 表示一条服务公告的解码结果。
// type和addr是注册表唯一解释的字段（addr兼作服务身份键），
// 其余字段作为不透明数据原样携带。
type Descriptor struct {
	Type      string  `json:"type"`                // 服务类型
	Name      string  `json:"name,omitempty"`      // 服务名称
	Addr      string  `json:"addr"`                // 服务地址（身份键）
	Version   string  `json:"version,omitempty"`   // 服务版本
	Timestamp float64 `json:"timestamp,omitempty"` // 发布方时间戳（Unix秒）

	// Fields 保存完整的解码负载，包括上面未建模的字段
	Fields map[string]interface{} `json:"-"`

	// raw 保存原始报文字节
	raw []byte
}

// Decode 将一个数据报负载解码为服务描述符。
// 负载必须是JSON对象，且包含非空的type和addr字符串字段；
// 其余内容不做校验，原样保留在Fields中。
func Decode(data []byte) (*Descriptor, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("解码服务描述符失败: %w", err)
	}

	d := &Descriptor{
		Fields: fields,
		raw:    append([]byte(nil), data...),
	}

	// 校验必需字段
	for _, field := range []string{FieldType, FieldAddr} {
		value, ok := fields[field].(string)
		if !ok || value == "" {
			return nil, fmt.Errorf("服务描述符缺少必需字段: %s", field)
		}
	}
	d.Type = fields[FieldType].(string)
	d.Addr = fields[FieldAddr].(string)

	// 可选字段
	if name, ok := fields["name"].(string); ok {
		d.Name = name
	}
	if version, ok := fields["version"].(string); ok {
		d.Version = version
	}
	if ts, ok := fields["timestamp"].(float64); ok {
		d.Timestamp = ts
	}

	return d, nil
}

// Encode 将描述符序列化为广播负载。
// Fields为空时根据建模字段构造负载。
func (d *Descriptor) Encode() ([]byte, error) {
	fields := d.Fields
	if fields == nil {
		fields = map[string]interface{}{
			FieldType: d.Type,
			FieldAddr: d.Addr,
		}
		if d.Name != "" {
			fields["name"] = d.Name
		}
		if d.Version != "" {
			fields["version"] = d.Version
		}
		if d.Timestamp != 0 {
			fields["timestamp"] = d.Timestamp
		}
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("序列化服务描述符失败: %w", err)
	}
	return data, nil
}

// Raw 返回描述符的原始报文字节（仅解码得到的描述符有原始字节）
func (d *Descriptor) Raw() []byte {
	return d.raw
}

// Stamp 更新描述符的时间戳字段
func (d *Descriptor) Stamp(now time.Time) {
	d.Timestamp = float64(now.UnixNano()) / float64(time.Second)
	if d.Fields != nil {
		d.Fields["timestamp"] = d.Timestamp
	}
}
