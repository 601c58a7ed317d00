package inventory

import (
	"bytes"
	"encoding/json"
)

// Vars 保持插入顺序的变量表，同名键后写覆盖
type Vars struct {
	keys   []string
	values map[string]string
}

// NewVars 创建空变量表
func NewVars() *Vars {
	return &Vars{values: make(map[string]string)}
}

// Set 设置变量，已存在的键保留原位置
func (v *Vars) Set(key, value string) {
	if v.values == nil {
		v.values = make(map[string]string)
	}
	if _, ok := v.values[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.values[key] = value
}

// Get 读取变量
func (v *Vars) Get(key string) (string, bool) {
	if v == nil || v.values == nil {
		return "", false
	}
	value, ok := v.values[key]
	return value, ok
}

// Keys 按插入顺序返回键
func (v *Vars) Keys() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

func (v *Vars) Len() int {
	if v == nil {
		return 0
	}
	return len(v.keys)
}

// Map 返回变量的普通 map 副本
func (v *Vars) Map() map[string]string {
	out := make(map[string]string, v.Len())
	for _, k := range v.Keys() {
		out[k] = v.values[k]
	}
	return out
}

// MarshalJSON 按键序输出为 JSON 对象
func (v *Vars) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(v.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
