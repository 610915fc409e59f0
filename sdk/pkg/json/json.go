package json

import (
	stdjson "encoding/json"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// JSON 统一的 jsoniter 配置实例，与标准库 encoding/json 兼容
//
// 租户目录、迁移导出文件、管理接口都使用这个实例。
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONNumber 解码数字为 Number 而不是 float64
//
// 导出/导入租户数据时使用，保证 bigint 主键不丢精度。
var JSONNumber = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Number UseNumber 解码得到的数字类型
type Number = stdjson.Number

// RawMessage jsoniter 兼容的 RawMessage 类型
type RawMessage = jsoniter.RawMessage

// Marshal 序列化对象为 JSON 字节数组
func Marshal(v interface{}) ([]byte, error) {
	return JSON.Marshal(v)
}

// MarshalIndent 带缩进的序列化，导出文件使用
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return JSON.MarshalIndent(v, prefix, indent)
}

// Unmarshal 从 JSON 字节数组反序列化对象
func Unmarshal(data []byte, v interface{}) error {
	return JSON.Unmarshal(data, v)
}

// MarshalToString 将对象序列化为 JSON 字符串
func MarshalToString(v interface{}) (string, error) {
	return JSON.MarshalToString(v)
}

// UnmarshalFromString 从 JSON 字符串反序列化对象
func UnmarshalFromString(str string, v interface{}) error {
	return JSON.UnmarshalFromString(str, v)
}

// NewEncoder 流式编码
func NewEncoder(w io.Writer) *jsoniter.Encoder {
	return JSON.NewEncoder(w)
}

// NewNumberDecoder 流式解码，数字保留为 Number
func NewNumberDecoder(r io.Reader) *jsoniter.Decoder {
	return JSONNumber.NewDecoder(r)
}
