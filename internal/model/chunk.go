// Package model 包含了应用的数据模型定义。
package model

import "time"

// HeaderField 是标题元数据中的一个条目，例如 {Key: "H2", Value: "安装步骤"}。
type HeaderField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// HeaderMeta 是有序的标题元数据（H1/H2/H3 -> 标题文本）。
// 使用切片而不是 map，以保证序列化和合并时的顺序稳定。
type HeaderMeta []HeaderField

// Get 返回指定 key 的值，未找到时返回 ("", false)。
func (m HeaderMeta) Get(key string) (string, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Set 返回设置了指定 key 的新 HeaderMeta；已存在则原位替换，否则追加。
func (m HeaderMeta) Set(key, value string) HeaderMeta {
	out := m.Clone()
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, HeaderField{Key: key, Value: value})
}

// Clone 返回 HeaderMeta 的深拷贝。
func (m HeaderMeta) Clone() HeaderMeta {
	if m == nil {
		return nil
	}
	out := make(HeaderMeta, len(m))
	copy(out, m)
	return out
}

// MergeHeaderMeta 将 incoming 合并进 base 并返回新的 HeaderMeta。
// key 冲突时值拼接为 "base值 -> incoming值"，保留文档脉络；新 key 追加在末尾。
// 这是一个纯函数，不修改入参。
func MergeHeaderMeta(base, incoming HeaderMeta) HeaderMeta {
	return mergeHeaderMeta(base, incoming, false)
}

// MergeHeaderMetaReversed 与 MergeHeaderMeta 相同，但冲突值拼接方向相反
// （"incoming值 -> base值"），用于把前置小块并入后继块的场景。
func MergeHeaderMetaReversed(base, incoming HeaderMeta) HeaderMeta {
	return mergeHeaderMeta(base, incoming, true)
}

func mergeHeaderMeta(base, incoming HeaderMeta, incomingFirst bool) HeaderMeta {
	out := base.Clone()
	for _, f := range incoming {
		merged := false
		for i := range out {
			if out[i].Key == f.Key {
				if incomingFirst {
					out[i].Value = f.Value + " -> " + out[i].Value
				} else {
					out[i].Value = out[i].Value + " -> " + f.Value
				}
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, f)
		}
	}
	return out
}

// ParentChunk 是返回给大模型的大上下文单元。
// ID 形如 {doc_stem}_parent_{i}，i 为文档内 0 起始的顺序号。
type ParentChunk struct {
	ID      string        `json:"parent_id"`
	Content string        `json:"content"`
	Headers HeaderMeta    `json:"header_metadata,omitempty"`
	Source  string        `json:"source"`
	Images  []ImageRecord `json:"images,omitempty"`
}

// ChildChunk 是实际被向量索引和相似度检索的小单元。
// ParentID 是对所属 ParentChunk 的回引，不代表所有权。
type ChildChunk struct {
	Content  string `json:"content"`
	ParentID string `json:"parent_id"`
	Source   string `json:"source"`
}

// ParentChunkRow 对应于数据库中的 parent_chunks 表（Parent Store）。
// Headers 与 Images 以 JSON 文本列存储。
type ParentChunkRow struct {
	ParentID  string    `gorm:"type:varchar(191);primaryKey;column:parent_id"`
	DocStem   string    `gorm:"type:varchar(191);not null;index;column:doc_stem"`
	Source    string    `gorm:"type:varchar(255);column:source"`
	Content   string    `gorm:"type:longtext;column:content"`
	Headers   string    `gorm:"type:text;column:header_metadata"`
	Images    string    `gorm:"type:longtext;column:images"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ParentChunkRow) TableName() string {
	return "parent_chunks"
}
