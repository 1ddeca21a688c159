package model

// Channel 频道，对应 channels 表
// 客户端只读，从不创建、编辑或删除
type Channel struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
