package chat

import (
	"sort"

	"supa_discord/internal/model"
)

// Store 一个视图的频道与消息状态
// 只在视图的事件循环中访问，不加锁
type Store struct {
	channels []model.Channel
	active   *model.Channel
	messages []model.Message
	// gen 每次切换频道或重置时递增，携带旧 gen 的加载结果和实时消息会被丢弃
	gen uint64
	// live 本代中经实时订阅到达、尚未出现在历史结果里的消息 ID
	live map[model.ID]struct{}
}

// NewStore 创建空 Store
func NewStore() *Store {
	return &Store{live: make(map[model.ID]struct{})}
}

// Channels 频道列表，顺序与查询结果一致
func (s *Store) Channels() []model.Channel { return s.channels }

// Active 当前频道，未选择时为 nil
func (s *Store) Active() *model.Channel { return s.active }

// Messages 当前频道的消息
func (s *Store) Messages() []model.Message { return s.messages }

// Generation 当前代数
func (s *Store) Generation() uint64 { return s.gen }

// IsCurrent gen 是否仍是当前代
func (s *Store) IsCurrent(gen uint64) bool { return gen == s.gen }

// SetChannels 替换频道列表
func (s *Store) SetChannels(channels []model.Channel) {
	s.channels = channels
}

// Channel 按 ID 查找频道
func (s *Store) Channel(id model.ID) (model.Channel, bool) {
	for _, ch := range s.channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return model.Channel{}, false
}

// Select 切换当前频道并清空消息
// 已是当前频道时不做任何事，返回 changed=false
func (s *Store) Select(ch model.Channel) (gen uint64, changed bool) {
	if s.active != nil && s.active.ID == ch.ID {
		return s.gen, false
	}
	selected := ch
	s.active = &selected
	s.bump()
	return s.gen, true
}

// ReplaceMessages 用历史查询结果替换消息列表
// 结果按 created_at 稳定排序；本代中已经由实时订阅送达、但不在结果里的消息保留在末尾
func (s *Store) ReplaceMessages(gen uint64, msgs []model.Message) bool {
	if !s.IsCurrent(gen) {
		return false
	}
	sorted := make([]model.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt.Time)
	})

	fetched := make(map[model.ID]struct{}, len(sorted))
	for _, m := range sorted {
		fetched[m.ID] = struct{}{}
	}
	for _, m := range s.messages {
		if _, isLive := s.live[m.ID]; !isLive {
			continue
		}
		if _, ok := fetched[m.ID]; !ok {
			sorted = append(sorted, m)
		}
	}
	s.messages = sorted
	s.live = make(map[model.ID]struct{})
	return true
}

// AppendMessage 追加一条实时消息
// 旧代或 ID 重复时不追加
func (s *Store) AppendMessage(gen uint64, msg model.Message) bool {
	if !s.IsCurrent(gen) {
		return false
	}
	if s.active == nil || msg.ChannelID != s.active.ID {
		return false
	}
	if msg.ID != "" {
		for i := len(s.messages) - 1; i >= 0; i-- {
			if s.messages[i].ID == msg.ID {
				return false
			}
		}
		s.live[msg.ID] = struct{}{}
	}
	s.messages = append(s.messages, msg)
	return true
}

// Reset 清空全部状态，换用户或登出时调用
func (s *Store) Reset() {
	s.channels = nil
	s.active = nil
	s.bump()
}

func (s *Store) bump() {
	s.gen++
	s.messages = nil
	s.live = make(map[model.ID]struct{})
}
