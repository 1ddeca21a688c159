package chat

import (
	"strings"

	"supa_discord/internal/dto/respond"
	"supa_discord/internal/model"
)

// render 生成快照并推送给所有订阅者，只在事件循环中调用
func (v *View) render() {
	v.version++
	st := v.snapshot()
	v.scroll = false

	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	v.state = st
	for _, w := range v.watchers {
		// 丢弃未读的旧快照
		select {
		case <-w:
		default:
		}
		select {
		case w <- st:
		default:
		}
	}
}

func (v *View) snapshot() respond.ViewState {
	st := respond.ViewState{
		Version: v.version,
		Phase:   v.phase,
		Email:   v.email,
		Busy:    v.busy,
	}
	if v.notice != nil {
		n := *v.notice
		st.Notice = &n
	}
	if v.user != nil {
		st.User = &respond.UserView{ID: v.user.UserID, Email: v.user.Email}
	}
	if v.phase != respond.PhaseChat {
		return st
	}

	channels := v.store.Channels()
	msgs := v.store.Messages()
	chat := &respond.ChatState{
		Channels:        make([]respond.ChannelView, 0, len(channels)),
		Messages:        make([]respond.MessageView, 0, len(msgs)),
		Draft:           v.draft,
		ChannelsLoading: v.channelsLoading,
		MessagesLoading: v.messagesLoading,
		FeedAttached:    v.feedAttached,
		ScrollToLatest:  v.scroll,
	}
	for _, ch := range channels {
		chat.Channels = append(chat.Channels, toChannelView(ch))
	}
	if active := v.store.Active(); active != nil {
		cv := toChannelView(*active)
		chat.ActiveChannel = &cv
	}
	me := ""
	if v.user != nil {
		me = v.user.UserID
	}
	for _, m := range msgs {
		chat.Messages = append(chat.Messages, toMessageView(m, me))
	}
	st.Chat = chat
	return st
}

func toChannelView(ch model.Channel) respond.ChannelView {
	return respond.ChannelView{ID: ch.ID.String(), Name: ch.Name, Description: ch.Description}
}

func toMessageView(m model.Message, me string) respond.MessageView {
	mv := respond.MessageView{
		ID:        m.ID.String(),
		UserID:    m.UserID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Time,
		Mine:      me != "" && m.UserID == me,
		Initials:  strings.ToUpper(prefix(m.UserID, 2)),
	}
	if mv.Mine {
		mv.Author = "You"
	} else {
		mv.Author = "User " + prefix(m.UserID, 6)
	}
	return mv
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
