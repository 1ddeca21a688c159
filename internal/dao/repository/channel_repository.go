package repository

import (
	"context"

	"supa_discord/internal/model"
	"supa_discord/internal/supabase"
	"supa_discord/pkg/errorx"
)

const channelsTable = "channels"

type channelRepository struct {
	client *supabase.Client
}

// NewChannelRepository 创建频道 Repository
func NewChannelRepository(client *supabase.Client) ChannelRepository {
	return &channelRepository{client: client}
}

// List 查询全部频道
func (r *channelRepository) List(ctx context.Context) ([]model.Channel, error) {
	var channels []model.Channel
	if err := r.client.From(channelsTable).Select("*").Execute(ctx, &channels); err != nil {
		return nil, wrapBackendErrorf(err, errorx.CodeFetchFailed, "加载频道列表失败")
	}
	return channels, nil
}
