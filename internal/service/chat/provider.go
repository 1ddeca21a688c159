package chat

import (
	"time"

	"supa_discord/internal/config"
	"supa_discord/internal/dao/repository"
	"supa_discord/internal/service/session"
	"supa_discord/internal/supabase"
	"supa_discord/pkg/constants"

	"go.uber.org/zap"
)

// NewViewFactory 每个视图创建一个独立的后端客户端并注入各组件
// 依赖注入流程：
//  1. 创建后端客户端，会话保存在 storage 的 SessionKeyPrefix+视图ID 下
//  2. 基于客户端创建 Repository 和 SessionService
//  3. 组装 View，视图关闭时一并关闭客户端
func NewViewFactory(conf *config.Config, storage supabase.SessionStorage, lg *zap.Logger) ViewFactory {
	return func(id string) (*View, error) {
		client, err := supabase.NewClient(supabase.Options{
			URL:        conf.SupabaseConfig.URL,
			AnonKey:    conf.SupabaseConfig.AnonKey,
			Schema:     conf.SupabaseConfig.Schema,
			RedirectTo: conf.MainConfig.CallbackURL(),
			Storage:    storage,
			StorageKey: constants.SessionKeyPrefix + id,
			StorageTTL: conf.SessionConfig.TTL,
			Timeout:    conf.SupabaseConfig.RequestTimeout,
			Logger:     lg.With(zap.String("view_id", id)),
		})
		if err != nil {
			return nil, err
		}
		client.Auth.StartAutoRefresh(30 * time.Second)

		repos := repository.NewRepositories(client, lg)
		return NewView(ViewDeps{
			ID:       id,
			Session:  session.NewSessionService(client.Auth, lg),
			Channels: repos.Channel,
			Messages: repos.Message,
			Closer:   client.Close,
			Logger:   lg,
		}), nil
	}
}
