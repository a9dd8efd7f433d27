package v1

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/quizlab-ai/quizlab/app/core"
	"github.com/quizlab-ai/quizlab/app/core/srv"
	"github.com/quizlab-ai/quizlab/app/store"
	"github.com/quizlab-ai/quizlab/pkg/errors"
	"github.com/quizlab-ai/quizlab/pkg/i18n"
	"github.com/quizlab-ai/quizlab/pkg/security"
	"github.com/quizlab-ai/quizlab/pkg/types"
	"github.com/quizlab-ai/quizlab/pkg/utils"
)

// ManageShareLinkLogic 认证用户对分享链接的管理操作
type ManageShareLinkLogic struct {
	ctx  context.Context
	core *core.Core
	UserInfo
}

func NewManageShareLinkLogic(ctx context.Context, core *core.Core) *ManageShareLinkLogic {
	l := &ManageShareLinkLogic{
		ctx:      ctx,
		core:     core,
		UserInfo: SetupUserInfo(ctx, core),
	}

	return l
}

type CreateShareLinkResult struct {
	LinkID string `json:"link_id"`
	// Token 只在创建响应中出现一次，服务端此后无法还原
	Token     string `json:"token"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

func (l *ManageShareLinkLogic) CreateShareLink(quizID string, scope types.ShareScope, oneTime bool, expiresAt int64) (CreateShareLinkResult, error) {
	res := CreateShareLinkResult{}

	if !scope.Valid() {
		return res, errors.New("ManageShareLinkLogic.CreateShareLink.Scope", i18n.ERROR_INVALIDARGUMENT, fmt.Errorf("unknown scope %q", scope)).Code(http.StatusBadRequest)
	}

	user := l.GetUserInfo()
	appid := user.Appid
	if appid == "" {
		appid = types.DEFAULT_APPID
	}

	quiz, err := l.core.Store().QuizStore().Get(l.ctx, appid, quizID)
	if err != nil {
		if err == sql.ErrNoRows {
			return res, errors.New("ManageShareLinkLogic.CreateShareLink.QuizStore.Get", i18n.ERROR_NOT_FOUND, err).Code(http.StatusNotFound)
		}
		return res, errors.New("ManageShareLinkLogic.CreateShareLink.QuizStore.Get", i18n.ERROR_INTERNAL, err)
	}

	// 测验归属者或管理员角色可以发放分享链接
	if err = l.Identification(srv.NewRolerWithLazyload(func() (string, error) {
		return quiz.UserID, nil
	}), srv.PermissionAdmin); err != nil {
		return res, errors.Trace("ManageShareLinkLogic.CreateShareLink", err)
	}

	now := time.Now()
	if expiresAt != 0 && expiresAt <= now.Unix() {
		return res, errors.New("ManageShareLinkLogic.CreateShareLink.ExpiresAt", i18n.ERROR_INVALIDARGUMENT, fmt.Errorf("expires_at %d is in the past", expiresAt)).Code(http.StatusBadRequest)
	}

	// 超出上限的有效期静默收敛到上限
	maxExpiresAt := now.Add(l.core.ShareMaxTTL()).Unix()
	if expiresAt == 0 || expiresAt > maxExpiresAt {
		expiresAt = maxExpiresAt
	}

	link := &types.ShareLink{
		ID:        utils.GenUniqIDStr(),
		Appid:     appid,
		QuizID:    quizID,
		UserID:    user.User,
		Scope:     scope,
		OneTime:   oneTime,
		ExpiresAt: expiresAt,
		CreatedAt: now.Unix(),
	}

	token, err := l.createWithFreshToken(link)
	if err != nil {
		return res, err
	}

	if m := l.core.Metrics(); m != nil {
		m.ShareIssuedInc(string(scope))
	}

	res.LinkID = link.ID
	res.Token = token
	res.URL = fmt.Sprintf("%s/s/%s", l.core.Cfg().Site.Share.Domain, token)
	res.ExpiresAt = expiresAt
	return res, nil
}

// createWithFreshToken 生成 token 并写库。摘要撞上唯一索引的概率可以忽略，
// 但仍然重新生成一次而不是直接报错。
func (l *ManageShareLinkLogic) createWithFreshToken(link *types.ShareLink) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := security.GenerateShareToken()
		if err != nil {
			return "", errors.New("ManageShareLinkLogic.createWithFreshToken.GenerateShareToken", i18n.ERROR_INTERNAL, err)
		}
		link.TokenHash = l.core.ShareTokenHasher().Hash(token)

		err = l.core.Store().ShareLinkStore().Create(l.ctx, link)
		if err == nil {
			return token, nil
		}
		if err == store.ErrAlreadyExists {
			slog.Warn("share token hash collision, regenerating", slog.String("link_id", link.ID))
			continue
		}
		return "", errors.New("ManageShareLinkLogic.createWithFreshToken.ShareLinkStore.Create", i18n.ERROR_INTERNAL, err)
	}
	return "", errors.New("ManageShareLinkLogic.createWithFreshToken.Retry", i18n.ERROR_INTERNAL, fmt.Errorf("token hash conflict persisted after retry"))
}

// RevokeShareLink 撤销分享链接。重复撤销视为成功，保留首次撤销时间。
func (l *ManageShareLinkLogic) RevokeShareLink(linkID string) error {
	link, err := l.core.Store().ShareLinkStore().GetByID(l.ctx, linkID)
	if err != nil {
		if err == sql.ErrNoRows {
			return errors.New("ManageShareLinkLogic.RevokeShareLink.GetByID", i18n.ERROR_NOT_FOUND, err).Code(http.StatusNotFound)
		}
		return errors.New("ManageShareLinkLogic.RevokeShareLink.GetByID", i18n.ERROR_INTERNAL, err)
	}

	if err = l.Identification(srv.NewRolerWithLazyload(func() (string, error) {
		return link.UserID, nil
	}), srv.PermissionAdmin); err != nil {
		return errors.Trace("ManageShareLinkLogic.RevokeShareLink", err)
	}

	if link.RevokedAt != nil {
		return nil
	}

	if err = l.core.Store().ShareLinkStore().Revoke(l.ctx, linkID, time.Now().Unix()); err != nil {
		return errors.New("ManageShareLinkLogic.RevokeShareLink.Revoke", i18n.ERROR_INTERNAL, err)
	}
	return nil
}

type ShareLinkItem struct {
	ID        string           `json:"id"`
	QuizID    string           `json:"quiz_id"`
	Scope     types.ShareScope `json:"scope"`
	OneTime   bool             `json:"one_time"`
	ExpiresAt int64            `json:"expires_at"`
	CreatedAt int64            `json:"created_at"`
	RevokedAt *int64           `json:"revoked_at"`
	Active    bool             `json:"active"`
}

// ListUserLinks 列出当前用户创建的分享链接，token 本体不可恢复，不会出现在结果中
func (l *ManageShareLinkLogic) ListUserLinks(quizID string, page, pageSize uint64) ([]ShareLinkItem, int64, error) {
	user := l.GetUserInfo()
	opts := types.ListShareLinkOptions{
		Appid:  user.Appid,
		UserID: user.User,
		QuizID: quizID,
	}

	links, err := l.core.Store().ShareLinkStore().List(l.ctx, opts, page, pageSize)
	if err != nil {
		return nil, 0, errors.New("ManageShareLinkLogic.ListUserLinks.List", i18n.ERROR_INTERNAL, err)
	}

	total, err := l.core.Store().ShareLinkStore().Total(l.ctx, opts)
	if err != nil {
		return nil, 0, errors.New("ManageShareLinkLogic.ListUserLinks.Total", i18n.ERROR_INTERNAL, err)
	}

	now := time.Now().Unix()
	items := lo.Map(links, func(item types.ShareLink, _ int) ShareLinkItem {
		return ShareLinkItem{
			ID:        item.ID,
			QuizID:    item.QuizID,
			Scope:     item.Scope,
			OneTime:   item.OneTime,
			ExpiresAt: item.ExpiresAt,
			CreatedAt: item.CreatedAt,
			RevokedAt: item.RevokedAt,
			Active:    item.StateAt(now) == types.SHARE_LINK_STATE_ACTIVE,
		}
	})

	return items, total, nil
}

// ListLinkUsages 查询某条分享链接的访问审计记录
func (l *ManageShareLinkLogic) ListLinkUsages(linkID string, page, pageSize uint64) ([]types.ShareUsage, error) {
	link, err := l.core.Store().ShareLinkStore().GetByID(l.ctx, linkID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New("ManageShareLinkLogic.ListLinkUsages.GetByID", i18n.ERROR_NOT_FOUND, err).Code(http.StatusNotFound)
		}
		return nil, errors.New("ManageShareLinkLogic.ListLinkUsages.GetByID", i18n.ERROR_INTERNAL, err)
	}

	if err = l.Identification(srv.NewRolerWithLazyload(func() (string, error) {
		return link.UserID, nil
	}), srv.PermissionAdmin); err != nil {
		return nil, errors.Trace("ManageShareLinkLogic.ListLinkUsages", err)
	}

	usages, err := l.core.Store().ShareUsageStore().ListByLink(l.ctx, linkID, page, pageSize)
	if err != nil {
		return nil, errors.New("ManageShareLinkLogic.ListLinkUsages.ListByLink", i18n.ERROR_INTERNAL, err)
	}
	return usages, nil
}

// ShareLinkLogic token 持有方的未认证操作
type ShareLinkLogic struct {
	ctx  context.Context
	core *core.Core
}

func NewShareLinkLogic(ctx context.Context, core *core.Core) *ShareLinkLogic {
	l := &ShareLinkLogic{
		ctx:  ctx,
		core: core,
	}

	return l
}

// ClientMeta 访问者信息，仅用于审计记录
type ClientMeta struct {
	Addr  string
	Agent string
}

type ShareAccessResult struct {
	LinkID    string           `json:"link_id"`
	Scope     types.ShareScope `json:"scope"`
	OneTime   bool             `json:"one_time"`
	ExpiresAt int64            `json:"expires_at"`
	Quiz      ShareQuizInfo    `json:"quiz"`
}

type ShareQuizInfo struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// lookupPresented 按固定顺序校验只读访问出示的 token：
// 格式、摘要、查库、过期。不合法的输入不触发任何存储访问。
func (l *ShareLinkLogic) lookupPresented(token string) (*types.ShareLink, error) {
	if !security.ValidateShareTokenFormat(token) {
		return nil, errors.New("ShareLinkLogic.lookupPresented.Format", i18n.ERROR_SHARE_INVALID_TOKEN, fmt.Errorf("malformed token")).Code(http.StatusBadRequest)
	}

	tokenHash := l.core.ShareTokenHasher().Hash(token)

	link, err := l.core.Store().ShareLinkStore().GetByTokenHash(l.ctx, tokenHash)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.New("ShareLinkLogic.lookupPresented.GetByTokenHash", i18n.ERROR_INTERNAL, err)
	}

	// 不存在与已撤销对外表现一致
	switch link.StateAt(time.Now().Unix()) {
	case types.SHARE_LINK_STATE_ABSENT:
		return nil, errors.New("ShareLinkLogic.lookupPresented.Absent", i18n.ERROR_NOT_FOUND, nil).Code(http.StatusNotFound)
	case types.SHARE_LINK_STATE_EXPIRED:
		return nil, errors.New("ShareLinkLogic.lookupPresented.Expired", i18n.ERROR_SHARE_EXPIRED, nil).Code(http.StatusGone)
	}

	return link, nil
}

// Access 只读校验，不消费一次性额度
func (l *ShareLinkLogic) Access(token string, meta ClientMeta) (ShareAccessResult, error) {
	res := ShareAccessResult{}

	link, err := l.lookupPresented(token)
	if err != nil {
		l.accessMetric("denied")
		return res, errors.Trace("ShareLinkLogic.Access", err)
	}

	l.recordUsage(link, meta)
	l.accessMetric("ok")

	return l.buildAccessResult(link)
}

// Consume 消费链接。一次性链接依赖存储层的条件更新保证并发下只放行一次。
// 额度已被消费的一次性链接对后续消费稳定返回 AlreadyConsumed，
// 无论是并发竞争失败还是更早的调用用掉了额度。
// 可重复使用的链接在有效期内幂等，被撤销后与不存在表现一致。
func (l *ShareLinkLogic) Consume(token string, meta ClientMeta) (ShareAccessResult, error) {
	res := ShareAccessResult{}

	if !security.ValidateShareTokenFormat(token) {
		l.accessMetric("denied")
		return res, errors.New("ShareLinkLogic.Consume.Format", i18n.ERROR_SHARE_INVALID_TOKEN, fmt.Errorf("malformed token")).Code(http.StatusBadRequest)
	}

	tokenHash := l.core.ShareTokenHasher().Hash(token)

	link, err := l.core.Store().ShareLinkStore().GetByTokenHash(l.ctx, tokenHash)
	if err != nil && err != sql.ErrNoRows {
		return res, errors.New("ShareLinkLogic.Consume.GetByTokenHash", i18n.ERROR_INTERNAL, err)
	}
	if link == nil {
		l.accessMetric("denied")
		return res, errors.New("ShareLinkLogic.Consume.Absent", i18n.ERROR_NOT_FOUND, nil).Code(http.StatusNotFound)
	}
	if link.RevokedAt == nil && time.Now().Unix() >= link.ExpiresAt {
		l.accessMetric("denied")
		return res, errors.New("ShareLinkLogic.Consume.Expired", i18n.ERROR_SHARE_EXPIRED, nil).Code(http.StatusGone)
	}

	if link.OneTime {
		// 条件更新没有命中未撤销的行，说明额度已经被用掉了
		affected, err := l.core.Store().ShareLinkStore().Consume(l.ctx, tokenHash, time.Now().Unix())
		if err != nil {
			return res, errors.New("ShareLinkLogic.Consume.ShareLinkStore.Consume", i18n.ERROR_INTERNAL, err)
		}
		if affected == 0 {
			l.accessMetric("consumed")
			return res, errors.New("ShareLinkLogic.Consume.AlreadyConsumed", i18n.ERROR_SHARE_CONSUMED, nil).Code(http.StatusGone)
		}
	} else if link.RevokedAt != nil {
		l.accessMetric("denied")
		return res, errors.New("ShareLinkLogic.Consume.Absent", i18n.ERROR_NOT_FOUND, nil).Code(http.StatusNotFound)
	}

	l.recordUsage(link, meta)
	l.accessMetric("ok")

	return l.buildAccessResult(link)
}

func (l *ShareLinkLogic) buildAccessResult(link *types.ShareLink) (ShareAccessResult, error) {
	res := ShareAccessResult{
		LinkID:    link.ID,
		Scope:     link.Scope,
		OneTime:   link.OneTime,
		ExpiresAt: link.ExpiresAt,
	}

	quiz, err := l.core.Store().QuizStore().Get(l.ctx, link.Appid, link.QuizID)
	if err != nil {
		if err == sql.ErrNoRows {
			// 测验被删除后链接失去目标
			return res, errors.New("ShareLinkLogic.buildAccessResult.QuizStore.Get", i18n.ERROR_NOT_FOUND, err).Code(http.StatusNotFound)
		}
		return res, errors.New("ShareLinkLogic.buildAccessResult.QuizStore.Get", i18n.ERROR_INTERNAL, err)
	}

	res.Quiz = ShareQuizInfo{
		ID:          quiz.ID,
		Title:       quiz.Title,
		Description: quiz.Description,
	}
	return res, nil
}

// recordUsage 审计记录尽力而为，写失败不影响本次访问
func (l *ShareLinkLogic) recordUsage(link *types.ShareLink, meta ClientMeta) {
	usage := &types.ShareUsage{
		ShareLinkID: link.ID,
		ClientAddr:  meta.Addr,
		ClientAgent: utils.TruncateString(meta.Agent, types.SHARE_USAGE_AGENT_MAX_LEN),
		AccessedAt:  time.Now().Unix(),
	}
	if err := l.core.Store().ShareUsageStore().Create(l.ctx, usage); err != nil {
		slog.Warn("failed to record share link usage",
			slog.String("link_id", link.ID),
			slog.String("error", err.Error()))
	}
}

func (l *ShareLinkLogic) accessMetric(result string) {
	if m := l.core.Metrics(); m != nil {
		m.ShareAccessInc(result)
	}
}
