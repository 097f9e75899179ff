package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"sudooom.im.relay/internal/event"
)

// Change 一次 Apply 对本地历史的影响
type Change struct {
	Pair     string
	Appended bool
	Removed  []string
}

// Reconciler 把中继推送的事件合并进本地用户的会话历史
type Reconciler struct {
	self      string
	store     Store
	logger    *slog.Logger
	mu        sync.Mutex
	histories map[string]*History
}

func NewReconciler(self string, store Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		self:      self,
		store:     store,
		logger:    logger,
		histories: make(map[string]*History),
	}
}

// history 返回缓存中的会话，首次访问时从 Store 加载；调用方持有 r.mu
func (r *Reconciler) history(ctx context.Context, pair string) (*History, error) {
	if h, ok := r.histories[pair]; ok {
		return h, nil
	}
	h, err := r.store.Load(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", pair, err)
	}
	r.histories[pair] = h
	return h, nil
}

// LoadAll 加载 Store 中已有的全部会话
func (r *Reconciler) LoadAll(ctx context.Context) error {
	pairs, err := r.store.Pairs(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pair := range pairs {
		if _, err := r.history(ctx, pair); err != nil {
			return err
		}
	}
	return nil
}

// Apply 处理 receive_* 与 delete_message，其余事件忽略
func (r *Reconciler) Apply(ctx context.Context, out event.Outbound) (Change, error) {
	switch e := out.(type) {
	case event.Received:
		return r.Append(ctx, EntryFrom(e))
	case *event.Deleted:
		if e.From == "" && e.To == "" {
			return r.deleteEverywhere(ctx, e.IDs)
		}
		return r.Delete(ctx, event.PairKey(e.From, e.To), e.IDs)
	default:
		return Change{}, nil
	}
}

// Append 追加条目（也用于本地回显：发送方先以客户端时间追加自己的副本）
func (r *Reconciler) Append(ctx context.Context, e Entry) (Change, error) {
	if r.self != "" && e.From != r.self && e.To != r.self {
		r.logger.Debug("Ignoring entry of foreign pair", "id", e.ID, "from", e.From, "to", e.To)
		return Change{}, nil
	}

	pair := e.Pair()
	r.mu.Lock()
	defer r.mu.Unlock()

	h, err := r.history(ctx, pair)
	if err != nil {
		return Change{}, err
	}
	if !h.Append(e) {
		return Change{Pair: pair}, nil
	}
	if err := r.store.Append(ctx, pair, e); err != nil {
		return Change{Pair: pair, Appended: true}, fmt.Errorf("persist entry: %w", err)
	}
	return Change{Pair: pair, Appended: true}, nil
}

// Delete 对单个会话记录墓碑
func (r *Reconciler) Delete(ctx context.Context, pair string, ids []string) (Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(ctx, pair, ids)
}

func (r *Reconciler) deleteLocked(ctx context.Context, pair string, ids []string) (Change, error) {
	h, err := r.history(ctx, pair)
	if err != nil {
		return Change{}, err
	}
	change := Change{Pair: pair, Removed: h.ApplyTombstones(ids)}
	if err := r.store.Tombstone(ctx, pair, ids); err != nil {
		return change, fmt.Errorf("persist tombstones: %w", err)
	}
	return change, nil
}

// deleteEverywhere 不带双方信息的删除作用于所有已加载的会话
func (r *Reconciler) deleteEverywhere(ctx context.Context, ids []string) (Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all Change
	for pair := range r.histories {
		change, err := r.deleteLocked(ctx, pair, ids)
		all.Removed = append(all.Removed, change.Removed...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// Render 与 peer 的会话，按到达顺序
func (r *Reconciler) Render(ctx context.Context, peer string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, err := r.history(ctx, event.PairKey(r.self, peer))
	if err != nil {
		return nil, err
	}
	return h.Render(), nil
}
