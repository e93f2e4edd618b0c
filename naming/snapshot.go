package naming

import (
	"github.com/maypok86/otter/v2"

	"github.com/ceyewan/naming/xerrors"
)

// snapshotHolder 每个订阅键最近一次处理后的状态，供 GetService / GetConfig 查询
type snapshotHolder struct {
	cache *otter.Cache[Key, any]
}

func newSnapshotHolder(capacity int) (*snapshotHolder, error) {
	cache, err := otter.New(&otter.Options[Key, any]{
		MaximumSize: capacity,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to build snapshot cache")
	}
	return &snapshotHolder{cache: cache}, nil
}

func (h *snapshotHolder) setService(key Key, info ServiceInfo) {
	h.cache.Set(key, cloneService(info))
}

func (h *snapshotHolder) setConfig(key Key, info ConfigInfo) {
	h.cache.Set(key, info)
}

func (h *snapshotHolder) service(key Key) (ServiceInfo, bool) {
	v, ok := h.cache.GetIfPresent(key)
	if !ok {
		return ServiceInfo{}, false
	}
	info, ok := v.(ServiceInfo)
	if !ok {
		return ServiceInfo{}, false
	}
	return cloneService(info), true
}

func (h *snapshotHolder) config(key Key) (ConfigInfo, bool) {
	v, ok := h.cache.GetIfPresent(key)
	if !ok {
		return ConfigInfo{}, false
	}
	info, ok := v.(ConfigInfo)
	return info, ok
}

func (h *snapshotHolder) invalidate(key Key) {
	h.cache.Invalidate(key)
}

func (h *snapshotHolder) clear() {
	h.cache.InvalidateAll()
}
