package naming

import "slices"

// diffService 比较同一服务的前后两次全量节点，生成细粒度事件和至多一个粗粒度事件
//
// 节点按 (IP, Port) 识别。事件顺序固定为 NODE_REMOVED、NODE_UPDATED、NODE_ADDED，
// 每组内按节点身份排序，最后是 SERVICE_ADDED / SERVICE_UPDATED / SERVICE_DELETED。
// 前后无差异时返回 nil。
//
// AllNodes 按事件逐步推进：NODE_REMOVED 携带移除前的列表，其余 NODE_* 携带应用后的列表；
// SERVICE_DELETED 携带删除前的列表。
func diffService(key Key, prev, next []NodeInfo) []Event {
	before := indexNodes(prev)
	after := indexNodes(next)

	var removed, updated, added []NodeInfo
	for addr, old := range before {
		cur, ok := after[addr]
		if !ok {
			removed = append(removed, old)
			continue
		}
		if !old.sameAttributes(cur) {
			updated = append(updated, cur)
		}
	}
	for addr, cur := range after {
		if _, ok := before[addr]; !ok {
			added = append(added, cur)
		}
	}

	if len(removed)+len(updated)+len(added) == 0 {
		return nil
	}

	sortNodes(removed)
	sortNodes(updated)
	sortNodes(added)

	final := nodeList(after)
	service := ServiceInfo{Namespace: key.Namespace, Group: key.Group, Name: key.Name, Nodes: final}

	events := make([]Event, 0, len(removed)+len(updated)+len(added)+1)
	working := cloneIndex(before)
	nodeEvent := func(t EventType, n NodeInfo, all []NodeInfo) {
		node := n.clone()
		events = append(events, Event{
			Type:     t,
			Key:      key,
			Service:  cloneService(service),
			AllNodes: all,
			Node:     &node,
		})
	}

	for _, n := range removed {
		all := nodeList(working)
		delete(working, n.Address())
		nodeEvent(NodeRemoved, n, all)
	}
	for _, n := range updated {
		working[n.Address()] = n
		nodeEvent(NodeUpdated, n, nodeList(working))
	}
	for _, n := range added {
		working[n.Address()] = n
		nodeEvent(NodeAdded, n, nodeList(working))
	}

	coarse := Event{Key: key, Service: cloneService(service)}
	switch {
	case len(final) == 0:
		coarse.Type = ServiceDeleted
		coarse.AllNodes = nodeList(before)
	case len(before) == 0:
		coarse.Type = ServiceAdded
		coarse.AllNodes = cloneNodes(final)
	default:
		coarse.Type = ServiceUpdated
		coarse.AllNodes = cloneNodes(final)
	}
	return append(events, coarse)
}

// indexNodes 以节点身份建立索引，重复身份以后出现的为准
func indexNodes(nodes []NodeInfo) map[string]NodeInfo {
	idx := make(map[string]NodeInfo, len(nodes))
	for _, n := range nodes {
		idx[n.Address()] = n
	}
	return idx
}

func cloneIndex(idx map[string]NodeInfo) map[string]NodeInfo {
	cp := make(map[string]NodeInfo, len(idx))
	for k, v := range idx {
		cp[k] = v
	}
	return cp
}

// nodeList 返回排序后的深拷贝列表
func nodeList(idx map[string]NodeInfo) []NodeInfo {
	nodes := make([]NodeInfo, 0, len(idx))
	for _, n := range idx {
		nodes = append(nodes, n.clone())
	}
	sortNodes(nodes)
	return nodes
}

func cloneNodes(nodes []NodeInfo) []NodeInfo {
	if nodes == nil {
		return nil
	}
	cp := make([]NodeInfo, len(nodes))
	for i, n := range nodes {
		cp[i] = n.clone()
	}
	return cp
}

func cloneService(s ServiceInfo) ServiceInfo {
	s.Nodes = cloneNodes(s.Nodes)
	return s
}

// normalizeNodes 去重并排序，作为保存到订阅状态中的节点集合
func normalizeNodes(nodes []NodeInfo) []NodeInfo {
	if len(nodes) == 0 {
		return nil
	}
	out := nodeList(indexNodes(nodes))
	return slices.Clip(out)
}
