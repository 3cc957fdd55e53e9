package sync

import (
	"encoding/json"
	"fmt"
	"sort"
)

// mergeSnapshots reconciles two JSON entity snapshots field by field.
// Scalar fields take the value from the side with the newer updatedAt
// (per-field timestamps are not tracked, so whole-entity updatedAt
// orders the sides). List fields union their elements; the union is
// sorted, which makes the merge commutative.
func mergeSnapshots(local, remote []byte, localUpdatedAt, remoteUpdatedAt int64) ([]byte, error) {
	var localFields, remoteFields map[string]any
	if err := json.Unmarshal(local, &localFields); err != nil {
		return nil, fmt.Errorf("failed to decode local snapshot: %w", err)
	}
	if err := json.Unmarshal(remote, &remoteFields); err != nil {
		return nil, fmt.Errorf("failed to decode remote snapshot: %w", err)
	}

	newer, older := localFields, remoteFields
	if remoteUpdatedAt > localUpdatedAt {
		newer, older = remoteFields, localFields
	}

	merged := make(map[string]any, len(newer))
	for key, value := range older {
		merged[key] = value
	}
	for key, value := range newer {
		olderValue, inOlder := merged[key]
		if !inOlder {
			merged[key] = value
			continue
		}

		newerList, newerIsList := value.([]any)
		olderList, olderIsList := olderValue.([]any)
		if newerIsList && olderIsList {
			merged[key] = unionList(olderList, newerList)
			continue
		}

		merged[key] = value // scalar: most recently updated wins
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged snapshot: %w", err)
	}
	return out, nil
}

// unionList merges two lists as sets, sorted by rendered value for a
// deterministic, order-independent result.
func unionList(a, b []any) []any {
	seen := map[string]any{}
	for _, v := range a {
		seen[fmt.Sprint(v)] = v
	}
	for _, v := range b {
		key := fmt.Sprint(v)
		if _, ok := seen[key]; !ok {
			seen[key] = v
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	union := make([]any, 0, len(keys))
	for _, k := range keys {
		union = append(union, seen[k])
	}
	return union
}
