// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"encoding/json"
	"testing"
)

func TestListenerSnapshotOrder(t *testing.T) {
	lt := newListenerTable()

	var order []int
	lt.add("m", func(json.RawMessage) { order = append(order, 1) }, nil)
	lt.add("m", func(json.RawMessage) { order = append(order, 2) }, nil)
	lt.add("m", func(json.RawMessage) { order = append(order, 3) }, nil)

	for _, en := range lt.snapshot("m") {
		en.fn(nil)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("got order %v, want [1 2 3]", order)
	}
}

func TestListenerOffMatchesCallbackAndScope(t *testing.T) {
	ids := staticIdentity(map[Target]Identity{"a": "id-a", "alias-a": "id-a"})
	lt := newListenerTable()

	fn := func(json.RawMessage) {}
	other := func(json.RawMessage) {}
	lt.add("m", fn, nil)
	lt.add("m", fn, "a")
	lt.add("m", other, nil)

	// Wrong callback.
	if lt.off("m", func(json.RawMessage) {}, nil, ids) {
		t.Fatal("off removed a listener it should not match")
	}
	// Scoped removal through an equivalent target.
	if !lt.off("m", fn, "alias-a", ids) {
		t.Fatal("off failed to match by resolved identity")
	}
	// The unscoped entry for fn is still there.
	if !lt.off("m", fn, nil, ids) {
		t.Fatal("off failed to remove the unscoped entry")
	}
	if lt.off("m", fn, nil, ids) {
		t.Fatal("off removed more than it should")
	}
	if len(lt.snapshot("m")) != 1 {
		t.Errorf("got %d entries left, want 1", len(lt.snapshot("m")))
	}
}

func TestListenerOffScopeMismatch(t *testing.T) {
	ids := staticIdentity(map[Target]Identity{"a": "id-a"})
	lt := newListenerTable()

	fn := func(json.RawMessage) {}
	lt.add("m", fn, "a")

	if lt.off("m", fn, nil, ids) {
		t.Fatal("nil target must not remove a scoped entry")
	}
	if len(lt.snapshot("m")) != 1 {
		t.Fatal("scoped entry disappeared")
	}
}

func TestListenerRemoveAll(t *testing.T) {
	ids := staticIdentity(map[Target]Identity{"a": "id-a", "b": "id-b"})
	lt := newListenerTable()

	fn := func(json.RawMessage) {}
	lt.add("m", fn, nil)
	lt.add("m", fn, "a")
	lt.add("n", fn, "a")
	lt.add("n", fn, "b")

	lt.removeAll("a", ids)

	if len(lt.snapshot("m")) != 1 {
		t.Errorf("method m: got %d entries, want the unscoped one", len(lt.snapshot("m")))
	}
	if len(lt.snapshot("n")) != 1 {
		t.Errorf("method n: got %d entries, want the b-scoped one", len(lt.snapshot("n")))
	}

	lt.removeAll(nil, ids)
	if len(lt.snapshot("m")) != 0 || len(lt.snapshot("n")) != 0 {
		t.Error("removeAll(nil) left listeners behind")
	}
}

func TestListenerDisposerIsExact(t *testing.T) {
	lt := newListenerTable()

	fn := func(json.RawMessage) {}
	first := lt.add("m", fn, nil)
	lt.add("m", fn, nil)

	if !lt.remove(first) {
		t.Fatal("remove failed")
	}
	left := lt.snapshot("m")
	if len(left) != 1 {
		t.Fatalf("got %d entries, want 1", len(left))
	}
	if left[0] == first {
		t.Error("wrong entry removed")
	}
}
