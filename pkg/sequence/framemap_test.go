package sequence

import (
	"reflect"
	"testing"
)

func TestFrameMapAscendingKeys(t *testing.T) {
	m := NewFrameMap[int64, string]()
	m.Append(30, "c")
	m.Append(10, "a")
	m.Append(20, "b")
	m.Append(10, "a2")

	want := []int64{10, 20, 30}
	if got := m.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}

	var visited []string
	m.Ascend(func(_ int64, vs []string) bool {
		visited = append(visited, vs...)
		return true
	})
	if want := []string{"a", "a2", "b", "c"}; !reflect.DeepEqual(visited, want) {
		t.Fatalf("Ascend order = %v, want %v", visited, want)
	}
}

func TestFrameMapDelete(t *testing.T) {
	m := NewFrameMap[int64, int]()
	m.Append(5, 50)
	m.Append(7, 70)

	vs, ok := m.Delete(5)
	if !ok || len(vs) != 1 || vs[0] != 50 {
		t.Fatalf("Delete(5) = %v, %v", vs, ok)
	}
	if _, ok = m.Delete(5); ok {
		t.Fatal("second Delete(5) should report absence")
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}

func TestFrameMapCloneIndependence(t *testing.T) {
	m := NewFrameMap[int64, int]()
	m.Append(1, 10)
	m.Append(2, 20)

	c := m.Clone()
	c.Append(1, 11)
	c.Delete(2)

	if vs, _ := m.Get(1); len(vs) != 1 {
		t.Fatalf("original mutated through clone: %v", vs)
	}
	if _, ok := m.Get(2); !ok {
		t.Fatal("original lost key 2 after clone mutation")
	}
}

func TestIteratorSortFilter(t *testing.T) {
	it := From([]int{4, 1, 3, 2}).
		Filter(func(v int) bool { return v != 3 }).
		Sort(func(a, b int) bool { return a < b })

	if got := it.Collect(); !reflect.DeepEqual(got, []int{1, 2, 4}) {
		t.Fatalf("Collect() = %v", got)
	}
}
