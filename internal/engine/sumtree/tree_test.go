package sumtree

import (
	"errors"
	"math/rand"
	"slices"
	"testing"
	"testing/quick"
)

type intSummary struct {
	Count int
	Sum   int
	Max   int
}

func (s intSummary) Add(o intSummary) intSummary {
	if s.Count == 0 {
		return o
	}
	if o.Count == 0 {
		return s
	}
	return intSummary{Count: s.Count + o.Count, Sum: s.Sum + o.Sum, Max: max(s.Max, o.Max)}
}

type intItem int

func (i intItem) Summary() intSummary {
	return intSummary{Count: 1, Sum: int(i), Max: int(i)}
}

type intTree = Tree[intItem, intSummary]

func seq(n int) []intItem {
	items := make([]intItem, n)
	for i := range items {
		items[i] = intItem(i)
	}
	return items
}

func assertTree(t *testing.T, tree intTree, want []intItem) {
	t.Helper()
	if err := tree.Check(); err != nil {
		t.Fatalf("Check() = %v", err)
	}
	if tree.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", tree.Len(), len(want))
	}
	got := tree.Items()
	if !slices.Equal(got, want) {
		t.Fatalf("Items() = %v, want %v", got, want)
	}
	sum := 0
	for _, v := range want {
		sum += int(v)
	}
	if tree.Summary().Sum != sum {
		t.Fatalf("Summary().Sum = %d, want %d", tree.Summary().Sum, sum)
	}
}

func TestEmptyTree(t *testing.T) {
	var tree intTree
	if !tree.IsEmpty() || tree.Len() != 0 || tree.Height() != 0 {
		t.Fatalf("zero tree not empty: len=%d height=%d", tree.Len(), tree.Height())
	}
	if _, ok := tree.Get(0); ok {
		t.Error("Get on empty tree should fail")
	}
	if (tree.Summary() != intSummary{}) {
		t.Errorf("Summary() = %+v, want zero", tree.Summary())
	}
	l, r := tree.Split(3)
	if !l.IsEmpty() || !r.IsEmpty() {
		t.Error("Split of empty tree should give empty halves")
	}
	idx, before := tree.Seek(func(s intSummary) bool { return s.Count > 0 })
	if idx != 0 || before.Count != 0 {
		t.Errorf("Seek on empty = (%d, %+v)", idx, before)
	}
}

func TestFromItems(t *testing.T) {
	for _, n := range []int{1, 15, 16, 17, 128, 129, 1000, 4097} {
		tree := FromItems[intItem, intSummary](seq(n))
		assertTree(t, tree, seq(n))
	}
}

func TestGet(t *testing.T) {
	tree := FromItems[intItem, intSummary](seq(500))
	for i := 0; i < 500; i++ {
		v, ok := tree.Get(i)
		if !ok || int(v) != i {
			t.Fatalf("Get(%d) = %d, %v", i, v, ok)
		}
	}
	if _, ok := tree.Get(500); ok {
		t.Error("Get past end should fail")
	}
	if _, ok := tree.Get(-1); ok {
		t.Error("Get(-1) should fail")
	}
	first, _ := tree.First()
	last, _ := tree.Last()
	if first != 0 || last != 499 {
		t.Errorf("First/Last = %d/%d", first, last)
	}
}

func TestSplitConcat(t *testing.T) {
	items := seq(300)
	tree := FromItems[intItem, intSummary](items)
	for _, at := range []int{0, 1, 15, 16, 17, 150, 299, 300} {
		l, r := tree.Split(at)
		assertTree(t, l, items[:at])
		assertTree(t, r, items[at:])
		assertTree(t, l.Concat(r), items)
	}
}

func TestConcatUnevenHeights(t *testing.T) {
	small := FromItems[intItem, intSummary](seq(3))
	bigItems := seq(2000)
	big := FromItems[intItem, intSummary](bigItems)

	want := append(slices.Clone(seq(3)), bigItems...)
	assertTree(t, small.Concat(big), want)

	want = append(slices.Clone(bigItems), seq(3)...)
	assertTree(t, big.Concat(small), want)
}

func TestInsertRemove(t *testing.T) {
	tree := FromItems[intItem, intSummary](seq(40))
	tree = tree.Insert(10, 100, 101, 102)
	want := append(append(slices.Clone(seq(10)), 100, 101, 102), seq(40)[10:]...)
	assertTree(t, tree, want)

	tree = tree.Remove(10, 13)
	assertTree(t, tree, seq(40))

	tree = tree.Append(40, 41)
	assertTree(t, tree, seq(42))

	tree = tree.Set(0, 7)
	v, _ := tree.Get(0)
	if v != 7 {
		t.Errorf("Set(0) then Get(0) = %d", v)
	}
}

func TestPersistence(t *testing.T) {
	orig := FromItems[intItem, intSummary](seq(200))
	_ = orig.Insert(50, 1000)
	_ = orig.Remove(0, 100)
	_ = orig.Set(10, 99)
	assertTree(t, orig, seq(200))
}

func TestSlice(t *testing.T) {
	items := seq(100)
	tree := FromItems[intItem, intSummary](items)
	tests := []struct {
		start, end int
		want       []intItem
	}{
		{0, 100, items},
		{10, 20, items[10:20]},
		{50, 50, nil},
		{-5, 3, items[:3]},
		{95, 500, items[95:]},
		{60, 40, nil},
	}
	for _, tt := range tests {
		got := tree.Slice(tt.start, tt.end).Items()
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("Slice(%d, %d) = %v, want %v", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestSeek(t *testing.T) {
	// Items 0..99: prefix sums are triangular numbers.
	tree := FromItems[intItem, intSummary](seq(100))
	for target := 0; target < 4950; target += 37 {
		idx, before := tree.Seek(func(s intSummary) bool { return s.Sum > target })
		// Linear reference.
		acc := 0
		want := 100
		for i := 0; i < 100; i++ {
			if acc+i > target {
				want = i
				break
			}
			acc += i
		}
		if idx != want || before.Sum != acc {
			t.Fatalf("Seek(sum > %d) = (%d, %d), want (%d, %d)", target, idx, before.Sum, want, acc)
		}
	}

	idx, before := tree.Seek(func(s intSummary) bool { return s.Sum > 1_000_000 })
	if idx != 100 || before.Sum != 4950 {
		t.Errorf("Seek never true = (%d, %d)", idx, before.Sum)
	}
}

func TestSummaryTo(t *testing.T) {
	tree := FromItems[intItem, intSummary](seq(300))
	for i := 0; i <= 300; i += 7 {
		want := i * (i - 1) / 2
		if got := tree.SummaryTo(i).Sum; got != want {
			t.Fatalf("SummaryTo(%d).Sum = %d, want %d", i, got, want)
		}
	}
}

func TestAscendDescend(t *testing.T) {
	tree := FromItems[intItem, intSummary](seq(200))

	var up []int
	tree.Ascend(150, func(i int, v intItem) bool {
		if i != int(v) {
			t.Fatalf("index %d holds %d", i, v)
		}
		up = append(up, i)
		return true
	})
	if len(up) != 50 || up[0] != 150 || up[49] != 199 {
		t.Errorf("Ascend(150) visited %d items starting %v", len(up), up[:1])
	}

	var down []int
	tree.Descend(37, func(i int, v intItem) bool {
		if i != int(v) {
			t.Fatalf("index %d holds %d", i, v)
		}
		down = append(down, i)
		return i > 30
	})
	if !slices.Equal(down, []int{37, 36, 35, 34, 33, 32, 31, 30}) {
		t.Errorf("Descend(37) visited %v", down)
	}

	count := 0
	tree.Descend(1000, func(int, intItem) bool { count++; return true })
	if count != 200 {
		t.Errorf("Descend from past end visited %d", count)
	}
}

func TestHeightIsLogarithmic(t *testing.T) {
	var tree intTree
	for i := 0; i < 5000; i++ {
		tree = tree.Append(intItem(i))
	}
	if err := tree.Check(); err != nil {
		t.Fatal(err)
	}
	// Leaves stay at least half full, so the tree stays shallow.
	if h := tree.Height(); h > 10 {
		t.Errorf("Height() = %d after 5000 appends", h)
	}
}

func TestCheckDetectsCorruption(t *testing.T) {
	tree := FromItems[intItem, intSummary](seq(100))
	tree.root.children[0].count++
	if err := tree.Check(); !errors.Is(err, ErrCorruptTree) {
		t.Errorf("Check() = %v, want ErrCorruptTree", err)
	}
}

func TestRandomEditsMatchSlice(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var tree intTree
	var model []intItem

	for step := 0; step < 2000; step++ {
		switch op := rng.Intn(4); {
		case op < 2 || len(model) == 0:
			at := rng.Intn(len(model) + 1)
			n := rng.Intn(20) + 1
			items := make([]intItem, n)
			for i := range items {
				items[i] = intItem(rng.Intn(1000))
			}
			tree = tree.Insert(at, items...)
			model = slices.Insert(model, at, items...)
		case op == 2:
			start := rng.Intn(len(model))
			end := start + rng.Intn(len(model)-start+1)
			tree = tree.Remove(start, end)
			model = slices.Delete(model, start, end)
		default:
			at := rng.Intn(len(model))
			l, r := tree.Split(at)
			tree = r.Concat(l)
			model = append(slices.Clone(model[at:]), model[:at]...)
		}
		if step%100 == 0 {
			assertTree(t, tree, model)
		}
	}
	assertTree(t, tree, model)
}

func TestSplitConcatProperty(t *testing.T) {
	f := func(raw []int16, at uint16) bool {
		items := make([]intItem, len(raw))
		for i, v := range raw {
			items[i] = intItem(v)
		}
		tree := FromItems[intItem, intSummary](items)
		pos := 0
		if len(items) > 0 {
			pos = int(at) % (len(items) + 1)
		}
		l, r := tree.Split(pos)
		joined := l.Concat(r)
		return joined.Check() == nil && slices.Equal(joined.Items(), tree.Items()) && l.Len() == pos
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func BenchmarkInsertMiddle(b *testing.B) {
	tree := FromItems[intItem, intSummary](seq(100000))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tree.Insert(50000, intItem(i))
	}
}

func BenchmarkSeek(b *testing.B) {
	tree := FromItems[intItem, intSummary](seq(100000))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		target := i % 100000
		tree.Seek(func(s intSummary) bool { return s.Count > target })
	}
}
