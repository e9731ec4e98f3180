package interop

import (
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// --- Source Test Suite ---

type SourceTestSuite struct {
	suite.Suite
}

func (s *SourceTestSuite) TestFlatSlice() {
	v := []int{1, 2, 3}
	src := NewSource(&v)
	defer src.Close()

	flat := src.Retrieve()
	items, ok := ItemsOf[int](flat)
	s.Require().True(ok)
	s.Equal([]int{1, 2, 3}, items)
	s.Equal([]uint{3}, flat.Sizes)
	s.Nil(flat.Keys)
	s.Equal(1, flat.Depth)
	s.Equal(1, src.Depth())
}

func (s *SourceTestSuite) TestNestedPreOrder() {
	v := [][]int{{1, 2}, {3}}
	src := NewSource(&v)
	defer src.Close()

	flat := src.Retrieve()
	items, ok := ItemsOf[int](flat)
	s.Require().True(ok)
	s.Equal([]int{1, 2, 3}, items)
	s.Equal([]uint{2, 2, 1}, flat.Sizes)
}

func (s *SourceTestSuite) TestMapKeysFollowItems() {
	v := map[string]int{"a": 1, "b": 2}
	src := NewSource(&v)
	defer src.Close()

	flat := src.Retrieve()
	s.Equal([]uint{2}, flat.Sizes)
	s.Require().Len(flat.Keys, 1)
	s.Equal(2, flat.Keys[0].Pending())
	s.Equal(v, pairs[string, int](s.T(), flat))
}

func (s *SourceTestSuite) TestSortedMapOrder() {
	var v SortedMap[string, int]
	v.Put("b", 2)
	v.Put("a", 1)
	src := NewSource(&v)
	defer src.Close()

	flat := src.Retrieve()
	items, ok := ItemsOf[int](flat)
	s.Require().True(ok)
	s.Equal([]int{1, 2}, items)
	s.Equal([]uint{2}, flat.Sizes)
	s.Equal([]string{"a", "b"}, flat.Keys[0].Keys())
}

func (s *SourceTestSuite) TestBits() {
	v := BitsOf(true, false, true)
	src := NewSource(&v)
	defer src.Close()

	view, ok := src.Direct()
	s.Require().True(ok)
	data, ok := DataOf[bool](view)
	s.Require().True(ok)
	s.Equal([]bool{true, false, true}, data)
	s.Equal(3, view.Len)

	flat := src.Retrieve()
	items, ok := ItemsOf[bool](flat)
	s.Require().True(ok)
	s.Equal([]bool{true, false, true}, items)
	s.Equal([]uint{3}, flat.Sizes)
}

func (s *SourceTestSuite) TestEmptyContainer() {
	v := []int{}
	src := NewSource(&v)
	defer src.Close()

	flat := src.Retrieve()
	s.Zero(flat.ItemCount())
	s.Equal([]uint{0}, flat.Sizes)
}

func (s *SourceTestSuite) TestRetrieveReusesBuffers() {
	v := []int{1, 2}
	src := NewSource(&v)
	defer src.Close()

	src.Retrieve()
	v = append(v, 3)
	second, _ := ItemsOf[int](src.Retrieve())
	s.Equal([]int{1, 2, 3}, second)

	v = []int{9}
	flat := src.Retrieve()
	third, _ := ItemsOf[int](flat)
	s.Equal([]int{9}, third)
	s.Equal([]uint{1}, flat.Sizes)
	s.Same(&second[0], &third[0], "smaller extraction reuses the item buffer")
}

func (s *SourceTestSuite) TestRetrieveResetsKeys() {
	v := map[int]string{1: "a", 2: "b"}
	src := NewSource(&v)
	defer src.Close()

	src.Retrieve()
	flat := src.Retrieve()
	s.Equal(2, flat.Keys[0].Pending())
}

func (s *SourceTestSuite) TestCustomLeafCopiesItself() {
	v := []blob{{data: []byte("abc")}}
	src := NewSource(&v)
	defer src.Close()

	items, ok := ItemsOf[blob](src.Retrieve())
	s.Require().True(ok)
	v[0].data[0] = 'z'
	s.Equal([]byte("abc"), items[0].data)
}

func (s *SourceTestSuite) TestDirectViews() {
	s.Run("Slice aliases the source", func() {
		v := []uint16{1, 2, 3}
		view, ok := NewSource(&v).Direct()
		s.Require().True(ok)
		data, ok := DataOf[uint16](view)
		s.Require().True(ok)
		v[0] = 9
		s.Equal([]uint16{9, 2, 3}, data)
	})

	s.Run("Array aliases the source", func() {
		v := [4]byte{1, 2, 3, 4}
		view, ok := NewSource(&v).Direct()
		s.Require().True(ok)
		data, ok := DataOf[byte](view)
		s.Require().True(ok)
		v[1] = 7
		s.Equal([]byte{1, 7, 3, 4}, data)
	})

	s.Run("String bytes", func() {
		view, ok := NewSource(Ptr("abc")).Direct()
		s.Require().True(ok)
		data, ok := DataOf[byte](view)
		s.Require().True(ok)
		s.Equal([]byte("abc"), data)
	})

	s.Run("Named slice", func() {
		view, ok := NewSource(&regs{4, 5}).Direct()
		s.Require().True(ok)
		data, ok := DataOf[uint16](view)
		s.Require().True(ok)
		s.Equal([]uint16{4, 5}, data)
	})

	s.Run("Nested has none", func() {
		view, ok := NewSource(&[][]int{{1}}).Direct()
		s.False(ok)
		s.Nil(view.Data)
	})
}

func (s *SourceTestSuite) TestClose() {
	v := map[string]int{"a": 1}
	src := NewSource(&v)
	src.Retrieve()
	src.Close()
	src.Close()

	requireViolation(s.T(), ErrClosed, func() { src.Retrieve() })
	requireViolation(s.T(), ErrClosed, func() { src.Direct() })
}

func TestSource(t *testing.T) {
	suite.Run(t, new(SourceTestSuite))
}

// --- Target Test Suite ---

type TargetTestSuite struct {
	suite.Suite
}

func (s *TargetTestSuite) TestRoundTrips() {
	tests := []struct {
		name string
		run  func(t *testing.T)
	}{
		{"Flat slice", func(t *testing.T) {
			v := []int{1, 2, 3}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Nested slices", func(t *testing.T) {
			v := [][]int{{1, 2}, {3}, {}}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Map of slices", func(t *testing.T) {
			v := map[string][]int{"x": {1, 2}, "y": {}}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Map of maps", func(t *testing.T) {
			v := map[int]map[string]float64{1: {"a": 1.5, "b": -2}, 2: {}}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Set", func(t *testing.T) {
			v := map[string]struct{}{"a": {}, "b": {}}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"String", func(t *testing.T) {
			assert.Equal(t, "hello", roundTrip(t, "hello"))
		}},
		{"Strings", func(t *testing.T) {
			v := []string{"alpha", "", "β"}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Fixed arrays", func(t *testing.T) {
			v := [3][2]uint16{{1, 2}, {3, 4}, {5, 6}}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Slice of arrays", func(t *testing.T) {
			v := [][2]string{{"a", "b"}, {"", "c"}}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Named slice", func(t *testing.T) {
			v := regs{7, 8}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Bits", func(t *testing.T) {
			v := []Bits{BitsOf(true), BitsOf(), BitsOf(false, true, true)}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Composite leaves", func(t *testing.T) {
			v := []register{{Name: "pc", Value: 0x100}, {Name: "sp", Value: 0x200}}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Fixed-size struct leaves", func(t *testing.T) {
			v := map[uint8][]sample{1: {{Tick: 1, Level: -3, On: true}}}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Custom leaves", func(t *testing.T) {
			v := []blob{{data: []byte("x")}, {data: []byte("yz")}}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Declining custom leaves", func(t *testing.T) {
			v := []shy{{N: 1}, {N: 2}}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Bare leaf", func(t *testing.T) {
			v := register{Name: "pc", Value: 1}
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Sorted map", func(t *testing.T) {
			var v SortedMap[string, []int]
			v.Put("b", []int{2})
			v.Put("a", []int{1, 1})
			assert.Equal(t, v, roundTrip(t, v))
		}},
		{"Multimap", func(t *testing.T) {
			var v MultiMap[string, int]
			v.Add("a", 1)
			v.Add("b", 2)
			v.Add("a", 3)
			out := roundTrip(t, v)
			assert.Equal(t, v, out)
			assert.Equal(t, []int{1, 3}, out.Values("a"))
		}},
		{"Map of sorted maps", func(t *testing.T) {
			var inner SortedMap[int, Bits]
			inner.Put(3, BitsOf(true, false))
			v := map[string]SortedMap[int, Bits]{"k": inner}
			assert.Equal(t, v, roundTrip(t, v))
		}},
	}
	for _, tt := range tests {
		s.T().Run(tt.name, tt.run)
	}
}

func (s *TargetTestSuite) TestEmptyBecomesNonNil() {
	var v []int
	var out []int
	NewTarget(&out).Apply(NewSource(&v).Retrieve())
	s.NotNil(out)
	s.Empty(out)

	var m map[string]int
	var outMap map[string]int
	NewTarget(&outMap).Apply(NewSource(&m).Retrieve())
	s.NotNil(outMap)
	s.Empty(outMap)
}

func (s *TargetTestSuite) TestApplyReplacesContents() {
	v := map[string]int{"a": 1}
	out := map[string]int{"stale": 9}
	NewTarget(&out).Apply(NewSource(&v).Retrieve())
	s.Equal(v, out)

	var sm SortedMap[int, int]
	sm.Put(1, 1)
	outSorted := SortedMap[int, int]{}
	outSorted.Put(5, 5)
	NewTarget(&outSorted).Apply(NewSource(&sm).Retrieve())
	s.Equal(1, outSorted.Len())
	_, found := outSorted.Get(5)
	s.False(found)
}

func (s *TargetTestSuite) TestApplyConsumesKeys() {
	v := map[string]int{"a": 1, "b": 2}
	flat := NewSource(&v).Retrieve()

	var out map[string]int
	NewTarget(&out).Apply(flat)
	s.Zero(flat.Keys[0].Pending())

	requireViolation(s.T(), ErrKeyUnderflow, func() { NewTarget(&out).Apply(flat) })
}

func (s *TargetTestSuite) TestApplyDirect() {
	s.Run("Slice", func() {
		v := []int{1, 2, 3}
		view, _ := NewSource(&v).Direct()
		var out []int
		NewTarget(&out).ApplyDirect(view)
		s.Equal(v, out)
		v[0] = 9
		s.Equal(1, out[0], "the target owns its copy")
	})

	s.Run("Bits", func() {
		v := BitsOf(true, false, true)
		view, _ := NewSource(&v).Direct()
		var out Bits
		NewTarget(&out).ApplyDirect(view)
		s.True(v.Equal(out))
	})

	s.Run("String", func() {
		view, _ := NewSource(Ptr("abc")).Direct()
		var out string
		NewTarget(&out).ApplyDirect(view)
		s.Equal("abc", out)
	})

	s.Run("Array length mismatch", func() {
		var out [3]int
		view := View[[3]int]{Data: []int{1, 2}, Len: 2}
		requireViolation(s.T(), ErrShapeMismatch, func() { NewTarget(&out).ApplyDirect(view) })
	})

	s.Run("Length disagrees with data", func() {
		var out []int
		view := View[[]int]{Data: []int{1, 2}, Len: 3}
		requireViolation(s.T(), ErrShapeMismatch, func() { NewTarget(&out).ApplyDirect(view) })
	})

	s.Run("Nested has no direct path", func() {
		var out [][]int
		requireViolation(s.T(), ErrNoDirectPath, func() { NewTarget(&out).ApplyDirect(View[[][]int]{}) })
	})
}

func (s *TargetTestSuite) TestTransfer() {
	src := []uint32{5, 6}
	var dst []uint32
	Transfer(&dst, &src)
	s.Equal(src, dst)

	m := map[string][]int{"a": {1}, "b": nil}
	var outMap map[string][]int
	Transfer(&outMap, &m)
	s.Equal(map[string][]int{"a": {1}, "b": {}}, outMap, "nil slices come back empty")
}

func (s *TargetTestSuite) TestContractViolations() {
	tests := []struct {
		name  string
		err   error
		apply func()
	}{
		{"Leftover keys", ErrKeysPending, func() {
			v := map[string]int{"a": 1}
			flat := NewSource(&v).Retrieve()
			StoreKey(flat.Keys[0], "extra")
			var out map[string]int
			NewTarget(&out).Apply(flat)
		}},
		{"Missing key", ErrKeyUnderflow, func() {
			v := map[string]int{"a": 1}
			flat := NewSource(&v).Retrieve()
			flat.Keys[0].Take()
			var out map[string]int
			NewTarget(&out).Apply(flat)
		}},
		{"No key marshaller", ErrShapeMismatch, func() {
			var out map[string]int
			NewTarget(&out).Apply(Flat[map[string]int]{Items: []int{1}, Sizes: []uint{1}, Depth: 1})
		}},
		{"Key marshaller of another type", ErrShapeMismatch, func() {
			var out map[string]int
			keys := []KeyMarshaller{NewKeyMarshaller(reflect.TypeFor[int]())}
			NewTarget(&out).Apply(Flat[map[string]int]{Items: []int{}, Sizes: []uint{0}, Keys: keys, Depth: 1})
		}},
		{"Sizes exhausted", ErrSizesExhausted, func() {
			var out [][]int
			NewTarget(&out).Apply(Flat[[][]int]{Items: []int{1}, Sizes: []uint{1}, Depth: 2})
		}},
		{"Items exhausted", ErrItemsExhausted, func() {
			var out []int
			NewTarget(&out).Apply(Flat[[]int]{Items: []int{1}, Sizes: []uint{3}, Depth: 1})
		}},
		{"Items left over", ErrShapeMismatch, func() {
			var out []int
			NewTarget(&out).Apply(Flat[[]int]{Items: []int{1, 2}, Sizes: []uint{1}, Depth: 1})
		}},
		{"Sizes left over", ErrShapeMismatch, func() {
			var out []int
			NewTarget(&out).Apply(Flat[[]int]{Items: []int{1}, Sizes: []uint{1, 0}, Depth: 1})
		}},
		{"Array length", ErrShapeMismatch, func() {
			var out [2]int
			NewTarget(&out).Apply(Flat[[2]int]{Items: []int{1, 2, 3}, Sizes: []uint{3}, Depth: 1})
		}},
		{"Wrong leaf type", ErrShapeMismatch, func() {
			var out []int
			NewTarget(&out).Apply(Flat[[]int]{Items: []int32{1}, Sizes: []uint{1}, Depth: 1})
		}},
		{"Wrong depth", ErrShapeMismatch, func() {
			var out []int
			NewTarget(&out).Apply(Flat[[]int]{Items: []int{1}, Sizes: []uint{1}, Depth: 2})
		}},
	}
	for _, tt := range tests {
		s.T().Run(tt.name, func(t *testing.T) {
			requireViolation(t, tt.err, tt.apply)
		})
	}
}

func TestTarget(t *testing.T) {
	suite.Run(t, new(TargetTestSuite))
}

func TestConcurrentAdapters(t *testing.T) {
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := map[string][]int{fmt.Sprint(i): {i, i + 1}}
			var out map[string][]int
			Transfer(&out, &v)
			assert.Equal(t, v, out)
		}()
	}
	wg.Wait()
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	v := [][]int{{1, 2}, {3}}
	var out [][]int
	NewTarget(&out).Apply(NewSource(&v).Retrieve())

	retrieved := logs.FilterMessage("interop: retrieved").All()
	require.Len(t, retrieved, 1)
	fields := retrieved[0].ContextMap()
	assert.Equal(t, "[][]int", fields["type"])
	assert.EqualValues(t, 3, fields["items"])
	assert.EqualValues(t, 3, fields["sizes"])

	require.Len(t, logs.FilterMessage("interop: applied").All(), 1)

	SetLogger(nil)
	assert.NotNil(t, Logger())
}
