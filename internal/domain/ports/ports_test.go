package ports

import (
	"context"
	"reflect"
	"testing"

	"playerhub/internal/domain"
)

func TestRangeStoreInterface(t *testing.T) {
	typ := reflect.TypeOf((*RangeStore)(nil)).Elem()
	i64 := reflect.TypeOf(int64(0))

	assertMethod(t, typ, "Contains", []reflect.Type{i64, i64}, []reflect.Type{reflect.TypeOf(false)})
	assertMethod(t, typ, "Read", []reflect.Type{i64, i64}, []reflect.Type{reflect.TypeOf([]byte{}), errorType()})
	assertMethod(t, typ, "Write", []reflect.Type{i64, reflect.TypeOf([]byte{})}, []reflect.Type{errorType()})
	assertMethod(t, typ, "Metadata", nil, []reflect.Type{reflect.TypeOf(domain.ContentInfo{}), reflect.TypeOf(false)})
	assertMethod(t, typ, "SetMetadata", []reflect.Type{reflect.TypeOf(domain.ContentInfo{})}, nil)
	assertMethod(t, typ, "Resident", nil, []reflect.Type{reflect.SliceOf(reflect.TypeOf(domain.Range{}))})
	assertMethod(t, typ, "Close", nil, []reflect.Type{errorType()})
}

func TestStoreProviderInterface(t *testing.T) {
	typ := reflect.TypeOf((*StoreProvider)(nil)).Elem()

	assertMethod(t, typ, "Open", []reflect.Type{reflect.TypeOf("")}, []reflect.Type{
		reflect.TypeOf((*RangeStore)(nil)).Elem(),
		errorType(),
	})
	assertMethod(t, typ, "Close", nil, []reflect.Type{errorType()})
}

func TestRangeFetcherInterface(t *testing.T) {
	typ := reflect.TypeOf((*RangeFetcher)(nil)).Elem()

	assertMethod(t, typ, "Open", []reflect.Type{
		contextType(),
		reflect.TypeOf(""),
		reflect.TypeOf(int64(0)),
	}, []reflect.Type{
		reflect.TypeOf((*FetchHandle)(nil)).Elem(),
		errorType(),
	})

	handle := reflect.TypeOf((*FetchHandle)(nil)).Elem()
	assertMethod(t, handle, "Events", nil, []reflect.Type{reflect.TypeOf((<-chan FetchEvent)(nil))})
	assertMethod(t, handle, "Offset", nil, []reflect.Type{reflect.TypeOf(int64(0))})
	assertMethod(t, handle, "Cancel", nil, nil)
}

func TestPlaybackEngineInterface(t *testing.T) {
	typ := reflect.TypeOf((*PlaybackEngine)(nil)).Elem()

	assertMethod(t, typ, "Play", nil, nil)
	assertMethod(t, typ, "Pause", nil, nil)
	assertMethod(t, typ, "Seek", []reflect.Type{reflect.TypeOf(float64(0))}, nil)
	assertMethod(t, typ, "ReplaceItem", []reflect.Type{reflect.TypeOf("")}, nil)
}

func TestWatchHistoryRepositoryInterface(t *testing.T) {
	typ := reflect.TypeOf((*WatchHistoryRepository)(nil)).Elem()

	assertMethod(t, typ, "Upsert", []reflect.Type{contextType(), reflect.TypeOf(domain.WatchPosition{})}, []reflect.Type{errorType()})
	assertMethod(t, typ, "Get", []reflect.Type{contextType(), reflect.TypeOf("")}, []reflect.Type{reflect.TypeOf(domain.WatchPosition{}), errorType()})
	assertMethod(t, typ, "ListRecent", []reflect.Type{contextType(), reflect.TypeOf(0)}, []reflect.Type{reflect.SliceOf(reflect.TypeOf(domain.WatchPosition{})), errorType()})
}

func TestFetchEventKindString(t *testing.T) {
	if FetchData.String() != "data" {
		t.Fatalf("FetchData = %q", FetchData.String())
	}
	if FetchEventKind(42).String() != "unknown" {
		t.Fatalf("out of range kind = %q", FetchEventKind(42).String())
	}
}

func assertMethod(t *testing.T, typ reflect.Type, name string, in []reflect.Type, out []reflect.Type) {
	t.Helper()
	method, ok := typ.MethodByName(name)
	if !ok {
		t.Fatalf("missing method %s", name)
	}

	wantIn := len(in)
	if method.Type.NumIn() != wantIn {
		t.Fatalf("%s NumIn = %d, want %d", name, method.Type.NumIn(), wantIn)
	}
	for i, typIn := range in {
		if got := method.Type.In(i); got != typIn {
			t.Fatalf("%s In[%d] = %s, want %s", name, i, got, typIn)
		}
	}

	if method.Type.NumOut() != len(out) {
		t.Fatalf("%s NumOut = %d, want %d", name, method.Type.NumOut(), len(out))
	}
	for i, typOut := range out {
		if got := method.Type.Out(i); got != typOut {
			t.Fatalf("%s Out[%d] = %s, want %s", name, i, got, typOut)
		}
	}
}

func contextType() reflect.Type {
	return reflect.TypeOf((*context.Context)(nil)).Elem()
}

func errorType() reflect.Type {
	return reflect.TypeOf((*error)(nil)).Elem()
}
