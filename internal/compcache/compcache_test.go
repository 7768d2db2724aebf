package compcache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mudpienet/mudpie/internal/dbref"
	"github.com/mudpienet/mudpie/internal/model"
)

func fakeWorld() map[dbref.DbRef]model.Object {
	void := &model.Room{B: model.Base{DbRef: 1, Kind: model.KindRoom, Name: "The Void"}}
	sword := &model.Thing{B: model.Base{DbRef: 2, Kind: model.KindThing, Name: "sword", Location: 1}}
	void.B.Contents = []dbref.DbRef{2}
	return map[dbref.DbRef]model.Object{
		1: void,
		2: sword,
	}
}

func TestLookupOrRetrieveSentinelsShortCircuit(t *testing.T) {
	c := New(time.Minute, 10)
	for _, ref := range []dbref.DbRef{dbref.Nothing, dbref.Ambiguous, dbref.FailedMatch} {
		got, err := c.LookupOrRetrieve(context.Background(), ref, nil, nil)
		if err != nil || got != nil {
			t.Fatalf("LookupOrRetrieve(%v) = %v, %v, want nil, nil", ref, got, err)
		}
	}
}

func TestLookupOrRetrievePerfectCompositionCached(t *testing.T) {
	world := fakeWorld()
	var retrieveCalls int32
	retrieve := func(_ context.Context, ref dbref.DbRef) (model.Object, error) {
		atomic.AddInt32(&retrieveCalls, 1)
		o, ok := world[ref]
		if !ok {
			return nil, errors.New("not found")
		}
		return o, nil
	}
	resolve := func(_ context.Context, ref dbref.DbRef) (model.Object, bool) {
		o, ok := world[ref]
		return o, ok
	}

	c := New(time.Minute, 10)
	got, err := c.LookupOrRetrieve(context.Background(), 1, retrieve, resolve)
	if err != nil {
		t.Fatalf("LookupOrRetrieve: %v", err)
	}
	if got == nil || len(got.Contents) != 1 || got.Contents[0].Ref() != 2 {
		t.Fatalf("composed = %+v, want sword in Contents", got)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (perfect composition should cache)", c.Len())
	}

	if _, err := c.LookupOrRetrieve(context.Background(), 1, retrieve, resolve); err != nil {
		t.Fatalf("second LookupOrRetrieve: %v", err)
	}
	if n := atomic.LoadInt32(&retrieveCalls); n != 1 {
		t.Fatalf("retrieve called %d times, want 1 (second call should hit cache)", n)
	}
}

func TestLookupOrRetrieveImperfectCompositionNotCached(t *testing.T) {
	world := fakeWorld()
	orphan := &model.Thing{B: model.Base{DbRef: 3, Kind: model.KindThing, Name: "ghost", Location: 999}}
	world[3] = orphan

	retrieve := func(_ context.Context, ref dbref.DbRef) (model.Object, error) {
		o, ok := world[ref]
		if !ok {
			return nil, errors.New("not found")
		}
		return o, nil
	}
	resolve := func(_ context.Context, ref dbref.DbRef) (model.Object, bool) {
		o, ok := world[ref]
		return o, ok
	}

	c := New(time.Minute, 10)
	got, err := c.LookupOrRetrieve(context.Background(), 3, retrieve, resolve)
	if err != nil {
		t.Fatalf("LookupOrRetrieve: %v", err)
	}
	if got == nil || got.Location != nil {
		t.Fatalf("composed = %+v, want non-nil with unresolved Location", got)
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 (imperfect composition must not be cached)", c.Len())
	}
}

func TestLookupOrRetrievePropagatesError(t *testing.T) {
	retrieve := func(context.Context, dbref.DbRef) (model.Object, error) {
		return nil, errors.New("boom")
	}
	c := New(time.Minute, 10)
	if _, err := c.LookupOrRetrieve(context.Background(), 1, retrieve, nil); err == nil {
		t.Fatal("expected error from failing retrieveFn to propagate")
	}
}

func TestUpdateEvictsAndRecomposes(t *testing.T) {
	world := fakeWorld()
	retrieve := func(_ context.Context, ref dbref.DbRef) (model.Object, error) {
		o, ok := world[ref]
		if !ok {
			return nil, errors.New("not found")
		}
		return o, nil
	}
	resolve := func(_ context.Context, ref dbref.DbRef) (model.Object, bool) {
		o, ok := world[ref]
		return o, ok
	}

	c := New(time.Minute, 10)
	if _, err := c.LookupOrRetrieve(context.Background(), 1, retrieve, resolve); err != nil {
		t.Fatalf("LookupOrRetrieve: %v", err)
	}

	void := world[1].(*model.Room)
	void.B.Contents = nil

	got, err := c.Update(context.Background(), 1, retrieve, resolve)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(got.Contents) != 0 {
		t.Fatalf("after Update Contents = %v, want empty", got.Contents)
	}
}

func TestEvict(t *testing.T) {
	world := fakeWorld()
	retrieve := func(_ context.Context, ref dbref.DbRef) (model.Object, error) {
		return world[ref], nil
	}
	resolve := func(_ context.Context, ref dbref.DbRef) (model.Object, bool) {
		o, ok := world[ref]
		return o, ok
	}
	c := New(time.Minute, 10)
	c.LookupOrRetrieve(context.Background(), 1, retrieve, resolve)
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 before evict", c.Len())
	}
	c.Evict(1)
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after evict", c.Len())
	}
}
