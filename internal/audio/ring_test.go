package audio

import "testing"

func block(seq uint64) SampleBlock {
	return SampleBlock{Seq: seq, Samples: []float32{float32(seq)}}
}

func TestRingPushPop(t *testing.T) {
	r := NewRing(8)

	for i := uint64(0); i < 5; i++ {
		r.Push(block(i))
	}
	if r.Len() != 5 {
		t.Fatalf("Len = %d, want 5", r.Len())
	}

	got := r.PopAll()
	if len(got) != 5 {
		t.Fatalf("PopAll returned %d blocks, want 5", len(got))
	}
	for i, b := range got {
		if b.Seq != uint64(i) {
			t.Errorf("block %d has seq %d, want %d", i, b.Seq, i)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len after PopAll = %d, want 0", r.Len())
	}
	if r.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", r.Dropped())
	}
}

func TestRingEviction(t *testing.T) {
	const capacity = 8
	const k = 3
	r := NewRing(capacity)

	for i := uint64(0); i < capacity+k; i++ {
		r.Push(block(i))
	}

	if r.Dropped() != k {
		t.Errorf("Dropped = %d, want %d", r.Dropped(), k)
	}

	got := r.PopAll()
	if len(got) != capacity {
		t.Fatalf("PopAll returned %d blocks, want %d", len(got), capacity)
	}
	// The capacity most recent blocks, in original order.
	for i, b := range got {
		want := uint64(k + i)
		if b.Seq != want {
			t.Errorf("block %d has seq %d, want %d", i, b.Seq, want)
		}
	}
}

func TestRingInterleavedPushPop(t *testing.T) {
	r := NewRing(4)

	r.Push(block(0))
	r.Push(block(1))
	if got := r.PopAll(); len(got) != 2 {
		t.Fatalf("first drain = %d blocks, want 2", len(got))
	}

	for i := uint64(2); i < 8; i++ {
		r.Push(block(i))
	}
	got := r.PopAll()
	if len(got) != 4 {
		t.Fatalf("second drain = %d blocks, want 4", len(got))
	}
	if got[0].Seq != 4 || got[3].Seq != 7 {
		t.Errorf("drain kept seqs %d..%d, want 4..7", got[0].Seq, got[3].Seq)
	}
	if r.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", r.Dropped())
	}
}

func TestRingPopAllEmpty(t *testing.T) {
	r := NewRing(4)
	if got := r.PopAll(); got != nil {
		t.Errorf("PopAll on empty ring = %v, want nil", got)
	}
}
