package videostream

import "testing"

func TestRouteFrameFansOutToAllControllers(t *testing.T) {
	r := New()
	r.RegisterDevice("s1", "dev1")
	r.RegisterController("s1", "ctrl1")
	r.RegisterController("s1", "ctrl2")

	r.RouteFrame("s1", []byte("frame1"))

	f1, ok := r.GetFrame("s1", "ctrl1")
	if !ok || string(f1) != "frame1" {
		t.Fatalf("ctrl1 expected frame1, got %q ok=%v", f1, ok)
	}
	f2, ok := r.GetFrame("s1", "ctrl2")
	if !ok || string(f2) != "frame1" {
		t.Fatalf("ctrl2 expected frame1, got %q ok=%v", f2, ok)
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	r := New()
	r.RegisterDevice("s1", "dev1")
	r.RegisterController("s1", "slow")

	for i := 0; i < 50; i++ {
		r.RouteFrame("s1", []byte{byte(i)})
	}

	if got := r.QueueLen("s1", "slow"); got != MaxQueueSize {
		t.Fatalf("expected queue length %d, got %d", MaxQueueSize, got)
	}

	stats := r.Stats("s1")
	if stats.DroppedFrames != 20 {
		t.Fatalf("expected 20 dropped frames, got %d", stats.DroppedFrames)
	}
	if stats.TotalFrames != 50 {
		t.Fatalf("expected 50 total frames, got %d", stats.TotalFrames)
	}
}

func TestGetFrameOnEmptyQueueReturnsFalse(t *testing.T) {
	r := New()
	r.RegisterDevice("s1", "dev1")
	r.RegisterController("s1", "ctrl1")

	if _, ok := r.GetFrame("s1", "ctrl1"); ok {
		t.Fatal("expected empty queue to report ok=false")
	}
}

func TestUnregisterControllerDropsQueue(t *testing.T) {
	r := New()
	r.RegisterDevice("s1", "dev1")
	r.RegisterController("s1", "ctrl1")
	r.RouteFrame("s1", []byte("frame1"))

	r.UnregisterController("s1", "ctrl1")
	r.RegisterController("s1", "ctrl1")

	if _, ok := r.GetFrame("s1", "ctrl1"); ok {
		t.Fatal("expected re-registered controller to start with an empty queue")
	}
}

func TestAvgFrameSizeUpdatesAtomically(t *testing.T) {
	r := New()
	r.RegisterDevice("s1", "dev1")
	r.RegisterController("s1", "ctrl1")

	r.RouteFrame("s1", make([]byte, 100))
	r.RouteFrame("s1", make([]byte, 200))

	stats := r.Stats("s1")
	if stats.TotalBytes != 300 || stats.TotalFrames != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.AvgFrameSize != 150 {
		t.Fatalf("expected avg frame size 150, got %v", stats.AvgFrameSize)
	}
}
