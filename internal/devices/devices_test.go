package devices

import "testing"

func TestRegisterFailsOnDuplicate(t *testing.T) {
	r, _ := New(nil)
	if !r.Register("dev1", "s", "Pixel") {
		t.Fatal("first register should succeed")
	}
	if r.Register("dev1", "other", "Pixel") {
		t.Fatal("duplicate register should fail")
	}
}

func TestRegisterRejectsEmptyDeviceIDByDefault(t *testing.T) {
	r, _ := New(nil)
	if r.Register("", "s", "Pixel") {
		t.Fatal("empty device id should be rejected by default")
	}
}

func TestAuthenticate(t *testing.T) {
	r, _ := New(nil)
	r.Register("dev1", "s3cr3t", "Pixel")

	if !r.Authenticate("dev1", "s3cr3t") {
		t.Fatal("expected authentication to succeed with correct secret")
	}
	if r.Authenticate("dev1", "wrong") {
		t.Fatal("expected authentication to fail with wrong secret")
	}
	if r.Authenticate("ghost", "s3cr3t") {
		t.Fatal("expected authentication to fail for unknown device")
	}
}

func TestDeactivatedDeviceCannotAuthenticate(t *testing.T) {
	r, _ := New(nil)
	r.Register("dev1", "s3cr3t", "Pixel")
	if !r.Deactivate("dev1") {
		t.Fatal("expected deactivate to succeed")
	}
	if r.Authenticate("dev1", "s3cr3t") {
		t.Fatal("deactivated device should not authenticate")
	}

	entry, ok := r.Get("dev1")
	if !ok {
		t.Fatal("Get should still return deactivated entries")
	}
	if entry.IsActive {
		t.Fatal("expected entry to be marked inactive")
	}
}

func TestDeactivateUnknownDeviceFails(t *testing.T) {
	r, _ := New(nil)
	if r.Deactivate("ghost") {
		t.Fatal("expected deactivate of unknown device to fail")
	}
}
