package auth

import "testing"

func TestVerifierAllFiveLayouts(t *testing.T) {
	v := NewVerifier("shared-secret")

	cases := []struct {
		name      string
		layout    Layout
		deviceID  string
		timestamp string
	}{
		{"device+timestamp", LayoutDeviceTimestamp, "wimz_robot_01", "1690000000"},
		{"device:timestamp", LayoutDeviceColonTimestamp, "wimz_robot_01", "1690000000"},
		{"timestamp+device", LayoutTimestampDevice, "wimz_robot_01", "1690000000"},
		{"timestamp:device", LayoutTimestampColonDevice, "wimz_robot_01", "1690000000"},
		{"device only fallback", LayoutDeviceOnly, "wimz_robot_01", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig, ok := v.Sign(tc.layout, tc.deviceID, tc.timestamp)
			if !ok {
				t.Fatalf("could not build signature for layout %v", tc.layout)
			}

			if err := v.Verify(tc.deviceID, tc.timestamp, sig); err != nil {
				t.Fatalf("expected signature to verify, got %v", err)
			}

			// case-insensitive hex is accepted too
			if err := v.Verify(tc.deviceID, tc.timestamp, upper(sig)); err != nil {
				t.Fatalf("expected uppercase-hex signature to verify, got %v", err)
			}
		})
	}
}

func upper(s string) string {
	out := []byte(s)
	for i, b := range out {
		if b >= 'a' && b <= 'z' {
			out[i] = b - 'a' + 'A'
		}
	}
	return string(out)
}

func TestVerifierRejectsBadSignature(t *testing.T) {
	v := NewVerifier("shared-secret")
	if err := v.Verify("wimz_robot_01", "1690000000", "deadbeef"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerifierNonLegacyOnlyAcceptsCanonical(t *testing.T) {
	v := NewVerifier("shared-secret")
	v.Legacy = false

	sig, _ := v.Sign(LayoutDeviceOnly, "wimz_robot_01", "")
	if err := v.Verify("wimz_robot_01", "", sig); err != ErrUnauthorized {
		t.Fatalf("expected legacy layout to be rejected when Legacy=false, got %v", err)
	}

	canon, _ := v.Sign(CanonicalLayout, "wimz_robot_01", "1690000000")
	if err := v.Verify("wimz_robot_01", "1690000000", canon); err != nil {
		t.Fatalf("expected canonical layout to verify, got %v", err)
	}
}
