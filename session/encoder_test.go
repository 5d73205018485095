package session

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeEpochMillis(t *testing.T) {
	instant := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if got := NormalizeEpochMillis(instant.Unix()); got != instant.UnixMilli() {
		t.Fatalf("seconds not normalized: got %d want %d", got, instant.UnixMilli())
	}
	if got := NormalizeEpochMillis(instant.UnixMilli()); got != instant.UnixMilli() {
		t.Fatalf("millis changed: got %d", got)
	}

	cases := map[int64]int64{
		0:              0,
		-5:             -5,
		1:              1000,
		9_999_999_999:  9_999_999_999_000,
		10_000_000_000: 10_000_000_000,
	}
	for in, want := range cases {
		if got := NormalizeEpochMillis(in); got != want {
			t.Fatalf("NormalizeEpochMillis(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestEncodeDecodeKeepsFieldNames(t *testing.T) {
	rec := &Record{
		Token:      "t",
		UserID:     3,
		DeviceID:   "ios-1",
		DeviceInfo: "iPhone",
		IPAddress:  "10.0.0.1",
		IssuedAt:   1_700_000_000_000,
		ExpiresAt:  1_700_000_600_000,
		LastUsedAt: 1_700_000_000_000,
		Revoked:    true,
	}
	data, err := Encode(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"token":"t","userId":3,"deviceId":"ios-1","deviceInfo":"iPhone","ipAddress":"10.0.0.1","issuedAt":1700000000000,"expiresAt":1700000600000,"lastUsedAt":1700000000000}`
	if string(data) != want {
		t.Fatalf("unexpected payload:\n got %s\nwant %s", data, want)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Revoked {
		t.Fatal("revoked flag must not travel through the fast store")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "{", `{"userId":1}`, "[]"} {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrRecordCorrupt) {
			t.Fatalf("Decode(%q): expected ErrRecordCorrupt, got %v", in, err)
		}
	}
	if _, err := Encode(&Record{}); !errors.Is(err, ErrRecordCorrupt) {
		t.Fatalf("expected tokenless record to be rejected, got %v", err)
	}
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte(`{"token":"a","userId":1,"expiresAt":1700000000}`))
	f.Add([]byte(`{}`))
	f.Add([]byte{0xff, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		rec, err := Decode(data)
		if err != nil {
			return
		}
		if rec.DeviceID == "" {
			t.Fatal("decoded record must carry a device id")
		}
		if _, err := Encode(rec); err != nil {
			t.Fatalf("re-encode: %v", err)
		}
	})
}
