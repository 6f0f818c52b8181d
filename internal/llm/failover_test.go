package llm

import (
	"testing"
	"time"
)

func TestFailoverTripAndRecover(t *testing.T) {
	f := NewFailover(FailoverConfig{
		EmergencyEndpointURL: "https://emergency.example/v1",
		EmergencyModel:       "emergency-model",
		RecoveryTimeout:      20 * time.Millisecond,
	})

	if f.IsTripped() {
		t.Fatal("fresh Failover should not be tripped")
	}

	f.Trip()
	if !f.IsTripped() {
		t.Fatal("Trip() should set the flag")
	}

	url, model, thinkingOff := f.Route()
	if url != "https://emergency.example/v1" || model != "emergency-model" || !thinkingOff {
		t.Fatalf("got (%q, %q, %v), want emergency routing with thinking forced off", url, model, thinkingOff)
	}

	time.Sleep(60 * time.Millisecond)
	if f.IsTripped() {
		t.Fatal("flag should have cleared after RecoveryTimeout")
	}
}

func TestTripIfWarrantedOnlyTripsQualifyingReasons(t *testing.T) {
	f := NewFailover(FailoverConfig{RecoveryTimeout: time.Minute})
	f.TripIfWarranted(FailoverRateLimit)
	if f.IsTripped() {
		t.Fatal("rate limit should not trip process-wide failover")
	}
	f.TripIfWarranted(FailoverServerError)
	if !f.IsTripped() {
		t.Fatal("server error should trip process-wide failover")
	}
}

func TestReasonClassificationTripsFailover(t *testing.T) {
	cases := map[FailoverReason]bool{
		FailoverServerError:      true,
		FailoverTimeout:          true,
		FailoverModelUnavailable: true,
		FailoverUnknown:          true,
		FailoverRateLimit:        false,
		FailoverAuth:             false,
		FailoverBilling:          false,
		FailoverContextOverflow:  false,
	}
	for reason, want := range cases {
		if got := reason.TripsFailover(); got != want {
			t.Errorf("%s.TripsFailover() = %v, want %v", reason, got, want)
		}
	}
}
