package mxlink

import "testing"

func TestStatusIsAssociated(t *testing.T) {
	for _, tc := range []struct {
		status Status
		want   bool
	}{
		{StatusNone, false},
		{StatusStationDown, false},
		{StatusStationUp, true},
		{StatusStationGotIP, true},
		{StatusAPDown, true},
		{StatusAPUp, true},
	} {
		if got := tc.status.IsAssociated(); got != tc.want {
			t.Errorf("%s: IsAssociated() = %v, expected %v", tc.status.String(), got, tc.want)
		}
	}
}

func TestStatusString(t *testing.T) {
	if s := StatusStationGotIP.String(); s != "Station Got IP" {
		t.Errorf("got %q", s)
	}
	if s := Status(200).String(); s != "Unknown" {
		t.Errorf("got %q for out-of-range status", s)
	}
}
