package httpapi

import (
	"net/http"
	"testing"

	"github.com/sentineldf/sentineldf/internal/model"

	apierrors "github.com/sentineldf/sentineldf/internal/errors"
)

func TestPaginateNoPageSizeReturnsAll(t *testing.T) {
	results := make([]model.ScanResult, 5)
	got := paginate(results, 0, 0)
	if len(got) != 5 {
		t.Errorf("len(got) = %d, want 5", len(got))
	}
}

func TestPaginateFirstPage(t *testing.T) {
	results := []model.ScanResult{{DocID: "a"}, {DocID: "b"}, {DocID: "c"}}
	got := paginate(results, 1, 2)
	if len(got) != 2 || got[0].DocID != "a" || got[1].DocID != "b" {
		t.Errorf("got = %+v, want [a b]", got)
	}
}

func TestPaginateSecondPage(t *testing.T) {
	results := []model.ScanResult{{DocID: "a"}, {DocID: "b"}, {DocID: "c"}}
	got := paginate(results, 2, 2)
	if len(got) != 1 || got[0].DocID != "c" {
		t.Errorf("got = %+v, want [c]", got)
	}
}

func TestPaginatePastEndReturnsEmpty(t *testing.T) {
	results := []model.ScanResult{{DocID: "a"}}
	got := paginate(results, 5, 2)
	if len(got) != 0 {
		t.Errorf("len(got) = %d, want 0 past the end of results", len(got))
	}
}

func TestStatusForKindMapping(t *testing.T) {
	cases := []struct {
		kind apierrors.Kind
		want int
	}{
		{apierrors.KindInvalidInput, http.StatusBadRequest},
		{apierrors.KindPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{apierrors.KindUnauthenticated, http.StatusUnauthorized},
		{apierrors.KindForbidden, http.StatusForbidden},
		{apierrors.KindQuotaExceeded, http.StatusTooManyRequests},
		{apierrors.KindRateLimited, http.StatusTooManyRequests},
		{apierrors.KindBusy, http.StatusServiceUnavailable},
		{apierrors.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForKind(tc.kind); got != tc.want {
			t.Errorf("statusForKind(%v) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}
