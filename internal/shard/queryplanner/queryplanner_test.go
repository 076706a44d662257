package queryplanner

import "testing"

func TestClampRequestedMax(t *testing.T) {
	cases := map[int]int{
		0:    100,
		-5:   100,
		50:   50,
		100:  100,
		1000: 100,
	}
	for in, want := range cases {
		if got := ClampRequestedMax(in); got != want {
			t.Errorf("ClampRequestedMax(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestPlanQueryRejectsOnlyStopWords(t *testing.T) {
	p := PlanQuery("the a an", 100)
	if p.Accepted {
		t.Fatalf("expected rejection, got accepted plan %+v", p)
	}
	if p.Reason != "only stop words" {
		t.Fatalf("reason = %q, want %q", p.Reason, "only stop words")
	}
}

func TestPlanQueryRejectsTooCommon(t *testing.T) {
	p := PlanQuery("search search search search document", 100)
	if p.Accepted {
		t.Fatalf("expected rejection, got accepted plan %+v", p)
	}
	if p.Reason != "too common" {
		t.Fatalf("reason = %q, want %q", p.Reason, "too common")
	}
}

func TestPlanQueryLowCostNoCommonTokens(t *testing.T) {
	p := PlanQuery("javascript", 100)
	if !p.Accepted {
		t.Fatalf("expected acceptance, got %+v", p)
	}
	if p.CostBucket != CostLow {
		t.Fatalf("costBucket = %s, want low", p.CostBucket)
	}
	if p.RowCap != 100 {
		t.Fatalf("rowCap = %d, want 100 (no additional cap)", p.RowCap)
	}
}

func TestPlanQueryMediumCostCapsAt200(t *testing.T) {
	p := PlanQuery("javascript python document", 1000)
	if !p.Accepted {
		t.Fatalf("expected acceptance, got %+v", p)
	}
	if p.CostBucket != CostMedium {
		t.Fatalf("costBucket = %s, want medium", p.CostBucket)
	}
	if p.RowCap != 200 {
		t.Fatalf("rowCap = %d, want 200", p.RowCap)
	}
}

func TestPlanQueryHighCostCapsAt50(t *testing.T) {
	p := PlanQuery("javascript document search index", 1000)
	if !p.Accepted {
		t.Fatalf("expected acceptance, got %+v", p)
	}
	if p.CostBucket != CostHigh {
		t.Fatalf("costBucket = %s, want high", p.CostBucket)
	}
	if p.RowCap != 50 {
		t.Fatalf("rowCap = %d, want 50", p.RowCap)
	}
}

func TestPlanQueryRowCapRespectsSmallerRequestedMax(t *testing.T) {
	p := PlanQuery("javascript document search index", 10)
	if p.RowCap != 10 {
		t.Fatalf("rowCap = %d, want 10", p.RowCap)
	}
}
