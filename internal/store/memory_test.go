package store

import (
	"context"
	"testing"

	"cohortd/internal/model"
)

func TestAddCustomerToCohortIdempotent(t *testing.T) {
	st := NewMemory(1)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := st.AddCustomerToCohort(ctx, model.CohortPremium, "c1")
		if err != nil || !ok {
			t.Fatalf("add %d: ok=%v err=%v", i, ok, err)
		}
	}
	ids, err := st.CustomerIDsByCohort(ctx, model.CohortPremium)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(ids) != 1 || ids[0] != "c1" {
		t.Fatalf("expected one entry, got %v", ids)
	}
}

func TestBlankInputDegradesToEmpty(t *testing.T) {
	st := NewMemory(1)
	ctx := context.Background()
	if ok, err := st.AddCustomerToCohort(ctx, model.CohortNormal, ""); ok || err != nil {
		t.Fatalf("blank customer id: ok=%v err=%v", ok, err)
	}
	if ok, err := st.AddCustomerToCohort(ctx, "", "c1"); ok || err != nil {
		t.Fatalf("blank cohort: ok=%v err=%v", ok, err)
	}
	if in, err := st.IsCustomerInCohort(ctx, "", model.CohortNormal); in || err != nil {
		t.Fatalf("blank check: in=%v err=%v", in, err)
	}
	if ids, err := st.CustomerIDsByCohort(ctx, ""); len(ids) != 0 || err != nil {
		t.Fatalf("blank cohort list: %v %v", ids, err)
	}
	if cohorts, err := st.CohortsByCustomer(ctx, ""); len(cohorts) != 0 || err != nil {
		t.Fatalf("blank customer list: %v %v", cohorts, err)
	}
}

func TestQueryShapes(t *testing.T) {
	st := NewMemory(1)
	ctx := context.Background()
	if _, err := st.AddCustomerToCohort(ctx, model.CohortNormal, "c1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := st.AddCustomerToCohort(ctx, model.CohortPremium, "c1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := st.AddCustomerToCohort(ctx, model.CohortNormal, "c2"); err != nil {
		t.Fatalf("add: %v", err)
	}

	in, err := st.IsCustomerInCohort(ctx, "c1", model.CohortNormal)
	if err != nil || !in {
		t.Fatalf("c1 in NORMAL: in=%v err=%v", in, err)
	}
	in, _ = st.IsCustomerInCohort(ctx, "c2", model.CohortPremium)
	if in {
		t.Fatalf("c2 must not be in PREMIUM")
	}

	cohorts, err := st.CohortsByCustomer(ctx, "c1")
	if err != nil {
		t.Fatalf("cohorts: %v", err)
	}
	if len(cohorts) != 2 || cohorts[0] != model.CohortNormal || cohorts[1] != model.CohortPremium {
		t.Fatalf("c1 cohorts: %v", cohorts)
	}

	ids, err := st.CustomerIDsByCohort(ctx, model.CohortNormal)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != "c1" || ids[1] != "c2" {
		t.Fatalf("NORMAL ids: %v", ids)
	}
}

func TestChangeFeedNotReadyBeforeInit(t *testing.T) {
	st := NewMemory(1)
	if _, err := st.ListShards(context.Background()); err == nil {
		t.Fatalf("expected not-ready error before Init")
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := st.ListShards(context.Background()); err != nil {
		t.Fatalf("list shards after init: %v", err)
	}
}

func TestSaveCustomerEmitsChangeRecords(t *testing.T) {
	st := NewMemory(1)
	ctx := context.Background()
	if err := st.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := st.SaveCustomer(ctx, model.NewCustomer("c1", 100, model.UserFree)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.SaveCustomer(ctx, model.NewCustomer("c1", 200, model.UserFree)); err != nil {
		t.Fatalf("save: %v", err)
	}

	shards, err := st.ListShards(ctx)
	if err != nil || len(shards) != 1 {
		t.Fatalf("shards: %v err=%v", shards, err)
	}
	cursor, err := st.GetCursor(ctx, shards[0], model.TrimHorizon)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	records, next, err := st.Pull(ctx, cursor, 100)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Kind != model.ChangeCreated || records[1].Kind != model.ChangeUpdated {
		t.Fatalf("kinds: %s, %s", records[0].Kind, records[1].Kind)
	}
	if records[1].PostImage == nil || *records[1].PostImage.DailySpend != 200 {
		t.Fatalf("post image should carry the latest snapshot")
	}
	if next.Seq != records[1].Seq {
		t.Fatalf("next cursor %d, want %d", next.Seq, records[1].Seq)
	}

	// An empty pull still returns a usable next cursor.
	records, next2, err := st.Pull(ctx, next, 100)
	if err != nil || len(records) != 0 {
		t.Fatalf("empty pull: %v err=%v", records, err)
	}
	if next2 != next {
		t.Fatalf("empty pull must not move the cursor: %+v vs %+v", next2, next)
	}
}

func TestPullRespectsLimit(t *testing.T) {
	st := NewMemory(1)
	ctx := context.Background()
	if err := st.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := st.SaveCustomer(ctx, model.NewCustomer(id, 1, model.UserFree)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	shards, _ := st.ListShards(ctx)
	total := 0
	for _, shardID := range shards {
		cursor, _ := st.GetCursor(ctx, shardID, model.TrimHorizon)
		for {
			records, next, err := st.Pull(ctx, cursor, 2)
			if err != nil {
				t.Fatalf("pull: %v", err)
			}
			if len(records) > 2 {
				t.Fatalf("limit exceeded: %d", len(records))
			}
			total += len(records)
			if len(records) == 0 {
				break
			}
			cursor = next
		}
	}
	if total != 3 {
		t.Fatalf("expected 3 records across shards, got %d", total)
	}
}

func TestGetCursorLatestSkipsHistory(t *testing.T) {
	st := NewMemory(1)
	ctx := context.Background()
	if err := st.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := st.SaveCustomer(ctx, model.NewCustomer("c1", 1, model.UserFree)); err != nil {
		t.Fatalf("save: %v", err)
	}
	shards, _ := st.ListShards(ctx)
	cursor, err := st.GetCursor(ctx, shards[0], model.Latest)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	records, _, err := st.Pull(ctx, cursor, 100)
	if err != nil || len(records) != 0 {
		t.Fatalf("latest cursor should see no history: %v err=%v", records, err)
	}
}
