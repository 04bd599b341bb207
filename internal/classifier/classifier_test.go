package classifier

import (
	"context"
	"errors"
	"testing"

	"cohortd/internal/model"
	"cohortd/internal/rules"
	"cohortd/internal/store"
)

func newClassifierForTest(st store.Store) *Classifier {
	return New(rules.NewSet(nil, rules.DefaultRules()...), st, nil)
}

func TestClassifyPersistsMemberships(t *testing.T) {
	st := store.NewMemory(1)
	cl := newClassifierForTest(st)
	c := model.NewCustomer("c1", 4000, model.UserPaid)

	got := cl.Classify(context.Background(), &c)
	if len(got) != 2 {
		t.Fatalf("expected NORMAL and PREMIUM, got %v", got)
	}
	for _, cohort := range []model.CohortType{model.CohortNormal, model.CohortPremium} {
		in, err := st.IsCustomerInCohort(context.Background(), "c1", cohort)
		if err != nil {
			t.Fatalf("membership query: %v", err)
		}
		if !in {
			t.Fatalf("expected c1 in %s", cohort)
		}
	}
}

func TestClassifyIdempotent(t *testing.T) {
	st := store.NewMemory(1)
	cl := newClassifierForTest(st)
	c := model.NewCustomer("c1", 6000, model.UserPaid)

	first := cl.Classify(context.Background(), &c)
	second := cl.Classify(context.Background(), &c)
	if len(first) != len(second) {
		t.Fatalf("repeat classification differs: %v vs %v", first, second)
	}
	in, err := st.IsCustomerInCohort(context.Background(), "c1", model.CohortPremium)
	if err != nil || !in {
		t.Fatalf("membership after redelivery: in=%v err=%v", in, err)
	}
	ids, err := st.CustomerIDsByCohort(context.Background(), model.CohortPremium)
	if err != nil {
		t.Fatalf("ids query: %v", err)
	}
	if len(ids) != 1 || ids[0] != "c1" {
		t.Fatalf("expected single membership entry, got %v", ids)
	}
}

func TestClassifyNilCustomer(t *testing.T) {
	cl := newClassifierForTest(store.NewMemory(1))
	if got := cl.Classify(context.Background(), nil); len(got) != 0 {
		t.Fatalf("nil customer: got %v", got)
	}
}

// failingStore rejects writes for one cohort type to exercise per-type
// write isolation.
type failingStore struct {
	store.Store
	failFor model.CohortType
}

func (f *failingStore) AddCustomerToCohort(ctx context.Context, cohort model.CohortType, customerID string) (bool, error) {
	if cohort == f.failFor {
		return false, errors.New("write refused")
	}
	return f.Store.AddCustomerToCohort(ctx, cohort, customerID)
}

func TestFailedWriteDoesNotBlockOthers(t *testing.T) {
	inner := store.NewMemory(1)
	st := &failingStore{Store: inner, failFor: model.CohortPremium}
	cl := New(rules.NewSet(nil, rules.DefaultRules()...), st, nil)
	c := model.NewCustomer("c1", 4000, model.UserPaid)

	got := cl.Classify(context.Background(), &c)
	if len(got) != 2 {
		t.Fatalf("matched set must be returned despite write failure, got %v", got)
	}
	in, err := inner.IsCustomerInCohort(context.Background(), "c1", model.CohortNormal)
	if err != nil || !in {
		t.Fatalf("NORMAL write should have succeeded: in=%v err=%v", in, err)
	}
	in, _ = inner.IsCustomerInCohort(context.Background(), "c1", model.CohortPremium)
	if in {
		t.Fatalf("PREMIUM write was expected to fail")
	}
}
