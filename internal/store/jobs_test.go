package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func insertPendingJob(t *testing.T, s *Store, id string) {
	t.Helper()
	now := time.Now()
	err := s.InsertJob(context.Background(), Job{
		ID: id, Type: JobOneShot, Status: JobPending, Prompt: "p",
		ScheduledAt: now.Add(-time.Minute), CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
}

// Exactly one of N concurrent claimers may observe a successful claim.
func TestClaimJob_ExactlyOnce(t *testing.T) {
	s := openTestStore(t)
	insertPendingJob(t, s, "job_1")

	const claimers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimJob(context.Background(), "job_1", time.Now())
			if err != nil {
				t.Errorf("ClaimJob: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Errorf("%d claimers won, want exactly 1", won)
	}
}

func TestClaimJob_CancelledNeverClaimed(t *testing.T) {
	s := openTestStore(t)
	insertPendingJob(t, s, "job_1")
	if err := s.CancelJob(context.Background(), "job_1", time.Now()); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	ok, err := s.ClaimJob(context.Background(), "job_1", time.Now())
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if ok {
		t.Error("claimed a cancelled job")
	}
}

func TestDueJobs_OrderAndCutoff(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	for _, j := range []struct {
		id string
		at time.Time
	}{
		{"job_later", now.Add(-time.Minute)},
		{"job_earlier", now.Add(-time.Hour)},
		{"job_future", now.Add(time.Hour)},
	} {
		err := s.InsertJob(context.Background(), Job{
			ID: j.id, Type: JobOneShot, Status: JobPending, Prompt: "p",
			ScheduledAt: j.at, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("InsertJob: %v", err)
		}
	}

	due, err := s.DueJobs(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("DueJobs: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due jobs, want 2", len(due))
	}
	if due[0].ID != "job_earlier" || due[1].ID != "job_later" {
		t.Errorf("order = [%s %s], want [job_earlier job_later]", due[0].ID, due[1].ID)
	}
}
