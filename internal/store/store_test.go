package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tonwerk/abschrift/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertJob(t *testing.T, s *Store, user, name string, createdAt time.Time) *Job {
	t.Helper()
	job := &Job{
		UserID:     user,
		FileName:   name,
		SourcePath: "/data/" + user + "/in/" + name,
		CreatedAt:  createdAt,
	}
	if err := s.Insert(context.Background(), job); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return job
}

func TestInsertDefaults(t *testing.T) {
	s := openStore(t)
	job := insertJob(t, s, "alice", "a.mp3", time.Time{})
	if job.ID == 0 {
		t.Fatal("expected an ID")
	}
	if job.Status != types.StatusQueued {
		t.Fatalf("status = %s, want queued", job.Status)
	}
	if job.Language != types.DefaultLanguage {
		t.Fatalf("language = %s, want default", job.Language)
	}
}

func TestClaimOldestFirstAcrossUsers(t *testing.T) {
	s := openStore(t)
	base := time.Unix(1700000000, 0)
	insertJob(t, s, "bob", "second.mp3", base.Add(10*time.Second))
	oldest := insertJob(t, s, "alice", "first.mp3", base)
	insertJob(t, s, "alice", "third.mp3", base.Add(20*time.Second))

	claimed, err := s.Claim(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed == nil || claimed.ID != oldest.ID {
		t.Fatalf("claimed %+v, want job %d", claimed, oldest.ID)
	}
	if claimed.Status != types.StatusProcessing {
		t.Fatalf("claimed status = %s", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Fatal("claimed job has no start time")
	}

	next, err := s.Claim(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("second Claim failed: %v", err)
	}
	if next.FileName != "second.mp3" {
		t.Fatalf("second claim = %s", next.FileName)
	}
}

func TestClaimEmptyQueue(t *testing.T) {
	s := openStore(t)
	job, err := s.Claim(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if job != nil {
		t.Fatalf("claimed from empty queue: %+v", job)
	}
}

func TestClaimNeverReturnsSameJobTwice(t *testing.T) {
	s := openStore(t)
	insertJob(t, s, "alice", "only.mp3", time.Unix(100, 0))
	first, err := s.Claim(context.Background(), time.Now())
	if err != nil || first == nil {
		t.Fatalf("first Claim: %v %v", first, err)
	}
	second, err := s.Claim(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("second Claim failed: %v", err)
	}
	if second != nil {
		t.Fatalf("job claimed twice: %+v", second)
	}
}

func TestMarkDoneAndFailed(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a := insertJob(t, s, "alice", "a.mp3", time.Unix(1, 0))
	b := insertJob(t, s, "alice", "b.mp3", time.Unix(2, 0))

	if err := s.MarkDone(ctx, a.ID); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	if err := s.MarkFailed(ctx, b.ID, "broken codec"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	jobs, err := s.ListUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListUser failed: %v", err)
	}
	if jobs[0].Status != types.StatusDone {
		t.Fatalf("first status = %s", jobs[0].Status)
	}
	if jobs[1].Status != types.StatusFailed || jobs[1].ErrorMessage != "broken codec" {
		t.Fatalf("second = %s / %q", jobs[1].Status, jobs[1].ErrorMessage)
	}
}

func TestListUnfinishedSkipsTerminalStates(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	done := insertJob(t, s, "alice", "done.mp3", time.Unix(1, 0))
	insertJob(t, s, "bob", "queued.mp3", time.Unix(2, 0))
	if err := s.MarkDone(ctx, done.ID); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}

	unfinished, err := s.ListUnfinished(ctx)
	if err != nil {
		t.Fatalf("ListUnfinished failed: %v", err)
	}
	if len(unfinished) != 1 || unfinished[0].FileName != "queued.mp3" {
		t.Fatalf("unexpected unfinished set: %+v", unfinished)
	}
}

func TestFindActive(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	insertJob(t, s, "alice", "a.mp3", time.Unix(1, 0))

	found, err := s.FindActive(ctx, "alice", "a.mp3")
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if found == nil {
		t.Fatal("expected to find the queued job")
	}

	missing, err := s.FindActive(ctx, "alice", "other.mp3")
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("found a job that does not exist: %+v", missing)
	}
}

func TestResetStuckProcessing(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	insertJob(t, s, "alice", "a.mp3", time.Unix(1, 0))
	if _, err := s.Claim(ctx, time.Now()); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	requeued, err := s.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetStuckProcessing failed: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("requeued %d, want 1", requeued)
	}

	job, err := s.Claim(ctx, time.Now())
	if err != nil {
		t.Fatalf("re-claim failed: %v", err)
	}
	if job == nil || job.FileName != "a.mp3" {
		t.Fatalf("expected the reset job back, got %+v", job)
	}
}

func TestSetEstimate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	job := insertJob(t, s, "alice", "a.mp3", time.Unix(1, 0))
	if err := s.SetEstimate(ctx, job.ID, 42.5, 255); err != nil {
		t.Fatalf("SetEstimate failed: %v", err)
	}
	jobs, err := s.ListUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListUser failed: %v", err)
	}
	if jobs[0].EstimatedSeconds != 42.5 || jobs[0].MediaSeconds != 255 {
		t.Fatalf("estimate not stored: %+v", jobs[0])
	}
}

func TestRemove(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	job := insertJob(t, s, "alice", "a.mp3", time.Unix(1, 0))
	if err := s.Remove(ctx, job.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	jobs, err := s.ListUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListUser failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("job still listed: %+v", jobs)
	}
}
