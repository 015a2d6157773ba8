package service

import (
	"errors"
	"testing"

	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/repository"
)

func TestClampParseLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 50},
		{-3, 50},
		{1, 10},
		{10, 10},
		{120, 120},
		{500, 500},
		{501, 500},
		{10000, 500},
	}
	for _, tt := range tests {
		if got := ClampParseLimit(tt.in); got != tt.want {
			t.Errorf("ClampParseLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseService_Validation(t *testing.T) {
	f := newWorkerFixture(t)

	var vErr *ValidationError
	if _, err := f.parse.ParseSearch(f.ctx, ParseRequest{OwnerUserID: testOwner, Query: "   "}); !errors.As(err, &vErr) {
		t.Errorf("blank query error = %v, want ValidationError", err)
	}
	if _, err := f.parse.ParseAccount(f.ctx, ParseRequest{OwnerUserID: testOwner, Query: "@"}); !errors.As(err, &vErr) {
		t.Errorf("bare @ error = %v, want ValidationError", err)
	}
}

func TestParseService_Enqueue(t *testing.T) {
	f := newWorkerFixture(t)

	res, err := f.parse.ParseAccount(f.ctx, ParseRequest{OwnerUserID: testOwner, Query: " @jack ", Limit: 5})
	if err != nil {
		t.Fatalf("ParseAccount: %v", err)
	}
	if res.Status != domain.TaskStatusQueued || res.AccountID != "acc-a" {
		t.Errorf("result = %+v", res)
	}
	task := f.task(res.TaskID)
	if task.Query != "jack" || task.Type != domain.TaskTypeAccount || task.Limit != 10 {
		t.Errorf("task = %s %s limit %d", task.Type, task.Query, task.Limit)
	}

	if _, err := f.parse.ParseSearch(f.ctx, ParseRequest{OwnerUserID: "stranger", Query: "golang"}); err == nil {
		t.Error("owner without accounts should not be able to queue")
	} else if reason := selectionReason(t, err); reason != ReasonNoEligibleSession {
		t.Errorf("reason = %s", reason)
	}
}

func TestParseService_TaskAccess(t *testing.T) {
	f := newWorkerFixture(t)
	for _, q := range []string{"one", "two", "three"} {
		if _, err := f.parse.ParseSearch(f.ctx, ParseRequest{OwnerUserID: testOwner, Query: q}); err != nil {
			t.Fatalf("ParseSearch: %v", err)
		}
	}
	other := f.addTask(domain.Task{OwnerUserID: "owner-2"})

	page, err := f.parse.ListTasks(f.ctx, repository.TaskFilter{OwnerUserID: testOwner, Limit: 1000})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if page.Total != 3 || len(page.Tasks) != 3 || page.Limit != 100 {
		t.Errorf("page total=%d len=%d limit=%d", page.Total, len(page.Tasks), page.Limit)
	}

	detail, err := f.parse.GetTask(f.ctx, testOwner, page.Tasks[0].ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if detail.EngineSummary.Aborted {
		t.Error("queued task reported as aborted")
	}
	if _, err := f.parse.GetTask(f.ctx, testOwner, other.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("foreign task error = %v, want ErrNotFound", err)
	}
}

func TestParseService_TaskResultURL(t *testing.T) {
	f := newWorkerFixture(t)
	task := f.addTask(domain.Task{})

	detail, err := f.parse.GetTask(f.ctx, testOwner, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if detail.ResultURL != "" {
		t.Errorf("queued task has result url %q", detail.ResultURL)
	}

	f.processNext()
	detail, err = f.parse.GetTask(f.ctx, testOwner, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if want := "memory://results/" + testOwner + "/" + task.ID + ".json"; detail.ResultURL != want {
		t.Errorf("result url = %q, want %q", detail.ResultURL, want)
	}
	if detail.EngineSummary.Fetched != 1 {
		t.Errorf("fetched = %d, want 1", detail.EngineSummary.Fetched)
	}
}
