package db

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCreateSchedule(t *testing.T) {
	conn := &fakeConn{}
	d := &DB{conn: conn}
	id, err := d.CreateSchedule(context.Background(), []byte(`{"bot_id":"bot1","cron":"0 9 * * *","goal":"morning digest","enabled":true}`))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.HasPrefix(id, "sched_") {
		t.Fatalf("id: %s", id)
	}
	if !strings.Contains(conn.lastExecQuery, "INSERT INTO bot_schedules") {
		t.Fatalf("query: %s", conn.lastExecQuery)
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	d := &DB{conn: &fakeConn{}}
	cases := []string{
		`not json`,
		`{"cron":"* * * * *"}`,
		`{"bot_id":"bot1"}`,
		`{"bot_id":"  ","cron":"* * * * *"}`,
	}
	for _, payload := range cases {
		if _, err := d.CreateSchedule(context.Background(), []byte(payload)); err == nil {
			t.Fatalf("expected error for %s", payload)
		}
	}
}

func TestDeleteScheduleRequiresID(t *testing.T) {
	d := &DB{conn: &fakeConn{}}
	if err := d.DeleteSchedule(context.Background(), ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestUpdateScheduleLastRun(t *testing.T) {
	conn := &fakeConn{}
	d := &DB{conn: conn}
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if err := d.UpdateScheduleLastRun(context.Background(), "sched_1", at); err != nil {
		t.Fatalf("err: %v", err)
	}
	if conn.lastExecArgs[0] != at {
		t.Fatalf("args: %v", conn.lastExecArgs)
	}
}

func TestListSchedulesOK(t *testing.T) {
	d := &DB{conn: &fakeConn{row: fakeRow{values: []any{[]byte(`[]`)}}}}
	out, err := d.ListSchedules(context.Background(), 10)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if string(out) != "[]" {
		t.Fatalf("out: %s", out)
	}
}
