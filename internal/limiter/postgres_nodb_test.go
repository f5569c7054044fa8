package limiter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakePool struct {
	rowErr       error
	blockedUntil time.Time
	failCount    int

	lastExecSQL string
	execErr     error
}

func (f *fakePool) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.lastExecSQL = sql
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakePool) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	return fakeRow{scan: func(dest ...any) error {
		if f.rowErr != nil {
			return f.rowErr
		}
		switch {
		case strings.Contains(sql, "SELECT blocked_until"):
			*(dest[0].(*time.Time)) = f.blockedUntil
		case strings.Contains(sql, "RETURNING fail_count"):
			*(dest[0].(*int)) = f.failCount
		default:
			return errors.New("unexpected query")
		}
		return nil
	}}
}

func TestPGAllow_NoRowAllows(t *testing.T) {
	l := NewPGWithQuerier(&fakePool{rowErr: pgx.ErrNoRows}, 15*time.Minute, 5, 15*time.Minute)

	ok, dur, err := l.Allow(context.Background(), "u", []byte("h"))
	if err != nil || !ok || dur != 0 {
		t.Fatalf("ok=%v dur=%v err=%v", ok, dur, err)
	}
}

func TestPGAllow_BlockedUntilFuture(t *testing.T) {
	fp := &fakePool{blockedUntil: time.Now().Add(10 * time.Minute)}
	l := NewPGWithQuerier(fp, 15*time.Minute, 5, 15*time.Minute)

	ok, dur, err := l.Allow(context.Background(), "u", []byte("h"))
	if err != nil || ok || dur <= 0 {
		t.Fatalf("ok=%v dur=%v err=%v", ok, dur, err)
	}
}

func TestPGAllow_PastBlockAllows(t *testing.T) {
	fp := &fakePool{blockedUntil: time.Now().Add(-time.Minute)}
	l := NewPGWithQuerier(fp, 15*time.Minute, 5, 15*time.Minute)

	ok, dur, err := l.Allow(context.Background(), "u", []byte("h"))
	if err != nil || !ok || dur != 0 {
		t.Fatalf("ok=%v dur=%v err=%v", ok, dur, err)
	}
}

func TestPGAllow_ErrorPropagates(t *testing.T) {
	l := NewPGWithQuerier(&fakePool{rowErr: errors.New("db down")}, 15*time.Minute, 5, 15*time.Minute)

	if ok, _, err := l.Allow(context.Background(), "u", []byte("h")); err == nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestPGSuccess(t *testing.T) {
	fp := &fakePool{}
	l := NewPGWithQuerier(fp, 15*time.Minute, 5, 15*time.Minute)

	if err := l.Success(context.Background(), "u", []byte("h")); err != nil {
		t.Fatalf("success: %v", err)
	}
	if !strings.Contains(fp.lastExecSQL, "INSERT INTO login_limiter") {
		t.Fatalf("unexpected exec: %s", fp.lastExecSQL)
	}

	fp.execErr = errors.New("exec fail")
	if err := l.Success(context.Background(), "u", []byte("h")); err == nil {
		t.Fatal("exec error swallowed")
	}
}

func TestPGFailure_IncrementsWithoutBlock(t *testing.T) {
	fp := &fakePool{failCount: 2}
	l := NewPGWithQuerier(fp, 5*time.Minute, 5, 15*time.Minute)

	blocked, dur, err := l.Failure(context.Background(), "u", []byte("h"))
	if err != nil || blocked || dur != 0 {
		t.Fatalf("blocked=%v dur=%v err=%v", blocked, dur, err)
	}
}

func TestPGFailure_BlocksAtThreshold(t *testing.T) {
	fp := &fakePool{failCount: 5}
	l := NewPGWithQuerier(fp, 5*time.Minute, 5, 10*time.Minute)

	blocked, dur, err := l.Failure(context.Background(), "u", []byte("h"))
	if err != nil || !blocked || dur != 10*time.Minute {
		t.Fatalf("blocked=%v dur=%v err=%v", blocked, dur, err)
	}
	if !strings.Contains(fp.lastExecSQL, "UPDATE login_limiter SET blocked_until") {
		t.Fatalf("block not persisted, exec=%s", fp.lastExecSQL)
	}
}

func TestPGFailure_ErrorPropagates(t *testing.T) {
	l := NewPGWithQuerier(&fakePool{rowErr: errors.New("query error")}, 5*time.Minute, 5, 10*time.Minute)

	if _, _, err := l.Failure(context.Background(), "u", []byte("h")); err == nil {
		t.Fatal("query error swallowed")
	}
}
