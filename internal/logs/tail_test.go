package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"packetwatch/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "packetwatch.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestTailLastLines(t *testing.T) {
	path := writeLog(t, "one\ntwo\nthree\nfour\n")

	result, err := logs.Tail(context.Background(), path, logs.Options{Offset: -1, Lines: 2})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "three" || result.Lines[1] != "four" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.NextOffset == 0 {
		t.Fatal("expected next offset at end of file")
	}
}

func TestTailResumesFromOffset(t *testing.T) {
	path := writeLog(t, "first\n")
	ctx := context.Background()

	initial, err := logs.Tail(ctx, path, logs.Options{Offset: -1, Lines: 10})
	if err != nil {
		t.Fatalf("initial Tail: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString("second\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = f.Close()

	next, err := logs.Tail(ctx, path, logs.Options{Offset: initial.NextOffset})
	if err != nil {
		t.Fatalf("resumed Tail: %v", err)
	}
	if len(next.Lines) != 1 || next.Lines[0] != "second" {
		t.Fatalf("expected only the appended line, got %#v", next.Lines)
	}
}

func TestTailMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.log")

	result, err := logs.Tail(context.Background(), path, logs.Options{Offset: -1, Lines: 5})
	if err != nil {
		t.Fatalf("Tail on missing file: %v", err)
	}
	if len(result.Lines) != 0 || result.NextOffset != 0 {
		t.Fatalf("expected empty result at offset 0, got %#v", result)
	}
}

func TestTailFollowPicksUpAppendedLines(t *testing.T) {
	path := writeLog(t, "seed\n")
	ctx := context.Background()

	initial, err := logs.Tail(ctx, path, logs.Options{Offset: -1, Lines: 1})
	if err != nil {
		t.Fatalf("initial Tail: %v", err)
	}

	go func() {
		time.Sleep(300 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = f.WriteString("late arrival\n")
	}()

	result, err := logs.Tail(ctx, path, logs.Options{
		Offset: initial.NextOffset,
		Follow: true,
		Wait:   3 * time.Second,
	})
	if err != nil {
		t.Fatalf("follow Tail: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "late arrival" {
		t.Fatalf("expected appended line, got %#v", result.Lines)
	}
}

func TestTailFollowHonorsCancel(t *testing.T) {
	path := writeLog(t, "seed\n")

	initial, err := logs.Tail(context.Background(), path, logs.Options{Offset: -1, Lines: 0})
	if err != nil {
		t.Fatalf("initial Tail: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err = logs.Tail(ctx, path, logs.Options{
		Offset: initial.NextOffset,
		Follow: true,
		Wait:   10 * time.Second,
	})
	if err == nil || ctx.Err() == nil {
		t.Fatalf("expected cancellation to end the follow, got %v", err)
	}
}
