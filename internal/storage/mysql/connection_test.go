package mysql

import (
	"context"
	"fmt"
	"testing"

	driver "github.com/go-sql-driver/mysql"
)

func TestOpenRejectsEmptyDSN(t *testing.T) {
	if _, err := Open(context.Background(), Config{DSN: "  "}); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestOpenRejectsMalformedDSN(t *testing.T) {
	if _, err := Open(context.Background(), Config{DSN: "user:pass@tcp(127.0.0.1:3306"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestIsDuplicate(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &driver.MySQLError{Number: 1062, Message: "Duplicate entry"})
	if !IsDuplicate(dup) {
		t.Fatalf("expected wrapped 1062 to be detected")
	}
	if IsDuplicate(&driver.MySQLError{Number: 1146}) {
		t.Fatalf("1146 is not a duplicate error")
	}
	if IsDuplicate(nil) {
		t.Fatalf("nil is not a duplicate error")
	}
}
