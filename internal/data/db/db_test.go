package db

import "testing"

func TestConfigDialector(t *testing.T) {
	if (Config{}).Enabled() {
		t.Fatalf("empty config should be disabled")
	}
	if _, driver := (Config{PostgresHost: "pg", SQLitePath: "x.db"}).dialector(); driver != "postgres" {
		t.Fatalf("postgres should win, got %s", driver)
	}
	if _, driver := (Config{SQLitePath: "x.db"}).dialector(); driver != "sqlite" {
		t.Fatalf("driver = %s", driver)
	}
	if _, err := Open(nil, Config{}); err == nil {
		t.Fatalf("expected error without a database")
	}
}
