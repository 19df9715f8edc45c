package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

func TestNewServiceRequiresDependencies(t *testing.T) {
	cases := map[string]ServiceParams{
		"config":   {Logger: logger.Nop()},
		"logger":   {Config: &config.Config{}},
		"database": {Config: &config.Config{}, Logger: logger.Nop()},
	}
	for want, params := range cases {
		_, err := NewService(params)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s error, got %v", want, err)
		}
	}
}

func TestPingDependencyNamesFailure(t *testing.T) {
	err := pingDependency(context.Background(), logger.Nop(), "redis", func(context.Context) error {
		return errors.New("connection refused")
	})
	if err == nil || !strings.Contains(err.Error(), "redis ping failed") {
		t.Fatalf("unexpected error %v", err)
	}
	if err := pingDependency(context.Background(), logger.Nop(), "db", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
