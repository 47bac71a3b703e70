//go:build unix

package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunGroupSupervisorFailureStopsTunnel(t *testing.T) {
	applyErr := errors.New("write profile: not a directory")
	tunnelStopped := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- runGroup(context.Background(),
			func(context.Context) error { return applyErr },
			func(ctx context.Context) error {
				<-ctx.Done()
				close(tunnelStopped)
				return nil
			},
		)
	}()

	select {
	case err := <-done:
		if !errors.Is(err, applyErr) || !strings.HasPrefix(err.Error(), "supervisor: ") {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("tunnel kept running after supervisor failure")
	}
	select {
	case <-tunnelStopped:
	default:
		t.Fatalf("tunnel context not cancelled")
	}
}

func TestRunGroupTunnelFailureStopsSupervisor(t *testing.T) {
	runErr := errors.New("write config: broken pipe")
	err := runGroup(context.Background(),
		func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
		func(context.Context) error { return runErr },
	)
	if !errors.Is(err, runErr) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRunGroupCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wait := func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- runGroup(ctx, wait, wait) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("group did not stop")
	}
}
