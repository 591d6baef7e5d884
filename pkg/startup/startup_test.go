package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestStartOrder(t *testing.T) {
	var events []string
	dep := func(name string, needs ...string) Dependency {
		return Dependency{
			Name:    name,
			Needs:   needs,
			OnStart: func(context.Context) error { events = append(events, "start "+name); return nil },
			OnStop:  func(context.Context) error { events = append(events, "stop "+name); return nil },
		}
	}

	s := NewStartup(testLogger(), 1)
	s.AddDependency(dep("migrations", "postgres"))
	s.AddDependency(dep("postgres"))
	s.AddDependency(dep("redis"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StartupStatusStarted, s.Status("migrations"))

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{
		"start postgres", "start migrations", "start redis",
		"stop redis", "stop migrations", "stop postgres",
	}, events)
	assert.Equal(t, StartupStatusStopped, s.Status("postgres"))
}

func TestStartRetries(t *testing.T) {
	tests := []struct {
		name        string
		failures    int
		maxAttempts int
		wantErr     bool
	}{
		{name: "succeeds first time", failures: 0, maxAttempts: 3},
		{name: "recovers", failures: 2, maxAttempts: 3},
		{name: "gives up", failures: 3, maxAttempts: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			s := NewStartup(testLogger(), tt.maxAttempts)
			s.SetBackoffUnit(time.Millisecond)
			s.AddDependency(Dependency{Name: "postgres", OnStart: func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return errors.New("connection refused")
				}
				return nil
			}})

			err := s.Start(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "connection refused")
				assert.Equal(t, StartupStatusFailed, s.Status("postgres"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.failures+1, calls)
		})
	}
}

func TestUnknownAndCyclicDependencies(t *testing.T) {
	s := NewStartup(testLogger(), 1)
	s.AddDependency(Dependency{Name: "a", Needs: []string{"missing"}})
	assert.ErrorContains(t, s.Start(context.Background()), "unknown startup dependency 'missing'")

	s = NewStartup(testLogger(), 1)
	s.AddDependency(Dependency{Name: "a", Needs: []string{"b"}})
	s.AddDependency(Dependency{Name: "b", Needs: []string{"a"}})
	assert.ErrorContains(t, s.Start(context.Background()), "cycle")
}
