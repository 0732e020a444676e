package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skald-labs/skald/domain/jobs"
	"github.com/skald-labs/skald/pkg/whisper"
)

func TestNextKind(t *testing.T) {
	assert.Equal(t, KindChunk, NextKind(KindTranscribe))
	assert.Equal(t, KindEmbed, NextKind(KindChunk))
	assert.Equal(t, Kind(""), NextKind(KindEmbed))
	assert.Equal(t, Kind(""), NextKind(Kind("bogus")))
}

func TestDefinitionsCoverAllKinds(t *testing.T) {
	for _, kind := range []Kind{KindTranscribe, KindChunk, KindEmbed} {
		def, ok := Definitions[kind]
		require.True(t, ok, "missing definition for %s", kind)
		assert.Equal(t, kind, def.Kind)
		assert.Greater(t, def.Timeout, time.Duration(0))
		assert.Greater(t, def.HeartbeatTimeout, time.Duration(0))
		assert.Equal(t, 3, def.Policy.MaxAttempts)
		assert.Greater(t, def.Policy.InitialBackoff, time.Duration(0))
		assert.NotEmpty(t, def.Phase)
	}
}

func TestDefinitionMilestones(t *testing.T) {
	assert.Equal(t, jobs.ProgressTranscribed, Definitions[KindTranscribe].Milestone)
	assert.Equal(t, jobs.ProgressChunked, Definitions[KindChunk].Milestone)
	assert.Equal(t, jobs.ProgressCompleted, Definitions[KindEmbed].Milestone)
}

func TestHeartbeatTimeoutsPerActivity(t *testing.T) {
	// Stale recovery reclaims by kind; a slow Whisper call must get a
	// wider window than a quick embed batch.
	assert.Equal(t, 5*time.Minute, Definitions[KindTranscribe].HeartbeatTimeout)
	assert.Equal(t, time.Minute, Definitions[KindChunk].HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, Definitions[KindEmbed].HeartbeatTimeout)
}

func TestTranscribeHasLongestTimeout(t *testing.T) {
	// Whisper runtime scales with audio length; the other activities
	// must not inherit its budget.
	assert.Greater(t, Definitions[KindTranscribe].Timeout, Definitions[KindChunk].Timeout)
	assert.Greater(t, Definitions[KindChunk].Timeout, Definitions[KindEmbed].Timeout)
}

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

var _ net.Error = timeoutNetError{}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"whisper 500", &whisper.ServiceError{StatusCode: 500, Body: "boom"}, true},
		{"whisper 429", &whisper.ServiceError{StatusCode: 429, Body: "slow down"}, true},
		{"whisper 400", &whisper.ServiceError{StatusCode: 400, Body: "bad audio"}, false},
		{"whisper 415", &whisper.ServiceError{StatusCode: 415, Body: "unsupported"}, false},
		{"whisper disabled", whisper.ErrDisabled, false},
		{"missing audio file", fmt.Errorf("transcribe: %w",
			fmt.Errorf("read audio file: %w", &fs.PathError{Op: "open", Path: "gone.mp3", Err: fs.ErrNotExist})), false},
		{"attempt timeout", context.DeadlineExceeded, true},
		{"wrapped timeout", errors.Join(errors.New("transcribe"), context.DeadlineExceeded), true},
		{"net error", timeoutNetError{}, true},
		{"unknown", errors.New("something odd"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, retryable(tc.err))
		})
	}
}

func TestRetryBudgets(t *testing.T) {
	policy := Definitions[KindTranscribe].Policy

	assert.False(t, policy.Exhausted(1))
	assert.False(t, policy.Exhausted(2))
	assert.True(t, policy.Exhausted(3))

	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 4*time.Second, policy.NextDelay(3))
}

func TestEmbedBackoffCap(t *testing.T) {
	policy := Definitions[KindEmbed].Policy

	assert.Equal(t, 30*time.Second, policy.MaxBackoff)
	assert.LessOrEqual(t, policy.NextDelay(10), 30*time.Second)
}
