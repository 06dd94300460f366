package scheduler

import (
	"context"
	"testing"

	"github.com/agentcore/nexus/internal/models"
)

func TestPromptStartsTurnWhenIdle(t *testing.T) {
	s := New(DefaultConfig())
	out := s.Prompt(models.NewUserText("hi"))
	if out.Action != ActionStartTurn {
		t.Fatalf("expected ActionStartTurn, got %v", out.Action)
	}
}

func TestPromptDuringStreamingImmediateInterruptsSteersAndCancels(t *testing.T) {
	s := New(Config{SteeringMode: SteeringOneAtATime, FollowUpMode: FollowUpOneAtATime, InterruptMode: InterruptImmediate})
	cancelled := false
	_, cancel := context.WithCancel(context.Background())
	s.BeginTurn(func() { cancelled = true; cancel() })

	out := s.Prompt(models.NewUserText("stop and do this instead"))
	if out.Action != ActionSteered {
		t.Fatalf("expected ActionSteered, got %v", out.Action)
	}
	if !cancelled {
		t.Fatal("expected the active turn's cancel func to be invoked")
	}
	if !s.HasSteering() {
		t.Fatal("expected the steering message to be queued")
	}
}

func TestPromptDuringStreamingWaitQueuesFollowUp(t *testing.T) {
	s := New(Config{SteeringMode: SteeringOneAtATime, FollowUpMode: FollowUpOneAtATime, InterruptMode: InterruptWait})
	s.BeginTurn(func() {})

	out := s.Prompt(models.NewUserText("do this after"))
	if out.Action != ActionQueued {
		t.Fatalf("expected ActionQueued, got %v", out.Action)
	}
	if !s.HasFollowUp() {
		t.Fatal("expected the message to land in the follow-up queue")
	}
	if s.HasSteering() {
		t.Fatal("InterruptWait must not touch the steering queue")
	}
}

func TestSteeringOneAtATimeReplacesRatherThanAccumulates(t *testing.T) {
	s := New(Config{SteeringMode: SteeringOneAtATime, InterruptMode: InterruptImmediate})
	s.BeginTurn(func() {})

	s.Steer(models.NewUserText("first"))
	s.Steer(models.NewUserText("second"))

	drained := s.DrainSteering()
	if len(drained) != 1 {
		t.Fatalf("expected one-at-a-time replace to leave exactly one message, got %d", len(drained))
	}
	if drained[0].User.Content[0].Text.Text != "second" {
		t.Fatalf("expected the second message to have replaced the first, got %q", drained[0].User.Content[0].Text.Text)
	}
}

func TestSteeringAllAccumulates(t *testing.T) {
	s := New(Config{SteeringMode: SteeringAll, InterruptMode: InterruptImmediate})
	s.BeginTurn(func() {})

	s.Steer(models.NewUserText("first"))
	s.Steer(models.NewUserText("second"))

	drained := s.DrainSteering()
	if len(drained) != 2 {
		t.Fatalf("expected all-mode to accumulate both messages, got %d", len(drained))
	}
}

func TestAbortCancelsWithoutQueuing(t *testing.T) {
	s := New(DefaultConfig())
	cancelled := false
	s.BeginTurn(func() { cancelled = true })

	if !s.Abort() {
		t.Fatal("expected Abort to report it cancelled an active turn")
	}
	if !cancelled {
		t.Fatal("expected the cancel func to run")
	}
	if s.HasSteering() || s.HasFollowUp() {
		t.Fatal("Abort must not queue anything")
	}
	if s.Abort() {
		t.Fatal("a second Abort with no active turn should report false")
	}
}

func TestQueueMessageIsUnconditional(t *testing.T) {
	s := New(DefaultConfig())
	// Idle, no turn in flight: queueMessage still queues rather than
	// starting a turn, unlike Prompt.
	s.QueueMessage(models.NewUserText("queued"))
	if !s.HasFollowUp() {
		t.Fatal("expected QueueMessage to push onto the follow-up queue regardless of state")
	}
}

func TestInjectResolveReminderJumpsAheadOfQueuedSteering(t *testing.T) {
	s := New(Config{SteeringMode: SteeringAll, InterruptMode: InterruptImmediate})
	s.BeginTurn(func() {})
	s.Steer(models.NewUserText("already queued"))

	s.InjectResolveReminder(2)

	drained := s.DrainSteering()
	if len(drained) != 2 {
		t.Fatalf("expected reminder plus the prior steering message, got %d", len(drained))
	}
	if drained[0].Role != models.RoleCustom || drained[0].Custom.CustomType != "resolve-reminder" {
		t.Fatalf("expected the resolve-reminder to be first, got %+v", drained[0])
	}
}

func TestBeginTurnFailsOutsideIdle(t *testing.T) {
	s := New(DefaultConfig())
	if !s.BeginTurn(func() {}) {
		t.Fatal("expected the first BeginTurn from Idle to succeed")
	}
	if s.BeginTurn(func() {}) {
		t.Fatal("expected a second BeginTurn while Streaming to fail")
	}
	s.EndTurn()
	if s.State() != StateIdle {
		t.Fatalf("expected EndTurn to return to Idle, got %s", s.State())
	}
}

func TestCompactionExcludesConcurrentTurns(t *testing.T) {
	s := New(DefaultConfig())
	if !s.BeginCompaction() {
		t.Fatal("expected BeginCompaction from Idle to succeed")
	}
	if s.BeginTurn(func() {}) {
		t.Fatal("expected BeginTurn to fail while Compacting")
	}
	out := s.Prompt(models.NewUserText("during compaction"))
	if out.Action != ActionQueued {
		t.Fatalf("expected a prompt during Compacting to queue, got %v", out.Action)
	}
	s.EndCompaction()
	if s.State() != StateIdle {
		t.Fatalf("expected EndCompaction to return to Idle, got %s", s.State())
	}
}
