package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena-chat/internal/athena"
)

func TestSession_LeavePolicyScenario(t *testing.T) {
	s, backend, obs := newTestSession(t, testOptions())
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, "What is the leave policy?", Filters{}))
	st := backend.stream(0)

	st.send("process_started", `{}`)
	st.send("retrieving_documents", `{}`)
	st.send("retrieved_documents", `{"relevant_count":3,"related_count":0}`)
	st.send("final_result", `{"answer":"...","id":"abc123"}`)

	require.Eventually(t, func() bool {
		return len(s.Messages()) == 2 && s.Progress() == Progress{}
	}, waitFor, tick)

	msgs := s.Messages()
	assert.Equal(t, "abc123", msgs[0].ID)
	assert.Equal(t, "...", msgs[0].Answer)
	assert.Equal(t, athena.SenderBot, msgs[0].Sender)
	assert.True(t, msgs[0].ShouldType)
	assert.Equal(t, "", msgs[1].ID)
	assert.Equal(t, "What is the leave policy?", msgs[1].Answer)
	assert.Equal(t, athena.SenderUser, msgs[1].Sender)

	assert.Equal(t, []Stage{
		StageConnecting,
		StageProcessStarted,
		StageRetrievingDocuments,
		StageRetrievedDocuments,
	}, obs.stages())
	assert.Contains(t, obs.progressMessages(), "Found 3 relevant documents.")

	req := backend.request(0)
	assert.Equal(t, "What is the leave policy?", req.Question)
	assert.True(t, req.EnableSSE)
	assert.Empty(t, req.DocumentType)
}

func TestSession_ReconcileFinalResult(t *testing.T) {
	s, backend, _ := newTestSession(t, testOptions())
	require.NoError(t, s.Start(context.Background(), "q", Filters{}))
	st := backend.stream(0)

	st.send("final_result", `{"answer":"draft","id":"X"}`)
	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, waitFor, tick)

	// Same id as the head: merged in place
	st.send("final_result", `{"answer":"final","id":"X","source_documents":[{"document_id":"d1","score":0.8}]}`)
	require.Eventually(t, func() bool { return s.Messages()[0].Answer == "final" }, waitFor, tick)
	msgs := s.Messages()
	assert.Len(t, msgs, 2)
	require.Len(t, msgs[0].SourceDocuments, 1)
	assert.Equal(t, "d1", msgs[0].SourceDocuments[0].DocumentID)

	// Different id: prepended
	st.send("final_result", `{"answer":"other","id":"Y"}`)
	require.Eventually(t, func() bool { return len(s.Messages()) == 3 }, waitFor, tick)
	assert.Equal(t, "Y", s.Messages()[0].ID)
}

func TestSession_MalformedPayloads(t *testing.T) {
	s, backend, obs := newTestSession(t, testOptions())
	require.NoError(t, s.Start(context.Background(), "q", Filters{}))
	st := backend.stream(0)

	st.send("process_started", `not json`)
	require.Eventually(t, func() bool { return s.Progress().Stage == StageProcessStarted }, waitFor, tick)
	assert.Equal(t, msgProcessStarted, s.Progress().Message)

	st.send("final_result", `plain text answer`)
	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, waitFor, tick)
	assert.Equal(t, "plain text answer", s.Messages()[0].Answer)
	assert.Empty(t, obs.toastIDs())
}

func TestSession_UnknownEventsIgnored(t *testing.T) {
	s, backend, obs := newTestSession(t, testOptions())
	require.NoError(t, s.Start(context.Background(), "q", Filters{}))
	st := backend.stream(0)

	st.send("mystery_event", `{"message":"whatever"}`)
	st.send("message", `{"hello":"world"}`)
	st.send("connected", `{}`)

	require.Eventually(t, func() bool { return s.Progress().Stage == StageConnected }, waitFor, tick)
	assert.Equal(t, []Stage{StageConnecting, StageConnected}, obs.stages())
	assert.Len(t, s.Messages(), 1)
	assert.True(t, s.Busy())
}

func TestSession_GenericMessageChannel(t *testing.T) {
	s, backend, _ := newTestSession(t, testOptions())
	require.NoError(t, s.Start(context.Background(), "q", Filters{}))

	backend.stream(0).send("message", `{"event":"retrieving_documents","message":"Looking..."}`)
	require.Eventually(t, func() bool { return s.Progress().Stage == StageRetrievingDocuments }, waitFor, tick)
	assert.Equal(t, "Looking...", s.Progress().Message)
}

func TestSession_ConversationCreated(t *testing.T) {
	s, backend, obs := newTestSession(t, testOptions())
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, "q", Filters{}))

	backend.stream(0).send("conversation_created", `{"conversation_id":"c-1"}`)
	require.Eventually(t, func() bool { return s.ConversationID() == "c-1" }, waitFor, tick)

	assert.Equal(t, Route{ConversationID: "c-1"}, s.Route())
	assert.Equal(t, "/chat/c-1", obs.lastRoute().String())
	assert.False(t, s.Cursor().HasMore)
	assert.Empty(t, backend.fetched(), "adopting a conversation must not reload it")

	// The next question continues the conversation
	require.NoError(t, s.Start(ctx, "follow up", Filters{}))
	assert.Equal(t, "c-1", backend.request(1).ConversationID)
}

func TestSession_ResponseCompleted(t *testing.T) {
	s, backend, obs := newTestSession(t, testOptions())
	require.NoError(t, s.Start(context.Background(), "q", Filters{}))
	st := backend.stream(0)

	st.send("response_completed", `{"success":false}`)
	st.send("connected", `{}`)
	require.Eventually(t, func() bool { return s.Progress().Stage == StageConnected }, waitFor, tick)
	assert.False(t, obs.hasStage(StageResponseCompleted))

	st.send("response_completed", `{"status":"success"}`)
	require.Eventually(t, func() bool { return s.Progress().Stage == StageResponseCompleted }, waitFor, tick)
}

func TestSession_CompletedTearsDown(t *testing.T) {
	s, backend, obs := newTestSession(t, testOptions())
	require.NoError(t, s.Start(context.Background(), "q", Filters{}))
	st := backend.stream(0)

	st.send("answer_generation", `{}`)
	st.send("completed", `{}`)

	require.Eventually(t, func() bool { return !s.Busy() }, waitFor, tick)
	assert.True(t, st.isClosed())
	assert.Equal(t, 1, obs.finishedTurns())
	assert.Equal(t, Progress{}, s.Progress())
}

func TestSession_TimeoutEvent(t *testing.T) {
	opts := testOptions()
	opts.TimeoutClearDelay = 300 * time.Millisecond
	s, backend, _ := newTestSession(t, opts)
	require.NoError(t, s.Start(context.Background(), "q", Filters{}))

	backend.stream(0).send("timeout", `{}`)
	require.Eventually(t, func() bool { return !s.Busy() }, waitFor, tick)
	assert.Equal(t, Progress{Stage: StageTimeout, Message: msgTimeout}, s.Progress())
	assert.True(t, backend.stream(0).isClosed())

	require.Eventually(t, func() bool { return s.Progress() == Progress{} }, waitFor, tick)
}

func TestSession_ErrorEvent(t *testing.T) {
	opts := testOptions()
	opts.FinalClearDelay = 300 * time.Millisecond
	s, backend, obs := newTestSession(t, opts)
	require.NoError(t, s.Start(context.Background(), "q", Filters{}))

	backend.stream(0).send("error", `{"message":"retrieval backend unavailable"}`)
	require.Eventually(t, func() bool { return !s.Busy() }, waitFor, tick)
	assert.Equal(t, StageError, s.Progress().Stage)
	assert.Equal(t, "retrieval backend unavailable", s.Progress().Message)
	assert.Empty(t, obs.toastIDs())
	require.Eventually(t, func() bool { return s.Progress() == Progress{} }, waitFor, tick)
}

func TestSession_ServerCloseDrainsQueue(t *testing.T) {
	opts := testOptions()
	opts.Pace = 30 * time.Millisecond
	s, backend, obs := newTestSession(t, opts)
	require.NoError(t, s.Start(context.Background(), "q", Filters{}))
	st := backend.stream(0)

	st.send("process_started", `{}`)
	st.send("final_result", `{"answer":"done","id":"m1"}`)
	st.Close()

	require.Eventually(t, func() bool { return !s.Busy() }, waitFor, tick)
	assert.Len(t, s.Messages(), 2)
	assert.Equal(t, "done", s.Messages()[0].Answer)
	assert.Equal(t, 1, obs.finishedTurns())
}

func TestSession_StopDropsQueuedEvents(t *testing.T) {
	opts := testOptions()
	opts.Pace = 200 * time.Millisecond
	s, backend, obs := newTestSession(t, opts)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, "q", Filters{}))
	st := backend.stream(0)
	st.send("process_started", `{}`)
	st.send("retrieving_documents", `{}`)
	st.send("final_result", `{"answer":"late","id":"z"}`)

	s.Stop()
	assert.False(t, s.Busy())
	assert.True(t, st.isClosed())

	assert.Never(t, func() bool {
		return obs.hasStage(StageRetrievingDocuments) || len(s.Messages()) != 1
	}, 400*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, Progress{}, s.Progress())

	// Stop is idempotent
	s.Stop()

	// A fresh turn starts with an empty queue
	require.NoError(t, s.Start(ctx, "again", Filters{}))
	backend.stream(1).send("connected", `{}`)
	require.Eventually(t, func() bool { return s.Progress().Stage == StageConnected }, waitFor, tick)
}

func TestSession_NewTurnSupersedesStream(t *testing.T) {
	s, backend, _ := newTestSession(t, testOptions())
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, "first", Filters{}))
	first := backend.stream(0)
	require.NoError(t, s.Start(ctx, "second", Filters{}))

	assert.True(t, first.isClosed(), "previous stream must be closed")
	assert.False(t, first.send("final_result", `{"answer":"stale","id":"s"}`))

	backend.stream(1).send("final_result", `{"answer":"fresh","id":"f"}`)
	require.Eventually(t, func() bool { return len(s.Messages()) == 3 }, waitFor, tick)
	assert.Equal(t, "fresh", s.Messages()[0].Answer)
	assert.Equal(t, 2, backend.streamCount())
}

func TestSession_CanceledSubmissionIsSilent(t *testing.T) {
	s, backend, obs := newTestSession(t, testOptions())
	backend.blockFirst = make(chan struct{})
	ctx := context.Background()

	firstErr := make(chan error, 1)
	go func() { firstErr <- s.Start(ctx, "first", Filters{}) }()
	require.Eventually(t, func() bool { return backend.requestCount() == 1 }, waitFor, tick)

	require.NoError(t, s.Start(ctx, "second", Filters{}))

	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(waitFor):
		t.Fatal("first submission never returned")
	}
	assert.Empty(t, obs.toastIDs())
	assert.False(t, s.Route().IsError)
	assert.Equal(t, 1, backend.streamCount())
}

func TestSession_StopCancelsPendingSubmission(t *testing.T) {
	s, backend, obs := newTestSession(t, testOptions())
	backend.blockFirst = make(chan struct{})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background(), "q", Filters{}) }()
	require.Eventually(t, func() bool { return backend.requestCount() == 1 }, waitFor, tick)

	s.Stop()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(waitFor):
		t.Fatal("submission never returned")
	}
	assert.Empty(t, obs.toastIDs())
	assert.False(t, s.Busy())
}

func TestSession_SubmissionFailure(t *testing.T) {
	s, backend, obs := newTestSession(t, testOptions())
	backend.startErr = errors.New("connection refused")
	ctx := context.Background()

	err := s.Start(ctx, "q", Filters{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCanceled)
	assert.Equal(t, []string{ToastChatError}, obs.toastIDs())
	assert.True(t, s.Route().IsError)
	assert.Equal(t, "/chat?isError=true", obs.lastRoute().String())
	assert.False(t, s.Busy())
	assert.Equal(t, Progress{}, s.Progress())

	// Leaving the error route resets the chat
	require.NoError(t, s.Navigate(ctx, Route{}))
	assert.Empty(t, s.Messages())
	assert.False(t, s.Route().IsError)
}

func TestSession_SubmitGuards(t *testing.T) {
	s, backend, _ := newTestSession(t, testOptions())
	ctx := context.Background()

	assert.ErrorIs(t, s.Submit(ctx, "   ", Filters{}), ErrEmptyQuestion)

	bad := Filters{From: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.ErrorIs(t, s.Submit(ctx, "q", bad), ErrInvalidDateRange)
	assert.Equal(t, 0, backend.requestCount())

	require.NoError(t, s.Submit(ctx, "q", Filters{DocumentTypes: []string{"pdf"}}))
	assert.ErrorIs(t, s.Submit(ctx, "again", Filters{}), ErrTurnInFlight)
	assert.Equal(t, 1, backend.requestCount())
	assert.Equal(t, athena.DocumentTypes{"pdf"}, backend.request(0).DocumentType)
}

func TestSession_NewChat(t *testing.T) {
	s, backend, _ := newTestSession(t, testOptions())
	require.NoError(t, s.Start(context.Background(), "q", Filters{}))
	backend.stream(0).send("conversation_created", `{"conversation_id":"c-9"}`)
	require.Eventually(t, func() bool { return s.ConversationID() == "c-9" }, waitFor, tick)

	s.NewChat()
	assert.Empty(t, s.Messages())
	assert.Equal(t, "", s.ConversationID())
	assert.Equal(t, Route{}, s.Route())
	assert.False(t, s.Busy())
	assert.True(t, backend.stream(0).isClosed())
}
