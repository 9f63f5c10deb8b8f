package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher_WorkflowAndGlobal(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	wf := p.Subscribe("wf-1")
	other := p.Subscribe("wf-2")
	all := p.Subscribe(GlobalWorkflowID)

	p.Publish(NewEvent(EventStep, "wf-1", StepData{StepID: "a", Success: true}))

	select {
	case e := <-wf:
		assert.Equal(t, EventStep, e.Type)
		assert.NotEmpty(t, e.ID)
	case <-time.After(time.Second):
		t.Fatal("workflow subscriber got nothing")
	}
	select {
	case e := <-all:
		assert.Equal(t, "wf-1", e.WorkflowID)
	case <-time.After(time.Second):
		t.Fatal("global subscriber got nothing")
	}
	assert.Empty(t, other)
}

func TestMemoryPublisher_FullBufferDoesNotBlock(t *testing.T) {
	p := NewMemoryPublisher(WithBufferSize(1))
	defer p.Close()
	ch := p.Subscribe("wf")

	for range 5 {
		p.Publish(NewEvent(EventAudit, "wf", nil))
	}
	assert.Len(t, ch, 1)
}

func TestMemoryPublisher_UnsubscribeAndClose(t *testing.T) {
	p := NewMemoryPublisher()
	ch := p.Subscribe("wf")
	assert.Equal(t, 1, p.SubscriberCount("wf"))

	p.Unsubscribe("wf", ch)
	assert.Equal(t, 0, p.SubscriberCount("wf"))
	_, open := <-ch
	assert.False(t, open)

	p.Close()
	p.Close()
	closed := p.Subscribe("wf")
	_, open = <-closed
	assert.False(t, open)
	p.Publish(NewEvent(EventAudit, "wf", nil))
}

func TestFanout_JoinsErrors(t *testing.T) {
	var got []EventType
	ok := SinkFunc(func(_ context.Context, e Event) error {
		got = append(got, e.Type)
		return nil
	})
	boom := errors.New("boom")
	bad := SinkFunc(func(context.Context, Event) error { return boom })

	f := NewFanout(bad, nil, ok)
	err := f.Emit(context.Background(), NewEvent(EventComplete, "wf", nil))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []EventType{EventComplete}, got)

	assert.NoError(t, NewBestEffort(f, nil).Emit(context.Background(), NewEvent(EventAudit, "wf", nil)))
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATSSink_Publishes(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("autoflow.audit.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	conn, err := ConnectNATS(server.ClientURL(), "autoflow-test")
	require.NoError(t, err)
	sink := NewNATSSink(conn, "")
	defer sink.Close()

	ev := NewEvent(EventAudit, "wf.1", map[string]string{"stage": "merging"})
	assert.Equal(t, "autoflow.audit.wf_1", sink.Subject(ev))
	require.NoError(t, sink.Emit(context.Background(), ev))
	require.NoError(t, conn.Flush())

	select {
	case msg := <-msgs:
		assert.Equal(t, "wf.1", msg.Header.Get(HeaderWorkflowID))
		assert.Equal(t, ev.ID, msg.Header.Get(HeaderEventID))
		var decoded Event
		require.NoError(t, json.Unmarshal(msg.Data, &decoded))
		assert.Equal(t, EventAudit, decoded.Type)
		assert.Equal(t, "wf.1", decoded.WorkflowID)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestNATSSink_CancelledContext(t *testing.T) {
	server := startTestNATSServer(t)
	conn, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewNATSSink(conn, "x").Emit(ctx, NewEvent(EventStep, "wf", nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "_", subjectToken(""))
	assert.Equal(t, "a_b_c_d", subjectToken("a.b*c>d"))
}
