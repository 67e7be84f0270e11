package inbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/whatsapp"
)

func TestReplyWhileConnected(t *testing.T) {
	repo := newMemRepo()
	sender := &fakeSender{}
	svc := NewService(repo, sender, fakeState{status: whatsapp.StatusConnected}, "62")

	res, err := svc.Reply(context.Background(), "0812-3456-789", "Pesanan sudah dikirim")
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.Equal(t, "628123456789", res.Phone)
	assert.Equal(t, "MSG1", res.Outcome.MessageID)

	require.Equal(t, 1, sender.count())
	assert.Equal(t, whatsapp.Recipient("628123456789@s.whatsapp.net"), sender.sent[0].target)

	conv := repo.onlyConversation()
	assert.Equal(t, domain.ConversationHumanManual, conv.Status)
	assert.Equal(t, conv.ID, res.ConversationID)

	admin := repo.messagesBy(domain.SenderAdmin)
	require.Len(t, admin, 1)
	assert.Equal(t, "Pesanan sudah dikirim", admin[0].Content)
	assert.Equal(t, "MSG1", admin[0].ExternalID)
}

func TestReplyWhileDisconnected(t *testing.T) {
	for _, status := range []whatsapp.Status{whatsapp.StatusUninitialized, whatsapp.StatusAwaitingScan, whatsapp.StatusDisconnected} {
		repo := newMemRepo()
		sender := &fakeSender{}
		svc := NewService(repo, sender, fakeState{status: status}, "62")

		_, err := svc.Reply(context.Background(), "628123", "halo")
		assert.ErrorIs(t, err, domain.ErrNotConnected, status.String())
		assert.Zero(t, sender.count())
		users, convs, msgs := repo.counts()
		assert.Zero(t, users+convs+msgs)
	}

	svc := NewService(newMemRepo(), &fakeSender{}, fakeState{status: whatsapp.StatusLoggedOut}, "62")
	_, err := svc.Reply(context.Background(), "628123", "halo")
	assert.ErrorIs(t, err, domain.ErrTerminalLogout)
}

func TestReplyValidatesInput(t *testing.T) {
	sender := &fakeSender{}
	svc := NewService(newMemRepo(), sender, fakeState{status: whatsapp.StatusConnected}, "62")

	_, err := svc.Reply(context.Background(), "", "halo")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = svc.Reply(context.Background(), "not a phone", "halo")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = svc.Reply(context.Background(), "628123", "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Zero(t, sender.count())
}

func TestReplySendFailure(t *testing.T) {
	repo := newMemRepo()
	sender := &fakeSender{err: domain.ErrTransportFailure}
	svc := NewService(repo, sender, fakeState{status: whatsapp.StatusConnected}, "62")

	_, err := svc.Reply(context.Background(), "628123", "halo")
	assert.ErrorIs(t, err, domain.ErrTransportFailure)
	users, convs, msgs := repo.counts()
	assert.Zero(t, users+convs+msgs)
}

func TestReplyStoreFailureAfterSend(t *testing.T) {
	repo := newMemRepo()
	repo.failAppend = errDB
	sender := &fakeSender{}
	svc := NewService(repo, sender, fakeState{status: whatsapp.StatusConnected}, "62")

	res, err := svc.Reply(context.Background(), "628123", "halo")
	assert.ErrorIs(t, err, domain.ErrPersistenceFailure)
	require.NotNil(t, res)
	assert.False(t, res.Persisted)
	assert.Equal(t, 1, sender.count())
}

func TestReplyRecordedWhenCallerGoesAway(t *testing.T) {
	repo := newMemRepo()
	sender := &fakeSender{}
	svc := NewService(repo, sender, fakeState{status: whatsapp.StatusConnected}, "62")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := svc.Reply(ctx, "628123", "halo")
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.Equal(t, 1, sender.count())
	assert.Len(t, repo.messagesBy(domain.SenderAdmin), 1)
}

// gateResponder blocks until release is closed.
type gateResponder struct {
	entered chan struct{}
	release chan struct{}
	reply   string
	calls   atomic.Int32
}

func (g *gateResponder) Respond(ctx context.Context, history []Turn) (string, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	<-g.release
	return g.reply, nil
}

func TestReplyWaitsForAutoReplyInProgress(t *testing.T) {
	repo := newMemRepo()
	sender := &fakeSender{}
	responder := &gateResponder{entered: make(chan struct{}), release: make(chan struct{}), reply: "auto"}
	p := newTestPipeline(t, repo, sender, responder)
	svc := NewService(repo, sender, fakeState{status: whatsapp.StatusConnected}, "62").ShareLocks(p)

	handled := make(chan error, 1)
	go func() {
		_, err := p.Handle(context.Background(), inbound("628123", "halo"))
		handled <- err
	}()
	<-responder.entered

	replied := make(chan error, 1)
	go func() {
		_, err := svc.Reply(context.Background(), "628123", "operator here")
		replied <- err
	}()
	select {
	case err := <-replied:
		t.Fatalf("operator reply overtook the auto reply: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(responder.release)
	require.NoError(t, <-handled)
	require.NoError(t, <-replied)
	assert.Equal(t, []string{"auto", "operator here"}, sender.payloads())

	// the conversation now belongs to the operator
	_, err := p.Handle(context.Background(), inbound("628123", "lagi"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), responder.calls.Load())
	assert.Equal(t, domain.ConversationHumanManual, repo.onlyConversation().Status)
}
