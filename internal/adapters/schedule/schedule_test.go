package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lamudi_ingest/internal/domain"
)

type recPub struct {
	mu  sync.Mutex
	got []domain.Message
	err error
}

func (p *recPub) Publish(_ context.Context, m domain.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.got = append(p.got, m)
	return "1-0", nil
}

func TestNew_SkipsEmptySpecs(t *testing.T) {
	s, err := New(&recPub{},
		Trigger{Spec: "*/5 * * * *", Type: domain.MsgReconcileRawListings},
		Trigger{Spec: "", Type: domain.MsgGenerateAIDescription},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := New(&recPub{}, Trigger{Spec: "every tuesday", Type: domain.MsgReconcileRawListings})
	assert.Error(t, err)

	_, err = New(&recPub{}, Trigger{Spec: "@hourly", Type: "NOPE"})
	assert.ErrorIs(t, err, domain.ErrUnknownMessage)
}

func TestFire_PublishesTrigger(t *testing.T) {
	pub := &recPub{}
	s, err := New(pub)
	require.NoError(t, err)

	s.fire(domain.MsgGenerateAIDescription)
	require.Len(t, pub.got, 1)
	assert.Equal(t, domain.MsgGenerateAIDescription, pub.got[0].Type)
	assert.Equal(t, domain.SourceApp, pub.got[0].Source)
	assert.NotEmpty(t, pub.got[0].ID)

	// a failing publish is logged, not fatal
	pub.err = errors.New("redis down")
	s.fire(domain.MsgReconcileRawListings)
	assert.Len(t, pub.got, 1)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, err := New(&recPub{}, Trigger{Spec: "@every 1h", Type: domain.MsgReconcileRawListings})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
}
