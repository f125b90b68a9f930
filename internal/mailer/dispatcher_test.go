package mailer

import (
	"context"
	"errors"
	"testing"

	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name  string
	ready bool
	err   error
	sent  []model.Email
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Ready() bool   { return f.ready }
func (f *fakeProvider) Acquire() bool { return f.ready }
func (f *fakeProvider) Send(_ context.Context, _ string, e model.Email) error {
	f.sent = append(f.sent, e)
	return f.err
}

func TestDispatcher_RoundRobin(t *testing.T) {
	a := &fakeProvider{name: "a", ready: true}
	b := &fakeProvider{name: "b", ready: true}
	d := NewDispatcher([]Provider{a, b}, "from@x", 1)

	for i := 0; i < 4; i++ {
		require.NoError(t, d.Send(context.Background(), model.Email{To: "to@x"}))
	}
	assert.Len(t, a.sent, 2)
	assert.Len(t, b.sent, 2)
}

func TestDispatcher_SkipsUnhealthy(t *testing.T) {
	a := &fakeProvider{name: "a", ready: false}
	b := &fakeProvider{name: "b", ready: true}
	d := NewDispatcher([]Provider{a, b}, "", 2)

	require.NoError(t, d.Send(context.Background(), model.Email{To: "to@x"}))
	assert.Empty(t, a.sent)
	assert.Len(t, b.sent, 1)
}

func TestDispatcher_NoHealthy(t *testing.T) {
	d := NewDispatcher([]Provider{&fakeProvider{name: "a"}}, "", 2)
	err := d.Send(context.Background(), model.Email{To: "to@x"})
	assert.ErrorIs(t, err, ErrNoHealthy)
}

func TestDispatcher_ReturnsLastError(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeProvider{name: "a", ready: true, err: boom}
	d := NewDispatcher([]Provider{a}, "", 3)

	err := d.Send(context.Background(), model.Email{To: "to@x"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.sent, 3)
}
