package assistance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/smartcart/internal/model"
	"github.com/mmeshcher/smartcart/internal/repository"
)

func newTestTracker() *Tracker {
	tr := NewTracker(repository.NewMemoryRepository(), zap.NewNop())
	tr.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return tr
}

func TestAssistanceLifecycle(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()

	req, err := tr.Call(ctx, "CART-1", "Jane")
	require.NoError(t, err)
	_, err = uuid.Parse(req.ID)
	require.NoError(t, err)
	assert.Equal(t, "CART-1", req.CartCode)
	assert.Equal(t, "Jane", req.CustomerName)
	assert.False(t, req.Resolved)
	assert.Nil(t, req.AssignedTo)

	active, ok, err := tr.Active(ctx, "CART-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, req.ID, active.ID)

	require.NoError(t, tr.Resolve(ctx, req.ID))

	_, ok, err = tr.Active(ctx, "CART-1")
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := tr.Requests(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Resolved, "resolved requests are retained")
}

func TestActive_PerCart(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()

	first, err := tr.Call(ctx, "CART-1", "Jane")
	require.NoError(t, err)
	second, err := tr.Call(ctx, "cart-2", "John")
	require.NoError(t, err)

	active, ok, err := tr.Active(ctx, "CART-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)

	active, ok, err = tr.Active(ctx, "CART-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, active.ID)

	_, ok, err = tr.Active(ctx, "CART-3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancel_RemovesOnlyUnresolved(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()

	resolved, err := tr.Call(ctx, "CART-1", "Jane")
	require.NoError(t, err)
	require.NoError(t, tr.Resolve(ctx, resolved.ID))
	_, err = tr.Call(ctx, "CART-1", "Jane")
	require.NoError(t, err)
	other, err := tr.Call(ctx, "CART-2", "John")
	require.NoError(t, err)

	n, err := tr.Cancel(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := tr.Requests(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, resolved.ID, list[0].ID)
	assert.Equal(t, other.ID, list[1].ID)
}

func TestAssign_KeepsResolvedState(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()

	req, err := tr.Call(ctx, "CART-1", "Jane")
	require.NoError(t, err)

	require.NoError(t, tr.Assign(ctx, req.ID, " Bob "))

	active, ok, err := tr.Active(ctx, "CART-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, active.AssignedTo)
	assert.Equal(t, "Bob", *active.AssignedTo)
	assert.False(t, active.Resolved)

	assert.ErrorIs(t, tr.Assign(ctx, req.ID, "  "), ErrEmptyStaffName)
}

func TestUnknownRequest(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()

	assert.ErrorIs(t, tr.Resolve(ctx, "missing"), repository.ErrRequestNotFound)
	assert.ErrorIs(t, tr.Assign(ctx, "missing", "Bob"), repository.ErrRequestNotFound)
}

func TestCall_InvalidCartCode(t *testing.T) {
	_, err := newTestTracker().Call(context.Background(), "", "Jane")
	assert.ErrorIs(t, err, ErrInvalidCartCode)
}

type failingRepo struct {
	*repository.MemoryRepository
}

func (*failingRepo) ListRequests(ctx context.Context) ([]model.AssistanceRequest, error) {
	return nil, errors.New("db is down")
}

func TestActive_RepositoryError(t *testing.T) {
	tr := NewTracker(&failingRepo{MemoryRepository: repository.NewMemoryRepository()}, zap.NewNop())

	_, _, err := tr.Active(context.Background(), "CART-1")
	assert.Error(t, err)
}
