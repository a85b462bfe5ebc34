package command_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carshare/internal/apperr"
	"carshare/internal/command"
	"carshare/internal/fleet"
	"carshare/internal/models"
	"carshare/internal/store"
)

func newCommandService(t *testing.T) (*command.Service, store.Store) {
	t.Helper()
	st := store.NewMemory()
	lg := zap.NewNop().Sugar()
	svc := command.NewService(st, fleet.NewService(st, lg), lg)
	require.NoError(t, st.CreateCar(context.Background(), &models.Car{
		VIN: "VIN-001", Status: models.CarStatusAvailable, Locked: true,
	}))
	return svc, st
}

type recordingDispatcher struct {
	commands []models.Command
}

func (d *recordingDispatcher) DispatchCommand(cmd models.Command) {
	d.commands = append(d.commands, cmd)
}

func TestEnqueueAndPollFIFO(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCommandService(t)

	first, err := svc.Enqueue(ctx, "VIN-001", models.CommandUnlock)
	require.NoError(t, err)
	second, err := svc.Enqueue(ctx, "VIN-001", models.CommandStateQuery)
	require.NoError(t, err)

	cmds, err := svc.Poll(ctx, "VIN-001")
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, first.ID, cmds[0].ID)
	assert.Equal(t, second.ID, cmds[1].ID)
	assert.Equal(t, models.CommandPending, cmds[0].Status)

	// Polling does not consume; commands stay pending until acked.
	again, err := svc.Poll(ctx, "VIN-001")
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestEnqueueUnknownCar(t *testing.T) {
	svc, _ := newCommandService(t)
	_, err := svc.Enqueue(context.Background(), "VIN-404", models.CommandUnlock)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestEnqueueNotifiesDispatcher(t *testing.T) {
	svc, _ := newCommandService(t)
	d := &recordingDispatcher{}
	svc.SetDispatcher(d)

	cmd, err := svc.Enqueue(context.Background(), "VIN-001", models.CommandLock)
	require.NoError(t, err)
	require.Len(t, d.commands, 1)
	assert.Equal(t, cmd.ID, d.commands[0].ID)
}

func TestAckUnlockFlipsLocked(t *testing.T) {
	ctx := context.Background()
	svc, st := newCommandService(t)

	cmd, err := svc.Enqueue(ctx, "VIN-001", models.CommandUnlock)
	require.NoError(t, err)

	acked, err := svc.Ack(ctx, "VIN-001", cmd.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, models.CommandAcked, acked.Status)
	require.NotNil(t, acked.Success)
	assert.True(t, *acked.Success)

	car, err := st.CarByVIN(ctx, "VIN-001")
	require.NoError(t, err)
	assert.False(t, car.Locked)

	cmds, err := svc.Poll(ctx, "VIN-001")
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestAckFailureKeepsLocked(t *testing.T) {
	ctx := context.Background()
	svc, st := newCommandService(t)

	cmd, err := svc.Enqueue(ctx, "VIN-001", models.CommandUnlock)
	require.NoError(t, err)

	acked, err := svc.Ack(ctx, "VIN-001", cmd.ID, false, "motor jammed")
	require.NoError(t, err)
	require.NotNil(t, acked.Success)
	assert.False(t, *acked.Success)
	require.NotNil(t, acked.Note)
	assert.Equal(t, "motor jammed", *acked.Note)

	car, err := st.CarByVIN(ctx, "VIN-001")
	require.NoError(t, err)
	assert.True(t, car.Locked)
}

func TestAckDouble(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCommandService(t)

	cmd, err := svc.Enqueue(ctx, "VIN-001", models.CommandUnlock)
	require.NoError(t, err)
	_, err = svc.Ack(ctx, "VIN-001", cmd.ID, true, "")
	require.NoError(t, err)

	_, err = svc.Ack(ctx, "VIN-001", cmd.ID, true, "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAckWrongVIN(t *testing.T) {
	ctx := context.Background()
	svc, st := newCommandService(t)
	require.NoError(t, st.CreateCar(ctx, &models.Car{VIN: "VIN-002"}))

	cmd, err := svc.Enqueue(ctx, "VIN-001", models.CommandLock)
	require.NoError(t, err)

	_, err = svc.Ack(ctx, "VIN-002", cmd.ID, true, "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// Still pending for the rightful owner.
	cmds, err := svc.Poll(ctx, "VIN-001")
	require.NoError(t, err)
	assert.Len(t, cmds, 1)
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCommandService(t)

	_, err := svc.Enqueue(ctx, "VIN-001", models.CommandUnlock)
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, "VIN-001", models.CommandStateQuery)
	require.NoError(t, err)

	pct := 55
	car, pending, err := svc.Heartbeat(ctx, "VIN-001", fleet.TelematicsUpdate{BatteryPct: &pct})
	require.NoError(t, err)
	assert.Equal(t, 55, car.BatteryPct)
	assert.Equal(t, 2, pending)
	assert.NotNil(t, car.LastSeenAt)
}
