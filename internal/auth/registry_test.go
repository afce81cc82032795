package auth_test

import (
	"testing"

	"StakePool/internal/auth"

	"github.com/google/uuid"
)

func TestRegistry_ManagerCheck(t *testing.T) {
	manager := uuid.New()
	r := auth.NewRegistry(manager)

	if !r.IsManager(manager) {
		t.Error("manager should pass the manager check")
	}
	if r.IsManager(uuid.New()) {
		t.Error("stranger should not pass the manager check")
	}
	if r.IsManager(uuid.Nil) {
		t.Error("zero actor should never pass the manager check")
	}
}

func TestRegistry_GrantRevoke(t *testing.T) {
	r := auth.NewRegistry(uuid.New())
	op := uuid.New()

	if r.HasRole(auth.RoleOperator, op) {
		t.Fatal("fresh registry should have no operators")
	}
	r.Grant(auth.RoleOperator, op)
	if !r.HasRole(auth.RoleOperator, op) {
		t.Error("granted operator should have the role")
	}

	// Idempotent grant, then revoke.
	r.Grant(auth.RoleOperator, op)
	r.Revoke(auth.RoleOperator, op)
	if r.HasRole(auth.RoleOperator, op) {
		t.Error("revoked operator should lose the role")
	}
	// Revoking again is a no-op.
	r.Revoke(auth.RoleOperator, op)
}

func TestRegistry_TwoStepTransfer(t *testing.T) {
	oldManager := uuid.New()
	newManager := uuid.New()
	r := auth.NewRegistry(oldManager)

	r.ProposeManager(newManager)
	// Proposal alone changes nothing.
	if !r.IsManager(oldManager) || r.IsManager(newManager) {
		t.Error("proposing a manager should not transfer control")
	}
	if r.PendingManager() != newManager {
		t.Errorf("pending: got %v, want %v", r.PendingManager(), newManager)
	}

	r.AcceptManager()
	if !r.IsManager(newManager) || r.IsManager(oldManager) {
		t.Error("accepting should transfer control")
	}
	if r.PendingManager() != uuid.Nil {
		t.Error("accept should clear the pending manager")
	}
}

func TestRegistry_Pause(t *testing.T) {
	r := auth.NewRegistry(uuid.New())
	if r.Paused() {
		t.Fatal("fresh registry should not be paused")
	}
	r.SetPaused(true)
	if !r.Paused() {
		t.Error("should be paused")
	}
	r.SetPaused(false)
	if r.Paused() {
		t.Error("should be unpaused")
	}
}

func TestValidRole(t *testing.T) {
	if !auth.ValidRole(auth.RoleOperator) {
		t.Error("operator should be a valid role")
	}
	if auth.ValidRole("janitor") {
		t.Error("unknown role should be invalid")
	}
}

func TestRegistry_SnapshotRoundTrip(t *testing.T) {
	manager := uuid.New()
	pending := uuid.New()
	op1 := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	op2 := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	r := auth.NewRegistry(manager)
	r.ProposeManager(pending)
	r.Grant(auth.RoleOperator, op1)
	r.Grant(auth.RoleOperator, op2)
	r.SetPaused(true)

	snap := r.Snapshot()
	if len(snap.Roles) != 1 || len(snap.Roles[0].Members) != 2 {
		t.Fatalf("snapshot roles: got %+v", snap.Roles)
	}
	if snap.Roles[0].Members[0] != op2 {
		t.Error("members should be sorted by id")
	}

	restored := auth.RestoreRegistry(snap)
	if !restored.IsManager(manager) || restored.PendingManager() != pending {
		t.Error("restored manager state differs")
	}
	if !restored.HasRole(auth.RoleOperator, op1) || !restored.HasRole(auth.RoleOperator, op2) {
		t.Error("restored roles differ")
	}
	if !restored.Paused() {
		t.Error("restored pause flag differs")
	}
}
