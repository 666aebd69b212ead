package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opencx/agentsim/internal/broker"
	"github.com/opencx/agentsim/internal/capability"
	"github.com/opencx/agentsim/internal/channel"
	"github.com/opencx/agentsim/internal/directory"
	"github.com/opencx/agentsim/internal/domain"
	"github.com/opencx/agentsim/internal/reporting"
)

type fakeTransport struct {
	mu   sync.Mutex
	msgs []delivered
}

type delivered struct {
	topic string
	msg   any
}

func (t *fakeTransport) Deliver(topic string, msg any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = append(t.msgs, delivered{topic: topic, msg: msg})
	return nil
}

func (t *fakeTransport) callEvents() []*Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Event
	for _, d := range t.msgs {
		m, ok := d.msg.(map[string]any)
		if !ok || m["messageType"] != "CallStateChanged" {
			continue
		}
		if ev, ok := m["call"].(*Event); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (t *fakeTransport) callEventsOfType(notificationType string) []*Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Event
	for _, d := range t.msgs {
		m, ok := d.msg.(map[string]any)
		if !ok || m["messageType"] != "CallStateChanged" || m["notificationType"] != notificationType {
			continue
		}
		if ev, ok := m["call"].(*Event); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (t *fakeTransport) messageTypes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, d := range t.msgs {
		if m, ok := d.msg.(map[string]any); ok {
			if mt, ok := m["messageType"].(string); ok {
				out = append(out, mt)
			}
		}
	}
	return out
}

type testRig struct {
	engine     *Engine
	broker     *broker.Broker
	transports map[string]*fakeTransport
}

func newTestRig(t *testing.T, autoAnswer time.Duration) *testRig {
	t.Helper()

	dir := directory.New()
	dir.Add(&domain.Agent{UserName: "alice", AgentLogin: "5001", FirstName: "Alice"})
	dir.Add(&domain.Agent{UserName: "bob", AgentLogin: "5002", FirstName: "Bob"})
	dir.Add(&domain.Agent{UserName: "carol", AgentLogin: "9001", FirstName: "Carol", Supervisor: true})

	b := broker.New(time.Millisecond)
	transports := make(map[string]*fakeTransport)
	for _, name := range []string{"alice", "bob", "carol"} {
		tr := &fakeTransport{}
		transports[name] = tr
		b.Attach(name, tr, nil)
	}

	engine := NewEngine(
		Config{AutoAnswerDelay: autoAnswer},
		capability.Default(),
		dir,
		channel.NewRegistry(),
		b,
		reporting.New(nil, b),
	)
	return &testRig{engine: engine, broker: b, transports: transports}
}

func TestCreateCallInitialStates(t *testing.T) {
	rig := newTestRig(t, time.Hour)

	call := rig.engine.CreateCall(context.Background(), domain.CallTypeInternal, "alice", "bob", "", "", nil)

	if call.Origin().State() != domain.StateDialing {
		t.Errorf("Expected origin leg Dialing, got %s", call.Origin().State())
	}
	if call.Dest().State() != domain.StateRinging {
		t.Errorf("Expected dest leg Ringing, got %s", call.Dest().State())
	}
	if !hasCapability(call.Dest().Capabilities(), "answer") {
		t.Errorf("Expected ringing leg to carry answer, got %v", call.Dest().Capabilities())
	}
}

func TestCreateCallSharedUserData(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	ctx := context.Background()

	call := rig.engine.CreateCall(ctx, domain.CallTypeInbound, "alice", "bob", "", "", nil)
	rig.engine.AttachUserData(ctx, call.ID, domain.KVList{
		{Key: "CaseID", Type: domain.TypeStr, Value: "C-100"},
	})

	origin := call.Origin().Snapshot()
	dest := call.Dest().Snapshot()
	if got := origin.UserData.GetString("CaseID"); got != "C-100" {
		t.Errorf("Expected origin leg to see CaseID C-100, got %q", got)
	}
	if got := dest.UserData.GetString("CaseID"); got != "C-100" {
		t.Errorf("Expected dest leg to see CaseID C-100, got %q", got)
	}
}

func TestAutoAnswerFires(t *testing.T) {
	rig := newTestRig(t, 10*time.Millisecond)

	call := rig.engine.CreateCall(context.Background(), domain.CallTypeInbound, "alice", "bob", "", "", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rig.engine.GetCall(call.ID).Dest().State() == domain.StateEstablished {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := rig.engine.GetCall(call.ID)
	if got.Origin().State() != domain.StateEstablished || got.Dest().State() != domain.StateEstablished {
		t.Fatalf("Expected both legs Established after auto-answer, got %s/%s",
			got.Origin().State(), got.Dest().State())
	}
}

func TestAutoAnswerSkipsAnsweredCall(t *testing.T) {
	rig := newTestRig(t, 20*time.Millisecond)
	ctx := context.Background()

	call := rig.engine.CreateCall(ctx, domain.CallTypeInbound, "alice", "bob", "", "", nil)
	rig.engine.Answer(ctx, "bob", call.ID)
	if res := rig.engine.Hold(ctx, "bob", call.ID); res != domain.ResultOK {
		t.Fatalf("Expected hold to apply, got %s", res)
	}

	time.Sleep(60 * time.Millisecond)
	if got := rig.engine.GetCall(call.ID).Dest().State(); got != domain.StateHeld {
		t.Errorf("Expected held leg untouched by stale auto-answer timer, got %s", got)
	}
}

func TestHoldIsPerLeg(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	ctx := context.Background()

	call := rig.engine.CreateCall(ctx, domain.CallTypeInternal, "alice", "bob", "", "", nil)
	rig.engine.Answer(ctx, "alice", call.ID)
	rig.engine.Hold(ctx, "alice", call.ID)

	if call.Origin().State() != domain.StateHeld {
		t.Errorf("Expected origin leg Held, got %s", call.Origin().State())
	}
	if call.Dest().State() != domain.StateEstablished {
		t.Errorf("Expected dest leg to stay Established, got %s", call.Dest().State())
	}
	if !hasCapability(call.Origin().Capabilities(), capability.OpRetrieve) {
		t.Errorf("Expected held leg to carry retrieve, got %v", call.Origin().Capabilities())
	}
	if hasCapability(call.Origin().Capabilities(), capability.OpHold) {
		t.Errorf("Expected held leg to drop hold, got %v", call.Origin().Capabilities())
	}

	rig.engine.Retrieve(ctx, "alice", call.ID)
	if call.Origin().State() != domain.StateEstablished {
		t.Errorf("Expected retrieved leg Established, got %s", call.Origin().State())
	}
}

func TestCompleteLeavesOtherLegActive(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	ctx := context.Background()

	call := rig.engine.CreateCall(ctx, domain.CallTypeInternal, "alice", "bob", "", "", nil)
	rig.engine.Answer(ctx, "alice", call.ID)

	rig.engine.Complete(ctx, "alice", call.ID)
	if rig.engine.GetCall(call.ID) == nil {
		t.Fatal("Expected call to survive one-sided complete")
	}
	if call.Dest().State() != domain.StateEstablished {
		t.Errorf("Expected dest leg to stay Established, got %s", call.Dest().State())
	}
	if got := len(rig.engine.CallsForAgent("alice")); got != 0 {
		t.Errorf("Expected no active calls for alice, got %d", got)
	}

	rig.engine.Complete(ctx, "bob", call.ID)
	if rig.engine.GetCall(call.ID) != nil {
		t.Error("Expected call dropped once both legs completed")
	}
}

func TestCapacityDrivesAvailability(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	ctx := context.Background()

	call := rig.engine.CreateCall(ctx, domain.CallTypeInbound, "alice", "bob", "", "", nil)
	rig.engine.Answer(ctx, "bob", call.ID)

	dn := rig.engine.channels.DNSnapshot(rig.engine.dir.ByIdentity("bob"))
	if dn.Available {
		t.Error("Expected bob unavailable at capacity")
	}
	if dn.Activity != "HandlingInboundCall" {
		t.Errorf("Expected activity HandlingInboundCall, got %s", dn.Activity)
	}

	rig.engine.Complete(ctx, "bob", call.ID)
	dn = rig.engine.channels.DNSnapshot(rig.engine.dir.ByIdentity("bob"))
	if !dn.Available {
		t.Error("Expected bob available after completing their last call")
	}
	if dn.Activity != channel.ActivityIdle {
		t.Errorf("Expected activity Idle, got %s", dn.Activity)
	}
}

func TestUpdateUserDataConsolidatesDuplicates(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	ctx := context.Background()

	call := rig.engine.CreateCall(ctx, domain.CallTypeInbound, "alice", "bob", "", "", nil)
	rig.engine.AttachUserData(ctx, call.ID, domain.KVList{
		{Key: "Note", Type: domain.TypeStr, Value: "first"},
		{Key: "Note", Type: domain.TypeStr, Value: "second"},
	})
	rig.engine.UpdateUserData(ctx, call.ID, domain.KVList{
		{Key: "Note", Type: domain.TypeStr, Value: "final"},
	})

	count := 0
	for _, kv := range call.UserData() {
		if kv.Key == "Note" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("Expected one Note entry after update, got %d", count)
	}
	if got := call.UserData().GetString("Note"); got != "final" {
		t.Errorf("Expected Note final, got %q", got)
	}
}

func TestDeleteUserDataPair(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	ctx := context.Background()

	call := rig.engine.CreateCall(ctx, domain.CallTypeInbound, "alice", "bob", "", "", nil)
	rig.engine.AttachUserData(ctx, call.ID, domain.KVList{
		{Key: "Note", Type: domain.TypeStr, Value: "first"},
	})

	if res := rig.engine.DeleteUserDataPair(ctx, call.ID, "Note"); res != domain.ResultOK {
		t.Fatalf("Expected delete to apply, got %s", res)
	}
	if res := rig.engine.DeleteUserDataPair(ctx, call.ID, "Note"); res != domain.ResultNotApplicable {
		t.Errorf("Expected second delete to be not applicable, got %s", res)
	}
}

func TestInitiateTransferSpawnsConsult(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	ctx := context.Background()

	call := rig.engine.CreateCall(ctx, domain.CallTypeInbound, "alice", "bob", "", "", nil)
	rig.engine.Answer(ctx, "alice", call.ID)

	res, consult := rig.engine.InitiateTransfer(ctx, "alice", call.ID, "5002")
	if res != domain.ResultOK {
		t.Fatalf("Expected transfer initiation to apply, got %s", res)
	}
	if consult == nil {
		t.Fatal("Expected a consult call")
	}
	if consult.Type != domain.CallTypeConsult {
		t.Errorf("Expected consult call type, got %s", consult.Type)
	}
	if consult.ParentConnID != call.ID {
		t.Errorf("Expected parentConnId %s, got %s", call.ID, consult.ParentConnID)
	}
	if call.Origin().State() != domain.StateHeld {
		t.Errorf("Expected original leg Held, got %s", call.Origin().State())
	}
}

func TestChangeDNStatePublishesReason(t *testing.T) {
	rig := newTestRig(t, time.Hour)

	res := rig.engine.ChangeDNState("alice", channel.StateNotReady, "AuxWork", false, "Lunch")
	if res != domain.ResultOK {
		t.Fatalf("Expected DN state change to apply, got %s", res)
	}

	dn := rig.engine.channels.DNSnapshot(rig.engine.dir.ByIdentity("alice"))
	if dn.AgentState != channel.StateNotReady {
		t.Errorf("Expected NotReady, got %s", dn.AgentState)
	}
	if got := dn.Reasons.GetString("ReasonCode"); got != "Lunch" {
		t.Errorf("Expected reason code Lunch, got %q", got)
	}

	types := rig.transports["alice"].messageTypes()
	if !containsString(types, "DnStateChanged") {
		t.Errorf("Expected a DnStateChanged message, got %v", types)
	}
}

func TestUnknownCallIsNotFound(t *testing.T) {
	rig := newTestRig(t, time.Hour)

	if res := rig.engine.Answer(context.Background(), "alice", "missing"); res != domain.ResultNotFound {
		t.Errorf("Expected not found, got %s", res)
	}
}

func hasCapability(caps []string, op string) bool {
	for _, c := range caps {
		if c == op {
			return true
		}
	}
	return false
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
