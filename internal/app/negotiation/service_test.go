package negotiation

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/krill-network/krill/internal/app/lifecycle"
	"github.com/krill-network/krill/internal/app/payment"
	"github.com/krill-network/krill/internal/domain"
	"github.com/krill-network/krill/internal/infra/headers"
	"github.com/krill-network/krill/internal/infra/p2p"
	"github.com/krill-network/krill/internal/security"
)

func testKeypair(t *testing.T) *security.Keypair {
	t.Helper()
	kp, err := security.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeComputer struct {
	mu             sync.Mutex
	given          []domain.ComputeTaskDef
	requestsDenied []domain.TaskRequestRejection
	failures       map[string]string
	closedSessions []string
}

func newFakeComputer() *fakeComputer {
	return &fakeComputer{failures: make(map[string]string)}
}

func (c *fakeComputer) TaskGiven(def domain.ComputeTaskDef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.given = append(c.given, def)
}

func (c *fakeComputer) TaskRequestRejected(taskID string, reason domain.TaskRequestRejection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsDenied = append(c.requestsDenied, reason)
}

func (c *fakeComputer) SubtaskFailed(subtaskID, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[subtaskID] = message
}

func (c *fakeComputer) SessionClosed(peerKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closedSessions = append(c.closedSessions, peerKey)
}

type fakeRewards struct {
	mu      sync.Mutex
	rewards map[string]*domain.Payment
}

func (r *fakeRewards) RewardPaid(subtaskID string, p *domain.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rewards == nil {
		r.rewards = make(map[string]*domain.Payment)
	}
	r.rewards[subtaskID] = p
}

// fakeResources completes pulls synchronously inside the call.
type fakeResources struct {
	resultFiles []string
	failPackage error
	failInputs  error

	mu     sync.Mutex
	pulled [][]string
}

func (f *fakeResources) PullResources(ctx context.Context, taskID string, resources []string, _ domain.ResourceOptions, done func(error)) {
	f.mu.Lock()
	f.pulled = append(f.pulled, resources)
	f.mu.Unlock()
	done(f.failInputs)
}

func (f *fakeResources) PullResultPackage(ctx context.Context, hash, taskID, subtaskID, secret string,
	_ domain.ResourceOptions, outputDir string, success func(domain.TaskResult), failure func(error)) {
	if f.failPackage != nil {
		failure(f.failPackage)
		return
	}
	success(domain.TaskResult{SubtaskID: subtaskID, Files: f.resultFiles, Stdout: "ok"})
}

func (f *fakeResources) CancelTask(taskID string) {}

type memLedger struct {
	mu      sync.Mutex
	records map[string]domain.PaymentRecord
}

func newMemLedger() *memLedger { return &memLedger{records: make(map[string]domain.PaymentRecord)} }

func (l *memLedger) InsertPayment(p domain.PaymentRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[p.SubtaskID]; ok {
		return domain.ErrPaymentExists
	}
	l.records[p.SubtaskID] = p
	return nil
}

func (l *memLedger) UpdatePayment(p domain.PaymentRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[p.SubtaskID] = p
	return nil
}

func (l *memLedger) GetPayment(subtaskID string) (*domain.PaymentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.records[subtaskID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (l *memLedger) ListPayments(taskID string) ([]domain.PaymentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.PaymentRecord
	for _, p := range l.records {
		out = append(out, p)
	}
	return out, nil
}

type stubEnv struct{}

func (stubEnv) ID() string                         { return "krill/compute:1" }
func (stubEnv) MainProgramSource() (string, error) { return "run()", nil }
func (stubEnv) DockerImages() []domain.DockerImage {
	return []domain.DockerImage{{Repository: "krill/compute", Tag: "1"}}
}

// ─── Harness ────────────────────────────────────────────────────────────────

type harness struct {
	svc       *Service
	manager   *lifecycle.Manager
	keeper    *headers.Keeper
	computer  *fakeComputer
	rewards   *fakeRewards
	resources *fakeResources
	ledger    *memLedger
	payments  *payment.Service
	dialer    *p2p.MemDialer
	localKP   *security.Keypair
	peerKP    *security.Keypair
	localKey  string
	peerKey   string
	peer      *p2p.Session // far end, driven by the test
	cancel    context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		manager:  lifecycle.NewManager(nil, zap.NewNop()),
		keeper:   headers.NewKeeper(),
		computer: newFakeComputer(),
		rewards:  &fakeRewards{},
		ledger:   newMemLedger(),
		dialer:   p2p.NewMemDialer(),
		localKP:  testKeypair(t),
		peerKP:   testKeypair(t),
	}
	h.localKey = h.localKP.PublicKeyHex()
	h.peerKey = h.peerKP.PublicKeyHex()

	// The verifier stats declared files, so results point at a real one.
	path := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	h.resources = &fakeResources{resultFiles: []string{path}}

	cfg := Config{LocalKey: h.localKey, EthAccount: "0xfeed", OutputRoot: t.TempDir()}
	h.payments = payment.NewService(h.ledger, zap.NewNop())
	h.svc = NewService(cfg, h.manager, h.keeper, h.payments,
		h.resources, h.computer, h.rewards, h.dialer, zap.NewNop())

	local, peer, err := p2p.Pair(h.localKP, h.peerKP)
	if err != nil {
		t.Fatal(err)
	}
	h.peer = peer

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.svc.ServeSession(ctx, local)
	t.Cleanup(func() {
		cancel()
		peer.Close()
		local.Close()
	})
	return h
}

func (h *harness) addTask(t *testing.T, id string, units int) *lifecycle.Controller {
	t.Helper()
	def := domain.TaskDefinition{
		Name:           "render",
		Kind:           domain.KindCompute,
		Timeout:        "1h",
		SubtaskTimeout: "10m",
		SubtasksCount:  units,
		Bid:            "36", // 36/hour: one unit per second of compute
		Resources:      []string{"scene.blend"},
	}
	header, err := domain.NewTaskHeader(id, h.localKey, "krill/compute:1", def, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	ctrl, err := lifecycle.NewController(header, def, stubEnv{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := h.manager.Add(ctrl); err != nil {
		t.Fatal(err)
	}
	h.keeper.Add(header)
	return ctrl
}

func (h *harness) recv(t *testing.T) domain.Message {
	t.Helper()
	type received struct {
		msg domain.Message
		err error
	}
	ch := make(chan received, 1)
	go func() {
		msg, err := h.peer.Recv()
		ch <- received{msg, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("Recv: %v", r.err)
		}
		return r.msg
	case <-time.After(3 * time.Second):
		t.Fatal("no reply within deadline")
		return nil
	}
}

func (h *harness) send(t *testing.T, msg domain.Message) {
	t.Helper()
	if err := h.peer.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

// ─── Owner Side ─────────────────────────────────────────────────────────────

func TestNegotiationHappyPath(t *testing.T) {
	h := newHarness(t)
	h.addTask(t, "task-1", 1)

	// Work request → grant.
	h.send(t, &domain.TaskRequest{TaskID: "task-1", Performance: 100, MaxCPUs: 4})
	task, ok := h.recv(t).(*domain.Task)
	if !ok {
		t.Fatal("expected a Task grant")
	}
	if task.Def.TaskID != "task-1" || task.Def.SrcCode != "run()" {
		t.Fatalf("grant = %+v", task.Def)
	}
	if len(task.Resources) != 1 || task.Resources[0] != "scene.blend" {
		t.Fatalf("resources = %v", task.Resources)
	}

	// Result delivery → verification → settlement.
	h.send(t, &domain.Result{
		SubtaskID:       task.Def.SubtaskID,
		ComputationTime: 3600, // one full hour at 36/hour
		ResourceHash:    "deadbeef",
		EthAccount:      "0xprovider",
	})

	// Settlement is asynchronous to the session loop; poll the ledger.
	deadline := time.Now().Add(3 * time.Second)
	var rec *domain.PaymentRecord
	for time.Now().Before(deadline) {
		rec, _ = h.ledger.GetPayment(task.Def.SubtaskID)
		if rec != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rec == nil {
		t.Fatal("no payment settled for the verified result")
	}
	if rec.Payee != "0xprovider" || !rec.Settled() {
		t.Fatalf("payment = %+v", rec)
	}
	want, _ := new(big.Int).SetString("36000000000000000000", 10)
	if rec.Value.Cmp(want) != 0 {
		t.Fatalf("reward = %s, want %s", rec.Value, want)
	}

	// Settlement query → payment reply.
	h.send(t, &domain.PaymentRequest{SubtaskID: task.Def.SubtaskID})
	pay, ok := h.recv(t).(*domain.Payment)
	if !ok {
		t.Fatal("expected a Payment reply")
	}
	if pay.SubtaskID != task.Def.SubtaskID || pay.Remuneration.Cmp(want) != 0 {
		t.Fatalf("payment reply = %+v", pay)
	}
}

func TestTaskRequestRejections(t *testing.T) {
	h := newHarness(t)
	ctrl := h.addTask(t, "task-1", 1)

	// Unknown task.
	h.send(t, &domain.TaskRequest{TaskID: "task-9"})
	rej, ok := h.recv(t).(*domain.RejectTaskRequest)
	if !ok || rej.Reason != domain.RequestRejectTaskIDUnknown {
		t.Fatalf("reply = %#v", rej)
	}

	// Result download in flight.
	ctrl.ResultIncoming("task-1.pending")
	h.send(t, &domain.TaskRequest{TaskID: "task-1"})
	rej, ok = h.recv(t).(*domain.RejectTaskRequest)
	if !ok || rej.Reason != domain.RequestRejectDownloadingResult {
		t.Fatalf("reply = %#v", rej)
	}
	ctrl.ResultPullDone("task-1.pending")

	// Every unit is out being computed: backpressure, not a final
	// refusal, because a failed unit may come back to the pool.
	if _, err := h.manager.QueryExtraData("task-1", 100, 4, "elsewhere"); err != nil {
		t.Fatal(err)
	}
	h.send(t, &domain.TaskRequest{TaskID: "task-1"})
	rej, ok = h.recv(t).(*domain.RejectTaskRequest)
	if !ok || rej.Reason != domain.RequestRejectDownloadingResult {
		t.Fatalf("reply = %#v", rej)
	}

	// Aborted task also has nothing to give.
	if err := h.manager.Abort("task-1"); err != nil {
		t.Fatal(err)
	}
	h.send(t, &domain.TaskRequest{TaskID: "task-1"})
	rej, ok = h.recv(t).(*domain.RejectTaskRequest)
	if !ok || rej.Reason != domain.RequestRejectNoMoreSubtasks {
		t.Fatalf("reply = %#v", rej)
	}
}

func TestTaskRequestBackpressure(t *testing.T) {
	h := newHarness(t)
	h.addTask(t, "task-1", 1)

	// First request takes the only unit.
	h.send(t, &domain.TaskRequest{TaskID: "task-1", Performance: 100, MaxCPUs: 4})
	task, ok := h.recv(t).(*domain.Task)
	if !ok {
		t.Fatal("expected a Task grant")
	}

	// While it is out being computed, the answer is wait, not a final
	// refusal.
	h.send(t, &domain.TaskRequest{TaskID: "task-1", Performance: 100, MaxCPUs: 4})
	rej, ok := h.recv(t).(*domain.RejectTaskRequest)
	if !ok || rej.Reason != domain.RequestRejectDownloadingResult {
		t.Fatalf("reply = %#v", rej)
	}

	// The attempt fails, the unit returns to the pool, and the waiting
	// peer gets it under a fresh subtask id.
	h.manager.ComputationFailed(task.Def.SubtaskID)
	h.send(t, &domain.TaskRequest{TaskID: "task-1", Performance: 100, MaxCPUs: 4})
	again, ok := h.recv(t).(*domain.Task)
	if !ok {
		t.Fatal("expected a Task grant after the failed attempt")
	}
	if again.Def.SubtaskID == task.Def.SubtaskID {
		t.Fatal("re-dispatch reused the old subtask id")
	}
}

func TestResultRejections(t *testing.T) {
	h := newHarness(t)
	h.addTask(t, "task-1", 1)

	// Unknown subtask.
	h.send(t, &domain.Result{SubtaskID: "task-1.nope", ResourceHash: "x"})
	rej, ok := h.recv(t).(*domain.RejectResult)
	if !ok || rej.Reason != domain.ResultRejectSubtaskIDUnknown {
		t.Fatalf("reply = %#v", rej)
	}

	// Download failure.
	ctd, err := h.manager.QueryExtraData("task-1", 100, 4, h.peerKey)
	if err != nil {
		t.Fatal(err)
	}
	h.resources.failPackage = errors.New("transfer reset")
	h.send(t, &domain.Result{SubtaskID: ctd.SubtaskID, ResourceHash: "x"})
	rej, ok = h.recv(t).(*domain.RejectResult)
	if !ok || rej.Reason != domain.ResultRejectDownloadFailed {
		t.Fatalf("reply = %#v", rej)
	}

	// The unit is still outstanding: the provider may retry the upload.
	if _, err := h.manager.TaskForSubtask(ctd.SubtaskID); err != nil {
		t.Fatalf("subtask lost after failed download: %v", err)
	}
}

func TestNoSettlementForAbortedTask(t *testing.T) {
	h := newHarness(t)
	h.addTask(t, "task-1", 2)

	ctd, err := h.manager.QueryExtraData("task-1", 100, 4, h.peerKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.manager.Abort("task-1"); err != nil {
		t.Fatal(err)
	}

	h.send(t, &domain.Result{SubtaskID: ctd.SubtaskID, ComputationTime: 60, ResourceHash: "x", EthAccount: "0xp"})

	// The abort cleared the registry, so the completion is dropped and
	// nothing settles.
	time.Sleep(100 * time.Millisecond)
	if rec, _ := h.ledger.GetPayment(ctd.SubtaskID); rec != nil {
		t.Fatalf("payment settled on an aborted task: %+v", rec)
	}
}

func TestConfirmedPaymentReachesProvider(t *testing.T) {
	h := newHarness(t)
	h.addTask(t, "task-1", 1)

	h.send(t, &domain.TaskRequest{TaskID: "task-1", Performance: 100, MaxCPUs: 4})
	task, ok := h.recv(t).(*domain.Task)
	if !ok {
		t.Fatal("expected a Task grant")
	}
	subtaskID := task.Def.SubtaskID

	h.send(t, &domain.Result{
		SubtaskID:       subtaskID,
		ComputationTime: 60,
		ResourceHash:    "deadbeef",
		EthAccount:      "0xprovider",
	})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if rec, _ := h.ledger.GetPayment(subtaskID); rec != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Before the operator records the on-chain transaction, the reply
	// carries no proof and the payee would drop it.
	h.send(t, &domain.PaymentRequest{SubtaskID: subtaskID})
	pay, ok := h.recv(t).(*domain.Payment)
	if !ok {
		t.Fatal("expected a Payment reply")
	}
	if pay.TransactionID != "" || pay.BlockNumber != 0 {
		t.Fatalf("unconfirmed reply carries proof: %+v", pay)
	}

	if err := h.payments.RecordConfirmation(subtaskID, "0xc0ffee", 1024); err != nil {
		t.Fatalf("RecordConfirmation: %v", err)
	}

	h.send(t, &domain.PaymentRequest{SubtaskID: subtaskID})
	pay, ok = h.recv(t).(*domain.Payment)
	if !ok {
		t.Fatal("expected a Payment reply")
	}
	if pay.TransactionID != "0xc0ffee" || pay.BlockNumber != 1024 {
		t.Fatalf("confirmed reply = %+v", pay)
	}

	// The confirmed announcement closes the loop on the payee side.
	h.send(t, pay)
	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		h.rewards.mu.Lock()
		n := len(h.rewards.rewards)
		h.rewards.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.rewards.mu.Lock()
	defer h.rewards.mu.Unlock()
	got := h.rewards.rewards[subtaskID]
	if got == nil || got.TransactionID != "0xc0ffee" || got.BlockNumber != 1024 {
		t.Fatalf("reward = %+v", got)
	}
}

func TestPaymentRequestSilence(t *testing.T) {
	h := newHarness(t)
	h.addTask(t, "task-1", 1)

	h.send(t, &domain.PaymentRequest{SubtaskID: "task-1.unsettled"})

	// No reply may arrive. Prove the session still works by following
	// up with a request that does reply.
	h.send(t, &domain.TaskRequest{TaskID: "task-9"})
	if _, ok := h.recv(t).(*domain.RejectTaskRequest); !ok {
		t.Fatal("session wedged after silent payment request")
	}
}

// ─── Computing Side ─────────────────────────────────────────────────────────

func TestTaskGrantAccepted(t *testing.T) {
	h := newHarness(t)

	def := domain.ComputeTaskDef{
		TaskID:    "remote-1",
		SubtaskID: "remote-1.abc",
		SrcCode:   "run()",
		Deadline:  time.Now().Add(10 * time.Minute),
	}
	h.send(t, &domain.Task{Def: def, Resources: []string{"scene.blend"}})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		h.computer.mu.Lock()
		n := len(h.computer.given)
		h.computer.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.computer.mu.Lock()
	defer h.computer.mu.Unlock()
	if len(h.computer.given) != 1 || h.computer.given[0].SubtaskID != "remote-1.abc" {
		t.Fatalf("given = %+v", h.computer.given)
	}
	h.resources.mu.Lock()
	defer h.resources.mu.Unlock()
	if len(h.resources.pulled) != 1 {
		t.Fatalf("pulled = %+v", h.resources.pulled)
	}
}

func TestTaskGrantPastDeadlineRefused(t *testing.T) {
	h := newHarness(t)

	def := domain.ComputeTaskDef{
		TaskID:    "remote-1",
		SubtaskID: "remote-1.abc",
		SrcCode:   "run()",
		Deadline:  time.Now().Add(-time.Minute),
	}
	h.send(t, &domain.Task{Def: def})

	rej, ok := h.recv(t).(*domain.RejectTask)
	if !ok || rej.Reason != domain.TaskRejectDeadlinePassed {
		t.Fatalf("reply = %#v", rej)
	}
	h.computer.mu.Lock()
	defer h.computer.mu.Unlock()
	if len(h.computer.given) != 0 {
		t.Fatal("expired grant reached the computer")
	}
}

func TestRejectTaskRequestHandling(t *testing.T) {
	h := newHarness(t)

	// Transient refusal: header survives, session stays.
	def := domain.TaskDefinition{
		Name: "remote", Kind: domain.KindCompute,
		Timeout: "1h", SubtaskTimeout: "10m", SubtasksCount: 1, Bid: "1",
	}
	header, err := domain.NewTaskHeader("remote-1", h.peerKey, "krill/compute:1", def, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	h.keeper.Add(header)

	h.send(t, &domain.RejectTaskRequest{TaskID: "remote-1", Reason: domain.RequestRejectDownloadingResult})
	h.send(t, &domain.TaskRequest{TaskID: "task-9"}) // proves the loop is alive
	if _, ok := h.recv(t).(*domain.RejectTaskRequest); !ok {
		t.Fatal("session closed on a transient refusal")
	}
	if _, ok := h.keeper.Get("remote-1"); !ok {
		t.Fatal("header dropped on a transient refusal")
	}

	// Final refusal: header forgotten, computer told, session closed.
	h.send(t, &domain.RejectTaskRequest{TaskID: "remote-1", Reason: domain.RequestRejectNoMoreSubtasks})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := h.keeper.Get("remote-1"); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := h.keeper.Get("remote-1"); ok {
		t.Fatal("header survived a final refusal")
	}
	h.computer.mu.Lock()
	defer h.computer.mu.Unlock()
	if len(h.computer.requestsDenied) != 1 || h.computer.requestsDenied[0] != domain.RequestRejectNoMoreSubtasks {
		t.Fatalf("denied = %+v", h.computer.requestsDenied)
	}
	if len(h.computer.closedSessions) == 0 {
		t.Fatal("computer never told about the closed session")
	}
}

func TestPaymentAnnouncementValidation(t *testing.T) {
	h := newHarness(t)

	// Announcements without both proof fields are dropped.
	h.send(t, &domain.Payment{SubtaskID: "remote-1.abc", Remuneration: big.NewInt(5)})
	h.send(t, &domain.Payment{SubtaskID: "remote-1.abc", TransactionID: "0xdead", Remuneration: big.NewInt(5)})
	h.send(t, &domain.Payment{SubtaskID: "remote-1.abc", BlockNumber: 7, Remuneration: big.NewInt(5)})

	// A complete announcement reaches the reward listener.
	h.send(t, &domain.Payment{SubtaskID: "remote-1.abc", TransactionID: "0xdead", BlockNumber: 7, Remuneration: big.NewInt(5)})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		h.rewards.mu.Lock()
		n := len(h.rewards.rewards)
		h.rewards.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.rewards.mu.Lock()
	defer h.rewards.mu.Unlock()
	if len(h.rewards.rewards) != 1 {
		t.Fatalf("rewards = %+v", h.rewards.rewards)
	}
	got := h.rewards.rewards["remote-1.abc"]
	if got.TransactionID != "0xdead" || got.BlockNumber != 7 {
		t.Fatalf("reward = %+v", got)
	}
}

func TestRewardFor(t *testing.T) {
	hourly := big.NewInt(3600)
	if got := RewardFor(hourly, 1); got.Int64() != 1 {
		t.Fatalf("one second = %s", got)
	}
	if got := RewardFor(hourly, 1800); got.Int64() != 1800000 {
		t.Fatalf("half hour = %s", got)
	}
	if got := RewardFor(nil, 10); got.Sign() != 0 {
		t.Fatalf("nil rate = %s", got)
	}
	if got := RewardFor(hourly, 0); got.Sign() != 0 {
		t.Fatalf("zero time = %s", got)
	}
}

// ─── Connect ────────────────────────────────────────────────────────────────

func TestConnectTriesCandidates(t *testing.T) {
	h := newHarness(t)
	target := testKeypair(t)

	local, remote, err := p2p.Pair(h.localKP, target)
	if err != nil {
		t.Fatal(err)
	}
	defer remote.Close()
	h.dialer.Register("10.0.0.2:40102", local)

	sess, err := h.svc.Connect(context.Background(), target.PublicKeyHex(), []string{"10.0.0.1:40102", "10.0.0.2:40102"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sess.PeerKey() != target.PublicKeyHex() {
		t.Fatalf("peer = %s", sess.PeerKey())
	}
	if got := h.svc.Sessions().Get(target.PublicKeyHex()); got != sess {
		t.Fatal("session not registered")
	}

	// Reconnecting reuses the live session.
	again, err := h.svc.Connect(context.Background(), target.PublicKeyHex(), nil)
	if err != nil || again != sess {
		t.Fatalf("reconnect = %v, %v", again, err)
	}
}

func TestConnectNoRoute(t *testing.T) {
	h := newHarness(t)
	target := testKeypair(t)
	if _, err := h.svc.Connect(context.Background(), target.PublicKeyHex(), []string{"10.0.0.1:40102"}); !errors.Is(err, domain.ErrNoRouteToPeer) {
		t.Fatalf("err = %v, want ErrNoRouteToPeer", err)
	}
}

func TestConnectIdentityMismatch(t *testing.T) {
	h := newHarness(t)
	target := testKeypair(t)
	other := testKeypair(t)

	local, remote, err := p2p.Pair(h.localKP, other)
	if err != nil {
		t.Fatal(err)
	}
	defer remote.Close()
	h.dialer.Register("10.0.0.2:40102", local)

	if _, err := h.svc.Connect(context.Background(), target.PublicKeyHex(), []string{"10.0.0.2:40102"}); !errors.Is(err, domain.ErrNoRouteToPeer) {
		t.Fatalf("err = %v, want ErrNoRouteToPeer", err)
	}
}

func TestSpawnConnect(t *testing.T) {
	h := newHarness(t)
	target := testKeypair(t)

	local, remote, err := p2p.Pair(h.localKP, target)
	if err != nil {
		t.Fatal(err)
	}
	defer remote.Close()
	h.dialer.Register("10.0.0.2:40102", local)

	ok := make(chan *p2p.Session, 1)
	h.svc.SpawnConnect(context.Background(), target.PublicKeyHex(), []string{"10.0.0.2:40102"},
		func(s *p2p.Session) { ok <- s },
		func(err error) { t.Errorf("onError: %v", err) })

	select {
	case sess := <-ok:
		if sess.PeerKey() != target.PublicKeyHex() {
			t.Fatalf("peer = %s", sess.PeerKey())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("SpawnConnect never reported")
	}

	failed := make(chan error, 1)
	h.svc.SpawnConnect(context.Background(), testKeypair(t).PublicKeyHex(), []string{"10.9.9.9:1"},
		func(*p2p.Session) { t.Error("onSuccess for unreachable peer") },
		func(err error) { failed <- err })
	select {
	case err := <-failed:
		if !errors.Is(err, domain.ErrNoRouteToPeer) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("SpawnConnect never failed")
	}
}
