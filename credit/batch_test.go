package credit_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hearth/credit-engine/credit"
	"github.com/hearth/credit-engine/credit/store"
	"github.com/hearth/credit-engine/notify"
)

// =============================================================================
// FIXTURES
// =============================================================================

// sentMail captures dispatched reports for assertions.
type sentMail struct {
	recipient string
	subject   string
	body      string
}

type batchFixture struct {
	mem  *store.Memory
	orch *credit.Orchestrator
	sent *[]sentMail
}

func newBatchFixture(t *testing.T) *batchFixture {
	t.Helper()
	mem := store.NewMemory()

	var sent []sentMail
	dispatcher := notify.FuncDispatcher(func(_ context.Context, recipient, subject, body string) error {
		sent = append(sent, sentMail{recipient, subject, body})
		return nil
	})

	proc := credit.NewProcessor(mem, mem, mem, mem)
	proc.Now = func() time.Time { return date(2026, time.January, 15) }

	orch := &credit.Orchestrator{
		Families:   mem,
		Audit:      mem,
		Processor:  proc,
		Dispatcher: dispatcher,
		Reports:    notify.Builder{},
		Now:        proc.Now,
	}
	return &batchFixture{mem: mem, orch: orch, sent: &sent}
}

// addFamily seeds a family due on the given day with one indebted child
// on the standard tier table.
func (f *batchFixture) addFamily(t *testing.T, id credit.FamilyID, day int, recipient string) credit.ChildID {
	t.Helper()
	ctx := context.Background()

	if err := f.mem.SaveFamily(ctx, credit.Family{
		ID: id, Name: string(id), SettlementDay: day, Recipient: recipient,
	}); err != nil {
		t.Fatalf("seed family: %v", err)
	}
	if err := f.mem.ReplaceTiers(ctx, id, standardTiers()); err != nil {
		t.Fatalf("seed tiers: %v", err)
	}

	childID := credit.ChildID("kid-" + string(id))
	if err := f.mem.SaveSettings(ctx, credit.CreditSettings{
		FamilyID: id, ChildID: childID, Enabled: true,
		CreditLimit: 40, OriginalCreditLimit: 50, MaxCreditLimit: 50,
	}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	f.mem.SetBalance(id, childID, -35)
	return childID
}

func (f *batchFixture) auditEntry(t *testing.T, familyID credit.FamilyID) credit.ReportEntry {
	t.Helper()
	entries, err := f.mem.ListEntries(context.Background(), familyID, 0)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("family %s has %d audit entries, want 1", familyID, len(entries))
	}
	return entries[0]
}

// =============================================================================
// HAPPY PATH AND IDEMPOTENCY
// =============================================================================

func TestRunDue_SettlesDueFamilyAndSendsReport(t *testing.T) {
	f := newBatchFixture(t)
	childID := f.addFamily(t, "fam-a", 15, "parent@fam-a.test")

	result, err := f.orch.RunDue(context.Background(), date(2026, time.January, 15))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Due != 1 || result.Processed != 1 || result.Skipped != 0 {
		t.Errorf("result = %+v, want 1 due, 1 processed", result)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}

	records, _ := f.mem.ListRecordsForChild(context.Background(), childID, 0)
	if len(records) != 1 {
		t.Fatalf("got %d settlement records, want 1", len(records))
	}

	entry := f.auditEntry(t, "fam-a")
	if entry.Status != credit.StatusSent {
		t.Errorf("audit status = %s, want sent", entry.Status)
	}
	if entry.SentAt == nil {
		t.Error("sent entry has no SentAt")
	}

	if len(*f.sent) != 1 {
		t.Fatalf("dispatched %d reports, want 1", len(*f.sent))
	}
	mail := (*f.sent)[0]
	if mail.recipient != "parent@fam-a.test" {
		t.Errorf("recipient = %s", mail.recipient)
	}
	if !strings.Contains(mail.body, "Interest charged: 3 points") {
		t.Errorf("report body missing the interest line:\n%s", mail.body)
	}
}

func TestRunDue_SecondRunOfSamePeriodIsANoOp(t *testing.T) {
	// GIVEN: a family already settled this period
	f := newBatchFixture(t)
	childID := f.addFamily(t, "fam-a", 15, "parent@fam-a.test")
	ctx := context.Background()

	if _, err := f.orch.RunDue(ctx, date(2026, time.January, 15)); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// WHEN: the scheduler fires again on the same day
	result, err := f.orch.RunDue(ctx, date(2026, time.January, 15))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	// THEN: the family is counted as skipped and nothing is duplicated
	if result.Due != 1 || result.Processed != 0 || result.Skipped != 1 {
		t.Errorf("result = %+v, want 1 due, 0 processed, 1 skipped", result)
	}
	records, _ := f.mem.ListRecordsForChild(ctx, childID, 0)
	if len(records) != 1 {
		t.Errorf("got %d settlement records after replay, want 1", len(records))
	}
	f.auditEntry(t, "fam-a") // fails the test if a second entry appeared
	if len(*f.sent) != 1 {
		t.Errorf("dispatched %d reports after replay, want 1", len(*f.sent))
	}
}

func TestRunDue_NextPeriodSettlesAgain(t *testing.T) {
	f := newBatchFixture(t)
	childID := f.addFamily(t, "fam-a", 15, "parent@fam-a.test")
	ctx := context.Background()

	if _, err := f.orch.RunDue(ctx, date(2026, time.January, 15)); err != nil {
		t.Fatalf("january: %v", err)
	}
	result, err := f.orch.RunDue(ctx, date(2026, time.February, 15))
	if err != nil {
		t.Fatalf("february: %v", err)
	}

	if result.Processed != 1 {
		t.Errorf("february result = %+v, want 1 processed", result)
	}
	records, _ := f.mem.ListRecordsForChild(ctx, childID, 0)
	if len(records) != 2 {
		t.Errorf("got %d settlement records across two periods, want 2", len(records))
	}
}

func TestRunDue_NotDueFamilyIsUntouched(t *testing.T) {
	f := newBatchFixture(t)
	childID := f.addFamily(t, "fam-a", 15, "parent@fam-a.test")

	result, err := f.orch.RunDue(context.Background(), date(2026, time.January, 14))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Due != 0 || result.Processed != 0 {
		t.Errorf("result = %+v, want nothing due", result)
	}
	records, _ := f.mem.ListRecordsForChild(context.Background(), childID, 0)
	if len(records) != 0 {
		t.Errorf("not-due family was settled: %d records", len(records))
	}
}

func TestRunDue_EndOfMonthWildcard(t *testing.T) {
	f := newBatchFixture(t)
	f.addFamily(t, "fam-a", credit.LastDayOfMonth, "parent@fam-a.test")
	ctx := context.Background()

	result, err := f.orch.RunDue(ctx, date(2026, time.February, 28))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Due != 1 || result.Processed != 1 {
		t.Errorf("result on Feb 28 = %+v, want 1 processed", result)
	}

	result, err = f.orch.RunDue(ctx, date(2026, time.March, 30))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Due != 0 {
		t.Errorf("wildcard fired on Mar 30: %+v", result)
	}
}

// =============================================================================
// FAILURE ISOLATION
// =============================================================================

// flakyLedger fails balance reads for one child and delegates the rest.
type flakyLedger struct {
	*store.Memory
	brokenChild credit.ChildID
}

func (l *flakyLedger) GetBalance(ctx context.Context, childID credit.ChildID) (int64, error) {
	if childID == l.brokenChild {
		return 0, errors.New("ledger timeout")
	}
	return l.Memory.GetBalance(ctx, childID)
}

func TestRunDue_OneFailingFamilyDoesNotAbortTheBatch(t *testing.T) {
	// GIVEN: three due families, B's only child cannot be read
	f := newBatchFixture(t)
	childA := f.addFamily(t, "fam-a", 15, "parent@fam-a.test")
	childB := f.addFamily(t, "fam-b", 15, "parent@fam-b.test")
	childC := f.addFamily(t, "fam-c", 15, "parent@fam-c.test")
	f.orch.Processor.Ledger = &flakyLedger{Memory: f.mem, brokenChild: childB}

	// WHEN: the batch runs
	result, err := f.orch.RunDue(context.Background(), date(2026, time.January, 15))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// THEN: A and C are settled, B's failure is reported, the batch survives
	if result.Due != 3 || result.Processed != 2 {
		t.Errorf("result = %+v, want 3 due, 2 processed", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "fam-b") {
		t.Errorf("errors = %v, want one naming fam-b", result.Errors)
	}

	ctx := context.Background()
	for _, childID := range []credit.ChildID{childA, childC} {
		records, _ := f.mem.ListRecordsForChild(ctx, childID, 0)
		if len(records) != 1 {
			t.Errorf("child %s: %d records, want 1", childID, len(records))
		}
	}
	records, _ := f.mem.ListRecordsForChild(ctx, childB, 0)
	if len(records) != 0 {
		t.Errorf("failed child has %d records", len(records))
	}
	if entry := f.auditEntry(t, "fam-b"); entry.Status != credit.StatusFailed {
		t.Errorf("fam-b audit status = %s, want failed", entry.Status)
	}
}

func TestRunDue_OneFailingChildDoesNotFailTheFamily(t *testing.T) {
	// GIVEN: a family with two children, one unreadable
	f := newBatchFixture(t)
	childA := f.addFamily(t, "fam-a", 15, "parent@fam-a.test")
	ctx := context.Background()

	sibling := credit.ChildID("kid-fam-a-2")
	if err := f.mem.SaveSettings(ctx, credit.CreditSettings{
		FamilyID: "fam-a", ChildID: sibling, Enabled: true,
		CreditLimit: 40, OriginalCreditLimit: 50, MaxCreditLimit: 50,
	}); err != nil {
		t.Fatalf("seed sibling: %v", err)
	}
	f.mem.SetBalance("fam-a", sibling, -10)
	f.orch.Processor.Ledger = &flakyLedger{Memory: f.mem, brokenChild: sibling}

	// WHEN: the batch runs
	result, err := f.orch.RunDue(ctx, date(2026, time.January, 15))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// THEN: the family counts as processed with the child error attached
	if result.Processed != 1 {
		t.Errorf("result = %+v, want 1 processed", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], string(sibling)) {
		t.Errorf("errors = %v, want one naming the failed child", result.Errors)
	}
	records, _ := f.mem.ListRecordsForChild(ctx, childA, 0)
	if len(records) != 1 {
		t.Errorf("healthy sibling has %d records, want 1", len(records))
	}
}

func TestRunDue_AllChildrenFailingFailsTheFamily(t *testing.T) {
	f := newBatchFixture(t)
	childID := f.addFamily(t, "fam-a", 15, "parent@fam-a.test")
	f.orch.Processor.Ledger = &flakyLedger{Memory: f.mem, brokenChild: childID}

	result, err := f.orch.RunDue(context.Background(), date(2026, time.January, 15))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Processed != 0 || len(result.Errors) != 1 {
		t.Errorf("result = %+v, want 0 processed and 1 error", result)
	}
	if entry := f.auditEntry(t, "fam-a"); entry.Status != credit.StatusFailed {
		t.Errorf("audit status = %s, want failed", entry.Status)
	}
}

// stallingLedger hangs every balance read until the caller's deadline.
type stallingLedger struct {
	*store.Memory
}

func (l *stallingLedger) GetBalance(ctx context.Context, _ credit.ChildID) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

// deadlineAudit refuses writes on an expired context, the way a real
// database driver would.
type deadlineAudit struct {
	*store.Memory
}

func (a *deadlineAudit) UpdateStatus(ctx context.Context, id string, status credit.ReportStatus, sentAt *time.Time, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.Memory.UpdateStatus(ctx, id, status, sentAt, errMsg)
}

func TestRunDue_TimedOutFamilyStillGetsTerminalAuditStatus(t *testing.T) {
	// GIVEN: a family whose settlement outlives its per-family budget
	f := newBatchFixture(t)
	f.addFamily(t, "fam-a", 15, "parent@fam-a.test")
	f.orch.Processor.Ledger = &stallingLedger{Memory: f.mem}
	f.orch.Audit = &deadlineAudit{Memory: f.mem}
	f.orch.FamilyTimeout = 30 * time.Millisecond

	// WHEN: the batch runs
	result, err := f.orch.RunDue(context.Background(), date(2026, time.January, 15))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Processed != 0 || len(result.Errors) != 1 {
		t.Errorf("result = %+v, want 0 processed and 1 error", result)
	}

	// THEN: the claimed entry ends failed, not stuck at pending
	entry := f.auditEntry(t, "fam-a")
	if entry.Status != credit.StatusFailed {
		t.Errorf("audit status = %s, want failed", entry.Status)
	}
	if entry.ErrorMessage == "" {
		t.Error("failed entry carries no error message")
	}
}

type panickingBuilder struct{}

func (panickingBuilder) Build(credit.Family, credit.Period, []credit.SettlementRecord) (string, string) {
	panic("template explosion")
}

func TestRunDue_PanicInOneFamilyIsContained(t *testing.T) {
	f := newBatchFixture(t)
	f.addFamily(t, "fam-a", 15, "parent@fam-a.test")
	f.orch.Reports = panickingBuilder{}

	result, err := f.orch.RunDue(context.Background(), date(2026, time.January, 15))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "panic") {
		t.Errorf("errors = %v, want one panic error", result.Errors)
	}
}

func TestRunDue_InvalidSettlementDayIsReported(t *testing.T) {
	f := newBatchFixture(t)
	f.addFamily(t, "fam-a", 15, "parent@fam-a.test")
	if err := f.mem.SaveFamily(context.Background(), credit.Family{
		ID: "fam-bad", Name: "fam-bad", SettlementDay: 31,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := f.orch.RunDue(context.Background(), date(2026, time.January, 15))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("healthy family not processed: %+v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "fam-bad") {
		t.Errorf("errors = %v, want one naming fam-bad", result.Errors)
	}
}

func TestRunDue_ListFamiliesFailureFailsTheRun(t *testing.T) {
	// A failed due-family read must never look like "zero due families".
	f := newBatchFixture(t)
	f.orch.Families = failingFamilies{}

	_, err := f.orch.RunDue(context.Background(), date(2026, time.January, 15))
	if err == nil {
		t.Fatal("expected the run to fail")
	}
}

type failingFamilies struct{}

func (failingFamilies) GetFamily(context.Context, credit.FamilyID) (*credit.Family, error) {
	return nil, errors.New("family store down")
}
func (failingFamilies) ListFamilies(context.Context) ([]credit.Family, error) {
	return nil, errors.New("family store down")
}
func (failingFamilies) SaveFamily(context.Context, credit.Family) error {
	return errors.New("family store down")
}

// =============================================================================
// NOTIFICATION OUTCOMES
// =============================================================================

func TestRunDue_NoRecipientSkipsNotification(t *testing.T) {
	f := newBatchFixture(t)
	childID := f.addFamily(t, "fam-a", 15, "")

	result, err := f.orch.RunDue(context.Background(), date(2026, time.January, 15))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Settlement happens; only delivery is skipped.
	if result.Processed != 1 {
		t.Errorf("result = %+v, want 1 processed", result)
	}
	records, _ := f.mem.ListRecordsForChild(context.Background(), childID, 0)
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
	if entry := f.auditEntry(t, "fam-a"); entry.Status != credit.StatusSkipped {
		t.Errorf("audit status = %s, want skipped", entry.Status)
	}
	if len(*f.sent) != 0 {
		t.Errorf("dispatched %d reports to an empty recipient", len(*f.sent))
	}
}

func TestRunDue_DeliveryFailureDoesNotUnwindSettlement(t *testing.T) {
	f := newBatchFixture(t)
	childID := f.addFamily(t, "fam-a", 15, "parent@fam-a.test")
	f.orch.Dispatcher = notify.FuncDispatcher(func(context.Context, string, string, string) error {
		return errors.New("relay unreachable")
	})

	result, err := f.orch.RunDue(context.Background(), date(2026, time.January, 15))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Processed != 1 {
		t.Errorf("result = %+v, want 1 processed", result)
	}
	records, _ := f.mem.ListRecordsForChild(context.Background(), childID, 0)
	if len(records) != 1 {
		t.Errorf("settlement rolled back on delivery failure: %d records", len(records))
	}
	entry := f.auditEntry(t, "fam-a")
	if entry.Status != credit.StatusFailed {
		t.Errorf("audit status = %s, want failed", entry.Status)
	}
	if !strings.Contains(entry.ErrorMessage, "relay unreachable") {
		t.Errorf("audit error = %q", entry.ErrorMessage)
	}
}
