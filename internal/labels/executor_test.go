package labels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/teemow/inboxtriage/internal/logging"
	"github.com/teemow/inboxtriage/internal/retry"
	"github.com/teemow/inboxtriage/internal/triageerr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProvider keeps message labels in memory and can inject failures.
type fakeProvider struct {
	mu          sync.Mutex
	folders     []Folder
	labels      map[string][]string
	threads     map[string]Thread
	writeErrs   map[string][]error
	readErrs    map[string][]error
	writes      map[string]int
	writeCalls  map[string]int
	folderCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		folders:    testFolders(),
		labels:     map[string][]string{},
		threads:    map[string]Thread{},
		writeErrs:  map[string][]error{},
		readErrs:   map[string][]error{},
		writes:     map[string]int{},
		writeCalls: map[string]int{},
	}
}

func (f *fakeProvider) ListFolders(ctx context.Context) ([]Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folderCalls++
	return append([]Folder(nil), f.folders...), nil
}

func (f *fakeProvider) GetMessageLabels(ctx context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.readErrs[id]; len(errs) > 0 {
		f.readErrs[id] = errs[1:]
		return nil, errs[0]
	}
	return append([]string(nil), f.labels[id]...), nil
}

func (f *fakeProvider) SetMessageLabels(ctx context.Context, id string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls[id]++
	if errs := f.writeErrs[id]; len(errs) > 0 {
		f.writeErrs[id] = errs[1:]
		return errs[0]
	}
	f.writes[id]++
	f.labels[id] = append([]string(nil), ids...)
	return nil
}

func (f *fakeProvider) GetThread(ctx context.Context, id string) (Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.threads[id]
	if !ok {
		return Thread{}, &triageerr.ProviderError{Op: "threads.get", Code: 404}
	}
	return t, nil
}

func (f *fakeProvider) names(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return BuildResolver(f.folders, logging.Nop()).Translate(f.labels[id])
}

func noSleepPolicy() *retry.Policy {
	p := retry.Default()
	p.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return &p
}

func newTestExecutor(p Provider) *Executor {
	return NewExecutor(p, ExecutorOptions{Policy: noSleepPolicy(), Logger: logging.Nop()})
}

func server500() error { return &triageerr.ProviderError{Op: "messages.modify", Code: 500} }

func TestExecutor_ApproveScenario(t *testing.T) {
	p := newFakeProvider()
	p.labels["m1"] = []string{"INBOX", "Label_1"}

	res, err := newTestExecutor(p).ApplyToMessages(context.Background(), []string{"m1"}, WorkflowUpdate{Target: WorkflowDrafted})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{"m1"}, res.Updated)
	assert.ElementsMatch(t, []string{"INBOX", "workflow_drafted"}, p.names("m1"))
}

func TestExecutor_SameDeltaTwiceWritesOnce(t *testing.T) {
	p := newFakeProvider()
	p.labels["m1"] = []string{"INBOX", "Label_10"}
	e := newTestExecutor(p)
	u := AIUpdate{Labels: []string{"ai_newsletter"}}

	_, err := e.ApplyToMessages(context.Background(), []string{"m1"}, u)
	require.NoError(t, err)
	res, err := e.ApplyToMessages(context.Background(), []string{"m1"}, u)
	require.NoError(t, err)

	assert.Equal(t, 1, p.writes["m1"])
	assert.Equal(t, []string{"m1"}, res.Unchanged)
	assert.Equal(t, 2, p.folderCalls, "folders are re-listed for every operation")
}

func TestExecutor_RetriesTransientThenSucceeds(t *testing.T) {
	p := newFakeProvider()
	p.labels["m1"] = []string{"INBOX", "Label_1"}
	p.writeErrs["m1"] = []error{server500(), server500()}

	res, err := newTestExecutor(p).ApplyToMessages(context.Background(), []string{"m1"}, WorkflowUpdate{Target: WorkflowDrafted})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 3, p.writeCalls["m1"])
	assert.ElementsMatch(t, []string{"INBOX", "workflow_drafted"}, p.names("m1"))
}

func TestExecutor_PermanentErrorNotRetried(t *testing.T) {
	p := newFakeProvider()
	p.labels["m1"] = []string{"INBOX"}
	p.writeErrs["m1"] = []error{&triageerr.ProviderError{Op: "messages.modify", Code: 400}}

	res, err := newTestExecutor(p).ApplyToMessages(context.Background(), []string{"m1"}, WorkflowUpdate{Target: WorkflowToRead})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, res.Failed)
	assert.Equal(t, 1, p.writeCalls["m1"])

	var pe *triageerr.ProviderError
	require.ErrorAs(t, res.Err(), &pe)
	assert.Equal(t, 400, pe.Code)
}

func TestExecutor_PartialFailureReportsExactIDs(t *testing.T) {
	p := newFakeProvider()
	ids := []string{"m1", "m2", "m3", "m4", "m5"}
	for _, id := range ids {
		p.labels[id] = []string{"INBOX", "Label_10"}
	}
	p.writeErrs["m2"] = []error{server500(), server500(), server500()}
	p.writeErrs["m4"] = []error{server500(), server500(), server500()}

	res, err := newTestExecutor(p).ApplyToMessages(context.Background(), ids, AIUpdate{Labels: nil})
	require.NoError(t, err)

	assert.Equal(t, []string{"m2", "m4"}, res.Failed)
	assert.Equal(t, []string{"m1", "m3", "m5"}, res.Updated)
	for _, id := range []string{"m1", "m3", "m5"} {
		assert.Equal(t, []string{"INBOX"}, p.names(id))
	}
	assert.Equal(t, 3, p.writeCalls["m2"])

	var failed *FailedMessagesError
	require.ErrorAs(t, res.Err(), &failed)
	assert.Equal(t, []string{"m2", "m4"}, failed.Failed)

	var exhausted *retry.ExhaustedError
	assert.ErrorAs(t, res.Err(), &exhausted)
}

func TestExecutor_UnknownIDsSurviveWrite(t *testing.T) {
	p := newFakeProvider()
	p.labels["m1"] = []string{"INBOX", "Label_999", "Label_1"}

	_, err := newTestExecutor(p).ApplyToMessages(context.Background(), []string{"m1"}, WorkflowUpdate{Target: WorkflowToRead})
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.ElementsMatch(t, []string{"INBOX", "Label_999", "Label_3"}, p.labels["m1"])
}

func TestExecutor_MissingTargetLabelFails(t *testing.T) {
	p := newFakeProvider()
	p.labels["m1"] = []string{"INBOX"}

	res, err := newTestExecutor(p).ApplyToMessages(context.Background(), []string{"m1"}, AIUpdate{Labels: []string{"ai_not_in_account"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, res.Failed)
	var missing *MissingLabelsError
	require.ErrorAs(t, res.Err(), &missing)
	assert.Equal(t, []string{"ai_not_in_account"}, missing.Names)
	assert.Zero(t, p.writeCalls["m1"])
}

func TestExecutor_MissingLabelKeepsRemovals(t *testing.T) {
	tests := []struct {
		name    string
		drop    string
		current []string
		update  Update
	}{
		{"workflow", "workflow_drafted", []string{"INBOX", "Label_1"}, WorkflowUpdate{Target: WorkflowDrafted}},
		{"ai", "ai_newsletter", []string{"INBOX", "Label_10"}, AIUpdate{Labels: []string{"ai_newsletter"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider()
			var folders []Folder
			for _, f := range p.folders {
				if f.Name != tt.drop {
					folders = append(folders, f)
				}
			}
			p.folders = folders
			p.labels["m1"] = tt.current

			res, err := newTestExecutor(p).ApplyToMessages(context.Background(), []string{"m1"}, tt.update)
			require.NoError(t, err)
			assert.False(t, res.OK())
			assert.Equal(t, []string{"m1"}, res.Failed)
			assert.Empty(t, res.Updated)

			// The old label is not stripped when its replacement cannot be added.
			assert.Equal(t, tt.current, p.labels["m1"])
			assert.Zero(t, p.writeCalls["m1"])
		})
	}
}

func TestExecutor_ReadFailureRetried(t *testing.T) {
	p := newFakeProvider()
	p.labels["m1"] = []string{"INBOX"}
	p.readErrs["m1"] = []error{&triageerr.ProviderError{Op: "messages.get", Code: 429}}

	res, err := newTestExecutor(p).ApplyToMessages(context.Background(), []string{"m1"}, WorkflowUpdate{Target: WorkflowToRespond})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, res.Updated)
}

func TestExecutor_ApplyToThreadUsesNewestWindow(t *testing.T) {
	p := newFakeProvider()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var msgs []MessageRef
	// Provider order is deliberately not chronological.
	for _, id := range []string{"m3", "m1", "m7", "m2", "m6", "m4", "m5"} {
		n := int(id[1] - '0')
		msgs = append(msgs, MessageRef{ID: id, Timestamp: base.Add(time.Duration(n) * time.Hour)})
		p.labels[id] = []string{"INBOX"}
	}
	p.threads["t1"] = Thread{ID: "t1", Messages: msgs}

	res, err := newTestExecutor(p).ApplyToThread(context.Background(), "t1", AIUpdate{Labels: []string{"ai_urgent"}}, 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m3", "m4", "m5", "m6", "m7"}, res.Updated)
	assert.Equal(t, []string{"INBOX"}, p.names("m1"))
	assert.Equal(t, []string{"INBOX"}, p.names("m2"))
}

func TestExecutor_ApplyWorkflowCoversWholeThread(t *testing.T) {
	p := newFakeProvider()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var msgs []MessageRef
	for i := 1; i <= 7; i++ {
		id := "m" + string(rune('0'+i))
		msgs = append(msgs, MessageRef{ID: id, Timestamp: base.Add(time.Duration(i) * time.Hour)})
		p.labels[id] = []string{"INBOX", "Label_1"}
	}
	p.threads["t1"] = Thread{ID: "t1", Messages: msgs}

	res, err := newTestExecutor(p).ApplyWorkflow(context.Background(), "t1", WorkflowDrafted)
	require.NoError(t, err)
	assert.Len(t, res.Updated, 7)
	for _, m := range msgs {
		assert.ElementsMatch(t, []string{"INBOX", "workflow_drafted"}, p.names(m.ID), m.ID)
	}
}

func TestExecutor_ThreadNotFound(t *testing.T) {
	_, err := newTestExecutor(newFakeProvider()).ApplyToThread(context.Background(), "nope", WorkflowUpdate{Target: WorkflowNone}, 0)
	require.Error(t, err)
	assert.False(t, triageerr.IsTransient(err))
}

func TestExecutor_EmptyTargets(t *testing.T) {
	p := newFakeProvider()
	res, err := newTestExecutor(p).ApplyToMessages(context.Background(), nil, WorkflowUpdate{Target: WorkflowNone})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Zero(t, p.folderCalls)
}

func TestFailedMessagesError(t *testing.T) {
	inner := errors.New("boom")
	err := &FailedMessagesError{Update: "ai=[]", Failed: []string{"m2"}, Errors: map[string]error{"m2": inner}}
	assert.Equal(t, "label update ai=[] failed for 1 message(s): m2", err.Error())
	assert.ErrorIs(t, err, inner)
}
