package service

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jgwerner/nbexchange/internal/models"
	"github.com/jgwerner/nbexchange/internal/repository"
	"github.com/jgwerner/nbexchange/pkg/bundle"
)

// memLedger повторяет семантику Postgres-журнала в памяти: оптимистическая
// проверка observedSeq и вытеснение предыдущих активных записей того же вида.
type memLedger struct {
	mu      sync.Mutex
	actions []models.Action
	nextSeq int64
}

func (l *memLedger) maxSeqLocked(courseID, assignmentID string) int64 {
	var max int64
	for _, a := range l.actions {
		if a.CourseID == courseID && a.AssignmentID == assignmentID && a.SequenceNo > max {
			max = a.SequenceNo
		}
	}
	return max
}

func (l *memLedger) Append(ctx context.Context, action *models.Action, observedSeq int64) (*models.Action, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxSeqLocked(action.CourseID, action.AssignmentID) != observedSeq {
		return nil, models.Conflict(
			models.Scope(action.CourseID, action.AssignmentID, action.UserID),
			"ledger advanced past observed sequence",
		)
	}

	l.nextSeq++
	appended := *action
	appended.SequenceNo = l.nextSeq
	appended.Status = models.ActionStatusActive
	appended.CreatedAt = time.Now()

	if action.Kind.Mutating() {
		for i := range l.actions {
			prev := &l.actions[i]
			if prev.CourseID != action.CourseID || prev.AssignmentID != action.AssignmentID {
				continue
			}
			if prev.Kind != action.Kind || prev.Status != models.ActionStatusActive {
				continue
			}
			if action.Kind != models.ActionRelease && prev.UserID != action.UserID {
				continue
			}
			prev.Status = models.ActionStatusSuperseded
		}
	}

	l.actions = append(l.actions, appended)
	return &appended, nil
}

func (l *memLedger) History(ctx context.Context, courseID, assignmentID, userID string) ([]models.Action, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.Action
	for _, a := range l.actions {
		if a.CourseID != courseID || a.AssignmentID != assignmentID {
			continue
		}
		if userID != "" && a.UserID != userID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (l *memLedger) ListAssignments(ctx context.Context, courseID string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{})
	for _, a := range l.actions {
		if a.CourseID == courseID {
			seen[a.AssignmentID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (l *memLedger) ReferencedChecksums(ctx context.Context) (map[string]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	referenced := make(map[string]struct{})
	for _, a := range l.actions {
		if a.ArtifactChecksum != "" {
			referenced[a.ArtifactChecksum] = struct{}{}
		}
	}
	return referenced, nil
}

// memStore — хранилище артефактов в памяти с дедупликацией по сумме.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Put(ctx context.Context, checksum string, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[checksum]; ok {
		return false, nil
	}
	s.objects[checksum] = append([]byte(nil), data...)
	return true, nil
}

func (s *memStore) Get(ctx context.Context, checksum string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[checksum]
	if !ok {
		return nil, repository.ErrArtifactNotFound
	}
	return append([]byte(nil), data...), nil
}

// memDirectoryStore — справочник курсов и подписок в памяти.
type memDirectoryStore struct {
	mu      sync.Mutex
	courses map[string]*models.Course
	subs    map[string]*models.Subscription
}

func newMemDirectoryStore() *memDirectoryStore {
	return &memDirectoryStore{
		courses: make(map[string]*models.Course),
		subs:    make(map[string]*models.Subscription),
	}
}

func subKey(courseID, userID string) string {
	return courseID + "/" + userID
}

func (d *memDirectoryStore) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	course, ok := d.courses[id]
	if !ok {
		return nil, nil
	}
	copied := *course
	return &copied, nil
}

func (d *memDirectoryStore) EnsureCourse(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.courses[id]; !ok {
		d.courses[id] = &models.Course{ID: id, Active: true, CreatedAt: time.Now()}
	}
	return nil
}

func (d *memDirectoryStore) DeactivateCourse(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if course, ok := d.courses[id]; ok {
		course.Active = false
	}
	return nil
}

func (d *memDirectoryStore) Get(ctx context.Context, courseID, userID string) (*models.Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub, ok := d.subs[subKey(courseID, userID)]
	if !ok {
		return nil, nil
	}
	copied := *sub
	return &copied, nil
}

func (d *memDirectoryStore) Upsert(ctx context.Context, sub *models.Subscription) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	copied := *sub
	d.subs[subKey(sub.CourseID, sub.UserID)] = &copied
	return nil
}

func (d *memDirectoryStore) Deactivate(ctx context.Context, courseID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sub, ok := d.subs[subKey(courseID, userID)]; ok {
		sub.Active = false
	}
	return nil
}

func (d *memDirectoryStore) ListMembers(ctx context.Context, courseID string) ([]models.Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var members []models.Subscription
	for _, sub := range d.subs {
		if sub.CourseID == courseID && sub.Active {
			members = append(members, *sub)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members, nil
}

type testEnv struct {
	exchange ExchangeService
	ledger   *memLedger
	store    *memStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	checksums, err := NewChecksumService("sha256")
	if err != nil {
		t.Fatalf("Failed to create checksum service: %v", err)
	}

	ledger := &memLedger{}
	store := newMemStore()
	directory := NewDirectoryService(newMemDirectoryStore(), zerolog.Nop())

	exchange := NewExchangeService(ledger, store, checksums, directory, nil, zerolog.Nop(), ExchangeConfig{
		MaxAppendRetries: 5,
	})

	return &testEnv{exchange: exchange, ledger: ledger, store: store}
}

func packBundle(t *testing.T, notebooks ...bundle.Notebook) []byte {
	t.Helper()
	archive, err := bundle.Pack(notebooks)
	if err != nil {
		t.Fatalf("Failed to pack bundle: %v", err)
	}
	return archive
}

func exchangeReq(action, userID, role string, payload []byte) *models.ExchangeRequest {
	return &models.ExchangeRequest{
		Action:       action,
		CourseID:     "cs101",
		AssignmentID: "hw1",
		UserID:       userID,
		Role:         role,
		Payload:      payload,
	}
}

func TestReleaseFetchSubmitCollectFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	released, err := env.exchange.Release(ctx, exchangeReq("release", "prof", "instructor",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("task")})))
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if released.Checksum == "" || released.SequenceNo != 1 {
		t.Fatalf("Unexpected release response: %+v", released)
	}

	fetched, err := env.exchange.Fetch(ctx, exchangeReq("fetch", "alice", "student", nil))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if fetched.Checksum != released.Checksum {
		t.Errorf("Fetched checksum %s does not match released %s", fetched.Checksum, released.Checksum)
	}
	stored, err := env.store.Get(ctx, released.Checksum)
	if err != nil {
		t.Fatalf("Artifact missing from store: %v", err)
	}
	if !bytes.Equal(fetched.Artifact, stored) {
		t.Error("Fetched artifact does not match stored bytes")
	}

	first, err := env.exchange.Submit(ctx, exchangeReq("submit", "alice", "student",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("answer v1")})))
	if err != nil {
		t.Fatalf("First submit failed: %v", err)
	}

	interim, err := env.exchange.Collect(ctx, exchangeReq("collect", "prof", "instructor", nil))
	if err != nil {
		t.Fatalf("Interim collect failed: %v", err)
	}
	if len(interim.Collected) != 1 || interim.Collected[0].Checksum != first.Checksum {
		t.Fatalf("Expected first submission collected, got %+v", interim.Collected)
	}

	second, err := env.exchange.Submit(ctx, exchangeReq("submit", "alice", "student",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("answer v2")})))
	if err != nil {
		t.Fatalf("Second submit failed: %v", err)
	}
	if second.Checksum == first.Checksum {
		t.Fatal("Expected different checksums for different submissions")
	}

	collectReq := exchangeReq("collect", "prof", "instructor", nil)
	collected, err := env.exchange.Collect(ctx, collectReq)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(collected.Collected) != 1 {
		t.Fatalf("Expected exactly 1 collected submission, got %d", len(collected.Collected))
	}
	got := collected.Collected[0]
	if got.StudentID != "alice" || got.Checksum != second.Checksum {
		t.Errorf("Expected alice's latest submission %s, got %+v", second.Checksum, got)
	}

	// В истории видны обе сдачи: первая вытеснена, вторая активна
	history, err := env.exchange.History(ctx, "cs101", "hw1", "prof", models.RoleInstructor)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	var firstStatus, secondStatus models.ActionStatus
	for _, a := range history {
		if a.Kind != models.ActionSubmit {
			continue
		}
		switch a.ArtifactChecksum {
		case first.Checksum:
			firstStatus = a.Status
		case second.Checksum:
			secondStatus = a.Status
		}
	}
	if firstStatus != models.ActionStatusSuperseded {
		t.Errorf("Expected first submission superseded, got %q", firstStatus)
	}
	if secondStatus != models.ActionStatusActive {
		t.Errorf("Expected second submission active, got %q", secondStatus)
	}
}

func TestSubmitBeforeReleaseNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Курс создаётся первым действием преподавателя
	if _, err := env.exchange.Release(ctx, &models.ExchangeRequest{
		Action: "release", CourseID: "cs101", AssignmentID: "hw0", UserID: "prof", Role: "instructor",
		Payload: packBundle(t, bundle.Notebook{Name: "hw0.ipynb", Content: []byte("x")}),
	}); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	_, err := env.exchange.Submit(ctx, exchangeReq("submit", "alice", "student",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("answer")})))
	if !models.IsKind(err, models.ErrKindNotFound) {
		t.Errorf("Expected not_found for submit before release, got %v", err)
	}
}

func TestRoleEnforcement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload := packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("task")})

	if _, err := env.exchange.Release(ctx, exchangeReq("release", "prof", "instructor", payload)); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	tests := []struct {
		name string
		req  *models.ExchangeRequest
	}{
		{"student cannot release", exchangeReq("release", "alice", "student", payload)},
		{"instructor cannot submit", exchangeReq("submit", "prof", "instructor", payload)},
		{"instructor cannot fetch", exchangeReq("fetch", "prof", "instructor", nil)},
		{"student cannot collect", exchangeReq("collect", "alice", "student", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.exchange.Handle(ctx, tt.req)
			if !models.IsKind(err, models.ErrKindForbidden) {
				t.Errorf("Expected forbidden, got %v", err)
			}
		})
	}
}

func TestFetchUnknownCourseNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.exchange.Fetch(context.Background(), exchangeReq("fetch", "alice", "student", nil))
	if !models.IsKind(err, models.ErrKindNotFound) {
		t.Errorf("Expected not_found for unknown course, got %v", err)
	}
}

func TestRolePinnedAfterFirstAction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.exchange.Release(ctx, exchangeReq("release", "prof", "instructor",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("task")}))); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := env.exchange.Fetch(ctx, exchangeReq("fetch", "alice", "student", nil)); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	// Та же identity с другой ролью отклоняется, пока подписка активна
	_, err := env.exchange.Release(ctx, exchangeReq("release", "alice", "instructor",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("task")})))
	if !models.IsKind(err, models.ErrKindForbidden) {
		t.Errorf("Expected forbidden on role change, got %v", err)
	}
}

func TestFeedbackRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.exchange.Release(ctx, exchangeReq("release", "prof", "instructor",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("task")}))); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Отзыва ещё нет
	if _, err := env.exchange.FetchFeedback(ctx, exchangeReq("fetch_feedback", "alice", "student", nil)); !models.IsKind(err, models.ErrKindNotFound) {
		t.Fatalf("Expected not_found before feedback release, got %v", err)
	}

	feedbackPayload := packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("graded: 9/10")})

	// Отзыв без сдачи не прикрепляется
	noSub := exchangeReq("release_feedback", "prof", "instructor", feedbackPayload)
	noSub.TargetUserID = "alice"
	if _, err := env.exchange.ReleaseFeedback(ctx, noSub); !models.IsKind(err, models.ErrKindNotFound) {
		t.Fatalf("Expected not_found for feedback without submission, got %v", err)
	}

	if _, err := env.exchange.Submit(ctx, exchangeReq("submit", "alice", "student",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("answer")}))); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	released, err := env.exchange.ReleaseFeedback(ctx, noSub)
	if err != nil {
		t.Fatalf("ReleaseFeedback failed: %v", err)
	}

	fetched, err := env.exchange.FetchFeedback(ctx, exchangeReq("fetch_feedback", "alice", "student", nil))
	if err != nil {
		t.Fatalf("FetchFeedback failed: %v", err)
	}
	if fetched.Checksum != released.Checksum {
		t.Errorf("Feedback checksum mismatch: released %s, fetched %s", released.Checksum, fetched.Checksum)
	}
	stored, err := env.store.Get(ctx, released.Checksum)
	if err != nil {
		t.Fatalf("Feedback artifact missing: %v", err)
	}
	if !bytes.Equal(fetched.Artifact, stored) {
		t.Error("Fetched feedback bytes do not match stored artifact")
	}

	// Чужой отзыв не виден
	if _, err := env.exchange.FetchFeedback(ctx, exchangeReq("fetch_feedback", "bob", "student", nil)); !models.IsKind(err, models.ErrKindNotFound) {
		t.Errorf("Expected not_found for student without feedback, got %v", err)
	}
}

func TestReleaseFeedbackRequiresTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.exchange.Release(ctx, exchangeReq("release", "prof", "instructor",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("task")}))); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	_, err := env.exchange.ReleaseFeedback(ctx, exchangeReq("release_feedback", "prof", "instructor",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("graded")})))
	if !models.IsKind(err, models.ErrKindInvalid) {
		t.Errorf("Expected invalid without target_user_id, got %v", err)
	}
}

func TestReleaseDeduplicatesIdenticalContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := bundle.Notebook{Name: "a.ipynb", Content: []byte("alpha")}
	b := bundle.Notebook{Name: "b.ipynb", Content: []byte("beta")}

	first, err := env.exchange.Release(ctx, exchangeReq("release", "prof", "instructor", packBundle(t, a, b)))
	if err != nil {
		t.Fatalf("First release failed: %v", err)
	}
	if first.Deduplicated {
		t.Error("First release must not be deduplicated")
	}

	// Тот же набор в другом порядке даёт ту же каноническую сумму
	second, err := env.exchange.Release(ctx, exchangeReq("release", "prof", "instructor", packBundle(t, b, a)))
	if err != nil {
		t.Fatalf("Second release failed: %v", err)
	}
	if second.Checksum != first.Checksum {
		t.Errorf("Expected identical checksums, got %s and %s", first.Checksum, second.Checksum)
	}
	if !second.Deduplicated {
		t.Error("Second release of identical content must be deduplicated")
	}
	if second.SequenceNo <= first.SequenceNo {
		t.Error("Re-release must still append a new ledger record")
	}
}

func TestMalformedPayloadInvalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.exchange.Release(ctx, exchangeReq("release", "prof", "instructor", []byte("not a tar archive")))
	if !models.IsKind(err, models.ErrKindInvalid) {
		t.Errorf("Expected invalid for malformed payload, got %v", err)
	}

	_, err = env.exchange.Release(ctx, exchangeReq("release", "prof", "instructor", nil))
	if !models.IsKind(err, models.ErrKindInvalid) {
		t.Errorf("Expected invalid for empty payload, got %v", err)
	}
}

func TestConcurrentSubmitsSingleActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.exchange.Release(ctx, exchangeReq("release", "prof", "instructor",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("task")}))); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	const attempts = 8
	payloads := make([][]byte, attempts)
	for i := range payloads {
		payloads[i] = packBundle(t, bundle.Notebook{
			Name:    "hw1.ipynb",
			Content: []byte{'v', byte('0' + i)},
		})
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.exchange.Submit(ctx, exchangeReq("submit", "alice", "student", payloads[i]))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !models.IsKind(err, models.ErrKindConflict) {
			t.Errorf("Unexpected submit error: %v", err)
		}
	}
	if succeeded == 0 {
		t.Fatal("Expected at least one concurrent submit to succeed")
	}

	history, err := env.ledger.History(ctx, "cs101", "hw1", "")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	state := Project("cs101", "hw1", history)
	if len(state.Submissions) != 1 {
		t.Fatalf("Expected exactly one student with submissions, got %d", len(state.Submissions))
	}

	active := 0
	for _, a := range history {
		if a.Kind == models.ActionSubmit && a.Status == models.ActionStatusActive {
			active++
		}
	}
	if active != 1 {
		t.Errorf("Expected exactly one active submission, got %d", active)
	}
}

func TestListAssignmentsVisibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.exchange.Release(ctx, exchangeReq("release", "prof", "instructor",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("task")}))); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := env.exchange.Submit(ctx, exchangeReq("submit", "alice", "student",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("a")}))); err != nil {
		t.Fatalf("Alice submit failed: %v", err)
	}
	if _, err := env.exchange.Submit(ctx, exchangeReq("submit", "bob", "student",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("b")}))); err != nil {
		t.Fatalf("Bob submit failed: %v", err)
	}

	instructorView, err := env.exchange.ListAssignments(ctx, "cs101", "prof", models.RoleInstructor)
	if err != nil {
		t.Fatalf("Instructor listing failed: %v", err)
	}
	if len(instructorView) != 1 || len(instructorView[0].Submissions) != 2 {
		t.Errorf("Expected 1 assignment with 2 submissions for instructor, got %+v", instructorView)
	}

	studentView, err := env.exchange.ListAssignments(ctx, "cs101", "alice", models.RoleStudent)
	if err != nil {
		t.Fatalf("Student listing failed: %v", err)
	}
	if len(studentView) != 1 || len(studentView[0].Submissions) != 1 {
		t.Fatalf("Expected alice to see 1 assignment with only her submission, got %+v", studentView)
	}
	if studentView[0].Submissions[0].StudentID != "alice" {
		t.Errorf("Expected alice's own submission, got %s", studentView[0].Submissions[0].StudentID)
	}

	// Без подписки листинг запрещён
	if _, err := env.exchange.ListAssignments(ctx, "cs101", "stranger", models.RoleStudent); !models.IsKind(err, models.ErrKindForbidden) {
		t.Errorf("Expected forbidden for non-member, got %v", err)
	}
}

func TestHistoryFilteredForStudents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.exchange.Release(ctx, exchangeReq("release", "prof", "instructor",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("task")}))); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := env.exchange.Submit(ctx, exchangeReq("submit", "alice", "student",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("a")}))); err != nil {
		t.Fatalf("Alice submit failed: %v", err)
	}
	if _, err := env.exchange.Submit(ctx, exchangeReq("submit", "bob", "student",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("b")}))); err != nil {
		t.Fatalf("Bob submit failed: %v", err)
	}

	full, err := env.exchange.History(ctx, "cs101", "hw1", "prof", models.RoleInstructor)
	if err != nil {
		t.Fatalf("Instructor history failed: %v", err)
	}
	if len(full) != 3 {
		t.Errorf("Expected 3 records for instructor, got %d", len(full))
	}

	own, err := env.exchange.History(ctx, "cs101", "hw1", "alice", models.RoleStudent)
	if err != nil {
		t.Fatalf("Student history failed: %v", err)
	}
	for _, a := range own {
		if a.UserID != "alice" {
			t.Errorf("Student history leaked record of %s", a.UserID)
		}
	}
	if len(own) != 1 {
		t.Errorf("Expected 1 record for alice, got %d", len(own))
	}
}

func TestTargetedCollect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.exchange.Release(ctx, exchangeReq("release", "prof", "instructor",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("task")}))); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := env.exchange.Submit(ctx, exchangeReq("submit", "alice", "student",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("a")}))); err != nil {
		t.Fatalf("Alice submit failed: %v", err)
	}
	if _, err := env.exchange.Submit(ctx, exchangeReq("submit", "bob", "student",
		packBundle(t, bundle.Notebook{Name: "hw1.ipynb", Content: []byte("b")}))); err != nil {
		t.Fatalf("Bob submit failed: %v", err)
	}

	req := exchangeReq("collect", "prof", "instructor", nil)
	req.TargetUserID = "bob"
	collected, err := env.exchange.Collect(ctx, req)
	if err != nil {
		t.Fatalf("Targeted collect failed: %v", err)
	}
	if len(collected.Collected) != 1 || collected.Collected[0].StudentID != "bob" {
		t.Errorf("Expected only bob's submission, got %+v", collected.Collected)
	}

	req.TargetUserID = "charlie"
	if _, err := env.exchange.Collect(ctx, req); !models.IsKind(err, models.ErrKindNotFound) {
		t.Errorf("Expected not_found for student without submission, got %v", err)
	}
}
