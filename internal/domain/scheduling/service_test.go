package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/clinic/clinic/pkg/calendar"
)

// -- Mock Repositories --

type mockConfigRepo struct {
	mu      sync.Mutex
	configs map[int64]*ScheduleConfig
	nextID  int64
}

func newMockConfigRepo() *mockConfigRepo {
	return &mockConfigRepo{configs: make(map[int64]*ScheduleConfig)}
}

func (m *mockConfigRepo) Upsert(_ context.Context, cfg *ScheduleConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.configs {
		if existing.Date == cfg.Date {
			cfg.ID = id
			c := *cfg
			m.configs[id] = &c
			return nil
		}
	}
	m.nextID++
	cfg.ID = m.nextID
	c := *cfg
	m.configs[cfg.ID] = &c
	return nil
}

func (m *mockConfigRepo) GetByID(_ context.Context, id int64) (*ScheduleConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockConfigRepo) GetByDate(ctx context.Context, date calendar.Date) (*ScheduleConfig, error) {
	items, _ := m.ListByDate(ctx, date)
	if len(items) == 0 {
		return nil, ErrScheduleNotFound
	}
	return items[len(items)-1], nil
}

func (m *mockConfigRepo) ListByDate(_ context.Context, date calendar.Date) ([]*ScheduleConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ScheduleConfig
	for _, c := range m.configs {
		if c.Date == date {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockConfigRepo) List(_ context.Context) ([]*ScheduleConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ScheduleConfig
	for _, c := range m.configs {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *mockConfigRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[id]; !ok {
		return ErrScheduleNotFound
	}
	delete(m.configs, id)
	return nil
}

func (m *mockConfigRepo) DeleteByDate(_ context.Context, date calendar.Date) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.configs {
		if c.Date == date {
			delete(m.configs, id)
			n++
		}
	}
	return n, nil
}

// mockAppointmentRepo enforces the (date, time) unique index like the
// database does.
type mockAppointmentRepo struct {
	mu     sync.Mutex
	appts  map[int64]*Appointment
	nextID int64
	locks  []calendar.Date
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{appts: make(map[int64]*Appointment)}
}

func (m *mockAppointmentRepo) slotUsedLocked(date calendar.Date, t calendar.Clock, excludeID int64) bool {
	for id, a := range m.appts {
		if id != excludeID && a.Date == date && a.Time == t {
			return true
		}
	}
	return false
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slotUsedLocked(a.Date, a.Time, 0) {
		return fmt.Errorf("create appointment: %w", ErrSlotConflict)
	}
	m.nextID++
	a.ID = m.nextID
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id int64) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) List(_ context.Context) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.appts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockAppointmentRepo) ListByDate(ctx context.Context, date calendar.Date) ([]*Appointment, error) {
	all, _ := m.List(ctx)
	var out []*Appointment
	for _, a := range all {
		if a.Date == date {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockAppointmentRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	if m.slotUsedLocked(a.Date, a.Time, a.ID) {
		return fmt.Errorf("update appointment: %w", ErrSlotConflict)
	}
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.appts, id)
	return nil
}

func (m *mockAppointmentRepo) CountForPatientOnDate(_ context.Context, patientID int64, date calendar.Date, excludeID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, a := range m.appts {
		if id != excludeID && a.PatientID == patientID && a.Date == date {
			n++
		}
	}
	return n, nil
}

func (m *mockAppointmentRepo) ExistsForPatientSlot(_ context.Context, patientID int64, date calendar.Date, t calendar.Clock, excludeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.appts {
		if id != excludeID && a.PatientID == patientID && a.Date == date && a.Time == t {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockAppointmentRepo) ExistsForSlot(_ context.Context, date calendar.Date, t calendar.Clock, excludeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slotUsedLocked(date, t, excludeID), nil
}

func (m *mockAppointmentRepo) CountOnDate(_ context.Context, date calendar.Date) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.Date == date {
			n++
		}
	}
	return n, nil
}

func (m *mockAppointmentRepo) BookedTimes(ctx context.Context, date calendar.Date) ([]calendar.Clock, error) {
	items, _ := m.ListByDate(ctx, date)
	var out []calendar.Clock
	for _, a := range items {
		out = append(out, a.Time)
	}
	return out, nil
}

func (m *mockAppointmentRepo) IDsForPatient(_ context.Context, patientID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, a := range m.appts {
		if a.PatientID == patientID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *mockAppointmentRepo) DeleteByPatient(_ context.Context, patientID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, a := range m.appts {
		if a.PatientID == patientID {
			delete(m.appts, id)
			n++
		}
	}
	return n, nil
}

func (m *mockAppointmentRepo) LockDate(_ context.Context, date calendar.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks = append(m.locks, date)
	return nil
}

type mockPatients map[int64]bool

func (m mockPatients) PatientExists(_ context.Context, id int64) (bool, error) {
	return m[id], nil
}

type mockUsers struct {
	roles map[int64]string
}

func (m *mockUsers) UserHasRole(_ context.Context, id int64, role string) (bool, error) {
	return m.roles[id] == role, nil
}

func (m *mockUsers) FirstUserWithRole(_ context.Context, role string) (int64, bool, error) {
	var ids []int64
	for id, r := range m.roles {
		if r == role {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[0], true, nil
}

// serialTx runs one transaction at a time, which is what the per-date
// advisory lock gives bookings for the same date.
type serialTx struct {
	mu    sync.Mutex
	calls int
}

func (t *serialTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return fn(ctx)
}

// looseTx runs transactions concurrently, leaving only the unique index.
type looseTx struct{}

func (looseTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockVisitCleaner struct {
	mu      sync.Mutex
	deleted [][]int64
	err     error
}

func (m *mockVisitCleaner) DeleteForAppointments(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ids)
	return m.err
}

// -- Fixtures --

type fixture struct {
	svc     *Service
	configs *mockConfigRepo
	appts   *mockAppointmentRepo
	tx      *serialTx
	visits  *mockVisitCleaner
}

func newFixture(opts Options) *fixture {
	users := &mockUsers{roles: map[int64]string{2: RoleDoctor, 3: RoleDoctor, 9: "secretary"}}
	f := &fixture{
		configs: newMockConfigRepo(),
		appts:   newMockAppointmentRepo(),
		tx:      &serialTx{},
		visits:  &mockVisitCleaner{},
	}
	patients := mockPatients{1: true, 4: true, 5: true}
	f.svc = NewService(f.configs, f.appts, patients, FirstDoctorPolicy{Users: users}, f.tx, opts).
		WithVisitCleaner(f.visits)
	return f
}

func (f *fixture) seedConfig(t *testing.T, date, start, end string, duration, buffer int) *ScheduleConfig {
	t.Helper()
	cfg, err := f.svc.UpsertConfig(context.Background(), ScheduleConfigInput{
		Date: date, StartTime: start, EndTime: end, SlotDuration: duration, Buffer: buffer,
	})
	if err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return cfg
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func booking(patient int64, date, clock string) BookingRequest {
	return BookingRequest{PatientID: patient, UserID: int64Ptr(2), Date: date, Time: clock}
}

// -- Schedule config --

func TestUpsertConfig_CreatesAndOverwrites(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	first := f.seedConfig(t, "2025-06-10", "09:00", "17:00", 30, 5)
	if first.ID == 0 {
		t.Fatal("expected ID to be assigned")
	}

	second := f.seedConfig(t, "2025-06-10T00:00:00.000Z", "10:00:00", "12:00", 20, 0)
	if second.ID != first.ID {
		t.Errorf("expected overwrite to keep id %d, got %d", first.ID, second.ID)
	}

	got, err := f.svc.GetConfigByDate(ctx, calendar.MustDate(2025, 6, 10))
	if err != nil {
		t.Fatalf("GetConfigByDate: %v", err)
	}
	if got.StartTime.String() != "10:00" || got.SlotDuration != 20 {
		t.Errorf("expected overwritten fields, got %+v", got)
	}

	all, _ := f.svc.ListConfigs(ctx)
	if len(all) != 1 {
		t.Errorf("expected a single config for the date, got %d", len(all))
	}
}

func TestUpsertConfig_Validation(t *testing.T) {
	f := newFixture(Options{})
	tests := []struct {
		name string
		in   ScheduleConfigInput
		want error
	}{
		{"inverted", ScheduleConfigInput{Date: "2025-06-10", StartTime: "17:00", EndTime: "09:00", SlotDuration: 30}, ErrInvalidSchedule},
		{"equal bounds", ScheduleConfigInput{Date: "2025-06-10", StartTime: "09:00", EndTime: "09:00", SlotDuration: 30}, ErrInvalidSchedule},
		{"zero duration", ScheduleConfigInput{Date: "2025-06-10", StartTime: "09:00", EndTime: "10:00"}, ErrInvalidSchedule},
		{"negative buffer", ScheduleConfigInput{Date: "2025-06-10", StartTime: "09:00", EndTime: "10:00", SlotDuration: 30, Buffer: -5}, ErrInvalidSchedule},
		{"bad date", ScheduleConfigInput{Date: "2025-02-30", StartTime: "09:00", EndTime: "10:00", SlotDuration: 30}, ErrInvalidDate},
		{"bad time", ScheduleConfigInput{Date: "2025-06-10", StartTime: "9am", EndTime: "10:00", SlotDuration: 30}, ErrInvalidTimeFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpsertConfig(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if all, _ := f.svc.ListConfigs(context.Background()); len(all) != 0 {
		t.Errorf("expected no configs stored, got %d", len(all))
	}
}

func TestGetConfigByDate_Missing(t *testing.T) {
	f := newFixture(Options{})
	cfg, err := f.svc.GetConfigByDate(context.Background(), calendar.MustDate(2025, 1, 1))
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config and nil error, got %v %v", cfg, err)
	}
}

func TestDeleteConfig_Guard(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	busy := f.seedConfig(t, "2025-06-10", "09:00", "10:00", 30, 0)
	free := f.seedConfig(t, "2025-06-11", "09:00", "10:00", 30, 0)

	if _, err := f.svc.BookAppointment(ctx, booking(1, "2025-06-10", "09:00")); err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := f.svc.DeleteConfigByID(ctx, busy.ID); !errors.Is(err, ErrScheduleInUse) {
		t.Fatalf("expected ErrScheduleInUse, got %v", err)
	}
	if err := f.svc.DeleteConfigByDate(ctx, busy.Date); !errors.Is(err, ErrScheduleInUse) {
		t.Fatalf("expected ErrScheduleInUse by date, got %v", err)
	}

	deleted, err := f.svc.DeleteConfigByID(ctx, free.ID)
	if err != nil {
		t.Fatalf("delete free config: %v", err)
	}
	if deleted.Date.String() != "2025-06-11" {
		t.Errorf("expected deleted date 2025-06-11, got %s", deleted.Date)
	}

	all, _ := f.svc.ListConfigs(ctx)
	if len(all) != 1 || all[0].ID != busy.ID {
		t.Errorf("expected only the busy config to remain, got %+v", all)
	}

	if _, err := f.svc.DeleteConfigByID(ctx, free.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound on second delete, got %v", err)
	}
	if err := f.svc.DeleteConfigByDate(ctx, calendar.MustDate(2025, 7, 1)); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound for empty date, got %v", err)
	}
}

func TestDeleteConfig_TakesDateLock(t *testing.T) {
	f := newFixture(Options{})
	cfg := f.seedConfig(t, "2025-06-12", "09:00", "10:00", 30, 0)

	if err := f.svc.DeleteConfigByDate(context.Background(), cfg.Date); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(f.appts.locks) != 1 || f.appts.locks[0] != cfg.Date {
		t.Errorf("expected lock on %s, got %v", cfg.Date, f.appts.locks)
	}
}

// -- Booking --

func TestBookAppointment_Success(t *testing.T) {
	f := newFixture(Options{})
	f.seedConfig(t, "2025-06-10", "09:00", "17:00", 30, 5)

	a, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: 1,
		UserID:    int64Ptr(3),
		Date:      "2025-06-10T00:00:00.000Z",
		Time:      "09:35:00",
		Status:    "urgent",
		Note:      strPtr("follow-up"),
	})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}
	if a.ID == 0 || a.UserID != 3 {
		t.Errorf("unexpected appointment: %+v", a)
	}
	if a.Date.String() != "2025-06-10" || a.Time.String() != "09:35" {
		t.Errorf("expected normalized 2025-06-10 09:35, got %s %s", a.Date, a.Time)
	}
	if a.Status != StatusUrgent || a.Note == nil || *a.Note != "follow-up" {
		t.Errorf("unexpected status/note: %q %v", a.Status, a.Note)
	}
}

func TestBookAppointment_DefaultsStatusAndDoctor(t *testing.T) {
	f := newFixture(Options{})
	f.seedConfig(t, "2025-06-10", "09:00", "10:00", 30, 0)

	a, err := f.svc.BookAppointment(context.Background(), BookingRequest{PatientID: 1, Date: "2025-06-10", Time: "09:00"})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}
	if a.Status != StatusNormal {
		t.Errorf("expected default status Normal, got %q", a.Status)
	}
	if a.UserID != 2 {
		t.Errorf("expected first doctor 2, got %d", a.UserID)
	}
	if a.Note != nil {
		t.Errorf("expected nil note, got %v", *a.Note)
	}
}

func TestBookAppointment_CheckOrder(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
		req   BookingRequest
		want  error
	}{
		{
			name: "unknown patient beats everything",
			req:  BookingRequest{PatientID: 99, UserID: int64Ptr(9), Date: "garbage", Time: "xx"},
			want: ErrUnknownPatient,
		},
		{
			name: "missing patient id",
			req:  booking(0, "2025-06-10", "09:00"),
			want: ErrUnknownPatient,
		},
		{
			name: "non-doctor user beats bad date",
			req:  BookingRequest{PatientID: 1, UserID: int64Ptr(9), Date: "garbage", Time: "09:00"},
			want: ErrNoDoctorAvailable,
		},
		{
			name: "bad date",
			req:  booking(1, "2025-13-45", "09:00"),
			want: ErrInvalidDateTime,
		},
		{
			name: "bad time",
			req:  booking(1, "2025-06-10", "9h"),
			want: ErrInvalidDateTime,
		},
		{
			name: "bad status",
			req:  BookingRequest{PatientID: 1, UserID: int64Ptr(2), Date: "2025-06-10", Time: "09:00", Status: "Later"},
			want: ErrInvalidStatus,
		},
		{
			name: "no schedule",
			req:  booking(1, "2025-06-20", "09:00"),
			want: ErrNoScheduleForDate,
		},
		{
			name: "before start",
			setup: func(t *testing.T, f *fixture) {
				f.seedConfig(t, "2025-06-10", "09:00", "17:00", 30, 0)
			},
			req:  booking(1, "2025-06-10", "08:59"),
			want: ErrOutsideScheduleHours,
		},
		{
			name: "at end",
			setup: func(t *testing.T, f *fixture) {
				f.seedConfig(t, "2025-06-10", "09:00", "17:00", 30, 0)
			},
			req:  booking(1, "2025-06-10", "17:00"),
			want: ErrOutsideScheduleHours,
		},
		{
			name: "duplicate beats slot taken",
			setup: func(t *testing.T, f *fixture) {
				f.seedConfig(t, "2025-06-10", "09:00", "17:00", 30, 0)
				mustBook(t, f, booking(1, "2025-06-10", "09:00"))
			},
			req:  booking(1, "2025-06-10", "09:00"),
			want: ErrDuplicateBooking,
		},
		{
			name: "slot taken by another patient",
			setup: func(t *testing.T, f *fixture) {
				f.seedConfig(t, "2025-06-10", "09:00", "17:00", 30, 0)
				mustBook(t, f, booking(4, "2025-06-10", "09:00"))
			},
			req:  booking(1, "2025-06-10", "09:00"),
			want: ErrSlotTaken,
		},
		{
			name: "daily limit beats duplicate",
			setup: func(t *testing.T, f *fixture) {
				f.seedConfig(t, "2025-06-10", "09:00", "17:00", 30, 0)
				mustBook(t, f, booking(1, "2025-06-10", "09:00"))
				mustBook(t, f, booking(1, "2025-06-10", "09:30"))
			},
			req:  booking(1, "2025-06-10", "09:00"),
			want: ErrDailyLimitExceeded,
		},
		{
			name: "slot taken beats missing schedule",
			setup: func(t *testing.T, f *fixture) {
				f.seedConfig(t, "2025-06-10", "09:00", "17:00", 30, 0)
				mustBook(t, f, booking(4, "2025-06-10", "09:00"))
				f.configs.DeleteByDate(context.Background(), calendar.MustDate(2025, 6, 10))
			},
			req:  booking(1, "2025-06-10", "09:00"),
			want: ErrSlotTaken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Options{})
			if tt.setup != nil {
				tt.setup(t, f)
			}
			before, _ := f.appts.List(context.Background())

			_, err := f.svc.BookAppointment(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !IsBookingRejection(err) {
				t.Errorf("expected %v to count as a booking rejection", err)
			}
			after, _ := f.appts.List(context.Background())
			if len(after) != len(before) {
				t.Errorf("rejected booking must not write: %d -> %d appointments", len(before), len(after))
			}
		})
	}
}

func mustBook(t *testing.T, f *fixture, req BookingRequest) *Appointment {
	t.Helper()
	a, err := f.svc.BookAppointment(context.Background(), req)
	if err != nil {
		t.Fatalf("book %+v: %v", req, err)
	}
	return a
}

func TestBookAppointment_DailyLimitMessage(t *testing.T) {
	f := newFixture(Options{})
	f.seedConfig(t, "2025-06-10", "09:00", "17:00", 30, 0)
	mustBook(t, f, booking(1, "2025-06-10", "09:00"))
	mustBook(t, f, booking(1, "2025-06-10", "10:00"))

	_, err := f.svc.BookAppointment(context.Background(), booking(1, "2025-06-10", "11:00"))
	if !errors.Is(err, ErrDailyLimitExceeded) {
		t.Fatalf("expected ErrDailyLimitExceeded, got %v", err)
	}
	want := "You have reached the maximum number of appointments for this day (2)."
	if got := UserMessage(err); got != want {
		t.Fatalf("UserMessage = %q, want %q", got, want)
	}

	// Other dates are unaffected.
	f.seedConfig(t, "2025-06-11", "09:00", "17:00", 30, 0)
	mustBook(t, f, booking(1, "2025-06-11", "09:00"))
}

func TestBookAppointment_ConfigurableLimit(t *testing.T) {
	f := newFixture(Options{DailyLimit: 1})
	f.seedConfig(t, "2025-06-10", "09:00", "17:00", 30, 0)
	mustBook(t, f, booking(1, "2025-06-10", "09:00"))

	_, err := f.svc.BookAppointment(context.Background(), booking(1, "2025-06-10", "10:00"))
	var limitErr *DailyLimitError
	if !errors.As(err, &limitErr) || limitErr.Limit != 1 {
		t.Fatalf("expected DailyLimitError with limit 1, got %v", err)
	}
}

func TestBookAppointment_SlotAlignment(t *testing.T) {
	permissive := newFixture(Options{})
	permissive.seedConfig(t, "2025-06-10", "09:00", "17:00", 30, 5)
	if _, err := permissive.svc.BookAppointment(context.Background(), booking(1, "2025-06-10", "09:10")); err != nil {
		t.Fatalf("permissive mode should accept unaligned time: %v", err)
	}

	strict := newFixture(Options{RequireSlotAlignment: true})
	strict.seedConfig(t, "2025-06-10", "09:00", "17:00", 30, 5)
	if _, err := strict.svc.BookAppointment(context.Background(), booking(1, "2025-06-10", "09:10")); !errors.Is(err, ErrOutsideScheduleHours) {
		t.Fatalf("expected ErrOutsideScheduleHours for unaligned time, got %v", err)
	}
	if _, err := strict.svc.BookAppointment(context.Background(), booking(1, "2025-06-10", "09:35")); err != nil {
		t.Fatalf("aligned slot should book: %v", err)
	}
}

func TestBookAppointment_NoDoctorAvailable(t *testing.T) {
	configs, appts := newMockConfigRepo(), newMockAppointmentRepo()
	users := &mockUsers{roles: map[int64]string{9: "secretary"}}
	svc := NewService(configs, appts, mockPatients{1: true}, FirstDoctorPolicy{Users: users}, &serialTx{}, Options{})

	_, err := svc.BookAppointment(context.Background(), BookingRequest{PatientID: 1, Date: "2025-06-10", Time: "09:00"})
	if !errors.Is(err, ErrNoDoctorAvailable) {
		t.Fatalf("expected ErrNoDoctorAvailable, got %v", err)
	}
}

func TestBookAppointment_RunsInsideDateLock(t *testing.T) {
	f := newFixture(Options{})
	f.seedConfig(t, "2025-06-10", "09:00", "17:00", 30, 0)
	mustBook(t, f, booking(1, "2025-06-10", "09:00"))

	if f.tx.calls != 1 {
		t.Errorf("expected one transaction, got %d", f.tx.calls)
	}
	if len(f.appts.locks) != 1 || f.appts.locks[0].String() != "2025-06-10" {
		t.Errorf("expected lock on 2025-06-10, got %v", f.appts.locks)
	}
}

// blindRepo hides existing bookings from the pre-checks so only the unique
// index can catch the collision.
type blindRepo struct {
	*mockAppointmentRepo
}

func (b blindRepo) ExistsForSlot(context.Context, calendar.Date, calendar.Clock, int64) (bool, error) {
	return false, nil
}

func (b blindRepo) CountForPatientOnDate(context.Context, int64, calendar.Date, int64) (int, error) {
	return 0, nil
}

func TestBookAppointment_UniqueViolationTranslated(t *testing.T) {
	configs, inner := newMockConfigRepo(), newMockAppointmentRepo()
	users := &mockUsers{roles: map[int64]string{2: RoleDoctor}}
	svc := NewService(configs, blindRepo{inner}, mockPatients{1: true, 4: true}, FirstDoctorPolicy{Users: users}, &serialTx{}, Options{})
	ctx := context.Background()
	if _, err := svc.UpsertConfig(ctx, ScheduleConfigInput{Date: "2025-06-10", StartTime: "09:00", EndTime: "10:00", SlotDuration: 30}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.BookAppointment(ctx, booking(4, "2025-06-10", "09:00")); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	_, err := svc.BookAppointment(ctx, booking(1, "2025-06-10", "09:00"))
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken from unique index, got %v", err)
	}
	if errors.Is(err, ErrSlotConflict) {
		t.Fatal("storage conflict must not leak to callers")
	}
}

func TestBookAppointment_ConcurrentSameSlot(t *testing.T) {
	for _, mode := range []struct {
		name string
		tx   Transactor
	}{
		{"serialized by date lock", &serialTx{}},
		{"unique index only", looseTx{}},
	} {
		t.Run(mode.name, func(t *testing.T) {
			configs, appts := newMockConfigRepo(), newMockAppointmentRepo()
			patients := mockPatients{}
			for i := int64(1); i <= 20; i++ {
				patients[i] = true
			}
			users := &mockUsers{roles: map[int64]string{100: RoleDoctor}}
			svc := NewService(configs, appts, patients, FirstDoctorPolicy{Users: users}, mode.tx, Options{})
			ctx := context.Background()
			if _, err := svc.UpsertConfig(ctx, ScheduleConfigInput{Date: "2025-06-10", StartTime: "09:00", EndTime: "10:00", SlotDuration: 30}); err != nil {
				t.Fatal(err)
			}

			var wg sync.WaitGroup
			errs := make(chan error, 20)
			for i := int64(1); i <= 20; i++ {
				wg.Add(1)
				go func(patient int64) {
					defer wg.Done()
					_, err := svc.BookAppointment(ctx, BookingRequest{PatientID: patient, Date: "2025-06-10", Time: "09:00"})
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)

			ok := 0
			for err := range errs {
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ErrSlotTaken):
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
			if ok != 1 {
				t.Fatalf("expected exactly one successful booking, got %d", ok)
			}
			if n, _ := appts.CountOnDate(ctx, calendar.MustDate(2025, 6, 10)); n != 1 {
				t.Fatalf("expected one stored appointment, got %d", n)
			}
		})
	}
}

func TestBookAppointment_ConcurrentDailyCap(t *testing.T) {
	f := newFixture(Options{})
	f.seedConfig(t, "2025-06-10", "08:00", "18:00", 30, 0)
	ctx := context.Background()

	times := []string{"08:00", "08:30", "09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}
	var wg sync.WaitGroup
	for _, tm := range times {
		wg.Add(1)
		go func(tm string) {
			defer wg.Done()
			f.svc.BookAppointment(ctx, booking(1, "2025-06-10", tm))
		}(tm)
	}
	wg.Wait()

	if n, _ := f.appts.CountForPatientOnDate(ctx, 1, calendar.MustDate(2025, 6, 10), 0); n != 2 {
		t.Fatalf("expected daily cap of 2 to hold under concurrency, got %d", n)
	}
}

// -- Update / delete --

func TestUpdateAppointment_StatusOnlySkipsSlotRules(t *testing.T) {
	f := newFixture(Options{})
	f.seedConfig(t, "2025-06-10", "09:00", "10:00", 30, 0)
	a := mustBook(t, f, booking(1, "2025-06-10", "09:00"))

	// Removing the config would fail every slot rule if they re-ran.
	f.configs.DeleteByDate(context.Background(), a.Date)
	locksBefore := len(f.appts.locks)

	got, err := f.svc.UpdateAppointment(context.Background(), a.ID, BookingRequest{Status: "Urgent", Note: strPtr("call first")})
	if err != nil {
		t.Fatalf("UpdateAppointment: %v", err)
	}
	if got.Status != StatusUrgent || *got.Note != "call first" || got.Time != a.Time {
		t.Errorf("unexpected update result: %+v", got)
	}
	if len(f.appts.locks) != locksBefore {
		t.Error("status-only edit should not take the date lock")
	}
}

func TestUpdateAppointment_MoveRevalidates(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	f.seedConfig(t, "2025-06-10", "09:00", "12:00", 30, 0)
	a := mustBook(t, f, booking(1, "2025-06-10", "09:00"))
	mustBook(t, f, booking(4, "2025-06-10", "09:30"))

	if _, err := f.svc.UpdateAppointment(ctx, a.ID, BookingRequest{Time: "09:30"}); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	if _, err := f.svc.UpdateAppointment(ctx, a.ID, BookingRequest{Time: "12:00"}); !errors.Is(err, ErrOutsideScheduleHours) {
		t.Fatalf("expected ErrOutsideScheduleHours, got %v", err)
	}
	if _, err := f.svc.UpdateAppointment(ctx, a.ID, BookingRequest{Date: "2025-06-11"}); !errors.Is(err, ErrNoScheduleForDate) {
		t.Fatalf("expected ErrNoScheduleForDate, got %v", err)
	}
	if _, err := f.svc.UpdateAppointment(ctx, a.ID, BookingRequest{PatientID: 77}); !errors.Is(err, ErrUnknownPatient) {
		t.Fatalf("expected ErrUnknownPatient, got %v", err)
	}

	// Re-saving the same slot does not collide with itself.
	moved, err := f.svc.UpdateAppointment(ctx, a.ID, BookingRequest{Time: "10:00"})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.Time.String() != "10:00" {
		t.Errorf("expected 10:00, got %s", moved.Time)
	}
	stored, _ := f.svc.GetAppointment(ctx, a.ID)
	if stored.Time.String() != "10:00" {
		t.Errorf("expected stored time 10:00, got %s", stored.Time)
	}
}

func TestUpdateAppointment_ReplacesNoteAndStatus(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	f.seedConfig(t, "2025-06-10", "09:00", "10:00", 30, 0)
	req := booking(1, "2025-06-10", "09:00")
	req.Status, req.Note = "Urgent", strPtr("fasting")
	a := mustBook(t, f, req)

	full := booking(1, "2025-06-10", "09:00")
	full.Note = nil
	got, err := f.svc.UpdateAppointment(ctx, a.ID, full)
	if err != nil {
		t.Fatalf("UpdateAppointment: %v", err)
	}
	if got.Note != nil {
		t.Errorf("expected note cleared, got %q", *got.Note)
	}
	if got.Status != StatusNormal {
		t.Errorf("expected status reset to %s, got %s", StatusNormal, got.Status)
	}
	stored, _ := f.svc.GetAppointment(ctx, a.ID)
	if stored.Note != nil || stored.Status != StatusNormal {
		t.Errorf("stored appointment not replaced: %+v", stored)
	}

	full.Note = strPtr("   ")
	if got, _ = f.svc.UpdateAppointment(ctx, a.ID, full); got == nil || got.Note != nil {
		t.Errorf("blank note should clear, got %+v", got)
	}
}

func TestUpdateAppointment_NotFound(t *testing.T) {
	f := newFixture(Options{})
	if _, err := f.svc.UpdateAppointment(context.Background(), 404, BookingRequest{Status: "Normal"}); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestDeleteAppointment_CascadesVisitRecords(t *testing.T) {
	f := newFixture(Options{})
	f.seedConfig(t, "2025-06-10", "09:00", "10:00", 30, 0)
	a := mustBook(t, f, booking(1, "2025-06-10", "09:00"))

	if err := f.svc.DeleteAppointment(context.Background(), a.ID); err != nil {
		t.Fatalf("DeleteAppointment: %v", err)
	}
	if len(f.visits.deleted) != 1 || f.visits.deleted[0][0] != a.ID {
		t.Errorf("expected visit cleanup for %d, got %v", a.ID, f.visits.deleted)
	}
	if _, err := f.svc.GetAppointment(context.Background(), a.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected appointment gone, got %v", err)
	}
}

func TestDeleteAppointment_CleanerFailureKeepsAppointment(t *testing.T) {
	f := newFixture(Options{})
	f.seedConfig(t, "2025-06-10", "09:00", "10:00", 30, 0)
	a := mustBook(t, f, booking(1, "2025-06-10", "09:00"))
	f.visits.err = errors.New("document store down")

	if err := f.svc.DeleteAppointment(context.Background(), a.ID); err == nil {
		t.Fatal("expected cleanup failure to abort delete")
	}
	if _, err := f.svc.GetAppointment(context.Background(), a.ID); err != nil {
		t.Errorf("expected appointment to survive, got %v", err)
	}
}

// -- Availability --

func TestSlotsForDate_MarksBooked(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	cfg := f.seedConfig(t, "2025-06-10", "09:00", "10:00", 30, 0)

	slots, err := f.svc.SlotsForDate(ctx, cfg.Date)
	if err != nil {
		t.Fatalf("SlotsForDate: %v", err)
	}
	if len(slots) != 2 || slots[0].IsBooked || slots[1].IsBooked {
		t.Fatalf("expected two free slots, got %+v", slots)
	}

	mustBook(t, f, booking(1, "2025-06-10", "09:00"))
	slots, _ = f.svc.SlotsForDate(ctx, cfg.Date)
	if !slots[0].IsBooked || slots[1].IsBooked {
		t.Errorf("expected 09:00 booked and 09:30 free, got %+v", slots)
	}
	if slots[0].ID != fmt.Sprintf("%d-0", cfg.ID) || slots[1].ID != fmt.Sprintf("%d-1", cfg.ID) {
		t.Errorf("unexpected slot ids %q %q", slots[0].ID, slots[1].ID)
	}
}

func TestSlotsForDate_NoConfig(t *testing.T) {
	f := newFixture(Options{})
	slots, err := f.svc.SlotsForDate(context.Background(), calendar.MustDate(2025, 6, 10))
	if err != nil {
		t.Fatalf("SlotsForDate: %v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", slots)
	}
}
